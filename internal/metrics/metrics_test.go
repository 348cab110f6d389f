package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugwirobaker/irrigate/internal/metrics"
)

func TestMetricsExposed(t *testing.T) {
	m := metrics.New()
	m.RecordRequest(http.MethodPost, "/adjust-settings", http.StatusBadRequest, 3*time.Millisecond)
	m.RecordEvent("sensor_data")
	m.RecordEvent("sensor_data")
	m.RecordDeviceRequest("status", "200")
	m.StreamOpened("sse")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.Contains(t, text, `irrigate_http_requests_total{method="POST",path="/adjust-settings",status="400"} 1`)
	assert.Contains(t, text, `irrigate_events_total{event_type="sensor_data"} 2`)
	assert.Contains(t, text, `irrigate_device_requests_total{endpoint="status",outcome="200"} 1`)
	assert.Contains(t, text, `irrigate_stream_clients{transport="sse"} 1`)
}

// TestInstancesAreIndependent guards against registering on the global
// registry, which would panic on the second New.
func TestInstancesAreIndependent(t *testing.T) {
	a := metrics.New()
	b := metrics.New()

	a.StreamOpened("ws")
	a.StreamOpened("ws")
	a.StreamClosed("ws")

	n, err := testutil.GatherAndCount(a.Registry(), "irrigate_stream_clients")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(b.Registry(), "irrigate_stream_clients")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
