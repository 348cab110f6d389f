package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugwirobaker/irrigate/internal/device"
	"github.com/rugwirobaker/irrigate/internal/eventlog"
	"github.com/rugwirobaker/irrigate/internal/metrics"
	"github.com/rugwirobaker/irrigate/internal/moisture"
	"github.com/rugwirobaker/irrigate/internal/server"
	"github.com/rugwirobaker/irrigate/internal/stream"
)

var fixedNow = time.Date(2024, 5, 1, 7, 30, 0, 0, time.Local)

type testEnv struct {
	srv     *server.Server
	log     *eventlog.Log
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, deviceAddr string, opts ...server.Option) *testEnv {
	t.Helper()

	log := eventlog.New(eventlog.NewFileJournal(filepath.Join(t.TempDir(), "log.json")), nil)
	log.Load(context.Background())
	t.Cleanup(func() { log.Close() })

	return newTestEnvWithLog(t, log, deviceAddr, opts...)
}

func newTestEnvWithLog(t *testing.T, log *eventlog.Log, deviceAddr string, opts ...server.Option) *testEnv {
	t.Helper()

	dev, err := device.New(deviceAddr)
	require.NoError(t, err)

	m := metrics.New()
	opts = append([]server.Option{
		server.WithMetrics(m),
		server.WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	return &testEnv{
		srv:     server.New(log, dev, opts...),
		log:     log,
		metrics: m,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// brokenJournal accepts loads and rejects every append.
type brokenJournal struct{}

func (brokenJournal) Load(context.Context) ([]eventlog.Entry, error) { return nil, nil }
func (brokenJournal) Append(context.Context, eventlog.Entry) error {
	return errors.New("disk full")
}
func (brokenJournal) Close() error { return nil }

func TestAdjustSettings(t *testing.T) {
	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantBody   string
		wantLogged bool
	}{
		{
			name:       "missing value",
			req:        postForm("/adjust-settings", url.Values{}),
			wantStatus: http.StatusBadRequest,
			wantBody:   "Slider value is missing",
		},
		{
			name:       "no body at all",
			req:        httptest.NewRequest(http.MethodPost, "/adjust-settings", nil),
			wantStatus: http.StatusBadRequest,
			wantBody:   "Slider value is missing",
		},
		{
			name:       "value echoed",
			req:        postForm("/adjust-settings", url.Values{"slider_value": {"42"}}),
			wantStatus: http.StatusOK,
			wantBody:   "Slider adjusted to 42",
			wantLogged: true,
		},
		{
			name:       "empty value is still present",
			req:        postForm("/adjust-settings", url.Values{"slider_value": {""}}),
			wantStatus: http.StatusOK,
			wantBody:   "Slider adjusted to ",
			wantLogged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			rec := env.do(tt.req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())

			if !tt.wantLogged {
				assert.Equal(t, 0, env.log.Len())
				return
			}
			last, ok := env.log.Last()
			require.True(t, ok)
			assert.Equal(t, eventlog.Entry{
				Timestamp: fixedNow.Format(eventlog.TimestampLayout),
				EventType: eventlog.KindAdjustSettings,
				Message:   tt.wantBody,
			}, last)
		})
	}
}

func TestAdjustSettingsMultipart(t *testing.T) {
	env := newTestEnv(t, "")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("slider_value", "73"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/adjust-settings", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Slider adjusted to 73", rec.Body.String())
}

func TestManualOverride(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(postForm("/manual-override", url.Values{"timestamp": {"2024-05-01T07:00:00Z"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Manual override triggered", rec.Body.String())

	rec = env.do(postForm("/manual-override", url.Values{"timestamp": {""}}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/manual-override", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	entries := env.log.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "Manual override triggered at 2024-05-01T07:00:00Z", entries[0].Message)
	assert.Equal(t, "Manual override triggered without timestamp", entries[1].Message)
	assert.Equal(t, "Manual override triggered without timestamp", entries[2].Message)
	for _, e := range entries {
		assert.Equal(t, eventlog.KindManualOverride, e.EventType)
	}
}

func TestMoistureData(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
		wantMsg    string
	}{
		{"missing", `{}`, http.StatusBadRequest, "Sensor value is missing", ""},
		{"null", `{"sensor_value": null}`, http.StatusBadRequest, "Sensor value is missing", ""},
		{"invalid json", `{"sensor_value":`, http.StatusBadRequest, "Invalid JSON", ""},
		{"not an object", `[1, 2]`, http.StatusBadRequest, "Invalid JSON", ""},
		{"trailing data", `{"sensor_value": 1} junk`, http.StatusBadRequest, "Invalid JSON", ""},
		{"second object", `{"sensor_value": 1}{"sensor_value": 2}`, http.StatusBadRequest, "Invalid JSON", ""},
		{"trailing whitespace", "{\"sensor_value\": 7}\n", http.StatusOK, "Moisture received successfully", "Received sensor value: 7"},
		{"bool", `{"sensor_value": true}`, http.StatusOK, "Moisture received successfully", "Received sensor value: true"},
		{"object", `{"sensor_value": {"a": 1}}`, http.StatusOK, "Moisture received successfully", `Received sensor value: {"a":1}`},
		{"list", `{"sensor_value": [1, 2.5]}`, http.StatusOK, "Moisture received successfully", "Received sensor value: [1,2.5]"},
		{"integer", `{"sensor_value": 2048}`, http.StatusOK, "Moisture received successfully", "Received sensor value: 2048"},
		{"float", `{"sensor_value": 12.5}`, http.StatusOK, "Moisture received successfully", "Received sensor value: 12.5"},
		{"string", `{"sensor_value": "dry"}`, http.StatusOK, "Moisture received successfully", "Received sensor value: dry"},
		{"zero", `{"sensor_value": 0}`, http.StatusOK, "Moisture received successfully", "Received sensor value: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			rec := env.do(postJSON("/moisture-data", tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())

			if tt.wantMsg == "" {
				assert.Equal(t, 0, env.log.Len())
				return
			}
			last, ok := env.log.Last()
			require.True(t, ok)
			assert.Equal(t, eventlog.KindSensorData, last.EventType)
			assert.Equal(t, tt.wantMsg, last.Message)
		})
	}
}

func TestJournalFailureReturns500(t *testing.T) {
	log := eventlog.New(brokenJournal{}, nil)
	log.Load(context.Background())
	env := newTestEnvWithLog(t, log, "")

	rec := env.do(postForm("/adjust-settings", url.Values{"slider_value": {"1"}}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, log.Len())
}

func TestEventsPreserveOrder(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(postForm("/manual-override", url.Values{}))
	env.do(postForm("/adjust-settings", url.Values{"slider_value": {"10"}}))
	env.do(postJSON("/moisture-data", `{"sensor_value": 5}`))

	kinds := []string{}
	for _, e := range env.log.All() {
		kinds = append(kinds, e.EventType)
	}
	assert.Equal(t, []string{
		eventlog.KindManualOverride,
		eventlog.KindAdjustSettings,
		eventlog.KindSensorData,
	}, kinds)
}

// TestDeviceStatusPassthrough checks the controller reply reaches the client
// byte for byte, content type included.
func TestDeviceStatusPassthrough(t *testing.T) {
	raw := []byte("{\"moisture\": 2100,\n \"isWatering\": 0 }\x00")
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/x-esp; charset=latin1")
		w.Write(raw)
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/x-esp; charset=latin1", rec.Header().Get("Content-Type"))
	assert.Equal(t, raw, rec.Body.Bytes())
}

func TestDeviceStatusErrorCodePassedThrough(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sensor offline", http.StatusServiceUnavailable)
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "sensor offline\n", rec.Body.String())
}

func TestDeviceUnreachable(t *testing.T) {
	dev := httptest.NewServer(http.NotFoundHandler())
	addr := dev.URL
	dev.Close()

	env := newTestEnv(t, addr)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "device request failed")

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/water/start", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 0, env.log.Len(), "nothing reached the device, nothing is recorded")
}

func TestDeviceNotConfigured(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Device address not configured", rec.Body.String())
}

func TestWaterStart(t *testing.T) {
	var calls int
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/water/start" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		calls++
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/water/start", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	last, ok := env.log.Last()
	require.True(t, ok)
	assert.Equal(t, eventlog.KindManualOverride, last.EventType)
	assert.Equal(t, "Manual watering started on device", last.Message)
}

func TestMoistureReading(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"moisture": 4095, "isWatering": 1}`))
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/moisture", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got moisture.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 100, got.Percent)
	assert.Equal(t, moisture.LevelOversaturated, got.Level)
	assert.True(t, got.Blocked)
	assert.True(t, got.IsWatering)
}

func TestMoistureReadingInvalidStatus(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/moisture", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestIndexEmbedsLog(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(postForm("/adjust-settings", url.Values{"slider_value": {"17"}}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Slider adjusted to 17")
	assert.Contains(t, rec.Body.String(), "/static/logic.js")
}

func TestIndexEmptyLog(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<pre id="event-log">[]</pre>`)
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/static/logic.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/water/start")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticAssetsGzip(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/static/logic.js", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := env.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestLogEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/log", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	env.do(postJSON("/moisture-data", `{"sensor_value": 1}`))
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/log", nil))

	var entries []eventlog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Received sensor value: 1", entries[0].Message)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/adjust-settings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Len(t, rec.Header().Get(server.RequestIDHeader), 26)
}

func TestMetricsRecorded(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(postForm("/adjust-settings", url.Values{}))
	env.do(postJSON("/moisture-data", `{"sensor_value": 3}`))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `irrigate_http_requests_total{method="POST",path="/adjust-settings",status="400"} 1`)
	assert.Contains(t, string(body), `irrigate_events_total{event_type="sensor_data"} 1`)
}

// TestEventStreamTail samples the SSE stream after N appends: the first
// frame is the entry that was last at that moment.
func TestEventStreamTail(t *testing.T) {
	log := eventlog.New(eventlog.NewFileJournal(filepath.Join(t.TempDir(), "log.json")), nil)
	log.Load(context.Background())
	defer log.Close()

	pub := stream.NewPublisher(log, stream.WithInterval(20*time.Millisecond))
	env := newTestEnvWithLog(t, log, "", server.WithPublisher(pub))

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	for _, v := range []string{"1", "2", "3"} {
		env.do(postForm("/adjust-settings", url.Values{"slider_value": {v}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readMessage := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		_, err = reader.ReadString('\n')
		require.NoError(t, err)

		var e eventlog.Entry
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &e))
		return e.Message
	}

	assert.Equal(t, "Slider adjusted to 3", readMessage())

	env.do(postForm("/adjust-settings", url.Values{"slider_value": {"4"}}))
	for {
		msg := readMessage()
		if msg == "Slider adjusted to 4" {
			break
		}
		require.Equal(t, "Slider adjusted to 3", msg)
	}
}

// TestEventStreamWebSocket dials the WebSocket stream through the full
// middleware chain, which has to hand the connection over via Hijack.
func TestEventStreamWebSocket(t *testing.T) {
	log := eventlog.New(eventlog.NewFileJournal(filepath.Join(t.TempDir(), "log.json")), nil)
	log.Load(context.Background())
	defer log.Close()

	pub := stream.NewPublisher(log, stream.WithMode(stream.ModePush))
	env := newTestEnvWithLog(t, log, "", server.WithPublisher(pub))

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	env.do(postJSON("/moisture-data", `{"sensor_value": 12}`))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var e eventlog.Entry
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, eventlog.KindSensorData, e.EventType)
	assert.Equal(t, "Received sensor value: 12", e.Message)

	env.do(postForm("/adjust-settings", url.Values{"slider_value": {"30"}}))
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "Slider adjusted to 30", e.Message)
}
