// Package server is the HTTP façade of the irrigation controller: the
// browser UI, the form and JSON endpoints that record events, the device
// proxy and the event streams.
package server

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/rugwirobaker/irrigate/internal/device"
	"github.com/rugwirobaker/irrigate/internal/eventlog"
	"github.com/rugwirobaker/irrigate/internal/metrics"
	"github.com/rugwirobaker/irrigate/internal/stream"
)

var LogLevel struct {
	sync.Mutex
	slog.LevelVar
}

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type Server struct {
	log       *eventlog.Log
	emitter   *eventlog.Emitter
	device    *device.Client
	publisher *stream.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher replaces the default poll-mode publisher.
func WithPublisher(p *stream.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithClock sets the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New builds the server around an already loaded log and a device client.
func New(log *eventlog.Log, dev *device.Client, opts ...Option) *Server {
	s := &Server{
		log:    log,
		device: dev,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.publisher == nil {
		s.publisher = stream.NewPublisher(log,
			stream.WithLogger(s.logger),
			stream.WithObserver(s.metrics),
		)
	}

	s.emitter = eventlog.NewEmitter(log,
		eventlog.WithClock(s.now),
		eventlog.WithEmitHook(s.metrics.RecordEvent),
	)
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()

	mux.Handle("GET /{$}", gzhttp.GzipHandler(http.HandlerFunc(s.handleIndex)))
	mux.Handle("GET /static/", gzhttp.GzipHandler(http.StripPrefix("/static/", http.FileServerFS(static))))

	mux.HandleFunc("POST /manual-override", s.handleManualOverride)
	mux.HandleFunc("POST /adjust-settings", s.handleAdjustSettings)
	mux.HandleFunc("POST /moisture-data", s.handleMoistureData)

	mux.HandleFunc("GET /api/status", s.handleDeviceStatus)
	mux.HandleFunc("POST /api/water/start", s.handleWaterStart)
	mux.HandleFunc("GET /api/moisture", s.handleMoisture)
	mux.Handle("GET /api/log", gzhttp.GzipHandler(http.HandlerFunc(s.handleLog)))

	// streams are never compressed, each frame must reach the client as
	// soon as it is flushed
	mux.Handle("GET /events", stream.ServeSSE(s.publisher))
	mux.Handle("GET /events/ws", stream.ServeWS(s.publisher))

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return chain(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.metricsMiddleware,
		s.recoveryMiddleware,
	)(mux)
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}
