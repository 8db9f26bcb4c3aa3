package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/ingest"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// Engine is the part of *crowdgate.Engine the API serves.
type Engine interface {
	IngestRaw(ctx context.Context, raw []byte) (ingest.Result, error)
	Zones(ctx context.Context) ([]zone.Status, error)
	Zone(ctx context.Context, id int64) (zone.Status, error)
	AuditLog(ctx context.Context, zoneID int64, limit int) ([]zone.AuditRecord, error)
	SetZoneArea(ctx context.Context, id int64, areaM2 float64) error
	ResetZone(ctx context.Context, id int64) error
	ClearRedirect(ctx context.Context, zoneID int64) (zone.Redirect, error)
	ActiveRedirects(ctx context.Context) ([]crowdgate.RedirectView, error)
	RecentEscalations(ctx context.Context, limit int) ([]crowdgate.EscalationView, error)
	ResolveEscalation(ctx context.Context, id int64) error
	Health(ctx context.Context) crowdgate.Health
}

var _ Engine = (*crowdgate.Engine)(nil)

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Default: ":3001"
	Addr string

	// AdminKey guards /api/admin. Empty disables the admin routes.
	AdminKey string

	// AllowedOrigins enables CORS and websocket access for these origins.
	AllowedOrigins []string

	// Bus feeds /api/stream. Nil disables the stream.
	Bus event.Bus

	// Gatherer is served at /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// Metrics records per-route request counts. Nil disables them.
	Metrics *observability.HTTPMetrics

	// AccessLog receives Apache-style access log lines. Nil disables them.
	AccessLog io.Writer

	Logger *slog.Logger
}

// Server is the HTTP transport of an engine.
type Server struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
	router *mux.Router
}

// maxBodyBytes bounds request bodies; sensor events are tiny.
const maxBodyBytes = 64 << 10

// New creates a server for engine.
func New(engine Engine, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3001"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sensor", s.postSensor).Methods(http.MethodPost)
	api.HandleFunc("/platforms", s.listPlatforms).Methods(http.MethodGet)
	api.HandleFunc("/platforms/{id}", s.getPlatform).Methods(http.MethodGet)
	api.HandleFunc("/platforms/{id}/events", s.listPlatformEvents).Methods(http.MethodGet)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.stream).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdminKey)
	admin.HandleFunc("/redirects", s.listRedirects).Methods(http.MethodGet)
	admin.HandleFunc("/redirects/{id}/clear", s.clearRedirect).Methods(http.MethodPost)
	admin.HandleFunc("/escalations", s.listEscalations).Methods(http.MethodGet)
	admin.HandleFunc("/escalations/{id}/resolve", s.resolveEscalation).Methods(http.MethodPost)
	admin.HandleFunc("/platforms/{id}/area", s.setArea).Methods(http.MethodPost)
	admin.HandleFunc("/platforms/{id}/reset", s.resetPlatform).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the full handler chain: router, CORS and access log.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if len(s.cfg.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", adminKeyHeader}),
		)(h)
	}
	if s.cfg.AccessLog != nil {
		h = handlers.LoggingHandler(s.cfg.AccessLog, h)
	}
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
