package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/api/middleware"
	"github.com/dd0wney/cluso-gridsim/pkg/config"
	"github.com/dd0wney/cluso-gridsim/pkg/health"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/metrics"
	"github.com/dd0wney/cluso-gridsim/pkg/sim"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options wires the optional collaborators of a Server
type Options struct {
	Health  *health.HealthChecker
	Metrics *metrics.Registry
	Logger  logging.Logger
	CORS    *middleware.CORSConfig
	// Tokens enables the bearer-token guard on mutating endpoints
	Tokens       middleware.TokenValidator
	MaxBodyBytes int64
	TLSEnabled   bool
	Version      string
}

// Server represents the HTTP API server
type Server struct {
	svc             *sim.Service
	healthChecker   *health.HealthChecker
	metricsRegistry *metrics.Registry
	logger          logging.Logger
	corsConfig      *middleware.CORSConfig
	tokens          middleware.TokenValidator
	maxBodyBytes    int64
	tlsEnabled      bool
	startTime       time.Time
	version         string
}

// NewServer creates the API server in front of svc. Health checks for the
// catalog and the configured archive and history backends are registered on
// the checker.
func NewServer(svc *sim.Service, opts Options) *Server {
	s := &Server{
		svc:             svc,
		healthChecker:   opts.Health,
		metricsRegistry: opts.Metrics,
		logger:          opts.Logger,
		corsConfig:      opts.CORS,
		tokens:          opts.Tokens,
		maxBodyBytes:    opts.MaxBodyBytes,
		tlsEnabled:      opts.TLSEnabled,
		startTime:       time.Now(),
		version:         opts.Version,
	}
	if s.healthChecker == nil {
		s.healthChecker = health.NewHealthChecker()
	}
	if s.metricsRegistry == nil {
		s.metricsRegistry = metrics.NewRegistry()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.corsConfig == nil {
		s.corsConfig = middleware.DefaultCORSConfig()
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = middleware.DefaultMaxBodyBytes
	}
	if s.version == "" {
		s.version = "dev"
	}
	s.registerHealthChecks()
	return s
}

func (s *Server) registerHealthChecks() {
	hc := s.healthChecker
	hc.RegisterLivenessCheck("api", health.SimpleCheck("api"))
	hc.RegisterReadinessCheck("catalog", health.CatalogCheck(s.svc.Networks))
	if store := s.svc.Archive(); store != nil {
		hc.RegisterReadinessCheck("archive", health.DependencyCheck("archive", true, store.Ping))
	}
	if store := s.svc.History(); store != nil {
		hc.RegisterReadinessCheck("history", health.DependencyCheck("history", true, store.Ping))
	}
	hc.RegisterCheck("memory", health.MemoryCheck(health.RuntimeMemory))
	hc.RegisterCheck("simulation", health.SimulationCheck(func() health.RunInfo {
		info := s.svc.Info()
		return health.RunInfo{
			Running: info.Running,
			RunID:   info.RunID,
			Network: info.Network,
			T:       info.T,
		}
	}))
}

// Handler builds the routed handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	mux := s.routes()

	// Metrics sits directly on the mux so route patterns label requests.
	var handler http.Handler = middleware.Metrics(s.metricsRegistry)(mux)
	handler = middleware.BodySizeLimit(s.maxBodyBytes)(handler)
	handler = middleware.BearerAuth(s.tokens, s.logger)(handler)
	handler = middleware.Logging(s.logger, middleware.GetRequestID)(handler)
	handler = middleware.RequestID()(handler)
	handler = middleware.SecurityHeaders(&middleware.SecurityHeadersConfig{TLSEnabled: s.tlsEnabled})(handler)
	handler = middleware.CORS(s.corsConfig)(handler)
	handler = middleware.PanicRecovery(s.logger)(handler)
	return handler
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metricsRegistry.GetPrometheusRegistry(), promhttp.HandlerOpts{})
}

// HTTPServer returns an http.Server for cfg. There is no write timeout:
// the update stream stays open for the whole run.
func (s *Server) HTTPServer(cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// UpdateMetricsPeriodically refreshes the system gauges until ctx is done
func (s *Server) UpdateMetricsPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateSystemMetrics()
		}
	}
}

func (s *Server) updateSystemMetrics() {
	s.metricsRegistry.UptimeSeconds.Set(time.Since(s.startTime).Seconds())
	s.metricsRegistry.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.metricsRegistry.MemoryAllocBytes.Set(float64(m.Alloc))
	s.metricsRegistry.MemorySysBytes.Set(float64(m.Sys))
}
