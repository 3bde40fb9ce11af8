package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/api"
	"github.com/dd0wney/cluso-gridsim/pkg/api/middleware"
	"github.com/dd0wney/cluso-gridsim/pkg/archive"
	"github.com/dd0wney/cluso-gridsim/pkg/auth"
	"github.com/dd0wney/cluso-gridsim/pkg/config"
	"github.com/dd0wney/cluso-gridsim/pkg/engine/reference"
	"github.com/dd0wney/cluso-gridsim/pkg/health"
	"github.com/dd0wney/cluso-gridsim/pkg/history"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/metrics"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
	"github.com/dd0wney/cluso-gridsim/pkg/publish"
	"github.com/dd0wney/cluso-gridsim/pkg/sim"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("GRIDSIM_CONFIG"), "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config and PORT)")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given subject and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if *issueToken != "" {
		if err := printToken(cfg.Auth, *issueToken); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(level),
	}))
	appLogger := logging.NewJSONLogger(os.Stdout, level)
	logging.SetDefaultLogger(appLogger)

	logger.Info("gridsim server starting", "version", version)

	if err := run(cfg, logger, appLogger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger, appLogger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog := reference.Catalog()
	if dir := cfg.Simulation.ModelDir; dir != "" {
		n, err := catalog.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("load model dir: %w", err)
		}
		logger.Info("network templates loaded", "dir", dir, "count", n)
	}
	logger.Info("catalog ready", "networks", catalog.Networks())

	initial := params.Defaults()
	if path := cfg.Simulation.ParametersFile; path != "" {
		p, err := params.LoadFile(path)
		if err != nil {
			return err
		}
		initial = p
		logger.Info("default parameters loaded", "file", path, "network", p.Network)
	}

	registry := metrics.DefaultRegistry()

	store, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if store != nil {
		logger.Info("result archive enabled", "backend", cfg.Archive.Backend)
	}

	var runs history.Store
	if url := cfg.History.DatabaseURL; url != "" {
		pg, err := history.OpenPG(ctx, url)
		if err != nil {
			return err
		}
		defer pg.Close()
		runs = pg
		logger.Info("run history enabled")
	}

	var publisher publish.Publisher
	if cfg.Publisher.Kind != "" {
		publisher, err = publish.New(cfg.Publisher.Kind, cfg.Publisher.URL)
		if err != nil {
			return fmt.Errorf("open publisher: %w", err)
		}
		defer publisher.Close()
		logger.Info("publisher listening", "kind", cfg.Publisher.Kind, "url", cfg.Publisher.URL)
	}

	driver := sim.DefaultDriverConfig()
	driver.MaxStep = cfg.Simulation.MaxStep
	driver.ResidualTolerance = cfg.Simulation.ResidualTolerance
	driver.Modal.DampingThreshold = cfg.Simulation.DampingThreshold
	driver.NoiseSeed = cfg.Simulation.NoiseSeed

	svc := sim.NewService(sim.Deps{
		Catalog:   catalog,
		Factory:   reference.Factory,
		Params:    params.NewStore(initial, appLogger.With(logging.Component("params"))),
		Archive:   store,
		History:   runs,
		Publisher: publisher,
		Metrics:   registry,
		Logger:    appLogger.With(logging.Component("sim")),
	}, sim.ServiceConfig{
		Driver:         driver,
		StreamCapacity: cfg.Simulation.StreamCapacity,
		Heartbeat:      cfg.Simulation.Heartbeat,
	})

	opts := api.Options{
		Health:  health.NewHealthChecker(),
		Metrics: registry,
		Logger:  appLogger.With(logging.Component("api")),
		CORS:    corsConfig(cfg.Server),
		Version: version,
	}
	if cfg.Auth.JWTSecret != "" {
		tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
		if err != nil {
			return err
		}
		opts.Tokens = tokens
		logger.Info("bearer-token guard enabled on mutating endpoints")
	}

	server := api.NewServer(svc, opts)
	httpServer := server.HTTPServer(cfg.Server)
	go server.UpdateMetricsPeriodically(ctx, 10*time.Second)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// cancel the run first so open update streams see their terminal message
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("simulation did not stop in time", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Store, error) {
	switch cfg.Backend {
	case config.ArchiveFile:
		return archive.NewFileStore(cfg.Dir)
	case config.ArchiveS3:
		return archive.NewS3Store(ctx, archive.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return nil, nil
	}
}

func corsConfig(cfg config.ServerConfig) *middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	c.AllowedOrigins = cfg.CORSOrigins
	c.AllowCredentials = cfg.CORSAllowCredentials
	return c
}

func printToken(cfg config.AuthConfig, subject string) error {
	if cfg.JWTSecret == "" {
		return errors.New("no JWT secret configured (set JWT_SECRET)")
	}
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.Issuer, 0)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(strings.TrimSpace(subject))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func slogLevel(level logging.Level) slog.Level {
	switch level {
	case logging.DebugLevel:
		return slog.LevelDebug
	case logging.WarnLevel:
		return slog.LevelWarn
	case logging.ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
