package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"

	"github.com/alexedwards/scs/v2"
	"github.com/joho/godotenv"
	"github.com/myrjola/storyweaver/internal/ai"
	"github.com/myrjola/storyweaver/internal/config"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/logging"
	"github.com/myrjola/storyweaver/internal/pprofserver"
	"github.com/myrjola/storyweaver/internal/story"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type application struct {
	logger         *slog.Logger
	session        *story.Session
	sessionManager *scs.SessionManager
	registry       *prometheus.Registry
	secureCookies  bool
}

func run(ctx context.Context, logger *slog.Logger, lookupEnv func(string) (string, bool)) error {
	cfg, err := config.Load(lookupEnv)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct // defaults.
	)

	var generator ai.Generator
	if generator, err = ai.New(cfg.Generation, ai.NewMetrics(registry)); err != nil {
		return errors.Wrap(err, "create generator")
	}
	session := story.NewSession(logger, generator, story.WithTimeout(cfg.Generation.Timeout))
	defer session.Close()

	// Initialise pprof listening on localhost so that it's not open to the world.
	if err = pprofserver.Launch(ctx, cfg.Server.PprofAddr, logger); err != nil {
		return errors.Wrap(err, "launch pprof server")
	}

	app := application{
		logger:         logger,
		session:        session,
		sessionManager: newSessionManager(cfg.Server.SecureCookies),
		registry:       registry,
		secureCookies:  cfg.Server.SecureCookies,
	}

	ctx = logging.WithAttrs(ctx, slog.String("backend", cfg.Generation.Backend), slog.String("model", cfg.Generation.Model))
	if err = app.configureAndStartServer(ctx, cfg.Server.Addr); err != nil {
		return errors.Wrap(err, "start server")
	}
	return nil
}

func main() {
	ctx := context.Background()
	loggerHandler := logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	}))
	logger := slog.New(loggerHandler)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.LogAttrs(ctx, slog.LevelError, "failure loading .env", errors.SlogError(err))
		os.Exit(1)
	}

	if err := run(ctx, logger, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failure starting application", errors.SlogError(err))
		os.Exit(1)
	}
}
