// Command tallyd serves a small pizza-ordering API instrumented with tally. It exists to
// exercise the library end to end against real metrics and log sinks.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/jkbrsn/tally"
	"github.com/jkbrsn/tally/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		period     time.Duration
		finalFlush bool
		compress   bool
		envFiles   []string
	)
	flagSet := pflag.NewFlagSet("tallyd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("TALLY_CONFIG"), "path to the YAML config file")
	flagSet.StringVar(&listen, "listen", "", "address to serve on (overrides the config file)")
	flagSet.DurationVar(&period, "period", 0, "metrics reporting period (overrides the config file)")
	flagSet.BoolVar(&finalFlush, "final-flush", true, "flush metrics once more on shutdown")
	flagSet.BoolVar(&compress, "gzip", false, "gzip push bodies")
	flagSet.StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading the config (default: .env if present)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if period > 0 {
		cfg.ReportingPeriod = period
	}

	logger := httplog.NewLogger("tallyd", httplog.Options{JSON: false})

	opts := []tally.Option{
		tally.WithLogger(logger),
		tally.WithReportingPeriod(cfg.ReportingPeriod),
	}
	if finalFlush {
		opts = append(opts, tally.WithFinalFlush())
	}
	if compress {
		opts = append(opts, tally.WithCompression())
	}
	t, err := tally.New(cfg.Config, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	var db *tally.LoggedDB
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("no database configured; orders are not persisted")
	} else {
		sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()
		db = tally.NewLoggedDB(sqlDB, t.Shipper())
		if err := migrate(context.Background(), db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(t, db, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Dur("period", cfg.ReportingPeriod).Msg("tallyd listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(t *tally.Tally, db *tally.LoggedDB, logger zerolog.Logger) http.Handler {
	shipper := t.Shipper()
	api := &api{tally: t, db: db, fail: shipper.ExceptionHandler(tally.WriteError)}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(httplog.RequestLogger(logger))
	r.Use(t.TrackRequests)
	r.Use(shipper.Middleware)
	r.Use(shipper.Recoverer)

	r.Get("/healthz", api.health)
	r.Post("/api/order", api.createOrder)
	r.Put("/api/auth", api.login)
	r.Delete("/api/auth", api.logout)
	return r
}
