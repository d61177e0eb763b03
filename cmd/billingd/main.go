// Command billingd runs the billing engine with a PostgreSQL store, River
// background jobs and the provider webhook endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/billing"
	audithook "github.com/xraph/billing/audit_hook"
	"github.com/xraph/billing/jobs"
	"github.com/xraph/billing/lock"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/observability"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/provider/coinbase"
	"github.com/xraph/billing/provider/mollie"
	"github.com/xraph/billing/provider/stripe"
	"github.com/xraph/billing/store/postgres"
	"github.com/xraph/billing/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("billingd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	logger.Info("connected to postgres")

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return err
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return err
	}
	logger.Info("river migrations applied")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queue := jobs.NewQueue()
	opts := []billing.Option{
		billing.WithLogger(logger),
		billing.WithConfig(cfg.Engine),
		billing.WithScheduler(queue),
		billing.WithNotifier(queue),
		billing.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		billing.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
	}
	for _, p := range providers(cfg) {
		opts = append(opts, billing.WithProvider(p))
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts = append(opts, billing.WithLocker(lock.NewRedis(rdb, lock.WithTTL(cfg.Engine.LockTTL))))
	}

	eng := billing.New(postgres.New(pool), opts...)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	workers := river.NewWorkers()
	jobs.Register(workers, eng, queue, notify.NewLogNotifier(logger), logger)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Workers},
		},
		Workers:      workers,
		PeriodicJobs: jobs.PeriodicJobs(cfg.Schedule),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	queue.Bind(client)

	router := mux.NewRouter()
	webhook.New(eng, logger).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Store().Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return client.Stop(stopCtx)
	})
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("billingd stopped")
	return err
}

// providers builds the gateways that have credentials configured.
func providers(cfg Config) []provider.Provider {
	timeout := provider.WithTimeout(cfg.Engine.ProviderTimeout)

	var out []provider.Provider
	if cfg.Mollie.APIKey != "" {
		out = append(out, mollie.New(cfg.Mollie, timeout))
	}
	if cfg.Stripe.SecretKey != "" {
		out = append(out, stripe.New(cfg.Stripe, stripe.WithHTTPClient(&http.Client{Timeout: cfg.Engine.ProviderTimeout})))
	}
	if cfg.Coinbase.APIKey != "" {
		out = append(out, coinbase.New(cfg.Coinbase, timeout))
	}
	return out
}

func auditLog(logger *slog.Logger) audithook.Recorder {
	audit := logger.WithGroup("audit")
	return audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
		audit.InfoContext(ctx, ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"reason", ev.Reason,
		)
		return nil
	})
}

var _ jobs.Inserter = (*river.Client[pgx.Tx])(nil)
