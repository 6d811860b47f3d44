package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"haushalt/internal/aggregate"
	"haushalt/internal/amqp"
	"haushalt/internal/auth"
	"haushalt/internal/cache"
	"haushalt/internal/cli"
	apphttp "haushalt/internal/http"
	"haushalt/internal/ledger"
	"haushalt/internal/log"
	"haushalt/internal/metrics"
	"haushalt/internal/middleware/ratelimit"
	"haushalt/internal/services"
	"haushalt/internal/storage"
)

const (
	shutdownTimeout  = 30 * time.Second
	sweepInterval    = time.Minute
	limiterInterval  = 5 * time.Minute
	amqpConnAttempts = 5
)

func main() {
	os.Exit(run())
}

// run wires and serves the application. It returns the process exit code
// so deferred cleanup runs before main exits.
func run() int {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	storeOpts := []storage.Option{}
	if cfg.MetricsEnabled {
		storeOpts = append(storeOpts, storage.WithObserver(m))
	}
	store, err := cli.OpenStore(ctx, cfg, logger, storeOpts...)
	if err != nil {
		logger.Error("Failed to open ledger store", log.FieldError, err, "backend", cfg.DataBackend,
			log.FieldOperation, log.OpStartup)
		return 1
	}
	defer store.Close()

	repo := ledger.New(store)
	engine := aggregate.New(store, cfg.CacheSize, cfg.CacheTTL)

	var cleaners []cache.Cleaner
	if c := engine.Cache(); c != nil {
		cleaners = append(cleaners, c)
		if cfg.MetricsEnabled {
			m.RegisterCache("dashboard", c.Stats)
		}
	}
	janitor := cache.NewJanitor(logger.WithComponent(log.ComponentCache).Slog(), cleaners...)

	// A nil interface, not a typed nil client, disables publishing.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, amqpConnAttempts)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", log.FieldError, err,
				log.FieldOperation, log.OpStartup, log.FieldErrorType, log.ErrorTypeNetwork)
			return 1
		}
		defer client.Close()
		publisher = client
		logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange, "routing_key", cfg.AMQPRoutingKey)
	}

	var publishObserver services.PublishObserver
	var requestObserver apphttp.RequestObserver
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		publishObserver = m
		requestObserver = m
		metricsHandler = m.Handler()
	}

	svc := services.NewLedgerService(repo, publisher, publishObserver, logger.WithComponent(log.ComponentLedger))
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})

	srv := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		Ledger:         svc,
		Reader:         repo,
		Views:          engine,
		Auth:           auth.NewPasswordAuthenticator(repo),
		Logger:         logger,
		Limiter:        limiter,
		Observer:       requestObserver,
		MetricsHandler: metricsHandler,
		Ready: func(ctx context.Context) error {
			return store.WithShared(ctx, func(*storage.Document) error { return nil })
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting haushalt server", "port", cfg.Port, "backend", cfg.DataBackend,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return janitor.Run(gctx, sweepInterval) })
	g.Go(func() error { return limiter.Run(gctx, limiterInterval) })

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		return 1
	}
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
	return 0
}
