package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/gate"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/proxy"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/memory"
	"github.com/platinummonkey/gatekeeper/pkg/storage/sqlstore"
	"github.com/platinummonkey/gatekeeper/pkg/subscriptions"
)

var (
	envFile  = pflag.String("env-file", ".env", "File of environment variables to load before reading configuration")
	seedFile = pflag.String("seed", "", "YAML file of plans and permissions to load at startup (overrides GATEKEEPER_SEED_FILE)")
	port     = pflag.String("port", "", "Port to listen on (overrides GATEKEEPER_PORT)")
	driver   = pflag.String("db-driver", "", "Store backend: postgres, sqlite3 or memory (overrides GATEKEEPER_DB_DRIVER)")
	dsn      = pflag.String("db-dsn", "", "Store connection string (overrides GATEKEEPER_DB_DSN)")
)

func main() {
	pflag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Gatekeeper exited with error")
	}
	logger.Info("Gatekeeper stopped")
}

func applyFlags(cfg *config.Config) {
	if *seedFile != "" {
		cfg.Gate.SeedFile = *seedFile
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	shutdown := observability.NewShutdownManager(logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdown.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Shutdown finished with errors")
		}
	}()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.Register("opentelemetry", otelProviders.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	shutdown.Register("store", func(context.Context) error { return store.Close() })

	health := observability.NewHealthChecker()
	health.Register("store", store.Ping)

	catalog := plans.NewCatalog(store, plans.Config{Size: cfg.Gate.PlanCacheSize, TTL: cfg.Gate.PlanCacheTTL}, logger, metrics)
	if cfg.Gate.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.Gate.SeedFile)
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	recorder := audit.NewRecorder(store, logger)
	facade := proxy.NewFacade(cfg.Gate.ProxyTimeout, logger, metrics)
	if err := registerServices(ctx, cfg.Services, cfg.Gate.ProxyTimeout, facade, recorder, health, shutdown, logger); err != nil {
		return err
	}

	g := gate.New(store, catalog, logger, gate.WithMetrics(metrics), gate.WithInvoker(facade))
	server := api.NewServer(api.Deps{
		Catalog:       catalog,
		Subscriptions: subscriptions.NewService(store, logger),
		Gate:          g,
		Services:      facade,
		Recorder:      recorder,
		Logger:        logger,
		Metrics:       metrics,
	})

	sweeper := subscriptions.NewIntegritySweeper(store, logger, metrics)
	if _, err := sweeper.Sweep(ctx); err != nil {
		logger.WithError(err).Warn("Initial integrity sweep failed")
	}
	scheduler := cron.New()
	if _, err := sweeper.Schedule(scheduler, cfg.Gate.IntegritySchedule); err != nil {
		return err
	}
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", health.Liveness)
	healthMux.HandleFunc("/ready", health.Readiness)
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return serve(apiServer, "api", logger) })
	group.Go(func() error { return serve(healthServer, "health", logger) })
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})
	return group.Wait()
}

func serve(srv *http.Server, name string, logger logrus.FieldLogger) error {
	logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger logrus.FieldLogger) (storage.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using the in-memory store; state is lost on restart")
		return memory.New(), nil
	}

	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	logger.WithField("driver", cfg.Driver).Info("Store opened")
	return store, nil
}

// registerServices wires an adapter for every service with enough configuration.
func registerServices(
	ctx context.Context,
	cfg config.ServicesConfig,
	proxyTimeout time.Duration,
	facade *proxy.Facade,
	recorder *audit.Recorder,
	health *observability.HealthChecker,
	shutdown *observability.ShutdownManager,
	logger logrus.FieldLogger,
) error {
	if cfg.Stripe.Enabled() {
		stripeAPI := proxy.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL)
		facade.Register(proxy.NewPayments(stripeAPI.PaymentIntents, recorder, cfg.Stripe.Amount, cfg.Stripe.Currency))
	}

	if cfg.Auth0.Enabled() {
		facade.Register(proxy.NewAuth(proxy.Auth0Config(cfg.Auth0.Domain, cfg.Auth0.ClientID, cfg.Auth0.ClientSecret)))
	}

	if cfg.S3.Enabled() {
		client, err := proxy.NewS3Client(ctx, proxy.S3Options{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return err
		}
		facade.Register(proxy.NewStorage(client, cfg.S3.Bucket))
	}

	if cfg.Elasticsearch.Enabled() {
		client, err := proxy.NewSearchClient(proxy.SearchOptions{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			return err
		}
		facade.Register(proxy.NewSearch(client, cfg.Elasticsearch.Index))
	}

	if cfg.Kafka.Enabled() {
		producer, err := proxy.NewKafkaProducer(cfg.Kafka.Brokers, proxyTimeout)
		if err != nil {
			logger.WithError(err).Error("Messaging service disabled")
		} else {
			shutdown.Register("kafka", func(context.Context) error { return producer.Close() })
			facade.Register(proxy.NewMessaging(producer, cfg.Kafka.Topic))
		}
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		health.Register("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		facade.Register(proxy.NewCache(client))
	}
	return nil
}
