package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/proposal-wizard/cmd/mainconfig"
	"github.com/wolfman30/proposal-wizard/internal/api/router"
	"github.com/wolfman30/proposal-wizard/internal/archive"
	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	appconfig "github.com/wolfman30/proposal-wizard/internal/config"
	"github.com/wolfman30/proposal-wizard/internal/events"
	"github.com/wolfman30/proposal-wizard/internal/http/handlers"
	"github.com/wolfman30/proposal-wizard/internal/notify"
	"github.com/wolfman30/proposal-wizard/internal/observability/metrics"
	"github.com/wolfman30/proposal-wizard/internal/session"
	"github.com/wolfman30/proposal-wizard/internal/storage"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting proposal-wizard API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"storage", cfg.StorageBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS clients are only built when a component needs them.
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	metricsHandler, wizardMetrics := setupMetrics()

	backend, healthChecks, closeBackend, err := setupStorage(ctx, cfg, loadAWS, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	notifier, inspector, err := setupNotifier(cfg, loadAWS, logger)
	if err != nil {
		logger.Error("failed to initialize notifier", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus(0, logger)
	sink, closeEvents := setupEventSink(cfg, bus, logger)
	defer closeEvents()

	opts := []wizard.Option{
		wizard.WithLocation(cfg.Location()),
		wizard.WithLocationNotice(cfg.NotifyLocationSelection),
	}
	if cfg.ArchiveBucket != "" {
		c, err := loadAWS()
		if err != nil {
			logger.Error("failed to initialize archive", "error", err)
			os.Exit(1)
		}
		opts = append(opts, wizard.WithArchiver(archive.NewStore(mainconfig.NewS3Client(c, cfg), cfg.ArchiveBucket, logger.Logger)))
		logger.Info("submission archive enabled", "bucket", cfg.ArchiveBucket)
	}

	manager := session.NewManager(backend, notifier, sink, session.Config{IdleTTL: cfg.SessionIdleTTL}, logger, wizardMetrics, opts...)
	go manager.Run(ctx)

	var geo clientinfo.GeoLookup
	if cfg.GeoIPURL != "" {
		geo = clientinfo.NewHTTPGeoLookup(cfg.GeoIPURL, nil)
	}
	collector := clientinfo.NewCollector(geo, logger)

	wizardHandler := handlers.NewWizardHandler(manager, collector, cfg.NotifyVisitors, logger).
		WithEvents(handlers.NewEventStream(bus, originChecker(cfg.CORSAllowedOrigins), logger))

	r := router.New(&router.Config{
		Logger:             logger,
		Wizard:             wizardHandler,
		AdminNotifier:      handlers.NewAdminNotifierHandler(notifier, inspector, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		HealthChecks:       healthChecks,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped", "active_sessions", manager.Active())
}

func setupMetrics() (http.Handler, *metrics.WizardMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWizardMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), m
}

type awsLoader func() (aws.Config, error)

// setupStorage builds the configured backend, its health checks and a cleanup func.
func setupStorage(ctx context.Context, cfg *appconfig.Config, loadAWS awsLoader, logger *logging.Logger) (storage.Backend, map[string]router.HealthCheck, func(), error) {
	noop := func() {}
	switch cfg.StorageBackend {
	case appconfig.StorageMemory, "":
		logger.Warn("using in-memory storage; state is lost on restart")
		return storage.NewMemoryBackend(), nil, noop, nil

	case appconfig.StorageRedis:
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		checks := map[string]router.HealthCheck{"redis": func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}}
		backend := storage.NewRedisBackend(client, cfg.StateTTL, otel.Tracer("proposal-wizard/storage"))
		return backend, checks, func() { _ = client.Close() }, nil

	case appconfig.StoragePostgres:
		pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
		if pool == nil {
			return nil, nil, noop, errors.New("postgres storage requires a reachable DATABASE_URL")
		}
		checks := map[string]router.HealthCheck{"postgres": pool.Ping}
		return storage.NewPostgresBackend(pool), checks, pool.Close, nil

	case appconfig.StorageDynamo:
		c, err := loadAWS()
		if err != nil {
			return nil, nil, noop, err
		}
		client := dynamodb.NewFromConfig(c)
		return storage.NewDynamoBackend(client, cfg.DynamoTable, cfg.StateTTL), nil, noop, nil

	case appconfig.StorageFirebase:
		backend, err := storage.NewFirebaseBackend(ctx, cfg.FirebaseServiceAccountKeyPath, cfg.FirebaseDatabaseURL)
		if err != nil {
			return nil, nil, noop, err
		}
		return backend, nil, noop, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// setupNotifier returns the Telegram notifier (or a logging stub) wrapped with
// any configured e-mail mirrors.
func setupNotifier(cfg *appconfig.Config, loadAWS awsLoader, logger *logging.Logger) (*notify.Service, handlers.BotInspector, error) {
	var primary notify.Notifier
	var inspector handlers.BotInspector
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegramNotifier(notify.TelegramConfig{
			Token:     cfg.TelegramBotToken,
			ChatID:    cfg.TelegramChatID,
			ServerURL: cfg.TelegramAPIURL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		primary, inspector = tg, tg
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set; messages are only logged")
		primary = notify.NewStubNotifier(logger)
	}

	var mirrors []notify.Notifier
	if cfg.NotifyEmailTo != "" {
		sender, err := emailSender(cfg, loadAWS, logger)
		if err != nil {
			return nil, nil, err
		}
		if sender != nil {
			email := notify.NewEmailNotifier(sender, cfg.NotifyEmailTo, "")
			mirrors = append(mirrors, notify.NewFilter(email, wizard.IsSubmission))
		}
	}
	return notify.NewService(primary, logger, mirrors...), inspector, nil
}

func emailSender(cfg *appconfig.Config, loadAWS awsLoader, logger *logging.Logger) (notify.EmailSender, error) {
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		return sg, nil
	}
	if cfg.SESFromEmail != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		if ses := notify.NewSESSender(sesv2.NewFromConfig(c), notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SendGridFromName}, logger); ses != nil {
			return ses, nil
		}
	}
	if cfg.Env == "development" {
		return notify.NewStubEmailSender(logger), nil
	}
	logger.Warn("NOTIFY_EMAIL_TO set without SendGrid or SES credentials; e-mail copies disabled")
	return nil, nil
}

// setupEventSink fans events out to the in-process bus and, when configured, NATS.
func setupEventSink(cfg *appconfig.Config, bus *events.Bus, logger *logging.Logger) (wizard.EventSink, func()) {
	if cfg.NATSURL == "" {
		return bus, func() {}
	}
	conn, err := events.ConnectNATS(events.NATSConfig{URL: cfg.NATSURL})
	if err != nil {
		logger.Error("NATS unavailable; events stay in-process", "error", err)
		return bus, func() {}
	}
	logger.Info("publishing wizard events to NATS", "subject_prefix", cfg.NATSSubject)
	return events.Fanout{bus, events.NewNATSPublisher(conn, cfg.NATSSubject, logger)}, func() { _ = conn.Drain() }
}

// originChecker limits WebSocket upgrades to the CORS origins.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
