package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/app/controllers"
	"github.com/relay-funder/relay-funder-app-sub004/app/repository"
	apiv1 "github.com/relay-funder/relay-funder-app-sub004/internal/api/v1"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/archive"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/cache"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/database"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/events"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/explorer"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/jobqueue"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/middleware"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/notify"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/pledge"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/reconciliation"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/router"
)

const shutdownTimeout = 20 * time.Second

func main() {
	envFile := env.SetupEnvFile()
	log := logger.New(logger.ConfigFromEnv())
	defer func() { _ = log.Sync() }()
	defer zap.ReplaceGlobals(log)()
	logEnvSource(log, envFile)

	app, shutdown := NewApplication(log)

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal("HTTP server stopped", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	shutdown()
}

// NewApplication wires every component and returns the app plus a function
// that stops the background workers and closes connections.
func NewApplication(log *zap.Logger) (*fiber.App, func()) {
	database.SetupDatabase(log)
	cache.SetupCache(log)
	db := database.GetDB()
	rdb := cache.GetClient()

	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	// optional NATS fan-out
	var publisher billing.EventPublisher
	nc, err := events.Connect(env.GetEnv("NATS_URL", ""), log)
	if err != nil {
		log.Warn("Payment events disabled", zap.Error(err))
	} else if nc != nil {
		publisher = events.NewPublisher(nc, log)
	}

	pledges := pledge.NewService(repos.Payment, pledge.NewExecutorFromEnv(), jobqueue.NewRedisLocker(rdb), log)

	queue := jobqueue.NewQueue(rdb, env.GetInt("JOB_WORKERS", 4), log)
	queue.RegisterProcessor(jobqueue.JobTypePledgeExecution, jobqueue.NewPledgeProcessor(pledges, log))

	dispatcher := &billing.Dispatcher{
		Notifier:  notify.NewNotifier(repos, log),
		Rounds:    repos.Round,
		Tracker:   repos.Payment,
		Publisher: publisher,
		Logger:    log,
	}
	payments := billing.NewServiceFromDB(db,
		billing.WithSideEffects(dispatcher),
		billing.WithLogger(log),
		billing.WithIdempotencyCache(rdb, env.GetDuration("IDEMPOTENCY_CACHE_TTL", 24*time.Hour)),
	)

	manager := jobqueue.NewManager(jobqueue.ManagerDeps{
		Queue:     queue,
		Sweeper:   pledges,
		Marker:    repos.Payment,
		Replayer:  payments,
		Retention: newRetention(repos.WebhookEvent, log),
		Intervals: jobqueue.IntervalsFromEnv(),
		Logger:    log,
	})
	dispatcher.Pledges = manager
	manager.Start()

	explorerClient := explorer.NewClientFromEnv(log)
	reconciler := reconciliation.NewService(repos.Campaign, repos.Payment, explorerClient, reconciliation.NewEngineFromEnv(),
		reconciliation.WithCache(rdb, reconciliation.CacheTTLFromEnv()),
		reconciliation.WithLogger(log),
	)

	app := fiber.New(fiber.Config{
		AppName:   "relayfunder",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), fiberlogger.New())

	// fiber + prometheus metrics
	if password := env.GetEnv("METRICS_PASSWORD", ""); password != "" {
		metricsAuth := basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "metrics"): password,
			},
		})
		app.Get("/metrics", metricsAuth, adaptor.HTTPHandler(promhttp.Handler()))
		app.Get("/monitor", metricsAuth, monitor.New())
	}

	// SWAGGER / OPENAPI
	if specPath, ok := findOpenAPISpec(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		log.Warn("OpenAPI document not found, /docs/api disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhooks:       controllers.NewPaymentWebhookController(payments, controllers.WebhookConfigFromEnv(), log),
		Reconciliation: controllers.NewReconciliationController(reconciler, log),
		AdminPayments:  controllers.NewAdminPaymentController(repos.Payment, manager, log),
		Cron:           controllers.NewCronController(manager, log),
		API:            apiv1.NewAPIServer(db, rdb, explorerClient.BaseURL),
		AdminAPIKey:    env.GetEnv("ADMIN_API_KEY", ""),
		CronSecret:     env.GetEnv("CRON_SECRET", ""),
		Limiter:        middleware.LimiterConfigFromEnv(),
		LimiterStorage: middleware.NewRedisStorage(rdb),
	})

	shutdown := func() {
		manager.Stop()
		if nc != nil {
			drain(nc, log)
		}
	}
	return app, shutdown
}

// newRetention returns nil when WEBHOOK_RETENTION_DAYS is negative or the
// requested archive cannot be reached. Nothing is deleted unarchived when
// S3_ARCHIVE_ENABLED is set.
func newRetention(store archive.EventStore, log *zap.Logger) jobqueue.RetentionRunner {
	days := archive.RetentionDaysFromEnv()
	if days < 0 {
		return nil
	}

	cfg, err := archive.LoadConfig()
	if err != nil {
		log.Error("S3 archive misconfigured, retention disabled", zap.Error(err))
		return nil
	}

	var uploader archive.Uploader
	if cfg.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client, err := archive.NewClient(ctx, cfg, log)
		if err != nil {
			log.Error("S3 archive unavailable, retention disabled", zap.Error(err))
			return nil
		}
		uploader = client
	}
	return archive.NewRetention(store, uploader, cfg, days, log)
}

func drain(nc *nats.Conn, log *zap.Logger) {
	if err := nc.Drain(); err != nil {
		log.Warn("NATS drain failed", zap.Error(err))
		nc.Close()
	}
}

func findOpenAPISpec() (string, bool) {
	for _, base := range []string{"./", "../../", "../../../"} {
		p := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func logEnvSource(log *zap.Logger, envFile string) {
	if envFile == "" {
		log.Info("No .env file found, using process environment")
		return
	}
	log.Info("Loaded environment file", zap.String("path", envFile))
}
