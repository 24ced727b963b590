package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/lead-retry-engine/internal/config"
	"github.com/kursadbilgin/lead-retry-engine/internal/crm"
	"github.com/kursadbilgin/lead-retry-engine/internal/dialer"
	"github.com/kursadbilgin/lead-retry-engine/internal/handler"
	"github.com/kursadbilgin/lead-retry-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/lead-retry-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/lead-retry-engine/internal/infra/redis"
	"github.com/kursadbilgin/lead-retry-engine/internal/observability"
	"github.com/kursadbilgin/lead-retry-engine/internal/queue"
	"github.com/kursadbilgin/lead-retry-engine/internal/repository"
	"github.com/kursadbilgin/lead-retry-engine/internal/schedule"
	"github.com/kursadbilgin/lead-retry-engine/internal/service"
	"github.com/kursadbilgin/lead-retry-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 15 * time.Second
	consumerPrefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduleCfg, err := cfg.SchedulePolicy()
	if err != nil {
		logger.Fatal("invalid scheduling configuration", zap.Error(err))
	}
	calc := schedule.NewCalculator(scheduleCfg)

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	voiceDialer, err := dialer.NewVoiceAPIDialer(dialer.VoiceAPIConfig{
		Endpoint:        cfg.DialerAPIURL,
		Token:           cfg.DialerAPIToken,
		AgentID:         cfg.DialerAgentID,
		PriorityAgentID: cfg.DialerPriorityAgentID,
		CallerID:        cfg.DialerCallerID,
		Timeout:         cfg.DialerTimeout,
	})
	if err != nil {
		logger.Fatal("dialer initialization failed", zap.Error(err))
	}

	crmClient, err := crm.NewRESTClient(cfg.CRMWebhookURL, cfg.CRMTimeout)
	if err != nil {
		logger.Fatal("crm client initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.DialerRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	lease, err := infraredis.NewCycleLease(rdb, cfg.CycleLeaseTTL)
	if err != nil {
		logger.Fatal("cycle lease initialization failed", zap.Error(err))
	}

	engine, err := service.NewEngine(
		repository.NewGormRetryRepo(db, calc.Location()),
		repository.NewGormAttemptRepo(db),
		calc,
		voiceDialer,
		service.EngineConfig{
			DialTimeout: cfg.DialerTimeout,
			ClaimLease:  cfg.ClaimLease,
			ScanLimit:   cfg.CycleScanLimit,
			Concurrency: cfg.WorkerConcurrency,
			MaxAttempts: cfg.MaxAttempts,
		},
		logger.Named("engine"),
	)
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}
	engine.SetCRM(crmClient)
	engine.SetRateLimiter(limiter)
	engine.SetCycleLock(lease)
	engine.SetMetrics(metrics)

	driver, err := service.NewCycleDriver(engine, cfg.CycleSchedule, logger.Named("cycle"))
	if err != nil {
		logger.Fatal("cycle driver initialization failed", zap.Error(err))
	}

	outcomeWorker, err := service.NewOutcomeWorker(
		engine,
		queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger.Named("consumer")),
		cfg.WorkerConcurrency,
		logger.Named("outcomes"),
	)
	if err != nil {
		logger.Fatal("outcome worker initialization failed", zap.Error(err))
	}
	outcomeWorker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "lead-retry-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger.Named("http")),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterRetryRoutes(app, engine, calc.Location(), cfg.CronSecret); err != nil {
		logger.Fatal("retry routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, queue.NewRabbitMQPublisher(rabbit)); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return driver.Start(groupCtx)
	})
	g.Go(func() error {
		return outcomeWorker.Start(groupCtx)
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("lead-retry-engine started",
		zap.Int("port", cfg.APIPort),
		zap.String("timezone", calc.Location().String()),
		zap.String("cycleSchedule", cfg.CycleSchedule),
	)

	if err := g.Wait(); err != nil {
		logger.Error("lead-retry-engine stopped with error", zap.Error(err))
		return
	}
	logger.Info("lead-retry-engine stopped")
}
