package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/config"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/handler"
	"github.com/kursadbilgin/newswire-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/newswire-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/newswire-engine/internal/infra/redis"
	"github.com/kursadbilgin/newswire-engine/internal/observability"
	"github.com/kursadbilgin/newswire-engine/internal/provider"
	"github.com/kursadbilgin/newswire-engine/internal/queue"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"github.com/kursadbilgin/newswire-engine/internal/service"
	"github.com/kursadbilgin/newswire-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 15 * time.Second
	tierConsumerPrefetch = 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("newswire-engine stopped with error", zap.Error(err))
	}
	logger.Info("newswire-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolFor(cfg.MaxConcurrentDeliveries))
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	throttle, err := infraredis.NewSendThrottle(rdb, cfg.SendRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("send throttle initialization failed: %w", err)
	}

	content, err := provider.NewNewsDataProvider(cfg.NewsAPIURL, cfg.NewsAPIKey, cfg.ProviderTimeout())
	if err != nil {
		return fmt.Errorf("content provider initialization failed: %w", err)
	}
	whatsapp, err := provider.NewTwilioWhatsApp(provider.TwilioConfig{
		BaseURL:    cfg.TwilioAPIURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.WhatsAppFromNumber,
		Timeout:    cfg.ProviderTimeout(),
	})
	if err != nil {
		return fmt.Errorf("whatsapp transport initialization failed: %w", err)
	}

	users := repository.NewGormUserRepo(db)
	topics := repository.NewGormTopicRepo(db)
	phones := repository.NewGormPhoneNumberRepo(db)
	schedules := repository.NewGormScheduleRepo(db)
	runs := repository.NewGormDeliveryRunRepo(db)

	metrics := observability.NewMetrics()

	var (
		broker    *queue.RabbitMQ
		publisher queue.RunEventPublisher
		consumer  queue.TierEventConsumer
	)
	if cfg.BrokerEnabled() {
		broker, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer broker.Close() //nolint:errcheck
		publisher = queue.NewRabbitMQPublisher(broker)
		consumer = queue.NewTierChangedConsumer(broker, tierConsumerPrefetch, logger)
	} else {
		logger.Info("RABBITMQ_URL not set, run events and broker tier events are disabled")
	}

	accounts, err := service.NewAccountService(users, logger)
	if err != nil {
		return err
	}
	accounts.SetMetrics(metrics)

	topicService, err := service.NewTopicService(users, topics, logger)
	if err != nil {
		return err
	}

	verification, err := service.NewVerificationService(users, phones, whatsapp, throttle, service.VerificationConfig{
		CodeTTL:     cfg.VerificationCodeTTL(),
		SendTimeout: cfg.ProviderTimeout(),
	}, logger)
	if err != nil {
		return err
	}
	verification.SetMetrics(metrics)

	orchestrator, err := service.NewOrchestrator(service.OrchestratorDeps{
		Users:     users,
		Topics:    topics,
		Phones:    phones,
		Schedules: schedules,
		Runs:      runs,
		Content:   content,
		Transport: whatsapp,
		Throttle:  throttle,
		Events:    publisher,
	}, service.OrchestratorConfig{CallTimeout: cfg.ProviderTimeout()}, logger)
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(schedules, orchestrator, service.SchedulerConfig{
		Tick:          cfg.SchedulerTick(),
		ClaimTimeout:  cfg.ClaimTimeout(),
		MaxConcurrent: cfg.MaxConcurrentDeliveries,
	}, logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	scheduleService, err := service.NewScheduleService(users, topics, schedules, runs, orchestrator, cfg.ClaimTimeout(), logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, handler.HealthDeps{
		DB:      sqlDB,
		Redis:   rdb,
		Metrics: metrics.Handler(),
	})
	if err := handler.RegisterRoutes(app, handler.Services{
		Accounts:  accounts,
		Topics:    topicService,
		Phones:    verification,
		Schedules: scheduleService,
	}, cfg.TierWebhookSecret); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("newswire-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Consume(gctx, func(ctx context.Context, change domain.TierChange) error {
				_, err := accounts.ApplyTierChange(ctx, change, service.TierSourceBroker)
				return err
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Warn("api shutdown failed", zap.Error(err))
		}
		// In-flight runs finish and release their claims before the pools close.
		scheduler.Wait()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn("run event publisher close failed", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
