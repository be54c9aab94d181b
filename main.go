// Package main provides the entry point of the Yamata outbound voice dialer
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

	"github.com/amirphl/yamata-dialer/app/handlers"
	"github.com/amirphl/yamata-dialer/app/logger"
	"github.com/amirphl/yamata-dialer/app/middleware"
	"github.com/amirphl/yamata-dialer/app/queue"
	"github.com/amirphl/yamata-dialer/app/router"
	"github.com/amirphl/yamata-dialer/app/scheduler"
	"github.com/amirphl/yamata-dialer/app/services"
	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/amirphl/yamata-dialer/config"
	"github.com/amirphl/yamata-dialer/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	logger    *zap.Logger
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zl = zl.With(zap.String("env", cfg.Deployment.Environment), zap.String("version", cfg.Deployment.Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErr <- app.router.Start(address)
	}()

	select {
	case sig := <-sigChan:
		zl.Info("shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			zl.Error("server stopped unexpectedly", zap.Error(err))
		}
	}

	// Stop accepting requests before the workers, so no webhook lands on a closed queue
	if err := app.router.Shutdown(); err != nil {
		zl.Error("error during shutdown", zap.Error(err))
	}
	cancel()
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	zl.Info("server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, zl *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if cfg.SlowQueryLog {
		gormCfg.Logger = gormlogger.New(zap.NewStdLog(zl.Named("gorm")), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	zl.Info("database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// A nil client means leases stay in process.
func initializeCache(cfg config.CacheConfig, zl *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	zl.Info("redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis. The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, zl *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil && !errors.Is(err, context.Canceled) {
					zl.Warn("redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// initializeVoiceProvider picks the provider client. "mock" runs the dialer without placing real calls.
func initializeVoiceProvider(cfg config.VoiceConfig, zl *zap.Logger) services.VoiceProvider {
	if cfg.ProviderDomain == "mock" {
		zl.Warn("voice provider is mocked; no real calls will be placed")
		return services.NewMockVoiceProvider()
	}
	return services.NewHTTPVoiceClient(services.VoiceClientConfig{
		BaseURL:           cfg.ProviderDomain,
		APIKey:            cfg.APIKey,
		AssistantID:       cfg.AssistantID,
		FromNumber:        cfg.FromNumber,
		WebhookURL:        cfg.WebhookURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
}

// initializeApplication wires repositories, flows, workers and the HTTP surface
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, zl *zap.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: zl}

	db, err := initializeDatabase(cfg.Database, zl)
	if err != nil {
		return nil, err
	}
	app.stopFuncs = append(app.stopFuncs, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rc, err := initializeCache(cfg.Cache, zl)
	if err != nil {
		return nil, err
	}
	var lease scheduler.CampaignLease
	if rc != nil {
		lease = scheduler.NewRedisLease(rc, cfg.Cache.RedisPrefix)
		app.stopFuncs = append(app.stopFuncs,
			func() { _ = rc.Close() },
			startCacheHealthMonitor(ctx, rc, 30*time.Second, zl),
		)
	}

	// Repositories
	campaignRepo := repository.NewCallCampaignRepository(db)
	targetRepo := repository.NewCallTargetRepository(db)
	attemptRepo := repository.NewCallAttemptRepository(db)
	contactRepo := repository.NewContactRepository(db)

	provider := initializeVoiceProvider(cfg.Voice, zl)

	campaignFlow := businessflow.NewCallCampaignFlow(campaignRepo, targetRepo, contactRepo, db, cfg.Voice.DefaultRegion, zl)
	outcomeFlow := businessflow.NewCallOutcomeFlow(targetRepo, campaignRepo, attemptRepo, db, zl)

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Webhooks are buffered through AMQP when a broker is configured
	var publisher queue.WebhookPublisher
	if cfg.Queue.Enabled {
		wq, err := queue.Dial(cfg.Queue, zl)
		if err != nil {
			return nil, err
		}
		publisher = wq

		consumerCtx, stopConsumer := context.WithCancel(ctx)
		consumerDone := make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := wq.Consume(consumerCtx, outcomeFlow); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("webhook consumer stopped", zap.Error(err))
			}
		}()
		app.stopFuncs = append(app.stopFuncs, func() {
			stopConsumer()
			<-consumerDone
			_ = wq.Close()
		})
	}

	app.router = router.NewFiberRouter(cfg, router.Handlers{
		CallCampaign: handlers.NewCallCampaignHandler(campaignFlow, zl),
		VoiceWebhook: handlers.NewVoiceWebhookHandler(outcomeFlow, publisher, cfg.Voice.WebhookSecret, zl),
		AuthTokens:   handlers.NewAuthHandler(tokenService, cfg.JWT.AccessTokenTTL, zl),
		Auth:         middleware.NewAuthMiddleware(tokenService),
	}, zl)

	if cfg.Dialer.Enabled {
		dispatcher := scheduler.NewCallDispatcher(targetRepo, campaignRepo, attemptRepo, provider, db, zl)
		callScheduler := scheduler.NewCallScheduler(campaignRepo, targetRepo, attemptRepo, dispatcher, lease, db, zl,
			scheduler.SchedulerOptions{
				Interval:            cfg.Dialer.TickInterval,
				CampaignsPerTick:    cfg.Dialer.CampaignsPerTick,
				MaxBatchPerTick:     cfg.Dialer.MaxBatchPerTick,
				DispatchConcurrency: cfg.Dialer.DispatchConcurrency,
				LeaseTTL:            cfg.Dialer.LeaseTTL,
			})
		app.stopFuncs = append(app.stopFuncs, callScheduler.Start(ctx))

		sweeper := scheduler.NewStaleCallSweeper(targetRepo, campaignRepo, attemptRepo, provider, db, zl,
			cfg.Dialer.StaleCallTimeout, cfg.Dialer.SweepSchedule)
		stopSweeper, err := sweeper.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start stale call sweeper: %w", err)
		}
		app.stopFuncs = append(app.stopFuncs, stopSweeper)
		zl.Info("dialer started", zap.Duration("tick", cfg.Dialer.TickInterval))
	} else {
		zl.Info("dialer disabled; serving the API only")
	}

	return app, nil
}
