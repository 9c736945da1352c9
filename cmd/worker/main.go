// Package main is the entry point of the insight engine worker.
//
// The worker owns the engine's batch side:
//   - incremental telemetry sync from the LMS
//   - nightly retraining of the struggle prediction model
//   - weekly forgetting curve refits for active learners
//   - periodic experiment readiness sweeps
//
// Interactive reads (predictions, retention forecasts, experiment analyses)
// go through the application layer the worker wires up here.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyloop/insight-engine/config"
	"github.com/studyloop/insight-engine/internal/application/command"
	"github.com/studyloop/insight-engine/internal/application/eventhandler"
	"github.com/studyloop/insight-engine/internal/application/query"
	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/retention"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	domainsignal "github.com/studyloop/insight-engine/internal/domain/signal"
	"github.com/studyloop/insight-engine/internal/infrastructure/external/lms"
	"github.com/studyloop/insight-engine/internal/infrastructure/messaging"
	"github.com/studyloop/insight-engine/internal/infrastructure/observability"
	"github.com/studyloop/insight-engine/internal/infrastructure/persistence/postgres"
	"github.com/studyloop/insight-engine/internal/infrastructure/persistence/redis"
	"github.com/studyloop/insight-engine/internal/infrastructure/scheduler"
	"github.com/studyloop/insight-engine/internal/infrastructure/scheduler/jobs"
	"github.com/studyloop/insight-engine/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting insight engine worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REPOSITORIES & CACHE
	// ─────────────────────────────────────────────────────────────────────────
	signalRepo := postgres.NewSignalRepository(dbConn)
	predictionRepo := postgres.NewPredictionRepository(dbConn)
	experimentRepo := postgres.NewExperimentRepository(dbConn)
	syncStateRepo := postgres.NewSyncStateRepository(dbConn)

	// Reads go through the Redis cache when available; writes always hit
	// Postgres directly.
	var telemetryReads domainsignal.Repository = signalRepo
	var redisCache *redis.Cache
	var signalCache *redis.SignalCache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
		} else {
			defer redisCache.Close()
			signalCache = redis.NewSignalCache(signalRepo, redisCache, log)
			telemetryReads = signalCache
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.AsyncMode = cfg.Analytics.AsyncEventBus
	eventBus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ANALYTICS CORE
	// ─────────────────────────────────────────────────────────────────────────
	pipeline := features.NewPipeline(telemetryReads)
	logistic := prediction.NewLogisticPredictor()
	ruleBased := prediction.NewRuleBasedPredictor()
	analyzer := retention.NewAnalyzer(telemetryReads)
	engine := experiment.NewEngine(experimentRepo)

	// Restore the latest trained weights so predictions survive restarts.
	if weights, metrics, err := predictionRepo.LatestWeights(ctx); err != nil {
		log.Warn("failed to load model weights", "error", err)
	} else if weights != nil {
		if err := logistic.Restore(*weights); err != nil {
			log.Warn("failed to restore model weights", "error", err)
		} else {
			log.Info("model weights restored",
				"trained_at", metrics.TrainedAt,
				"accuracy", metrics.Accuracy,
			)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	trainHandler := command.NewTrainModelHandler(predictionRepo, logistic, eventBus, log)
	predictHandler := query.NewGetStrugglePredictionHandler(
		pipeline, logistic, ruleBased, predictionRepo, eventBus, log)
	analyzeHandler := query.NewAnalyzeExperimentHandler(engine, log)
	sessionHandler := eventhandler.NewOnSessionCompletedHandler(predictionRepo, eventBus, log)

	// Outcome resolution must survive transient storage errors; exhausted
	// retries land in the dead letter queue for inspection.
	dlq := messaging.NewDeadLetterQueue(1000)
	resolver := messaging.Wrap(sessionHandler,
		messaging.RecoveryMiddleware(log),
		messaging.LoggingMiddleware(log),
		messaging.RetryMiddleware(retry.EventDeliveryRetrier(), dlq, log),
	)
	if err := eventBus.Subscribe(shared.EventSessionCompleted, resolver); err != nil {
		return fmt.Errorf("failed to subscribe outcome resolver: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. OBSERVABILITY
	// ─────────────────────────────────────────────────────────────────────────
	var metricsServer *observability.Server

	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry)
		observer := observability.NewEventObserver(metrics, log)
		if err := eventBus.SubscribeAll(observer); err != nil {
			return fmt.Errorf("failed to subscribe metrics observer: %w", err)
		}

		metricsServer = observability.NewServer(cfg.Observability.MetricsAddr, registry, log)
		metricsServer.Start()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. LMS CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	lmsCfg := lms.DefaultClientConfig(cfg.LMS.BaseURL)
	lmsCfg.APIKey = cfg.LMS.APIKey
	lmsCfg.Timeout = cfg.LMS.RequestTimeout
	lmsCfg.RateLimiterConfig.RequestsPerSecond = cfg.LMS.RequestsPerSecond
	lmsCfg.RateLimiterConfig.BurstSize = cfg.LMS.BurstSize
	lmsCfg.Logger = log
	lmsCfg.Debug = cfg.App.Debug
	lmsClient := lms.NewClient(lmsCfg)

	if cfg.LMS.Username != "" {
		if _, err := lmsClient.Authenticate(ctx, cfg.LMS.Username, cfg.LMS.Password); err != nil {
			return fmt.Errorf("LMS authentication failed: %w", err)
		}
		log.Info("authenticated with LMS")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULER & JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.App.Location,
		EventBus: eventBus,
	})

	// A nil *redis.SignalCache must not become a non-nil interface.
	var invalidator jobs.CacheInvalidator
	if signalCache != nil {
		invalidator = signalCache
	}

	syncJob := jobs.NewSyncTelemetryJob(
		lmsClient, signalRepo, syncStateRepo, invalidator, eventBus, log,
		jobs.SyncTelemetryConfig{
			Timeout:    cfg.Scheduler.JobTimeout,
			MaxBatches: 20,
		},
	)
	retrainJob := jobs.NewRetrainModelJob(trainHandler, log, cfg.Scheduler.JobTimeout)
	refitJob := jobs.NewRefitCurvesJob(syncStateRepo, analyzer, redisCache, log,
		jobs.RefitCurvesConfig{
			ActiveWindow: cfg.Scheduler.RefitActiveWindow,
			Timeout:      cfg.Scheduler.JobTimeout,
		},
	)
	sweepJob := jobs.NewSweepExperimentsJob(experimentRepo, analyzeHandler, log, cfg.Scheduler.JobTimeout)
	predictJob := jobs.NewPredictStrugglesJob(syncStateRepo, telemetryReads, predictHandler, log,
		jobs.DefaultPredictStrugglesConfig())

	retrainSchedule, err := scheduler.ParseCronExpression(
		fmt.Sprintf("0 %d * * *", cfg.Scheduler.RetrainHour))
	if err != nil {
		return fmt.Errorf("invalid retrain schedule: %w", err)
	}

	if err := sched.Register(syncJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SyncInterval)); err != nil {
		return fmt.Errorf("failed to register sync job: %w", err)
	}
	if err := sched.Register(retrainJob, retrainSchedule); err != nil {
		return fmt.Errorf("failed to register retrain job: %w", err)
	}
	if err := sched.Register(refitJob, scheduler.WeeklySundayAt2); err != nil {
		return fmt.Errorf("failed to register refit job: %w", err)
	}
	if err := sched.Register(sweepJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepInterval)); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	if err := sched.Register(predictJob, scheduler.NightlyAt4); err != nil {
		return fmt.Errorf("failed to register predict job: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		log.Warn("scheduler disabled by configuration")
	}

	log.Info("insight engine worker is running",
		"sync_interval", cfg.Scheduler.SyncInterval.String(),
		"retrain_hour", cfg.Scheduler.RetrainHour,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if cfg.Scheduler.Enabled {
		if err := sched.Stop(); err != nil {
			log.Error("scheduler shutdown failed", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}

	if size := dlq.Size(); size > 0 {
		log.Warn("dead letter queue is not empty at shutdown", "entries", size)
	}

	log.Info("shutdown completed")
	return nil
}

// setupLogger configures structured logging per the observability config.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
