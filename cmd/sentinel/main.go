// Command sentinel runs the threat detection and response service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/sentinel/config"
	delivery "github.com/vigilsec/sentinel/delivery/http"
	"github.com/vigilsec/sentinel/domain/repository"
	"github.com/vigilsec/sentinel/domain/service"
	"github.com/vigilsec/sentinel/infrastructure/cache"
	"github.com/vigilsec/sentinel/infrastructure/database"
	"github.com/vigilsec/sentinel/infrastructure/executor"
	"github.com/vigilsec/sentinel/infrastructure/memory"
	"github.com/vigilsec/sentinel/infrastructure/messaging"
	"github.com/vigilsec/sentinel/infrastructure/notification"
	"github.com/vigilsec/sentinel/internal/metrics"
	"github.com/vigilsec/sentinel/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, cfg); err != nil {
		logger.Fatal("Service exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("sentinel")

	// Persistence: MongoDB and PostgreSQL when configured, in-memory
	// stores otherwise.
	var (
		eventRepo    repository.CorrelatedEventRepository
		incidentRepo repository.IncidentRepository
		matchRepo    repository.IndicatorMatchRepository
		runRepo      repository.PlaybookRunRepository
	)

	if cfg.MongoDB.Enabled {
		db, err := database.ConnectMongo(ctx, logger, &database.MongoConfig{
			URI:      cfg.MongoDB.URI,
			Database: cfg.MongoDB.Database,
		})
		if err != nil {
			return err
		}
		if eventRepo, err = database.NewMongoEventRepository(db, logger); err != nil {
			return err
		}
		if incidentRepo, err = database.NewMongoIncidentRepository(db, logger); err != nil {
			return err
		}
		if matchRepo, err = database.NewMongoMatchRepository(db, logger); err != nil {
			return err
		}
	} else {
		eventRepo = memory.NewEventRepository()
		incidentRepo = memory.NewIncidentRepository()
		matchRepo = memory.NewMatchRepository()
	}

	if cfg.PostgreSQL.Enabled {
		db, err := database.ConnectPostgres(ctx, logger, &database.PostgresConfig{DSN: cfg.PostgreSQL.DSN})
		if err != nil {
			return err
		}
		defer db.Close()
		if runRepo, err = database.NewPostgresRunRepository(db, logger); err != nil {
			return err
		}
	} else {
		runRepo = memory.NewRunRepository()
	}

	var lookupCache service.LookupCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisIndicatorCache(logger, &cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return err
		}
		defer redisCache.Close()
		lookupCache = redisCache
	}

	// Engines
	correlator, err := service.NewCorrelator(logger, &service.CorrelatorConfig{
		Window:                    cfg.Correlator.Window,
		BruteForceThreshold:       cfg.Correlator.BruteForceThreshold,
		LateralMovementThreshold:  cfg.Correlator.LateralMovementThreshold,
		ExfiltrationByteThreshold: cfg.Correlator.ExfiltrationByteThresh,
		EventRetention:            cfg.Correlator.EventRetention,
	}, eventRepo, collector)
	if err != nil {
		return err
	}
	defer correlator.Stop()

	intel, err := service.NewThreatIntelEngine(logger, nil, service.DefaultIndicators(), matchRepo, lookupCache, collector)
	if err != nil {
		return err
	}

	detector, err := service.NewIncidentDetector(logger, &service.IncidentDetectorConfig{
		SLACritical:      cfg.Incident.SLACritical,
		SLAHigh:          cfg.Incident.SLAHigh,
		SLAMedium:        cfg.Incident.SLAMedium,
		SLALow:           cfg.Incident.SLALow,
		SLACheckInterval: cfg.Incident.SLACheckInterval,
	}, incidentRepo, notification.NewLogDispatcher(logger), collector)
	if err != nil {
		return err
	}
	defer detector.Stop()

	var actionExecutor service.ActionExecutor
	if cfg.SOAR.GatewayURL != "" {
		actionExecutor, err = executor.NewHTTPExecutor(logger, &executor.HTTPExecutorConfig{GatewayURL: cfg.SOAR.GatewayURL})
		if err != nil {
			return err
		}
	} else {
		actionExecutor = executor.NewSimulatedExecutor(logger)
	}

	soar, err := service.NewSOAREngine(logger, &service.SOARConfig{StepDelay: cfg.SOAR.StepDelay}, runRepo, actionExecutor, collector)
	if err != nil {
		return err
	}

	pipeline, err := usecase.NewDetectionPipeline(logger, correlator, intel, detector, soar, collector)
	if err != nil {
		return err
	}

	handler := delivery.NewHandler(logger, pipeline, correlator, intel, detector, soar, eventRepo, runRepo)
	router := delivery.NewRouter(logger, handler, collector)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		producer := messaging.NewEventProducer(logger, &messaging.ProducerConfig{
			Brokers:    cfg.Kafka.Brokers,
			EventTopic: cfg.Kafka.EventTopic,
		})
		defer producer.Close()
		pipeline.SetEventPublisher(producer)

		consumer := messaging.NewSignalConsumer(logger, &messaging.ConsumerConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.SignalTopic,
			GroupID:   cfg.Kafka.GroupID,
			RateLimit: cfg.Kafka.RateLimit,
		}, pipeline)
		defer consumer.Close()

		group.Go(func() error {
			err := consumer.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}
