package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/vine/config"
	contactrepo "github.com/Ramsey-B/vine/internal/repositories/contact"
	executionrepo "github.com/Ramsey-B/vine/internal/repositories/execution"
	journeyrepo "github.com/Ramsey-B/vine/internal/repositories/journey"
	"github.com/Ramsey-B/vine/pkg/condition"
	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/dispatch"
	"github.com/Ramsey-B/vine/pkg/events"
	"github.com/Ramsey-B/vine/pkg/graph"
	"github.com/Ramsey-B/vine/pkg/journey"
	vinekafka "github.com/Ramsey-B/vine/pkg/kafka"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/middleware"
	"github.com/Ramsey-B/vine/pkg/processor"
	executionroutes "github.com/Ramsey-B/vine/pkg/routes/execution"
	"github.com/Ramsey-B/vine/pkg/routes/health"
	journeyroutes "github.com/Ramsey-B/vine/pkg/routes/journey"
	"github.com/Ramsey-B/vine/pkg/scheduler"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

var version = "dev"

func main() {
	ctx := context.Background()

	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	var cfg config.Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		PrettyLogs: cfg.PrettyLogs,
		AppName:    cfg.AppName,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	if cfg.TracingEnabled {
		shutdown, err := tracing.InitProvider(ctx, tracing.ProviderConfig{
			ServiceName: cfg.AppName,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	if err := database.Migrate(cfg); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	// Repositories
	journeyStore := journeyrepo.NewRepository(db, logger)
	executionStore := executionrepo.NewRepository(db, logger)
	subjects := contactrepo.NewRepository(db, logger)

	// Kafka producer feeds both lifecycle events and delivery commands
	producer := vinekafka.NewProducer(vinekafka.ProducerConfig{
		Brokers:       cfg.KafkaBrokers,
		EventTopic:    cfg.KafkaEventTopic,
		DeliveryTopic: cfg.KafkaDeliveryTopic,
		BatchSize:     cfg.KafkaBatchSize,
		BatchTimeout:  time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks:  cfg.KafkaRequiredAcks,
		Compression:   cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger)
	dispatcher := dispatch.NewActionDispatcher(producer, logger, cfg.ActionTimeout)
	evaluator := condition.NewEvaluator()
	clock := journey.SystemClock{}

	service := journey.NewService(journeyStore, executionStore, subjects, evaluator, emitter, logger, clock)

	// Optional graph projection
	var projector *graph.Projector
	if cfg.GraphDBEnabled {
		graphClient, err := graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to create graph client")
			log.Fatalf("graph client failed: %v", err)
		}
		defer graphClient.Close(ctx)
		if err := graphClient.VerifyConnectivity(ctx); err != nil {
			logger.WithError(err).Warn("Graph database is not reachable at startup")
		}
		projector = graph.NewProjector(graphClient, logger)
	}

	// Scheduler: advancer sweep loop plus maintenance reaper
	executor := journey.NewStepExecutor(logger, subjects, dispatcher, evaluator, clock, journey.ExecutorConfig{
		MaxAttempts:  cfg.ActionMaxAttempts,
		RetryBackoff: cfg.ActionRetryBackoff,
	})

	var recorder scheduler.TransitionRecorder
	if projector != nil {
		recorder = projector
	}
	advancer := scheduler.NewAdvancer(executionStore, journeyStore, subjects, executor, emitter, recorder, logger, clock, scheduler.AdvancerConfig{
		SweepInterval:   cfg.SweepInterval,
		SweepBatchSize:  cfg.SweepBatchSize,
		Workers:         cfg.AdvancerWorkers,
		MaxStepsPerTick: cfg.MaxStepsPerTick,
		ClaimLease:      cfg.ClaimLeaseTimeout,
	})
	advancer.Start(ctx)
	defer advancer.Stop()

	reaper := scheduler.NewReaper(executionStore, logger, clock, scheduler.ReaperConfig{
		CronSchedule: cfg.ReaperCronSchedule,
		Retention:    cfg.ExecutionRetention,
	})
	if err := reaper.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start reaper")
		log.Fatalf("reaper failed: %v", err)
	}
	defer reaper.Stop()

	// Trigger consumer
	var consumer *vinekafka.Consumer
	if cfg.KafkaConsumerEnabled {
		triggers := processor.NewTriggerProcessor(service, logger)
		consumer = vinekafka.NewConsumer(cfg, logger, triggers.HandleMessage)
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Failed to start trigger consumer")
			log.Fatalf("consumer failed: %v", err)
		}
		defer consumer.Stop()
	}

	// HTTP API
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	var consumerCheck interface{ Health() bool }
	if consumer != nil {
		consumerCheck = consumer
	}
	checker := health.NewChecker(db, consumerCheck, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1", middleware.Tenant())
	journeyroutes.NewHandler(service, projector).Register(api.Group("/journeys"))
	executionroutes.NewHandler(service).Register(api.Group("/executions"))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]any{"addr": server.Addr}).Info("HTTP server starting")
		serverErrors <- server.ListenAndServe()
	}()
	checker.SetReady(true)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server error")
			log.Fatalf("server error: %v", err)
		}
	case sig := <-shutdown:
		logger.WithFields(map[string]any{"signal": sig.String()}).Info("Shutdown signal received")
		checker.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown error")
			_ = server.Close()
		}
		logger.Info("Server stopped gracefully")
	}
}
