package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketmind/internal/analysis_service/api"
	"ticketmind/internal/analysis_service/consumer"
	"ticketmind/internal/analysis_service/publisher"
	"ticketmind/internal/analysis_service/service"
	"ticketmind/internal/analysis_service/store"
	"ticketmind/internal/config"
	"ticketmind/internal/database/mongo"
	"ticketmind/internal/llm"
	"ticketmind/internal/models"
	"ticketmind/pkg/circuitbreaker"
	"ticketmind/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logLevel, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Invalid logger level: %v", err)
	}
	logger.Init(logLevel)

	// Create a single base logger for the service
	serviceLogger := logger.New("AnalysisService", "", "")

	// Connect to MongoDB using the singleton GetClient
	mongoClient, err := mongo.GetClient(&cfg.Databases.MongoDB)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to MongoDB")
	}
	db := mongoClient.Database(cfg.Databases.MongoDB.Database)
	serviceLogger.Info("Successfully connected to MongoDB")

	// Create components with logger injection
	taskStore := store.NewMongoTaskStore(db, cfg.Analysis.TaskCollection)
	ticketStore := store.NewMongoTicketStore(db, cfg.Analysis.TicketCollection)

	indexCtx, indexCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := taskStore.EnsureIndexes(indexCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to ensure task indexes")
	}
	indexCancel()

	// Remote analysis client, optionally behind a circuit breaker
	var breaker circuitbreaker.CircuitBreaker
	if cfg.Middleware.CircuitBreaker.Enabled {
		timeout, err := time.ParseDuration(cfg.Middleware.CircuitBreaker.Timeout)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Invalid circuit breaker timeout")
		}
		breaker = circuitbreaker.New(cfg.Middleware.CircuitBreaker.FailureThreshold, cfg.Middleware.CircuitBreaker.SuccessThreshold, timeout)
	}
	llmClient, err := llm.NewOpenAI(cfg.LLM.OpenAI, breaker)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create analysis client")
	}

	taskPublisher := publisher.NewTaskPublisher(cfg.Databases.Kafka.Brokers, cfg.Analysis.KafkaTasksTopic, serviceLogger)
	analysisService := service.NewAnalysisService(taskStore, ticketStore, taskPublisher, serviceLogger)

	policy := service.DefaultRetryPolicy()
	if cfg.Analysis.BackoffBase != "" {
		base, err := time.ParseDuration(cfg.Analysis.BackoffBase)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Invalid backoff base duration")
		}
		policy.BackoffBase = base
	}
	if cfg.Analysis.BackoffFactor > 0 {
		policy.BackoffFactor = cfg.Analysis.BackoffFactor
	}
	executor := service.NewExecutor(taskStore, ticketStore, llmClient, taskPublisher, nil, policy, cfg.Analysis.ReplyThreshold, serviceLogger)

	// Start Kafka consumer
	ctx, cancel := context.WithCancel(context.Background())
	taskConsumer := consumer.NewTaskConsumer(cfg.Databases.Kafka.Brokers, cfg.Analysis.KafkaTasksTopic, cfg.Analysis.KafkaGroupID, serviceLogger)
	taskConsumer.Start(ctx, executor.ProcessTask)
	serviceLogger.Info("Kafka task consumer started")

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	apiHandler := api.NewAPI(analysisService, serviceLogger)
	api.RegisterRoutes(router, apiHandler, cfg.Middleware)

	srv := &http.Server{
		Addr:    cfg.Analysis.ServerAddress,
		Handler: router,
	}

	// Start server
	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Server forced to shutdown")
	}

	cancel()
	if err := taskPublisher.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka publisher")
	}
	if err := taskConsumer.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka consumer")
	}
	if err := mongo.Close(context.Background()); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error disconnecting from MongoDB")
	}

	serviceLogger.Info("Server gracefully stopped")
}
