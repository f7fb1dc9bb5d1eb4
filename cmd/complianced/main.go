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

	"github.com/joho/godotenv"
	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/handlers"
	"github.com/parishems/compliance/internal/jobs"
	"github.com/parishems/compliance/internal/middleware"
	"github.com/parishems/compliance/internal/services"
	slackutil "github.com/parishems/compliance/internal/slack"
	"github.com/parishems/compliance/internal/strategies"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting response compliance service...")

	if err := database.Connect(cfg.DatabaseURL, database.ParseLogLevel(cfg.DBLogLevel)); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	defaults := database.NewDefaultEvaluationSettings()
	defaults.SweepIntervalMinutes = cfg.SweepIntervalMinutes
	defaults.SweepBatchLimit = cfg.SweepBatchLimit
	defaults.EvaluationConcurrency = cfg.EvaluationConcurrency
	defaults.EvaluationTimeoutSeconds = cfg.EvaluationTimeoutSeconds
	if err := database.InitializeDefaults(defaults); err != nil {
		log.Fatalf("Failed to initialize defaults: %v", err)
	}
	db := database.GetDB()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Compliance rules, hot-reloaded from disk
	rules, err := config.NewRulesStore(cfg.RulesFile)
	if err != nil {
		log.Fatalf("Failed to load compliance rules: %v", err)
	}
	if err := rules.Watch(ctx); err != nil {
		log.Printf("Warning: rules file will not be hot-reloaded: %v", err)
	}

	// Services
	callService := services.NewCallService(db, cfg.Location())
	weatherService := services.NewWeatherService(db)
	engine := strategies.NewDefaultEngine(callService, weatherService)
	exclusionService := services.NewExclusionService(db, engine, rules)
	reportService := services.NewReportService(callService, rules)
	forecastService := services.NewForecastService(db)
	log.Printf("Strategy engine %s registered: %v", strategies.EngineVersion, engine.Keys())

	if cfg.SlackBotToken != "" && cfg.SlackReviewChannel != "" {
		exclusionService.SetReviewNotifier(slackutil.NewReviewNotifier(cfg.SlackBotToken, cfg.SlackReviewChannel))
		log.Printf("Slack review notifications enabled (channel %s)", cfg.SlackReviewChannel)
	} else {
		log.Printf("Slack review notifications are DISABLED (set SLACK_BOT_TOKEN and SLACK_REVIEW_CHANNEL)")
	}

	decisionFeed := handlers.NewDecisionFeed()
	exclusionService.AddListener(decisionFeed)

	// Evaluation of newly ingested calls
	queue := jobs.NewEvaluationQueue(exclusionService, cfg.QueueCapacity, cfg.QueueWorkers, cfg.EvaluationTimeout())
	queue.Start(ctx)
	callService.SetTrigger(queue)

	// Backlog sweep catches anything the queue dropped or missed
	sweepStop := make(chan struct{})
	sweep := jobs.NewEvaluationSweepJob(db, exclusionService, callService)
	go sweep.Start(sweepStop)

	httpHandler := handlers.NewHTTPHandler(db, queue, rules)
	apiHandler := handlers.NewAPIHandler(db, callService, exclusionService, reportService, weatherService, forecastService, queue)

	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	decisionFeed.SetupRoutes(mux)

	cors := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins...)
	handler := middleware.RequestIDMiddleware(middleware.AccessLogMiddleware(cors.Wrap(mux)))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)
	log.Printf("Decision feed: ws://localhost:%d/ws/decisions", cfg.HTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	decisionFeed.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	close(sweepStop)
	queue.Stop(shutdownCtx)
	cancel()

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
	log.Println("Shutdown complete")
}
