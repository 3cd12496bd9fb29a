package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"atlas-travel-pipeline/internal/config"
	"atlas-travel-pipeline/internal/handlers"
	"atlas-travel-pipeline/internal/pkg/logger"
	"atlas-travel-pipeline/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting travel assistant pipeline",
		"environment", cfg.Environment,
		"port", cfg.HTTP.Port)

	completionService, err := services.NewCompletionService(cfg.Completion, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize completion service")
		os.Exit(1)
	}

	webAnswerService, err := services.NewWebAnswerService(cfg.WebAnswer, completionService, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize web answer service")
		os.Exit(1)
	}

	searchService, err := services.NewSearchService(cfg.Search, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize search service")
		os.Exit(1)
	}

	paramsService := services.NewParamsService(completionService, log)

	// Session memory is optional: without Redis the assistant still works,
	// clients just have to carry their own history.
	var memoryService services.SessionMemory
	if cfg.Redis.URL != "" {
		memory, err := services.NewMemoryService(cfg.Redis, log)
		if err != nil {
			log.WithError(err).Warn("Session memory unavailable, continuing without it")
		} else {
			memoryService = memory
			defer memory.Close()
		}
	}

	orchestrator := services.NewOrchestrator(completionService, webAnswerService, searchService, paramsService, log)

	handler := handlers.NewAssistantHandler(orchestrator, searchService, memoryService, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.CORSMiddleware())

	router.GET("/health", handler.Health)
	router.POST("/v1/assist", handler.Assist)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}

	log.Info("Server stopped")
}
