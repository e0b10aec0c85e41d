package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sullysaurus/venues/internal/compute"
	"github.com/sullysaurus/venues/internal/data/db"
	"github.com/sullysaurus/venues/internal/data/repos"
	httpx "github.com/sullysaurus/venues/internal/http"
	"github.com/sullysaurus/venues/internal/http/handlers"
	"github.com/sullysaurus/venues/internal/pipeline"
	"github.com/sullysaurus/venues/internal/platform/envutil"
	"github.com/sullysaurus/venues/internal/platform/logger"
	"github.com/sullysaurus/venues/internal/platform/objstore"
	"github.com/sullysaurus/venues/internal/temporalx"
	"github.com/sullysaurus/venues/internal/temporalx/pipelinerun"
	"github.com/sullysaurus/venues/internal/temporalx/temporalworker"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrateAll(dbService.DB()); err != nil {
		log.Warn("Auto migration failed", "error", err)
	}
	gdb := dbService.DB()

	// Repos
	log.Info("Setting up repos...")
	venueRepo := repos.NewVenueRepo(gdb, log)
	runRepo := repos.NewPipelineRunRepo(gdb, log)
	recorder := repos.NewRecorder(runRepo)

	// Artifact store
	store, storeCfg, err := objstore.NewFromEnv(ctx, log)
	if err != nil {
		log.Error("Artifact store init failed", "error", err)
		os.Exit(1)
	}
	log.Info("Artifact store ready", "mode", storeCfg.Mode)

	// Compute backend
	computeClient, err := compute.NewHTTPClient(compute.HTTPConfigFromEnv())
	if err != nil {
		log.Error("Compute client init failed", "error", err)
		os.Exit(1)
	}

	// Temporal (optional; runs execute on local goroutines when disabled)
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Temporal client init failed", "error", err)
		os.Exit(1)
	}
	var starter pipeline.WorkflowStarter
	if tc != nil {
		defer tc.Close()
		starter = pipelinerun.NewStarter(tc, temporalx.LoadConfig().TaskQueue, log)
	}

	// Pipeline manager
	manager := pipeline.NewManager(store, computeClient, pipeline.DefaultPolicies(), recorder, starter, log)

	if tc != nil {
		workerRunner, err := temporalworker.NewRunner(log, tc, manager)
		if err != nil {
			log.Error("Temporal worker init failed", "error", err)
			os.Exit(1)
		}
		if err := workerRunner.Start(ctx); err != nil {
			log.Error("Temporal worker start failed", "error", err)
			os.Exit(1)
		}
	}

	// HTTP server
	log.Info("Setting up router...")
	server := httpx.NewServer(httpx.RouterConfig{
		PipelineHandler: handlers.NewPipelineHandler(manager, runRepo, log),
		VenueHandler:    handlers.NewVenueHandler(venueRepo, runRepo, log),
		HealthHandler:   handlers.NewHealthHandler(string(storeCfg.Mode), tc != nil),
	})

	port := envutil.Get("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
