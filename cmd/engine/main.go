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

	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/app"
	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/database"
	"github.com/mindstream-labs/mindstream/internal/server"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Entry point for the acquisition engine: control plane on http_port, the
// primary bus on ws_port.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	if err := os.MkdirAll(cfg.Recorder.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	if err := database.MigrateDB(db); err != nil {
		log.Fatalf("Failed to migrate session store: %v", err)
	}

	application, err := app.NewApp(cfg, logger, db)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	if err := application.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	server.InitializeRoutes(router, application.ServerDeps)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("control plane listening on :%d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server exiting: %v", err)
		}
	}()
	go func() {
		logger.Infof("bus listening on :%d", cfg.Bus.WSPort)
		if err := application.WSHandler.ListenStandalone(cfg.Bus.WSPort); err != nil {
			logger.Errorf("bus listener exiting: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	// acceptor first, then the rest of the teardown chain
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP shutdown: %v", err)
	}
	application.Shutdown()
	logger.Info("engine shut down")
}
