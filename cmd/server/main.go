package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"autodoc.dev/deployer/internal/config"
	"autodoc.dev/deployer/internal/environment"
	"autodoc.dev/deployer/internal/logger"
	"autodoc.dev/deployer/internal/server"
)

var version = "dev"

func main() {
	ctx := context.Background()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.InitLogger(cfg.Debug, os.Stdout)
	slog.Info("Starting descriptor server", "config", cfg.String(), "version", version)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fetch and load the descriptor once; it is immutable from here on
	manager := environment.NewManager(cfg)
	d, err := manager.Boot(ctx)
	if err != nil {
		slog.Error("Failed to load descriptor", "error", err)
		os.Exit(1)
	}

	srvImpl, err := server.New(d, version)
	if err != nil {
		slog.Error("Failed to prepare server", "error", err)
		os.Exit(1)
	}
	srv := &http.Server{
		Handler:           srvImpl.Router(),
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to listen", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Serving descriptor", "name", d.Name, "digest", d.Digest, "addr", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutdown Server ...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Failed to shutdown server", "error", err)
	}
	slog.Info("Server exiting")
}
