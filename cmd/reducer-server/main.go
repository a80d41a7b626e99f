// Package main provides the reducer server entry point. The server hosts
// the content hierarchy, selection group, reduction task and publication
// APIs under a single process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/tabulahq/reducer/pkg/config"
	"github.com/tabulahq/reducer/pkg/server"
)

func main() {
	var (
		configPath string
		listenAddr string
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}

	logger.Info("starting reducer server",
		"listen", cfg.ListenAddress,
		"database", cfg.Database.Type,
		"registry", cfg.Registry.Path,
		"authzMode", cfg.Authz.Mode,
		"tenancyMode", cfg.Tenancy.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := server.SetupDatabase(cfg.Database)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	srv := server.New(cfg, db, logger)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}

	router, err := srv.MountRoutes()
	if err != nil {
		glog.Fatalf("Failed to mount routes: %v", err)
	}

	srv.Start(ctx)

	logger.Info("reducer server ready", "listen", cfg.ListenAddress)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown error", "error", err)
	}

	logger.Info("reducer server stopped")
}
