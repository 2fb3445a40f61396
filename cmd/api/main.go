package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"uno-server/internal/server"
)

func newLogger(cfg server.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func gracefulShutdown(logger *zap.Logger, customServer *server.Server, httpServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("shutdown signal received, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// Rooms need time to flush their last snapshots.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := customServer.Shutdown(ctx); err != nil {
		logger.Error("error during room shutdown", zap.Error(err))
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server forced to shutdown", zap.Error(err))
	}

	if err := customServer.Close(); err != nil {
		logger.Error("failed to close database", zap.Error(err))
	}

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	cfg := server.LoadConfig()

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	for _, warning := range cfg.Warnings {
		logger.Warn("config", zap.String("problem", warning))
	}

	customServer, httpServer, err := server.NewServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(logger, customServer, httpServer, done)

	logger.Info("listening", zap.String("addr", httpServer.Addr))
	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	logger.Info("graceful shutdown complete")
}
