package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	imagecompositor "github.com/Skryldev/image-compositor"
	"github.com/Skryldev/image-compositor/adapters/vips"
	"github.com/Skryldev/image-compositor/config"
	"github.com/Skryldev/image-compositor/core"
	"github.com/Skryldev/image-compositor/hooks"
	"github.com/Skryldev/image-compositor/server"
)

func newLogger(cfg config.Config) (core.Logger, error) {
	if cfg.LogBackend == "logrus" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		l := logrus.New()
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		return hooks.NewLogrusLogger(l), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}
	return hooks.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))), nil
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	listenAddr := flag.String("listen", "", "Override the server listen address")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	comp, err := imagecompositor.New(cfg, imagecompositor.WithLogger(logger))
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer comp.Close()

	if cfg.UseVips {
		backend := vips.NewBackend(vips.BackendConfig{
			MaxDimension: 4096,
			ChunkSize:    cfg.ChunkSize,
		})
		defer backend.Shutdown()
		vips.RegisterVipsBackend(comp.Registry(), backend)
		logger.Info("libvips decoder enabled")
	}

	warmCtx, cancel := context.WithTimeout(context.Background(), cfg.OverlayTimeout)
	if err := comp.WarmOverlay(warmCtx); err != nil {
		logger.Warn("overlay not available at startup", "path", cfg.OverlayPath, "error", err)
	}
	cancel()

	srv := server.New(comp, os.DirFS(cfg.AssetRoot), logger).HTTPServer()

	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
