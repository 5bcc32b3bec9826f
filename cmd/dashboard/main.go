package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livedash/internal/dashboard"
	"livedash/internal/logger"
	"livedash/internal/stream"
	"livedash/internal/trace"
	"livedash/internal/web"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	must(err)

	session := initializeSession(ctx, cfg)
	srv := web.NewServer(ctx, cfg.HTTP.Addr, session)

	if err := session.Activate(ctx); err != nil {
		if !errors.Is(err, stream.ErrUnauthenticated) {
			must(err)
		}
		logger.Warn(ctx, "Dashboard not activated", "reason", err.Error())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	logger.Info(ctx, "Dashboard started", "addr", cfg.HTTP.Addr, "ws_base", cfg.WSBase)
	for {
		select {
		case <-session.Unauthenticated():
			logger.Warn(ctx, "Stream rejected the stored token; log in again and POST /api/activate")
		case err := <-serveErr:
			if err != nil {
				logger.ErrorWithErr(ctx, "HTTP server failed", err)
			}
			shutdown(ctx, cancel, session)
			return
		case <-sigc:
			logger.Info(ctx, "Shutting down...")
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.ErrorWithErr(ctx, "HTTP shutdown failed", err)
			}
			done()
			shutdown(ctx, cancel, session)
			return
		}
	}
}

func shutdown(ctx context.Context, cancel context.CancelFunc, session *dashboard.Session) {
	session.Deactivate(ctx)
	cancel()

	flushCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := trace.Shutdown(flushCtx); err != nil {
		logger.Warn(ctx, "Trace flush failed", "error", err)
	}
}
