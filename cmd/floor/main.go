package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/store"
	"agent-trading-floor/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	must(logger.Init())
	must(trace.Init())

	cfgPath := "config.yaml"
	if v := os.Getenv("FLOOR_CONFIG"); v != "" {
		cfgPath = v
	}
	cfg, err := store.LoadConfig(cfgPath)
	must(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord, flog, err := buildCoordinator(cfg)
	must(err)

	if v := os.Getenv("FLOOR_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := flog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Floor log compression failed", "error", err)
		}
	}

	must(coord.Start(ctx))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info(ctx, "Shutdown signal received, draining")
		coord.Stop()
		// Second signal or a stuck drain forces a hard cancel.
		select {
		case <-sigc:
		case <-time.After(2 * time.Minute):
		}
		cancel()
	}()

	if err := coord.Run(ctx); err != nil && err != context.Canceled {
		logger.ErrorWithErr(ctx, "Session ended with error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = trace.Shutdown(shutdownCtx)
}
