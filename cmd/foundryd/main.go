// Command foundryd runs the training daemon: job queue workers, the
// reconciler, the progress notifier, and the HTTP API.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"foundry/internal/config"
	"foundry/internal/daemon"
	"foundry/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("foundryd shutting down")
	d.Stop()
}
