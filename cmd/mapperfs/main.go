package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"mapperfs/internal/config"
	"mapperfs/internal/logging"
)

var (
	logger = logging.GetLogger()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newApp().RunContext(ctx, os.Args)
	if closeErr := logger.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		logger.Error("%v", err)
		if errors.Is(err, config.ErrConfiguration) {
			os.Exit(1)
		}
		os.Exit(2)
	}
	logger.Info("Clean shutdown complete")
}
