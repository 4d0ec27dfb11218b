package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run loads configuration, builds the App and serves until SIGINT/SIGTERM.
// It returns an error instead of exiting so callers' defers still run.
func Run(configPath string, o Overrides) error {
	cfg, err := LoadConfig(configPath, o)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
