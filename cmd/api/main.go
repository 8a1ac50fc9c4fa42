// Package main is the entry point for the time authority API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/onnwee/timeauthority/internal/config"
	"github.com/onnwee/timeauthority/internal/middleware"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to an optional YAML config file")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Time Authority API Server")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage: api [--config file]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		flags.PrintDefaults()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Environment variables override values from the config file.")
	}
	_ = flags.Parse(os.Args[1:])

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
