package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/okabe-dev/porter/internal/app"
	"github.com/okabe-dev/porter/internal/config"
	pkgLogger "github.com/okabe-dev/porter/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.porter/config.yaml)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfgPath = filepath.Join(home, ".porter", "config.yaml")
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	level := cfg.Agent.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.LogLevel(level), os.Stdout)
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.LogLevel(level), os.Stdout)

	porter, err := app.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer porter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Println("porter gateway starting...")
	fmt.Printf("  Control: http://%s\n", cfg.ListenAddr())
	fmt.Printf("  Data:    %s\n", cfg.DataDir())
	if len(cfg.Channels.Enabled) > 0 {
		fmt.Printf("  Channels: %v\n", cfg.Channels.Enabled)
	}
	fmt.Println()

	if err := porter.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Gateway error: %v\n", err)
		os.Exit(1)
	}
}
