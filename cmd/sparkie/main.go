package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sparkie/internal/infra/config"
	"sparkie/internal/infra/logger"
	"sparkie/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cmd := "serve"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "version":
		fmt.Println("sparkie", version)
	case "check-config":
		err = runCheckConfig(os.Stdout)
	case "help", "--help", "-h":
		showUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'sparkie help' for usage information.\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`sparkie - agentic chat orchestration server

USAGE:
    sparkie [COMMAND] [--config PATH]

COMMANDS:
    serve          Run the HTTP streaming server (default)
    check-config   Validate the configuration and report capabilities
    version        Print the build version

CONFIGURATION:
    Config file: ./config.yaml, or --config PATH, or SPARKIE_CONFIG
    Environment: SPARKIE_* variables override the file`)
}

// configPath resolves --config, then SPARKIE_CONFIG, then ./config.yaml.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SPARKIE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func runServe() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("sparkie ready", "version", version, "addr", a.server.Addr(), "tools", len(a.tools.Names()))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
