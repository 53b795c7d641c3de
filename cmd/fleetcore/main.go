package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fleetcore/internal/cli"
	"fleetcore/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app := &cli.App{Config: cfg, Log: cfg.NewLogger(os.Stderr)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.NewRootCmd(app).ExecuteContext(ctx)
}
