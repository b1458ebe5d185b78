// Command testserver serves the web app from the directory it lives in, with
// HTTP caching disabled, so every reload during manual testing shows the
// latest files.
//
// Run with no arguments:
//
//	./testserver
//
// Optional settings are read from testserver.yaml next to the binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nsbe-battlepass/testserver/internal/config"
	"github.com/nsbe-battlepass/testserver/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	root, err := config.ResolveRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	// Ctrl+C is the only way to stop the server.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return server.New(cfg, logger).Start(ctx)
}
