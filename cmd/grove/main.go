// Command grove materializes blueprints from definition files and prints the
// resulting records as JSON.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacentio/grove/internal/cli"
	"github.com/jacentio/grove/internal/logging"
)

func main() {
	cfg, err := cli.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, cfg, logger, os.Stdout); err != nil {
		stop()
		log.Fatalf("grove: %v", err)
	}
}
