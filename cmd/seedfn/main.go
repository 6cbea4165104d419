// Command seedfn is the Lambda entry point for fixture seeding and teardown.
//
// GROVE_LAMBDA_HANDLER selects the handler: "seed" (default) serves
// seedfn requests against the configured backend; "teardown" consumes the
// record tables' DynamoDB streams and cascades teardown to dependents.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/internal/backend"
	"github.com/jacentio/grove/internal/config"
	"github.com/jacentio/grove/internal/logging"
	"github.com/jacentio/grove/loader"
	"github.com/jacentio/grove/seedfn"
	"github.com/jacentio/grove/stream"
)

type lambdaConfig struct {
	Handler string `env:"GROVE_LAMBDA_HANDLER" envDefault:"seed"`
}

func main() {
	var lc lambdaConfig
	if err := env.Parse(&lc); err != nil {
		log.Fatalf("parse env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	models, err := backend.Schema(cfg)
	if err != nil {
		logger.Fatal("load schema", zap.Error(err))
	}

	switch lc.Handler {
	case "teardown":
		s, err := backend.DynamoDB(ctx, cfg, models)
		if err != nil {
			logger.Fatal("open store", zap.Error(err))
		}
		lambda.Start(stream.NewHandler(s, logger).HandleTeardown)

	case "seed":
		b, err := backend.Open(ctx, cfg, models)
		if err != nil {
			logger.Fatal("open backend", zap.Error(err))
		}
		f := factory.New(b.Persister, factory.WithLogger(logger))
		if _, err := loader.Load(ctx, f.Registry(), cfg.FixturesDir,
			loader.WithPattern(cfg.Pattern), loader.WithLogger(logger)); err != nil {
			logger.Fatal("load definitions", zap.Error(err))
		}
		lambda.Start(seedfn.NewHandler(f, logger).HandleSeed)

	default:
		logger.Fatal("unknown handler", zap.String("handler", lc.Handler))
	}
}
