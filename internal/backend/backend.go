// Package backend opens the persister selected by configuration.
package backend

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/internal/config"
	"github.com/jacentio/grove/memstore"
	"github.com/jacentio/grove/schema"
	"github.com/jacentio/grove/sqlstore"
	"github.com/jacentio/grove/store"
)

// Backend is an opened persister and the function releasing it.
type Backend struct {
	Persister factory.Persister
	Close     func() error
}

// Schema loads the model schema named by cfg, or an empty registry when
// none is configured.
func Schema(cfg config.Config) (*schema.Registry, error) {
	if cfg.SchemaFile == "" {
		return schema.NewRegistry(), nil
	}
	return schema.LoadFile(cfg.SchemaFile)
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg config.Config, models *schema.Registry) (*Backend, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory, "":
		return &Backend{Persister: memstore.New(models), Close: noop}, nil

	case config.BackendSQLite, config.BackendPostgres:
		s, err := sqlstore.Open(cfg.Backend, cfg.DSN, models)
		if err != nil {
			return nil, err
		}
		return &Backend{Persister: s, Close: s.Close}, nil

	case config.BackendDynamoDB:
		s, err := DynamoDB(ctx, cfg, models)
		if err != nil {
			return nil, err
		}
		return &Backend{Persister: s, Close: noop}, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
}

// DynamoDB creates a DynamoDB store using the default AWS credential chain.
func DynamoDB(ctx context.Context, cfg config.Config, models *schema.Registry) (*store.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return store.New(dynamodb.NewFromConfig(awsCfg), cfg.StoreConfig(), models), nil
}
