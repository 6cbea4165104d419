// Package cli implements the grove command.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/internal/backend"
	"github.com/jacentio/grove/internal/config"
	"github.com/jacentio/grove/loader"
)

// Config holds grove command configuration.
type Config struct {
	config.Config

	Blueprint string
	Count     int
	Create    bool
	Overrides string // JSON object
}

// ParseConfig reads the environment, then flags, into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	base, err := config.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Config: base, Count: 1}

	fs.StringVar(&cfg.FixturesDir, "dir", cfg.FixturesDir, "definitions directory (default test/factories)")
	fs.StringVar(&cfg.Pattern, "pattern", cfg.Pattern, "definition file pattern")
	fs.StringVar(&cfg.SchemaFile, "schema", cfg.SchemaFile, "model schema file")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "persister: memory, sqlite, postgres or dynamodb")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "sql data source name")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.IntVar(&cfg.Count, "n", cfg.Count, "number of records")
	fs.BoolVar(&cfg.Create, "create", cfg.Create, "persist records instead of only building them")
	fs.StringVar(&cfg.Overrides, "set", cfg.Overrides, "JSON object of attribute overrides")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if fs.NArg() != 1 {
		return Config{}, errors.New("usage: grove [flags] <blueprint>")
	}
	cfg.Blueprint = fs.Arg(0)
	if cfg.Count < 1 {
		return Config{}, fmt.Errorf("-n must be positive, got %d", cfg.Count)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run loads the definitions, materializes the blueprint and writes the
// records to out as a JSON array.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, out io.Writer) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}

	var overrides factory.Attrs
	if cfg.Overrides != "" {
		if err := sonic.UnmarshalString(cfg.Overrides, &overrides); err != nil {
			return fmt.Errorf("parse overrides: %w", err)
		}
	}

	models, err := backend.Schema(cfg.Config)
	if err != nil {
		return err
	}
	b, err := backend.Open(ctx, cfg.Config, models)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()

	f := factory.New(b.Persister, factory.WithLogger(logger))
	if _, err := loader.Load(ctx, f.Registry(), cfg.FixturesDir,
		loader.WithPattern(cfg.Pattern), loader.WithLogger(logger)); err != nil {
		return err
	}

	var records any
	if cfg.Create {
		records, err = f.CreateN(ctx, cfg.Blueprint, cfg.Count, overrides)
	} else {
		records, err = f.BuildN(ctx, cfg.Blueprint, cfg.Count, overrides)
	}
	if err != nil {
		return err
	}

	data, err := sonic.ConfigStd.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
