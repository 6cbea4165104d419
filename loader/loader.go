// Package loader discovers blueprint definition files and registers the
// blueprints they declare.
//
// Two formats are understood. JavaScript files assign a function to
// module.exports that receives the factory:
//
//	module.exports = function(factory) {
//	  factory.define("user")
//	    .attr("email", "user", {auto_increment: 1})
//	    .attr("token", function() { return Math.random().toString(36) });
//	};
//
// YAML files list blueprints declaratively:
//
//	blueprints:
//	  - name: admin
//	    parent: user
//	    attributes:
//	      - name: role
//	        value: admin
//
// In both formats the file's base name is the default model of the
// blueprints it defines.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/jacentio/grove/factory"
)

// DefaultPattern matches every supported definition file below the root.
const DefaultPattern = "**/*.{js,yaml,yml}"

// DefaultDir is the definitions directory, relative to the working directory,
// used when Load is given none.
const DefaultDir = "test/factories"

// ErrUnsupportedFile is returned for files that are neither JS nor YAML.
var ErrUnsupportedFile = errors.New("grove: unsupported definition file")

type options struct {
	pattern string
	logger  *zap.Logger
}

// Option configures Load.
type Option func(*options)

// WithPattern restricts loading to paths (relative to the root, slash
// separated) matching a doublestar pattern.
func WithPattern(pattern string) Option {
	return func(o *options) {
		if pattern != "" {
			o.pattern = pattern
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Load registers the blueprints of every definition file below dir into reg
// and returns the number of files loaded. An empty dir means DefaultDir in the
// working directory. Files load in lexical path order; the first failing file
// aborts the load.
func Load(ctx context.Context, reg *factory.Registry, dir string, opts ...Option) (int, error) {
	o := options{pattern: DefaultPattern, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return 0, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = filepath.Join(cwd, DefaultDir)
	}

	files, err := Files(ctx, dir, o.pattern)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		n, err := LoadFile(reg, path)
		if err != nil {
			o.logger.Error("failed to load definitions", zap.String("path", path), zap.Error(err))
			return count, err
		}
		o.logger.Debug("loaded definitions", zap.String("path", path), zap.Int("blueprints", n))
		count++
	}

	o.logger.Info("loaded definition files", zap.String("dir", dir), zap.Int("files", count))
	return count, nil
}

// Files returns the sorted paths of regular files below dir matching pattern.
func Files(ctx context.Context, dir, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	var (
		mu    sync.Mutex
		paths []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}

		mu.Lock()
		paths = append(paths, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// LoadFile registers the blueprints of one definition file and returns how
// many it defined. A blueprint with a declaration error fails the file.
func LoadFile(reg *factory.Registry, path string) (int, error) {
	var load func(*factory.Registry, string, []byte) ([]*factory.Blueprint, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js":
		load = loadJS
	case ".yaml", ".yml":
		load = loadYAML
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	defined, err := load(reg, modelHint(path), src)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	for _, bp := range defined {
		if err := bp.Err(); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
	}
	return len(defined), nil
}

// modelHint is the file base name without its extension.
func modelHint(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// normalize converts decoded values into the shapes blueprints work with:
// integers become int and maps become map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case int64:
		return int(t)
	case uint64:
		if t <= uint64(^uint(0)>>1) {
			return int(t)
		}
		return t
	case int32:
		return int(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}
