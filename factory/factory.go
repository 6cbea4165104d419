package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	opBuild  = "build"
	opCreate = "create"
)

// Factory materializes blueprints from a Registry.
type Factory struct {
	registry  *Registry
	persister Persister
	logger    *zap.Logger
	metrics   *metrics
}

// Option configures a Factory.
type Option func(*Factory)

// WithRegistry uses an existing registry instead of a new empty one.
func WithRegistry(r *Registry) Option {
	return func(f *Factory) {
		if r != nil {
			f.registry = r
		}
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics registers materialization metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(f *Factory) {
		if reg != nil {
			f.metrics = newMetrics(reg)
		}
	}
}

// New creates a Factory. The persister may be nil for build-only use.
func New(persister Persister, opts ...Option) *Factory {
	f := &Factory{
		registry:  NewRegistry(),
		persister: persister,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Registry returns the blueprint registry.
func (f *Factory) Registry() *Registry {
	return f.registry
}

// Define defines a blueprint in the factory's registry.
func (f *Factory) Define(name string, opts ...DefineOption) *Blueprint {
	return f.registry.Define(name, opts...)
}

// blueprint looks up a materializable blueprint.
func (f *Factory) blueprint(name string) (*Blueprint, error) {
	bp, ok := f.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUndefinedBlueprint, name)
	}
	if err := bp.Err(); err != nil {
		return nil, err
	}
	return bp, nil
}

// Build resolves a blueprint's attributes, with overrides replacing declared
// values, without persisting anything. An unknown blueprint fails with
// ErrUndefinedBlueprint before any attribute is evaluated.
func (f *Factory) Build(ctx context.Context, name string, overrides Attrs) (Attrs, error) {
	bp, err := f.blueprint(name)
	if err != nil {
		return nil, err
	}
	return f.build(ctx, bp, overrides)
}

// Create resolves a blueprint's attributes and persists them as a new record
// of the blueprint's model.
func (f *Factory) Create(ctx context.Context, name string, overrides Attrs) (Record, error) {
	bp, err := f.blueprint(name)
	if err != nil {
		return nil, err
	}
	return f.create(ctx, bp, overrides)
}

// BuildN builds a blueprint n times in sequence.
func (f *Factory) BuildN(ctx context.Context, name string, n int, overrides Attrs) ([]Attrs, error) {
	bp, err := f.blueprint(name)
	if err != nil {
		return nil, err
	}
	out := make([]Attrs, 0, n)
	for i := 0; i < n; i++ {
		attrs, err := f.build(ctx, bp, overrides)
		if err != nil {
			return out, err
		}
		out = append(out, attrs)
	}
	return out, nil
}

// CreateN creates n records from a blueprint in sequence.
// Records created before a failure are returned with the error.
func (f *Factory) CreateN(ctx context.Context, name string, n int, overrides Attrs) ([]Record, error) {
	bp, err := f.blueprint(name)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := f.create(ctx, bp, overrides)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// BuildAsync starts a build and returns its future. Lookup errors are
// returned immediately.
func (f *Factory) BuildAsync(ctx context.Context, name string, overrides Attrs) (*Future[Attrs], error) {
	bp, err := f.blueprint(name)
	if err != nil {
		return nil, err
	}
	return spawn(func() (Attrs, error) {
		return f.build(ctx, bp, overrides)
	}), nil
}

// CreateAsync starts a create and returns its future. Lookup errors are
// returned immediately.
func (f *Factory) CreateAsync(ctx context.Context, name string, overrides Attrs) (*Future[Record], error) {
	bp, err := f.blueprint(name)
	if err != nil {
		return nil, err
	}
	return spawn(func() (Record, error) {
		return f.create(ctx, bp, overrides)
	}), nil
}

// BuildFunc starts a build and calls fn with its outcome from another
// goroutine. Lookup errors are returned immediately and fn is not called.
func (f *Factory) BuildFunc(ctx context.Context, name string, overrides Attrs, fn func(Attrs, error)) error {
	fut, err := f.BuildAsync(ctx, name, overrides)
	if err != nil {
		return err
	}
	fut.then(fn)
	return nil
}

// CreateFunc starts a create and calls fn with its outcome from another
// goroutine. Lookup errors are returned immediately and fn is not called.
func (f *Factory) CreateFunc(ctx context.Context, name string, overrides Attrs, fn func(Record, error)) error {
	fut, err := f.CreateAsync(ctx, name, overrides)
	if err != nil {
		return err
	}
	fut.then(fn)
	return nil
}

func (f *Factory) build(ctx context.Context, bp *Blueprint, overrides Attrs) (Attrs, error) {
	start := time.Now()
	attrs, err := f.resolve(ctx, bp, overrides)
	f.metrics.observe(opBuild, bp.name, start, err)
	if err != nil {
		f.logger.Warn("build failed", zap.String("blueprint", bp.name), zap.Error(err))
		return nil, wrapError(opBuild, bp.name, err)
	}

	f.logger.Debug("built blueprint",
		zap.String("blueprint", bp.name),
		zap.Int("attributes", len(attrs)),
	)
	return attrs, nil
}

func (f *Factory) create(ctx context.Context, bp *Blueprint, overrides Attrs) (Record, error) {
	start := time.Now()
	if f.persister == nil {
		f.metrics.observe(opCreate, bp.name, start, ErrNoPersister)
		return nil, wrapError(opCreate, bp.name, ErrNoPersister)
	}

	rec, err := f.persist(ctx, bp, overrides)
	f.metrics.observe(opCreate, bp.name, start, err)
	if err != nil {
		f.logger.Warn("create failed", zap.String("blueprint", bp.name), zap.Error(err))
		return nil, wrapError(opCreate, bp.name, err)
	}

	f.logger.Debug("created record",
		zap.String("blueprint", bp.name),
		zap.String("model", bp.Model()),
		zap.Any("id", rec.ID()),
	)
	return rec, nil
}

func (f *Factory) persist(ctx context.Context, bp *Blueprint, overrides Attrs) (Record, error) {
	attrs, err := f.resolve(ctx, bp, overrides)
	if err != nil {
		return nil, err
	}
	model := bp.Model()
	rec, err := f.persister.CreateRecord(ctx, model, attrs)
	if err != nil {
		return nil, fmt.Errorf("persist %q: %w", model, err)
	}
	return rec, nil
}
