package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// pending is an attribute whose value requires a generator or an association.
type pending func(ctx context.Context) (any, error)

// resolve merges overrides over the blueprint's attributes and reduces every
// entry to a concrete value. Literals and counters are evaluated in the calling
// goroutine in key order; generators and associations are then started
// concurrently and all awaited before the bag is returned.
func (f *Factory) resolve(ctx context.Context, bp *Blueprint, overrides Attrs) (Attrs, error) {
	specs := bp.declared()

	keys := make([]string, 0, len(specs)+len(overrides))
	for key := range specs {
		keys = append(keys, key)
	}
	for key := range overrides {
		if _, ok := specs[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make(Attrs, len(keys))
	tasks := make(map[string]pending)

	for _, key := range keys {
		attr, declared := specs[key]
		override, overridden := overrides[key]

		value, task := f.evalAttr(bp, key, attr, declared, override, overridden)
		if task != nil {
			tasks[key] = task
			continue
		}
		out[key] = value
	}

	// out is shared with the tasks from here on.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for key, task := range tasks {
		g.Go(func() error {
			v, err := task(gctx)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", key, err)
			}
			mu.Lock()
			out[key] = v
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// evalAttr returns either a concrete value or a pending task for one entry.
func (f *Factory) evalAttr(bp *Blueprint, key string, attr attribute, declared bool, override any, overridden bool) (any, pending) {
	if declared && attr.association {
		return f.evalAssociation(bp, key, attr, override, overridden)
	}

	if overridden {
		ov := ValueOf(override)
		if ov.IsGenerator() {
			return nil, pending(ov.Resolve)
		}
		if declared && attr.value.kind == kindLiteral {
			return mergeLiteral(attr.value.lit, ov.lit), nil
		}
		return copyValue(ov.lit), nil
	}

	if attr.step > 0 {
		seq := bp.advance(key, attr.step)
		if !attr.value.IsGenerator() {
			return addSequence(attr.value.lit, seq), nil
		}
		return nil, func(ctx context.Context) (any, error) {
			base, err := attr.value.Resolve(ctx)
			if err != nil {
				return nil, err
			}
			return addSequence(base, seq), nil
		}
	}

	if attr.value.IsGenerator() {
		return nil, pending(attr.value.Resolve)
	}
	return copyValue(attr.value.lit), nil
}

// evalAssociation handles an association attribute. A string override names a
// different blueprint, a generator is invoked, a record or map contributes its
// id, and any other value is taken as an already resolved identifier.
func (f *Factory) evalAssociation(bp *Blueprint, key string, attr attribute, override any, overridden bool) (any, pending) {
	target, _ := attr.value.lit.(string)

	if overridden && override != nil {
		switch t := override.(type) {
		case string:
			if t != "" {
				target = t
			}
		case Record:
			return t.ID(), nil
		case Attrs:
			return t["id"], nil
		case map[string]any:
			return t["id"], nil
		default:
			ov := ValueOf(override)
			if ov.IsGenerator() {
				return nil, pending(ov.Resolve)
			}
			return override, nil
		}
	}

	return nil, func(ctx context.Context) (any, error) {
		return f.associate(ctx, bp, key, target)
	}
}

// associate creates the record for an association attribute and returns its id.
func (f *Factory) associate(ctx context.Context, owner *Blueprint, alias, target string) (any, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: %q on %q names no blueprint", ErrUnsupportedAssociation, alias, owner.name)
	}
	tbp, err := f.blueprint(target)
	if err != nil {
		return nil, err
	}
	if f.persister == nil {
		return nil, ErrNoPersister
	}

	ownerModel := owner.Model()
	assocs, err := f.persister.Associations(ctx, ownerModel)
	if err != nil {
		return nil, fmt.Errorf("associations of %q: %w", ownerModel, err)
	}

	var match *Association
	for i := range assocs {
		if assocs[i].Alias == alias {
			match = &assocs[i]
			break
		}
	}
	switch {
	case match == nil:
		return nil, fmt.Errorf("%w: model %q has no association %q", ErrUnsupportedAssociation, ownerModel, alias)
	case match.Kind != One:
		return nil, fmt.Errorf("%w: %q.%s is %q, only %q is supported", ErrUnsupportedAssociation, ownerModel, alias, match.Kind, One)
	case !strings.EqualFold(match.Target, tbp.Model()):
		return nil, fmt.Errorf("%w: %q.%s targets %q, blueprint %q creates %q",
			ErrUnsupportedAssociation, ownerModel, alias, match.Target, target, tbp.Model())
	}

	rec, err := f.create(ctx, tbp, nil)
	if err != nil {
		return nil, err
	}
	return rec.ID(), nil
}
