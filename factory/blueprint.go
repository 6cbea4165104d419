package factory

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
)

// attribute is one declared attribute of a blueprint.
type attribute struct {
	value       Value
	association bool
	step        int64
}

// AttrOption configures an attribute declaration.
type AttrOption func(*attrOptions)

type attrOptions struct {
	association bool
	step        int64
}

// AsAssociation marks the attribute as an association. The attribute value is
// the name of the blueprint that produces the associated record.
func AsAssociation() AttrOption {
	return func(o *attrOptions) {
		o.association = true
	}
}

// AutoIncrement makes the attribute a sequence advancing by step on every
// materialization. Non-positive steps are treated as 1.
func AutoIncrement(step int) AttrOption {
	return func(o *attrOptions) {
		o.step = int64(step)
		if o.step < 1 {
			o.step = 1
		}
	}
}

// Options applies an untyped option bag, as read from definition files.
// Only "association" and "auto_increment" are recognised. A positive numeric
// auto_increment is floored; any other set value means a step of 1.
func Options(raw map[string]any) AttrOption {
	return func(o *attrOptions) {
		if raw == nil {
			return
		}
		if inc := raw["auto_increment"]; truthy(inc) {
			o.step = 1
			rv := reflect.ValueOf(inc)
			switch rv.Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				if rv.Int() > 0 {
					o.step = rv.Int()
				}
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				o.step = int64(rv.Uint())
			case reflect.Float32, reflect.Float64:
				if f := rv.Float(); f >= 1 {
					o.step = int64(math.Floor(f))
				}
			}
		}
		if truthy(raw["association"]) {
			o.association = true
		}
	}
}

// Blueprint is a named, reusable template for one kind of record.
type Blueprint struct {
	name     string
	registry *Registry

	mu                sync.Mutex
	model             string
	usingDefaultModel bool
	sequences         map[string]int64
	attrs             map[string]attribute
	err               error
}

func newBlueprint(name string, registry *Registry) *Blueprint {
	return &Blueprint{
		name:              name,
		registry:          registry,
		model:             name,
		usingDefaultModel: true,
		sequences:         make(map[string]int64),
		attrs:             make(map[string]attribute),
	}
}

// Name returns the blueprint name.
func (b *Blueprint) Name() string {
	return b.name
}

// Model returns the model name records are created for.
func (b *Blueprint) Model() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model
}

// Err returns the first declaration error, if any.
// A blueprint with a declaration error cannot be materialized.
func (b *Blueprint) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Attributes returns the declared attribute names in sorted order.
func (b *Blueprint) Attributes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.attrs))
	for name := range b.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sequence returns the current counter of an attribute.
func (b *Blueprint) Sequence(name string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq, ok := b.sequences[name]
	return seq, ok
}

// Attr declares an attribute. Redeclaring a name replaces it.
func (b *Blueprint) Attr(name string, value any, opts ...AttrOption) *Blueprint {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		b.fail(fmt.Errorf("%w: empty attribute name on blueprint %q", ErrInvalidAttribute, b.name))
		return b
	}

	var o attrOptions
	for _, opt := range opts {
		opt(&o)
	}

	v := ValueOf(value)
	attr := attribute{value: v}
	if o.association {
		if v.IsGenerator() {
			b.fail(fmt.Errorf("%w: association %q on blueprint %q must name a blueprint", ErrInvalidAttribute, name, b.name))
			return b
		}
		attr.association = true
	} else if o.step > 0 {
		attr.step = o.step
	}

	b.sequences[name] = leadingInt(v.lit)
	b.attrs[name] = attr
	return b
}

// Parent copies the attributes and sequences of another blueprint into this one.
// Attributes already declared here win; nested literal maps are merged.
// If no model was given explicitly, the parent's model is adopted.
// The copy is one-time: later changes to the parent are not reflected.
func (b *Blueprint) Parent(name string) *Blueprint {
	parent, ok := b.registry.Lookup(name)
	if !ok {
		b.mu.Lock()
		b.fail(fmt.Errorf("%w: parent %q of %q", ErrUndefinedBlueprint, name, b.name))
		b.mu.Unlock()
		return b
	}
	if parent == b {
		return b
	}

	model, sequences, attrs := parent.snapshot()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.usingDefaultModel {
		b.model = model
	}
	for key, seq := range sequences {
		if _, exists := b.sequences[key]; !exists {
			b.sequences[key] = seq
		}
	}
	for key, inherited := range attrs {
		own, exists := b.attrs[key]
		if !exists {
			b.attrs[key] = inherited
			continue
		}
		if own.value.kind == kindLiteral && inherited.value.kind == kindLiteral {
			own.value = Literal(mergeLiteral(inherited.value.lit, own.value.lit))
			b.attrs[key] = own
		}
	}
	return b
}

// snapshot returns deep copies of the blueprint state.
func (b *Blueprint) snapshot() (string, map[string]int64, map[string]attribute) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sequences := make(map[string]int64, len(b.sequences))
	for k, v := range b.sequences {
		sequences[k] = v
	}
	return b.model, sequences, b.specs()
}

// specs copies the attribute specs. Caller must hold b.mu.
func (b *Blueprint) specs() map[string]attribute {
	attrs := make(map[string]attribute, len(b.attrs))
	for k, a := range b.attrs {
		if a.value.kind == kindLiteral {
			a.value = Literal(copyValue(a.value.lit))
		}
		attrs[k] = a
	}
	return attrs
}

// declared returns a copy of the attribute specs for resolution.
func (b *Blueprint) declared() map[string]attribute {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.specs()
}

// advance moves an attribute's counter by step and returns the new value.
func (b *Blueprint) advance(name string, step int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequences[name] += step
	return b.sequences[name]
}

// fail records the first declaration error. Caller must hold b.mu.
func (b *Blueprint) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// setModel sets the model name. Caller must hold b.mu.
func (b *Blueprint) setModel(model string, explicit bool) {
	if model == "" {
		return
	}
	b.model = model
	if explicit {
		b.usingDefaultModel = false
	}
}
