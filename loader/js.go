package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/jacentio/grove/factory"
)

// jsRuntime is the VM of one definition file. goja runtimes are not safe for
// concurrent use, so generator calls hold mu.
type jsRuntime struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	reg     *factory.Registry
	hint    string
	defined []*factory.Blueprint
}

func loadJS(reg *factory.Registry, hint string, src []byte) ([]*factory.Blueprint, error) {
	r := &jsRuntime{
		vm:   goja.New(),
		reg:  reg,
		hint: hint,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	r.vm.Set("module", module)
	r.vm.Set("exports", exports)
	r.vm.Set("require", goja.Undefined())

	if _, err := r.vm.RunScript(hint+".js", string(src)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	define, ok := goja.AssertFunction(module.Get("exports"))
	if !ok {
		return nil, fmt.Errorf("module.exports is not a function")
	}
	if _, err := define(goja.Undefined(), r.factoryObject()); err != nil {
		return nil, fmt.Errorf("define: %w", err)
	}
	return r.defined, nil
}

// factoryObject is the object handed to module.exports.
func (r *jsRuntime) factoryObject() *goja.Object {
	obj := r.vm.NewObject()
	_ = obj.Set("define", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		opts := []factory.DefineOption{factory.DefaultModel(r.hint)}
		if model := call.Argument(1); !isNullish(model) {
			opts = append(opts, factory.Model(model.String()))
		}

		bp := r.reg.Define(name, opts...)
		r.defined = append(r.defined, bp)
		return r.blueprintObject(bp)
	})
	return obj
}

// blueprintObject exposes the chainable attr and parent calls.
func (r *jsRuntime) blueprintObject(bp *factory.Blueprint) *goja.Object {
	obj := r.vm.NewObject()
	_ = obj.Set("attr", func(call goja.FunctionCall) goja.Value {
		var opts []factory.AttrOption
		if raw, ok := call.Argument(2).Export().(map[string]any); ok {
			opts = append(opts, factory.Options(raw))
		}
		bp.Attr(call.Argument(0).String(), r.value(call.Argument(1)), opts...)
		return obj
	})
	_ = obj.Set("parent", func(call goja.FunctionCall) goja.Value {
		bp.Parent(call.Argument(0).String())
		return obj
	})
	_ = obj.Set("name", bp.Name())
	return obj
}

// value converts a JS attribute value. Functions become generators.
func (r *jsRuntime) value(v goja.Value) any {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		if isNullish(v) {
			return nil
		}
		return normalize(v.Export())
	}
	return factory.Generator(func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()

		out, err := fn(goja.Undefined())
		if err != nil {
			return nil, err
		}
		if isNullish(out) {
			return nil, nil
		}
		return normalize(out.Export()), nil
	})
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
