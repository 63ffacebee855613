package plugin

import (
	"context"
	"fmt"
	"sync"
)

// Runtime materializes the module behind a record. Every call must return
// a fresh module; the registry owns and closes it.
type Runtime interface {
	Load(ctx context.Context, rec Record) (*Module, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, rec Record) (*Module, error)

func (f RuntimeFunc) Load(ctx context.Context, rec Record) (*Module, error) { return f(ctx, rec) }

// NativeRuntime serves modules written in Go, keyed by plugin id. Ids with
// no native entry are passed to the fallback runtime.
type NativeRuntime struct {
	mu        sync.RWMutex
	factories map[string]func() *Module
	fallback  Runtime
}

// NewNativeRuntime creates a native runtime. fallback may be nil.
func NewNativeRuntime(fallback Runtime) *NativeRuntime {
	return &NativeRuntime{
		factories: make(map[string]func() *Module),
		fallback:  fallback,
	}
}

// Register binds a module factory to a plugin id, replacing any previous
// binding.
func (n *NativeRuntime) Register(id string, factory func() *Module) {
	n.mu.Lock()
	n.factories[id] = factory
	n.mu.Unlock()
}

// Has reports whether id has a native module.
func (n *NativeRuntime) Has(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.factories[id]
	return ok
}

func (n *NativeRuntime) Load(ctx context.Context, rec Record) (*Module, error) {
	n.mu.RLock()
	factory, ok := n.factories[rec.Manifest.ID]
	n.mu.RUnlock()

	if ok {
		mod := factory()
		if mod == nil {
			return nil, fmt.Errorf("native module %s: factory returned nil", rec.Manifest.ID)
		}
		return mod, nil
	}
	if n.fallback != nil {
		return n.fallback.Load(ctx, rec)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRuntime, rec.Manifest.ID)
}
