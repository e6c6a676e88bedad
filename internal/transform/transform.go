// Package transform defines the per-entity-kind transformation contract
// and a startup registry, mirroring the source/destination registries:
// explicit registration at process init rather than a reflective or
// decorator-based plugin lookup.
package transform

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncforge/core/internal/entity"
)

// EmitFunc is how a Transformer hands a derived entity back to the
// router. A transformer may emit zero, one, or many entities per input
// (a file chunker emits many; an embedder emits exactly the input,
// mutated).
type EmitFunc func(ctx context.Context, e entity.Entity) error

// Transformer turns one input entity into zero or more output entities.
// Implementations must be safe for concurrent use by multiple worker
// goroutines — the router may call Transform on the same *Transformer
// value from many goroutines at once.
type Transformer interface {
	// Transform applies the transformation, invoking emit for each
	// resulting entity. A TransformerError return is absorbed by the
	// router: the input entity is counted failed, the job continues.
	Transform(ctx context.Context, in entity.Entity, emit EmitFunc) error
}

// Descriptor registers a Transformer under a short name so DAG
// definitions can reference it declaratively.
type Descriptor struct {
	ShortName string
	New       func(config map[string]any) (Transformer, error)
}

// Registry holds the Transformers available to build DAGs from, keyed by
// ShortName.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds d to the registry. It panics on duplicate ShortName: this
// is a startup-time programmer error, not a runtime condition to recover
// from.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.ShortName]; exists {
		panic(fmt.Sprintf("transform: duplicate registration for %q", d.ShortName))
	}
	r.descriptors[d.ShortName] = d
}

// Lookup returns the Descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// New builds a Transformer instance for name using config.
func (r *Registry) New(name string, config map[string]any) (Transformer, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("transform: no transformer registered under %q", name)
	}
	return d.New(config)
}
