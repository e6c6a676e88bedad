// Package source defines the connector interface every third-party source
// plugin implements, plus an explicit startup registry (no reflective
// discovery, per the "dynamic decorators" redesign note: registration is a
// plain map built at process start, the way internal/transform and
// internal/destination register their own plugins).
package source

import (
	"context"

	"github.com/syncforge/core/internal/entity"
)

// Cursor is an opaque, connector-defined resumption token persisted by the
// orchestrator between job runs.
type Cursor []byte

// EmitFunc is the cooperative callback a Connector calls for every entity
// it produces. It may block — this is the engine's only backpressure
// mechanism, enforced by the orchestrator's bounded queue.
type EmitFunc func(ctx context.Context, e entity.Entity) error

// Connector is implemented by every source plugin (SaaS API, database,
// file store).
type Connector interface {
	// Produce emits a lazy, finite (for one invocation) sequence of
	// entities via emit, returning a new cursor for the next invocation.
	// Produce may emit parents before children but must not emit a child
	// before its declared parent within the same job. It must return
	// promptly when ctx is cancelled, optionally with a partial cursor.
	Produce(ctx context.Context, cursor Cursor, emit EmitFunc) (Cursor, error)

	// Validate smoke-tests the given config/auth without producing
	// entities.
	Validate(ctx context.Context, config map[string]any, auth map[string]any) error
}

// Descriptor carries the static metadata the scheduler and DAG validator
// need about a registered connector.
type Descriptor struct {
	ShortName string
	// SupportsContinuous marks a connector safe for minute-level (or
	// tighter) schedules. The scheduler enforces a longer minimum interval
	// for connectors that don't set this (see §9's third open question).
	SupportsContinuous bool
	// KindDescriptors lists every entity kind this connector can emit,
	// used for both DAG validation and content hashing.
	KindDescriptors []entity.KindDescriptor
	New             func() Connector
}

// Registry holds connector descriptors registered at process startup.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a connector descriptor. It panics on a duplicate
// short name, a programmer error caught at startup, not a runtime
// condition.
func (r *Registry) Register(d Descriptor) {
	if _, exists := r.descriptors[d.ShortName]; exists {
		panic("source: duplicate connector registration for " + d.ShortName)
	}
	r.descriptors[d.ShortName] = d
}

// Lookup returns the descriptor for shortName, or false if unregistered.
func (r *Registry) Lookup(shortName string) (Descriptor, bool) {
	d, ok := r.descriptors[shortName]
	return d, ok
}

// New constructs a fresh Connector instance for shortName.
func (r *Registry) New(shortName string) (Connector, bool) {
	d, ok := r.descriptors[shortName]
	if !ok {
		return nil, false
	}
	return d.New(), true
}

// ShortNames returns every registered connector name, for diagnostics.
func (r *Registry) ShortNames() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	return names
}
