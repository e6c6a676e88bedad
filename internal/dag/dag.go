// Package dag implements the sync DAG: the routing table from source
// entity kinds through a chain of transformers to one or more
// destinations. Grounded on spec §4.E's router description and the
// teacher's preference for explicit, validated wiring over reflective
// dispatch.
package dag

import (
	"context"
	"fmt"

	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/synccore"
	"github.com/syncforge/core/internal/transform"
)

// Node is one step in a kind's processing chain: either a transformer to
// apply next, or a terminal destination to write to. Exactly one of
// Transformer/DestinationName is set.
type Node struct {
	// TransformerName, if non-empty, names a registered transform.Transformer
	// to apply to entities of this kind. Its output is re-routed by Kind
	// (which may differ from the input's Kind, e.g. webfetcher).
	TransformerName string
	TransformerConfig map[string]any

	// DestinationName, if non-empty, marks this kind as terminal: matching
	// entities are batched and written to the named destination rather
	// than transformed further.
	DestinationName string
}

func (n Node) isTerminal() bool { return n.DestinationName != "" }

// DAG maps entity kinds to their next processing Node.
type DAG struct {
	nodes        map[string]Node
	destinations map[string]destination.Destination
	destNamespace map[string]string
	transforms   []transform.Transformer
	transformOf  map[string]transform.Transformer
}

// Spec is the declarative definition a DAG is built from.
type Spec struct {
	// Nodes maps entity kind -> routing node.
	Nodes map[string]Node
	// Destinations maps destination name -> implementation and the
	// namespace (collection) writes for that destination should target.
	Destinations map[string]struct {
		Destination destination.Destination
		Namespace   string
	}
}

// Build validates spec and constructs transformer instances from
// registry, returning an InvalidDAGError if validation fails. Validation
// happens once at load time, not per-entity: a kind with no outgoing edge
// or with two, an undeclared destination, or an unregistered transformer
// is a startup-time configuration error. A transformer's output kind is
// not known until it runs, so a chain whose output kind has no node is
// not detected here; Route reports it as UnroutedKind.
func Build(spec Spec, registry *transform.Registry) (*DAG, error) {
	if len(spec.Nodes) == 0 {
		return nil, &synccore.InvalidDAGError{Reason: "dag has no nodes"}
	}

	d := &DAG{
		nodes:         make(map[string]Node, len(spec.Nodes)),
		destinations:  make(map[string]destination.Destination),
		destNamespace: make(map[string]string),
		transformOf:   make(map[string]transform.Transformer),
	}

	for name, dest := range spec.Destinations {
		d.destinations[name] = dest.Destination
		d.destNamespace[name] = dest.Namespace
	}

	for kind, node := range spec.Nodes {
		if node.TransformerName == "" && node.DestinationName == "" {
			return nil, &synccore.InvalidDAGError{Reason: fmt.Sprintf("kind %q has neither a transformer nor a destination", kind)}
		}
		if node.TransformerName != "" && node.DestinationName != "" {
			return nil, &synccore.InvalidDAGError{Reason: fmt.Sprintf("kind %q names both a transformer and a destination; exactly one outgoing edge is allowed", kind)}
		}
		if node.isTerminal() {
			if _, ok := d.destinations[node.DestinationName]; !ok {
				return nil, &synccore.InvalidDAGError{Reason: fmt.Sprintf("kind %q routes to undeclared destination %q", kind, node.DestinationName)}
			}
		} else {
			t, err := registry.New(node.TransformerName, node.TransformerConfig)
			if err != nil {
				return nil, &synccore.InvalidDAGError{Reason: fmt.Sprintf("kind %q: %v", kind, err)}
			}
			d.transformOf[kind] = t
			d.transforms = append(d.transforms, t)
		}
		d.nodes[kind] = node
	}

	return d, nil
}

// UnroutedKind is returned by Route when an entity's Kind has no
// registered node. The orchestrator counts these as failed entities
// rather than failing the job; there is no separate dead-letter counter.
type UnroutedKind struct{ Kind string }

func (e *UnroutedKind) Error() string { return fmt.Sprintf("no route registered for kind %q", e.Kind) }

// BatchSink receives entities ready to write to a destination, grouped by
// destination name. The orchestrator supplies this to batch writes up to
// each destination's MaxBatchSize.
type BatchSink interface {
	Accept(ctx context.Context, destinationName, namespace string, e entity.Entity) error
}

// Route pushes e through the DAG: if its Kind maps to a transformer, the
// transformer runs and its output(s) are routed again (by their own
// Kind, which may differ from e.Kind); if it maps to a destination, e is
// handed to sink. Route returns *UnroutedKind if e.Kind has no node.
func (d *DAG) Route(ctx context.Context, e entity.Entity, sink BatchSink) error {
	node, ok := d.nodes[e.Kind]
	if !ok {
		return &UnroutedKind{Kind: e.Kind}
	}

	if node.isTerminal() {
		return sink.Accept(ctx, node.DestinationName, d.destNamespace[node.DestinationName], e)
	}

	t := d.transformOf[e.Kind]
	return t.Transform(ctx, e, func(ctx context.Context, out entity.Entity) error {
		return d.Route(ctx, out, sink)
	})
}

// AllDestinationNames returns every destination name declared in the DAG,
// for callers (the orchestrator's completion step) that need to issue a
// delete against every destination an entity could have been written to,
// since the ledger alone doesn't record which destination(s) a given
// entity ended up routed to.
func (d *DAG) AllDestinationNames() []string {
	names := make([]string, 0, len(d.destinations))
	for name := range d.destinations {
		names = append(names, name)
	}
	return names
}

// Destination returns the named destination implementation, for callers
// (the orchestrator's completion step) that need to issue deletes
// outside the normal entity-routing path.
func (d *DAG) Destination(name string) (destination.Destination, string, bool) {
	dest, ok := d.destinations[name]
	return dest, d.destNamespace[name], ok
}
