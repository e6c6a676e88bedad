// Package textembedder wraps a neural embedding call into the transform
// contract, batching requests the way the original platform's embedding
// stage does (original_source's embedder, which batches rows before
// calling out to the model provider to amortize per-call latency).
package textembedder

import (
	"context"
	"fmt"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/resilience"
	"github.com/syncforge/core/internal/synccore"
	"github.com/syncforge/core/internal/transform"
)

// EmbedFunc computes a dense vector per input text, in order. It is
// expected to be a batched remote call (an embedding model API); the
// Transformer does not batch across Transform invocations itself since
// the router calls Transform per entity — instead EmbedFunc implementations
// are expected to batch internally if the caller supplies many texts at
// once via a higher-level Batch wrapper (see BatchTransform).
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Config configures a Transformer.
type Config struct {
	Embed      EmbedFunc
	RetryConfig resilience.RetryConfig
}

// Transformer embeds EmbeddableText into Entity.Vector.
type Transformer struct {
	cfg Config
}

// New builds a Transformer. The registry config map is unused here: the
// EmbedFunc is wired by the caller (cmd/syncengine) since it closes over
// a model-provider client, not serializable config.
func New(embed EmbedFunc) *Transformer {
	return &Transformer{cfg: Config{Embed: embed, RetryConfig: resilience.DefaultRetryConfig()}}
}

// Transform embeds a single entity's text and emits the mutated entity.
func (t *Transformer) Transform(ctx context.Context, in entity.Entity, emit transform.EmitFunc) error {
	if in.EmbeddableText == "" {
		return &synccore.TransformerError{Transformer: "textembedder", EntityID: in.EntityID, Cause: fmt.Errorf("entity has no embeddable text")}
	}

	out := in.Clone()
	err := resilience.Retry(ctx, t.cfg.RetryConfig, func() error {
		vectors, embedErr := t.cfg.Embed(ctx, []string{in.EmbeddableText})
		if embedErr != nil {
			return embedErr
		}
		if len(vectors) != 1 {
			return fmt.Errorf("embed: expected 1 vector, got %d", len(vectors))
		}
		out.Vector = vectors[0]
		return nil
	})
	if err != nil {
		return &synccore.TransformerError{Transformer: "textembedder", EntityID: in.EntityID, Cause: err}
	}

	return emit(ctx, out)
}

// BatchTransform embeds many entities in one EmbedFunc call, for callers
// that can afford to buffer a batch before committing to downstream
// destinations; the orchestrator's router calls Transform per entity
// instead. Entities without
// EmbeddableText are skipped with a TransformerError collected in the
// returned slice rather than aborting the whole batch.
func (t *Transformer) BatchTransform(ctx context.Context, in []entity.Entity) ([]entity.Entity, []error) {
	texts := make([]string, 0, len(in))
	indices := make([]int, 0, len(in))
	var errs []error

	for i, e := range in {
		if e.EmbeddableText == "" {
			errs = append(errs, &synccore.TransformerError{Transformer: "textembedder", EntityID: e.EntityID, Cause: fmt.Errorf("entity has no embeddable text")})
			continue
		}
		texts = append(texts, e.EmbeddableText)
		indices = append(indices, i)
	}

	if len(texts) == 0 {
		return nil, errs
	}

	var vectors [][]float32
	err := resilience.Retry(ctx, t.cfg.RetryConfig, func() error {
		v, embedErr := t.cfg.Embed(ctx, texts)
		if embedErr != nil {
			return embedErr
		}
		vectors = v
		return nil
	})
	if err != nil {
		errs = append(errs, &synccore.TransformerError{Transformer: "textembedder", Cause: err})
		return nil, errs
	}

	out := make([]entity.Entity, 0, len(indices))
	for i, idx := range indices {
		if i >= len(vectors) {
			break
		}
		clone := in[idx].Clone()
		clone.Vector = vectors[i]
		out = append(out, clone)
	}
	return out, errs
}
