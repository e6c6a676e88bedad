// Package filechunker splits whole-file entities into overlapping text
// chunks, grounded on the original platform's chunking stage
// (original_source's file_handling/chunking helpers, generalized here
// into one size/overlap-configurable splitter rather than per-filetype
// logic).
package filechunker

import (
	"context"
	"fmt"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/synccore"
	"github.com/syncforge/core/internal/transform"
)

// ChunkKind is the entity kind emitted for each chunk.
const ChunkKind = "file.chunk"

// Config controls chunk size and overlap, both measured in runes.
type Config struct {
	ChunkSize int
	Overlap   int
}

// DefaultConfig matches the teacher pack's default body-size-vs-embedding
// window tradeoff: chunks small enough for a typical embedding model
// context window, with enough overlap to preserve cross-boundary meaning.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, Overlap: 100}
}

// Transformer implements transform.Transformer over "file" kind entities,
// emitting ChunkKind children.
type Transformer struct {
	cfg Config
}

// New builds a Transformer from a registry config map (keys "chunk_size",
// "overlap"; both optional).
func New(config map[string]any) (transform.Transformer, error) {
	cfg := DefaultConfig()
	if v, ok := config["chunk_size"].(float64); ok && v > 0 {
		cfg.ChunkSize = int(v)
	}
	if v, ok := config["overlap"].(float64); ok && v >= 0 {
		cfg.Overlap = int(v)
	}
	if cfg.Overlap >= cfg.ChunkSize {
		return nil, &synccore.InvalidConfigError{Reason: "filechunker: overlap must be smaller than chunk_size"}
	}
	return &Transformer{cfg: cfg}, nil
}

// Transform splits in's EmbeddableText (falling back to its "content"
// payload field) into overlapping chunks, emitting one child entity per
// chunk with EntityID "{parent}#chunk-{index}".
func (t *Transformer) Transform(ctx context.Context, in entity.Entity, emit transform.EmitFunc) error {
	text := in.EmbeddableText
	if text == "" {
		if s, ok := in.Payload["content"].(string); ok {
			text = s
		}
	}
	if text == "" {
		return &synccore.TransformerError{Transformer: "filechunker", EntityID: in.EntityID, Cause: fmt.Errorf("no text content to chunk")}
	}

	runes := []rune(text)
	stride := t.cfg.ChunkSize - t.cfg.Overlap

	index := 0
	for start := 0; start < len(runes); start += stride {
		end := start + t.cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunkText := string(runes[start:end])

		child := entity.Entity{
			EntityID:       fmt.Sprintf("%s#chunk-%d", in.EntityID, index),
			ParentEntityID: in.EntityID,
			Kind:           ChunkKind,
			Payload: map[string]any{
				"chunk_index": float64(index),
				"text":        chunkText,
			},
			EmbeddableText: chunkText,
			Breadcrumbs:    append(append([]entity.Breadcrumb(nil), in.Breadcrumbs...), entity.Breadcrumb{ID: in.EntityID, Name: in.EntityID, Kind: in.Kind}),
			Metadata:       in.Metadata,
			FetchedAt:      in.FetchedAt,
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := emit(ctx, child); err != nil {
			return err
		}

		index++
		if end == len(runes) {
			break
		}
	}

	return nil
}
