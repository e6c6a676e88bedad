// Package sparseembedder computes a BM25-style term-weight vector for an
// entity's embeddable text, grounded on the original platform's keyword
// index stage (a classic inverted-index term-frequency scorer,
// generalized here to per-document scoring without a corpus-wide index
// since the orchestrator streams entities one at a time).
package sparseembedder

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/synccore"
	"github.com/syncforge/core/internal/transform"
)

// EmbeddedSuffix is appended to the input Kind to produce the output
// Kind: embedding is a terminal stage of a kind's processing chain, so
// giving it a distinct Kind (rather than reusing the input's) keeps the
// DAG router from re-entering this same transformer on its own output.
const EmbeddedSuffix = ".embedded"

// Config controls the BM25 saturation/length-normalization parameters.
type Config struct {
	K1 float64
	B  float64
	// AverageDocLength is an external estimate (e.g. a moving average
	// kept by the caller across a collection) used for length
	// normalization. With AverageDocLength == 0 each document is treated as
	// average length, so only the k1 term-frequency saturation applies.
	AverageDocLength float64
}

// DefaultConfig matches the standard BM25 parameterization.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75}
}

// Transformer computes Entity.SparseVector from Entity.EmbeddableText.
type Transformer struct {
	cfg Config
}

// New builds a Transformer from a registry config map (keys "k1", "b",
// "average_doc_length"; all optional).
func New(config map[string]any) (transform.Transformer, error) {
	cfg := DefaultConfig()
	if v, ok := config["k1"].(float64); ok {
		cfg.K1 = v
	}
	if v, ok := config["b"].(float64); ok {
		cfg.B = v
	}
	if v, ok := config["average_doc_length"].(float64); ok {
		cfg.AverageDocLength = v
	}
	return &Transformer{cfg: cfg}, nil
}

// Transform tokenizes in's EmbeddableText, scores each distinct term with
// a BM25-style weight, and hashes terms into a fixed-width sparse index
// space so unrelated documents share dimensions for overlapping
// vocabulary.
func (t *Transformer) Transform(ctx context.Context, in entity.Entity, emit transform.EmitFunc) error {
	if in.EmbeddableText == "" {
		return &synccore.TransformerError{Transformer: "sparseembedder", EntityID: in.EntityID, Cause: errNoText{}}
	}

	terms := tokenize(in.EmbeddableText)
	if len(terms) == 0 {
		return &synccore.TransformerError{Transformer: "sparseembedder", EntityID: in.EntityID, Cause: errNoText{}}
	}

	freq := make(map[string]int, len(terms))
	for _, term := range terms {
		freq[term]++
	}

	docLen := float64(len(terms))
	avgLen := t.cfg.AverageDocLength
	if avgLen == 0 {
		avgLen = docLen
	}

	sparse := make(map[int]float64, len(freq))
	for term, tf := range freq {
		numerator := float64(tf) * (t.cfg.K1 + 1)
		denominator := float64(tf) + t.cfg.K1*(1-t.cfg.B+t.cfg.B*docLen/avgLen)
		score := numerator / denominator
		sparse[termIndex(term)] = score
	}

	out := in.Clone()
	out.SparseVector = sparse
	out.Kind = in.Kind + EmbeddedSuffix
	return emit(ctx, out)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

// termIndex hashes a term into a fixed dimensionality so sparse vectors
// from different documents are directly comparable without a shared
// vocabulary table.
const sparseDimensions = 1 << 18

func termIndex(term string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % sparseDimensions)
}

type errNoText struct{}

func (errNoText) Error() string { return "entity has no embeddable text" }
