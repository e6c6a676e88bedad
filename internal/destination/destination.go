// Package destination defines the idempotent bulk vector-store interface
// every destination plugin implements.
package destination

import "context"

// Point is the destination-side record written for one entity.
type Point struct {
	// PointID is stable per entity so repeated writes are idempotent. The
	// orchestrator sets it to the entity_id alone; the sync connection id
	// is not part of it, so two connections writing the same entity_id
	// into one namespace share a point.
	PointID string

	Vector       []float32
	SparseVector map[int]float64

	// Payload holds the indexable fields: tenant, collection, source,
	// kind, breadcrumbs, timestamps, embeddable_text, content hash.
	Payload map[string]any
}

// SearchQuery carries the parameters a Destination needs to run one
// vector/keyword/hybrid search.
type SearchQuery struct {
	Namespace    string
	Vector       []float32
	SparseVector map[int]float64
	Filter       map[string]any
	Limit        int
	Offset       int
	ScoreThreshold *float64
}

// SearchResult is one ranked hit.
type SearchResult struct {
	PointID string
	Score   float64
	Payload map[string]any
}

// Destination is implemented by every vector-store plugin (Qdrant,
// Weaviate, pgvector, ...).
type Destination interface {
	// EnsureCollection is idempotent and safe to call concurrently from
	// multiple jobs.
	EnsureCollection(ctx context.Context, namespace string, vectorDim int, sparse bool) error

	// BulkUpsert is idempotent on PointID. Callers are responsible for
	// respecting MaxBatchSize.
	BulkUpsert(ctx context.Context, namespace string, points []Point) error

	// BulkDelete tolerates missing ids.
	BulkDelete(ctx context.Context, namespace string, pointIDs []string) error

	// Search issues one query, returning raw ranked results (the search
	// executor applies expansion/reranking above this).
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// MaxBatchSize bounds BulkUpsert/BulkDelete batch size.
	MaxBatchSize() int
}
