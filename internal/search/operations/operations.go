// Package operations implements the search plan's individual stages,
// each grounded on the corresponding original_source operation
// (query_expansion.py, embedding.py, reranking_cohere.py) translated
// into search.Operation implementations over search.Context.Values.
package operations

import (
	"context"
	"fmt"

	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/resilience"
	"github.com/syncforge/core/internal/search"
)

// Context value keys. Kept as exported constants (instead of an enum
// type) since callers outside this package read them too (e.g. to pull
// sc.Values["final_results"] out after Execute returns).
const (
	KeyExpandedQueries = "expanded_queries"
	KeyEmbeddings      = "embeddings"
	KeySparseEmbeddings = "sparse_embeddings"
	KeyFilter          = "filter"
	KeyRawResults      = "raw_results"
	KeyFinalResults    = "final_results"
	KeyCompletion      = "completion"
	KeyInterpretedFilter = "interpreted_filter"
)

// QueryInterpretation derives structured filter hints from the raw query
// text (e.g. "from:alice" -> {"author": "alice"}) before expansion runs,
// grounded on the original platform's natural-language-to-filter stage.
type QueryInterpretation struct {
	Interpret func(query string) (map[string]any, error)
}

func (o *QueryInterpretation) Name() string        { return "query_interpretation" }
func (o *QueryInterpretation) DependsOn() []string  { return nil }
func (o *QueryInterpretation) Optional() bool       { return true }

func (o *QueryInterpretation) Run(ctx context.Context, sc *search.Context) error {
	if o.Interpret == nil {
		return nil
	}
	filter, err := o.Interpret(sc.Query)
	if err != nil {
		return err
	}
	sc.Values[KeyInterpretedFilter] = filter
	return nil
}

// ExpandFunc generates query variations for recall, e.g. an LLM call.
// Returning (nil, nil) means "no expansion available"; the operation
// falls back to the original query.
type ExpandFunc func(ctx context.Context, query string) ([]string, error)

// QueryExpansion expands the query into multiple phrasings, grounded on
// query_expansion.py's _expand/_llm_expand; MaxExpansions mirrors its
// max_expansions cap.
type QueryExpansion struct {
	Expand        ExpandFunc
	MaxExpansions int
}

func (o *QueryExpansion) Name() string       { return "query_expansion" }
func (o *QueryExpansion) DependsOn() []string { return []string{"query_interpretation"} }
func (o *QueryExpansion) Optional() bool      { return true }

func (o *QueryExpansion) Run(ctx context.Context, sc *search.Context) error {
	queries := []string{sc.Query}
	if o.Expand != nil {
		expanded, err := o.Expand(ctx, sc.Query)
		if err != nil {
			return err
		}
		if len(expanded) > 0 {
			queries = expanded
		}
	}
	max := o.MaxExpansions
	if max <= 0 {
		max = 4
	}
	if len(queries) > max {
		queries = queries[:max]
	}
	sc.Values[KeyExpandedQueries] = queries
	return nil
}

// FilterBuild merges the query-interpretation filter with any explicit
// caller-supplied filter, caller-supplied values taking precedence.
type FilterBuild struct {
	ExplicitFilter map[string]any
}

func (o *FilterBuild) Name() string        { return "filter_build" }
func (o *FilterBuild) DependsOn() []string  { return []string{"query_interpretation"} }
func (o *FilterBuild) Optional() bool       { return true }

func (o *FilterBuild) Run(ctx context.Context, sc *search.Context) error {
	merged := make(map[string]any)
	if interpreted, ok := sc.Values[KeyInterpretedFilter].(map[string]any); ok {
		for k, v := range interpreted {
			merged[k] = v
		}
	}
	for k, v := range o.ExplicitFilter {
		merged[k] = v
	}
	sc.Values[KeyFilter] = merged
	return nil
}

// EmbedFunc computes dense vectors for a batch of query texts.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// SparseEmbedFunc computes sparse vectors for a batch of query texts.
type SparseEmbedFunc func(ctx context.Context, texts []string) ([]map[int]float64, error)

// Embedding computes dense (and optionally sparse) query embeddings for
// every expanded query, grounded on embedding.py's batched embed call.
// This operation is required: without at least one query vector there is
// nothing for vector_search to search with.
type Embedding struct {
	Embed       EmbedFunc
	SparseEmbed SparseEmbedFunc
	RetryConfig resilience.RetryConfig
}

func (o *Embedding) Name() string       { return "embedding" }
func (o *Embedding) DependsOn() []string { return []string{"query_expansion"} }
func (o *Embedding) Optional() bool      { return false }

func (o *Embedding) Run(ctx context.Context, sc *search.Context) error {
	queries, _ := sc.Values[KeyExpandedQueries].([]string)
	if len(queries) == 0 {
		queries = []string{sc.Query}
	}

	var vectors [][]float32
	err := resilience.Retry(ctx, o.RetryConfig, func() error {
		v, embedErr := o.Embed(ctx, queries)
		if embedErr != nil {
			return embedErr
		}
		vectors = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("embed queries: %w", err)
	}
	sc.Values[KeyEmbeddings] = vectors

	if o.SparseEmbed != nil {
		sparse, sparseErr := o.SparseEmbed(ctx, queries)
		if sparseErr == nil {
			sc.Values[KeySparseEmbeddings] = sparse
		}
	}
	return nil
}

// VectorSearch issues one destination.Search call per expanded-query
// embedding and fuses the result sets with reciprocal rank fusion,
// grounded on spec §4.H's RRF requirement (k defaults to 60, matching
// memdest's constant).
type VectorSearch struct {
	Destination destination.Destination
	Namespace   string
	RRFConstant int
}

func (o *VectorSearch) Name() string       { return "vector_search" }
func (o *VectorSearch) DependsOn() []string { return []string{"embedding", "filter_build"} }
func (o *VectorSearch) Optional() bool      { return false }

func (o *VectorSearch) Run(ctx context.Context, sc *search.Context) error {
	vectors, _ := sc.Values[KeyEmbeddings].([][]float32)
	sparseVectors, _ := sc.Values[KeySparseEmbeddings].([]map[int]float64)
	filter, _ := sc.Values[KeyFilter].(map[string]any)

	if len(vectors) == 0 {
		sc.Values[KeyRawResults] = []destination.SearchResult{}
		return nil
	}

	k := o.RRFConstant
	if k <= 0 {
		k = 60
	}

	rankLists := make([][]destination.SearchResult, 0, len(vectors))
	for i, vec := range vectors {
		query := destination.SearchQuery{
			Namespace:      o.Namespace,
			Vector:         vec,
			Filter:         filter,
			Limit:          sc.Limit,
			Offset:         0,
			ScoreThreshold: sc.ScoreThreshold,
		}
		if sparseVectors != nil && i < len(sparseVectors) {
			query.SparseVector = sparseVectors[i]
		}

		results, err := o.Destination.Search(ctx, query)
		if err != nil {
			return fmt.Errorf("vector search (query %d): %w", i, err)
		}
		rankLists = append(rankLists, results)
	}

	fused := fuseRankLists(rankLists, k)
	sc.Values[KeyRawResults] = fused
	return nil
}

// fuseRankLists combines N ranked result lists (one per expanded query)
// via reciprocal rank fusion.
func fuseRankLists(lists [][]destination.SearchResult, k int) []destination.SearchResult {
	scores := make(map[string]float64)
	payloads := make(map[string]map[string]any)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, r := range list {
			if _, seen := scores[r.PointID]; !seen {
				order = append(order, r.PointID)
				payloads[r.PointID] = r.Payload
			}
			scores[r.PointID] += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]destination.SearchResult, 0, len(order))
	for _, id := range order {
		fused = append(fused, destination.SearchResult{PointID: id, Score: scores[id], Payload: payloads[id]})
	}

	// Stable sort by descending score, preserving first-seen order on ties
	// the way RRF scores naturally break ties toward whichever query
	// surfaced a result first.
	for i := 1; i < len(fused); i++ {
		for j := i; j > 0 && fused[j].Score > fused[j-1].Score; j-- {
			fused[j], fused[j-1] = fused[j-1], fused[j]
		}
	}
	return fused
}

// RerankFunc reorders results by relevance to query, returning them in
// final order. A reranking error is handled by the Reranking operation
// itself according to StrictMode, not by the caller.
type RerankFunc func(ctx context.Context, query string, results []destination.SearchResult) ([]destination.SearchResult, error)

// Reranking reorders vector_search's raw results, grounded on
// reranking_cohere.py. When Rerank is unavailable or fails: StrictMode
// false (the default) falls back to the unranked vector-search order;
// StrictMode true propagates the failure as a required-operation error.
type Reranking struct {
	Rerank     RerankFunc
	StrictMode bool
}

func (o *Reranking) Name() string        { return "reranking" }
func (o *Reranking) DependsOn() []string  { return []string{"vector_search"} }
func (o *Reranking) Optional() bool       { return !o.StrictMode }

func (o *Reranking) Run(ctx context.Context, sc *search.Context) error {
	results, _ := sc.Values[KeyRawResults].([]destination.SearchResult)
	if len(results) == 0 {
		sc.Values[KeyFinalResults] = results
		return nil
	}

	if o.Rerank == nil {
		sc.Values[KeyFinalResults] = limitResults(results, sc.Limit)
		return nil
	}

	reranked, err := o.Rerank(ctx, sc.Query, results)
	if err != nil {
		if o.StrictMode {
			return fmt.Errorf("reranking: %w", err)
		}
		sc.Values[KeyFinalResults] = limitResults(results, sc.Limit)
		return err
	}

	sc.Values[KeyFinalResults] = limitResults(reranked, sc.Limit)
	return nil
}

func limitResults(results []destination.SearchResult, limit int) []destination.SearchResult {
	if limit <= 0 || limit >= len(results) {
		return results
	}
	return results[:limit]
}

// CompletionFunc synthesizes a natural-language answer from the final
// results, e.g. an LLM call over the top documents.
type CompletionFunc func(ctx context.Context, query string, results []destination.SearchResult) (string, error)

// Completion generates a synthesized answer over final_results. It is
// optional: a failure here never invalidates the underlying search
// results already computed.
type Completion struct {
	Complete CompletionFunc
}

func (o *Completion) Name() string       { return "completion" }
func (o *Completion) DependsOn() []string { return []string{"reranking"} }
func (o *Completion) Optional() bool      { return true }

func (o *Completion) Run(ctx context.Context, sc *search.Context) error {
	if o.Complete == nil {
		return nil
	}
	results, _ := sc.Values[KeyFinalResults].([]destination.SearchResult)
	completion, err := o.Complete(ctx, sc.Query, results)
	if err != nil {
		return err
	}
	sc.Values[KeyCompletion] = completion
	return nil
}
