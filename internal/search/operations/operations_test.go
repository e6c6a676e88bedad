package operations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/search"
)

func newSC(query string, limit int) *search.Context {
	return search.NewContext(query, limit, 0, nil)
}

func TestQueryExpansionFallsBackToOriginalQuery(t *testing.T) {
	op := &QueryExpansion{}
	sc := newSC("hello", 10)
	require.NoError(t, op.Run(context.Background(), sc))
	assert.Equal(t, []string{"hello"}, sc.Values[KeyExpandedQueries])
}

func TestQueryExpansionCapsAtMaxExpansions(t *testing.T) {
	op := &QueryExpansion{
		MaxExpansions: 2,
		Expand: func(ctx context.Context, query string) ([]string, error) {
			return []string{"a", "b", "c"}, nil
		},
	}
	sc := newSC("q", 10)
	require.NoError(t, op.Run(context.Background(), sc))
	assert.Equal(t, []string{"a", "b"}, sc.Values[KeyExpandedQueries])
}

func TestFilterBuildMergesWithExplicitPrecedence(t *testing.T) {
	sc := newSC("q", 10)
	sc.Values[KeyInterpretedFilter] = map[string]any{"author": "alice", "kind": "doc"}

	op := &FilterBuild{ExplicitFilter: map[string]any{"kind": "chunk"}}
	require.NoError(t, op.Run(context.Background(), sc))

	filter := sc.Values[KeyFilter].(map[string]any)
	assert.Equal(t, "alice", filter["author"])
	assert.Equal(t, "chunk", filter["kind"], "an explicit filter field must win over the interpreted one")
}

func TestVectorSearchFusesMultipleExpandedQueries(t *testing.T) {
	dest := &fakeDestination{
		byQuery: map[string][]destination.SearchResult{
			"q1": {{PointID: "a", Score: 1}, {PointID: "b", Score: 0.5}},
			"q2": {{PointID: "b", Score: 1}, {PointID: "c", Score: 0.5}},
		},
	}
	sc := newSC("q", 10)
	sc.Values[KeyEmbeddings] = [][]float32{queryVector("q1"), queryVector("q2")}
	sc.Values[KeyFilter] = map[string]any{}

	op := &VectorSearch{Destination: dest, Namespace: "ns"}
	require.NoError(t, op.Run(context.Background(), sc))

	results := sc.Values[KeyRawResults].([]destination.SearchResult)
	require.NotEmpty(t, results)
	assert.Equal(t, "b", results[0].PointID, "b appears in both rank lists so RRF must rank it first")
}

func TestRerankingLenientFallbackStillSurfacesError(t *testing.T) {
	sc := newSC("q", 10)
	sc.Values[KeyRawResults] = []destination.SearchResult{{PointID: "a", Score: 1}}

	boom := errors.New("reranker unavailable")
	op := &Reranking{Rerank: func(ctx context.Context, query string, results []destination.SearchResult) ([]destination.SearchResult, error) {
		return nil, boom
	}}

	err := op.Run(context.Background(), sc)
	require.Error(t, err, "lenient mode still surfaces the error so the executor's optional-failure bookkeeping records it")
	assert.ErrorIs(t, err, boom)

	final := sc.Values[KeyFinalResults].([]destination.SearchResult)
	assert.Len(t, final, 1, "the unranked vector-search results must still be set as the fallback")
	assert.True(t, op.Optional(), "Reranking is optional whenever StrictMode is false")
}

func TestRerankingStrictModeWrapsError(t *testing.T) {
	sc := newSC("q", 10)
	sc.Values[KeyRawResults] = []destination.SearchResult{{PointID: "a", Score: 1}}

	boom := errors.New("reranker unavailable")
	op := &Reranking{StrictMode: true, Rerank: func(ctx context.Context, query string, results []destination.SearchResult) ([]destination.SearchResult, error) {
		return nil, boom
	}}

	err := op.Run(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, op.Optional(), "Reranking must be required when StrictMode is true")
}

func TestRerankingNoRerankFuncUsesRawOrder(t *testing.T) {
	sc := newSC("q", 1)
	sc.Values[KeyRawResults] = []destination.SearchResult{{PointID: "a"}, {PointID: "b"}}

	op := &Reranking{}
	require.NoError(t, op.Run(context.Background(), sc))

	final := sc.Values[KeyFinalResults].([]destination.SearchResult)
	assert.Len(t, final, 1, "final results respect the requested limit")
}

type fakeDestination struct {
	byQuery map[string][]destination.SearchResult
}

func (f *fakeDestination) EnsureCollection(ctx context.Context, namespace string, vectorDim int, sparse bool) error {
	return nil
}

func (f *fakeDestination) BulkUpsert(ctx context.Context, namespace string, points []destination.Point) error {
	return nil
}

func (f *fakeDestination) BulkDelete(ctx context.Context, namespace string, pointIDs []string) error {
	return nil
}

func (f *fakeDestination) Search(ctx context.Context, query destination.SearchQuery) ([]destination.SearchResult, error) {
	return f.byQuery[queryLabel(query.Vector)], nil
}

func (f *fakeDestination) MaxBatchSize() int { return 100 }

// queryVector/queryLabel round-trip a label through a single-element
// vector so fakeDestination can tell which expanded query issued a call
// without needing a real embedding space.
func queryVector(label string) []float32 {
	switch label {
	case "q1":
		return []float32{1}
	case "q2":
		return []float32{2}
	}
	return nil
}

func queryLabel(v []float32) string {
	if len(v) != 1 {
		return ""
	}
	switch v[0] {
	case 1:
		return "q1"
	case 2:
		return "q2"
	}
	return ""
}
