package textembedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/synccore"
)

func TestTransformErrorsWhenNoEmbeddableText(t *testing.T) {
	tr := New(func(ctx context.Context, texts []string) ([][]float32, error) {
		t.Fatal("Embed must not be called when there is no text")
		return nil, nil
	})

	var got entity.Entity
	err := tr.Transform(context.Background(), entity.Entity{EntityID: "e1"}, func(ctx context.Context, e entity.Entity) error {
		got = e
		return nil
	})

	var terr *synccore.TransformerError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "e1", terr.EntityID)
	assert.Empty(t, got.EntityID, "emit must not be called on failure")
}

func TestTransformEmbedsAndEmits(t *testing.T) {
	tr := New(func(ctx context.Context, texts []string) ([][]float32, error) {
		require.Equal(t, []string{"hello world"}, texts)
		return [][]float32{{0.1, 0.2}}, nil
	})

	var got entity.Entity
	err := tr.Transform(context.Background(), entity.Entity{EntityID: "e1", EmbeddableText: "hello world"}, func(ctx context.Context, e entity.Entity) error {
		got = e
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, got.Vector)
}

func TestTransformRetriesThenFails(t *testing.T) {
	boom := errors.New("provider unavailable")
	calls := 0
	tr := New(func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		return nil, boom
	})
	tr.cfg.RetryConfig.MaxAttempts = 2
	tr.cfg.RetryConfig.InitialDelay = 0

	err := tr.Transform(context.Background(), entity.Entity{EntityID: "e1", EmbeddableText: "x"}, func(ctx context.Context, e entity.Entity) error {
		t.Fatal("emit must not be called when embedding ultimately fails")
		return nil
	})

	var terr *synccore.TransformerError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 2, calls, "the retry policy's MaxAttempts must be honored")
}

func TestBatchTransformSkipsEntitiesWithoutTextButEmbedsRest(t *testing.T) {
	tr := New(func(ctx context.Context, texts []string) ([][]float32, error) {
		require.Equal(t, []string{"a", "b"}, texts)
		return [][]float32{{1}, {2}}, nil
	})

	in := []entity.Entity{
		{EntityID: "e1", EmbeddableText: "a"},
		{EntityID: "e2"},
		{EntityID: "e3", EmbeddableText: "b"},
	}
	out, errs := tr.BatchTransform(context.Background(), in)

	require.Len(t, errs, 1)
	var terr *synccore.TransformerError
	require.ErrorAs(t, errs[0], &terr)
	assert.Equal(t, "e2", terr.EntityID)

	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].EntityID)
	assert.Equal(t, []float32{1}, out[0].Vector)
	assert.Equal(t, "e3", out[1].EntityID)
	assert.Equal(t, []float32{2}, out[1].Vector)
}

func TestBatchTransformAllMissingTextReturnsNoVectors(t *testing.T) {
	tr := New(func(ctx context.Context, texts []string) ([][]float32, error) {
		t.Fatal("Embed must not be called when nothing has text")
		return nil, nil
	})
	out, errs := tr.BatchTransform(context.Background(), []entity.Entity{{EntityID: "e1"}})
	assert.Nil(t, out)
	require.Len(t, errs, 1)
}
