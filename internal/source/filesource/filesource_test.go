package filesource

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/source"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"a.txt": {Data: []byte("alpha")},
		"b.txt": {Data: []byte("bravo")},
		"c.txt": {Data: []byte("charlie")},
	}
}

func TestProduceEmitsEveryFileInLexicalOrder(t *testing.T) {
	s := New(Config{FS: testFS(), Root: "root"})

	var seen []string
	cursor, err := s.Produce(context.Background(), "", func(ctx context.Context, e entity.Entity) error {
		seen = append(seen, e.EntityID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, seen)
	assert.Equal(t, source.Cursor("c.txt"), cursor)
}

func TestProduceResumesAfterCursor(t *testing.T) {
	s := New(Config{FS: testFS(), Root: "root"})

	var seen []string
	_, err := s.Produce(context.Background(), source.Cursor("a.txt"), func(ctx context.Context, e entity.Entity) error {
		seen = append(seen, e.EntityID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "c.txt"}, seen, "a resumed Produce must skip paths at or before the cursor")
}

func TestProducePopulatesEntityPayload(t *testing.T) {
	s := New(Config{FS: testFS(), Root: "root"})

	var got entity.Entity
	_, err := s.Produce(context.Background(), "", func(ctx context.Context, e entity.Entity) error {
		if e.EntityID == "a.txt" {
			got = e
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, FileKind, got.Kind)
	assert.Equal(t, "alpha", got.Payload["content"])
	assert.Equal(t, "alpha", got.EmbeddableText)
	require.Len(t, got.Breadcrumbs, 1)
	assert.Equal(t, "root", got.Breadcrumbs[0].ID)
}

func TestProduceStopsOnEmitError(t *testing.T) {
	s := New(Config{FS: testFS(), Root: "root"})
	boom := assertError("downstream failure")

	_, err := s.Produce(context.Background(), "", func(ctx context.Context, e entity.Entity) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestValidateSucceedsOnEmptyRoot(t *testing.T) {
	s := New(Config{FS: fstest.MapFS{}, Root: "root"})
	err := s.Validate(context.Background(), nil, nil)
	require.NoError(t, err, "an empty but present MapFS root is still a valid, stat-able directory")
}

type assertError string

func (e assertError) Error() string { return string(e) }
