package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/core/internal/config"
	"github.com/syncforge/core/internal/dag"
	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/destination/memdest"
	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/ledger/memledger"
	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/source"
	"github.com/syncforge/core/internal/transform"
	"github.com/syncforge/core/internal/transform/filechunker"
)

const testKind = "doc"

func testDescriptors() map[string]entity.KindDescriptor {
	return map[string]entity.KindDescriptor{
		testKind: {Kind: testKind, ContentFields: []string{"body"}},
	}
}

func testDAG(t *testing.T, mem *memdest.Destination) *dag.DAG {
	t.Helper()
	spec := dag.Spec{
		Nodes: map[string]dag.Node{testKind: {DestinationName: "default"}},
		Destinations: map[string]struct {
			Destination destination.Destination
			Namespace   string
		}{
			"default": {Destination: mem, Namespace: "ns"},
		},
	}
	d, err := dag.Build(spec, transform.NewRegistry())
	require.NoError(t, err)
	return d
}

func testOrchestrator() *Orchestrator {
	cfg := config.OrchestratorConfig{
		WorkerCount:     2,
		QueueMultiplier: 2,
		DrainDeadline:   100 * time.Millisecond,
		HeartbeatEvery:  time.Hour,
	}
	return New(cfg, logging.New("orchestrator-test", "error", "text"), nil)
}

// fakeConnector emits a fixed slice of entities once, then returns.
type fakeConnector struct {
	entities []entity.Entity
	// block, if set, delays each emit until ctx is cancelled or block
	// has elapsed, giving cancellation tests a window to act.
	block time.Duration
}

func (f *fakeConnector) Produce(ctx context.Context, cursor source.Cursor, emit source.EmitFunc) (source.Cursor, error) {
	for _, e := range f.entities {
		if f.block > 0 {
			select {
			case <-time.After(f.block):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := emit(ctx, e); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeConnector) Validate(ctx context.Context, config, auth map[string]any) error { return nil }

func docEntity(id, body string) entity.Entity {
	return entity.Entity{EntityID: id, Kind: testKind, Payload: map[string]any{"body": body}}
}

// testChunkingDAG routes testKind entities through filechunker before
// the destination, so a single source entity fans out into several
// file.chunk children.
func testChunkingDAG(t *testing.T, mem *memdest.Destination) *dag.DAG {
	t.Helper()
	registry := transform.NewRegistry()
	registry.Register(transform.Descriptor{ShortName: "filechunker", New: filechunker.New})

	spec := dag.Spec{
		Nodes: map[string]dag.Node{
			testKind:               {TransformerName: "filechunker", TransformerConfig: map[string]any{"chunk_size": float64(4), "overlap": float64(0)}},
			filechunker.ChunkKind: {DestinationName: "default"},
		},
		Destinations: map[string]struct {
			Destination destination.Destination
			Namespace   string
		}{
			"default": {Destination: mem, Namespace: "ns"},
		},
	}
	d, err := dag.Build(spec, registry)
	require.NoError(t, err)
	return d
}

func docEntityWithText(id, body, text string) entity.Entity {
	return entity.Entity{EntityID: id, Kind: testKind, Payload: map[string]any{"body": body}, EmbeddableText: text}
}

func TestRunFreshSyncWritesEveryEntity(t *testing.T) {
	mem := memdest.New()
	d := testDAG(t, mem)
	ledg := memledger.New()

	job := Job{
		ID:               "job-1",
		SyncConnectionID: "conn-1",
		Source:           &fakeConnector{entities: []entity.Entity{docEntity("e1", "a"), docEntity("e2", "b")}},
		KindDescriptors:  testDescriptors(),
		DAG:              d,
		Ledger:           ledg,
	}

	result := testOrchestrator().Run(context.Background(), job, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, int64(2), result.EntitiesProcessed)
	assert.Equal(t, int64(0), result.EntitiesFailed)

	for _, id := range []string{"e1", "e2"} {
		_, _, ok, err := ledg.LookupHash(context.Background(), "conn-1", id)
		require.NoError(t, err)
		assert.True(t, ok, "%s must be recorded in the ledger after a fresh sync", id)
		assert.True(t, mem.Has("ns", id), "%s must have been written to the destination", id)
	}
	require.NoError(t, mem.BulkDelete(context.Background(), "ns", []string{"e1", "e2"}))
}

func TestRunSecondPassIsNoOpWhenContentUnchanged(t *testing.T) {
	mem := memdest.New()
	d := testDAG(t, mem)
	ledg := memledger.New()
	orch := testOrchestrator()

	entities := []entity.Entity{docEntity("e1", "a"), docEntity("e2", "b")}

	job1 := Job{ID: "job-1", SyncConnectionID: "conn-1", Source: &fakeConnector{entities: entities}, KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg}
	result1 := orch.Run(context.Background(), job1, nil)
	require.NoError(t, result1.Err)
	require.Equal(t, StatusCompleted, result1.Status)

	hashBefore, _, ok, err := ledg.LookupHash(context.Background(), "conn-1", "e1")
	require.NoError(t, err)
	require.True(t, ok)

	job2 := Job{ID: "job-2", SyncConnectionID: "conn-1", Source: &fakeConnector{entities: entities}, KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg}
	result2 := orch.Run(context.Background(), job2, nil)
	require.NoError(t, result2.Err)
	assert.Equal(t, StatusCompleted, result2.Status)
	assert.Equal(t, int64(2), result2.EntitiesProcessed, "unchanged entities still count as processed, just not re-written downstream")

	hashAfter, _, _, err := ledg.LookupHash(context.Background(), "conn-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, hashBefore, hashAfter, "content hash must be stable across a no-op rerun")
}

func TestRunDetectsContentChangeAcrossJobs(t *testing.T) {
	mem := memdest.New()
	d := testDAG(t, mem)
	ledg := memledger.New()
	orch := testOrchestrator()

	job1 := Job{ID: "job-1", SyncConnectionID: "conn-1", Source: &fakeConnector{entities: []entity.Entity{docEntity("e1", "a")}}, KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg}
	result1 := orch.Run(context.Background(), job1, nil)
	require.Equal(t, StatusCompleted, result1.Status)

	hashV1, _, _, err := ledg.LookupHash(context.Background(), "conn-1", "e1")
	require.NoError(t, err)

	job2 := Job{ID: "job-2", SyncConnectionID: "conn-1", Source: &fakeConnector{entities: []entity.Entity{docEntity("e1", "a-changed")}}, KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg}
	result2 := orch.Run(context.Background(), job2, nil)
	require.NoError(t, result2.Err)
	assert.Equal(t, StatusCompleted, result2.Status)

	hashV2, _, _, err := ledg.LookupHash(context.Background(), "conn-1", "e1")
	require.NoError(t, err)
	assert.NotEqual(t, hashV1, hashV2, "a later job re-emitting changed content must update the ledger's recorded hash, not be discarded as stale")
}

func TestRunDeletesDisappearedEntities(t *testing.T) {
	mem := memdest.New()
	d := testDAG(t, mem)
	ledg := memledger.New()
	orch := testOrchestrator()

	job1 := Job{
		ID: "job-1", SyncConnectionID: "conn-1",
		Source:          &fakeConnector{entities: []entity.Entity{docEntity("e1", "a"), docEntity("e2", "b")}},
		KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg,
	}
	result1 := orch.Run(context.Background(), job1, nil)
	require.Equal(t, StatusCompleted, result1.Status)

	_, _, ok, err := ledg.LookupHash(context.Background(), "conn-1", "e2")
	require.NoError(t, err)
	require.True(t, ok)

	// job2 never re-emits e2, so completion must delete it.
	job2 := Job{
		ID: "job-2", SyncConnectionID: "conn-1",
		Source:          &fakeConnector{entities: []entity.Entity{docEntity("e1", "a")}},
		KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg,
	}
	result2 := orch.Run(context.Background(), job2, nil)
	require.NoError(t, result2.Err)
	assert.Equal(t, StatusCompleted, result2.Status)

	_, _, ok, err = ledg.LookupHash(context.Background(), "conn-1", "e2")
	require.NoError(t, err)
	assert.False(t, ok, "an entity no longer emitted by the source must be removed from the ledger")
}

func TestRunRecordsChunkChildrenWithParentLineage(t *testing.T) {
	mem := memdest.New()
	d := testChunkingDAG(t, mem)
	ledg := memledger.New()

	job := Job{
		ID: "job-1", SyncConnectionID: "conn-1",
		Source:          &fakeConnector{entities: []entity.Entity{docEntityWithText("file-1", "v1", "abcdefghij")}},
		KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg,
	}
	result := testOrchestrator().Run(context.Background(), job, nil)
	require.NoError(t, result.Err)
	require.Equal(t, StatusCompleted, result.Status)

	_, knownChildren, ok, err := ledg.LookupHash(context.Background(), "conn-1", "file-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"file-1#chunk-0", "file-1#chunk-1", "file-1#chunk-2"}, knownChildren,
		"every chunk filechunker produced must get its own ledger row with file-1 as parent")

	for _, id := range knownChildren {
		assert.True(t, mem.Has("ns", id), "%s must have been written to the destination", id)
	}
}

func TestRunDeletesOrphanedChildrenWhenParentShrinks(t *testing.T) {
	mem := memdest.New()
	d := testChunkingDAG(t, mem)
	ledg := memledger.New()
	orch := testOrchestrator()

	job1 := Job{
		ID: "job-1", SyncConnectionID: "conn-1",
		Source:          &fakeConnector{entities: []entity.Entity{docEntityWithText("file-1", "v1", "abcdefghij")}},
		KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg,
	}
	result1 := orch.Run(context.Background(), job1, nil)
	require.NoError(t, result1.Err)
	require.Equal(t, StatusCompleted, result1.Status)

	for _, id := range []string{"file-1#chunk-0", "file-1#chunk-1", "file-1#chunk-2"} {
		require.True(t, mem.Has("ns", id), "%s must exist after the first pass", id)
	}

	// file-1's content changes and now only produces a single chunk; the
	// two that no longer exist must be deleted, not left behind.
	job2 := Job{
		ID: "job-2", SyncConnectionID: "conn-1",
		Source:          &fakeConnector{entities: []entity.Entity{docEntityWithText("file-1", "v2", "abcd")}},
		KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg,
	}
	result2 := orch.Run(context.Background(), job2, nil)
	require.NoError(t, result2.Err)
	assert.Equal(t, StatusCompleted, result2.Status)

	assert.True(t, mem.Has("ns", "file-1#chunk-0"), "the still-produced chunk must remain")
	assert.False(t, mem.Has("ns", "file-1#chunk-1"), "a chunk no longer produced must be deleted from the destination")
	assert.False(t, mem.Has("ns", "file-1#chunk-2"), "a chunk no longer produced must be deleted from the destination")

	_, _, ok, err := ledg.LookupHash(context.Background(), "conn-1", "file-1#chunk-1")
	require.NoError(t, err)
	assert.False(t, ok, "an orphaned chunk must also be removed from the ledger")

	_, knownChildren, _, err := ledg.LookupHash(context.Background(), "conn-1", "file-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"file-1#chunk-0"}, knownChildren)
}

func TestRunCancellationDrainsThenStopsCleanly(t *testing.T) {
	mem := memdest.New()
	d := testDAG(t, mem)
	ledg := memledger.New()

	cfg := config.OrchestratorConfig{
		WorkerCount:     1,
		QueueMultiplier: 1,
		DrainDeadline:   20 * time.Millisecond,
		HeartbeatEvery:  time.Hour,
	}
	orch := New(cfg, logging.New("orchestrator-test", "error", "text"), nil)

	entities := make([]entity.Entity, 0, 20)
	for i := 0; i < 20; i++ {
		entities = append(entities, docEntity(string(rune('a'+i)), "body"))
	}

	job := Job{
		ID: "job-1", SyncConnectionID: "conn-1",
		Source:          &fakeConnector{entities: entities, block: 10 * time.Millisecond},
		KindDescriptors: testDescriptors(), DAG: d, Ledger: ledg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := orch.Run(ctx, job, nil)
	assert.Equal(t, StatusCancelled, result.Status, "a cancelled job must reach the Cancelled terminal status")
	require.Error(t, result.Err)
}
