package workflowactivity

import (
	"context"
	"sync/atomic"
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
	"github.com/syncforge/core/internal/orchestrator"
	"github.com/syncforge/core/internal/source"
	"github.com/syncforge/core/internal/transform"
)

const testKind = "doc"

type fakeConnector struct {
	entities []entity.Entity
}

func (f *fakeConnector) Produce(ctx context.Context, cursor source.Cursor, emit source.EmitFunc) (source.Cursor, error) {
	for _, e := range f.entities {
		if err := emit(ctx, e); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeConnector) Validate(ctx context.Context, cfg, auth map[string]any) error { return nil }

func testJob(t *testing.T) (orchestrator.Job, *memledger.Ledger) {
	t.Helper()
	mem := memdest.New()
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

	ledg := memledger.New()
	job := orchestrator.Job{
		ID:               "job-1",
		SyncConnectionID: "conn-1",
		Source: &fakeConnector{entities: []entity.Entity{
			{EntityID: "e1", Kind: testKind, Payload: map[string]any{"body": "a"}},
		}},
		KindDescriptors: map[string]entity.KindDescriptor{testKind: {Kind: testKind, ContentFields: []string{"body"}}},
		DAG:             d,
		Ledger:          ledg,
	}
	return job, ledg
}

func testOrchestrator() *orchestrator.Orchestrator {
	cfg := config.OrchestratorConfig{WorkerCount: 1, QueueMultiplier: 1, DrainDeadline: 100 * time.Millisecond, HeartbeatEvery: time.Hour}
	return orchestrator.New(cfg, logging.New("activity-test", "error", "text"), nil)
}

func TestRunSyncActivityCompletesWithHeartbeatRunning(t *testing.T) {
	job, _ := testJob(t)
	orch := testOrchestrator()

	var heartbeats int64
	heartbeat := func(ctx context.Context, detail string) { atomic.AddInt64(&heartbeats, 1) }

	result := RunSyncActivity(context.Background(), orch, job, time.Millisecond, heartbeat, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, orchestrator.StatusCompleted, result.Status)
}

func TestRunSyncActivityDefaultsHeartbeatInterval(t *testing.T) {
	job, _ := testJob(t)
	orch := testOrchestrator()

	result := RunSyncActivity(context.Background(), orch, job, 0, nil, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, orchestrator.StatusCompleted, result.Status)
}

func TestPersistTerminalActivityPropagatesFailureReason(t *testing.T) {
	var gotJobID string
	var gotReason string
	persist := func(ctx context.Context, jobID string, status TerminalStatus, processed, failed int64, reason string) error {
		gotJobID = jobID
		gotReason = reason
		return nil
	}

	result := orchestrator.Result{Status: orchestrator.StatusFailed, Err: assertError("boom")}
	log := logging.New("activity-test", "error", "text")

	err := PersistTerminalActivity(context.Background(), log, persist, "job-1", result)
	require.NoError(t, err)
	assert.Equal(t, "job-1", gotJobID)
	assert.Equal(t, "boom", gotReason)
}

func TestPersistTerminalActivityReturnsPersistError(t *testing.T) {
	boom := assertError("store unavailable")
	persist := func(ctx context.Context, jobID string, status TerminalStatus, processed, failed int64, reason string) error {
		return boom
	}
	log := logging.New("activity-test", "error", "text")

	err := PersistTerminalActivity(context.Background(), log, persist, "job-1", orchestrator.Result{Status: orchestrator.StatusCompleted})
	assert.ErrorIs(t, err, boom)
}

type assertError string

func (e assertError) Error() string { return string(e) }
