// Package workflowactivity adapts Orchestrator.Run to the heartbeat/
// cancellation/companion-activity contract the original platform's
// workflow engine expects of an activity (original_source's
// platform/temporal/activities.py: a heartbeat goroutine racing a
// cancellable work goroutine, with a separate activity persisting the
// terminal status rather than the work activity doing it itself). The
// workflow engine's internals are out of scope; this package only
// implements the activity-shaped seam a caller's workflow layer invokes.
package workflowactivity

import (
	"context"
	"time"

	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/orchestrator"
)

// HeartbeatFunc is called periodically while RunSyncActivity is in
// flight, the same signal a Temporal activity sends its workflow via
// activity.RecordHeartbeat.
type HeartbeatFunc func(ctx context.Context, detail string)

// RunSyncActivity runs job to a terminal Result, calling heartbeat on the
// configured interval and forwarding orchestrator progress events on
// progressCh. It never persists the terminal status itself — callers
// invoke PersistTerminalActivity with the returned Result once this
// activity returns, mirroring the two-activity split in the original
// workflow engine (a crashed activity worker can be retried without
// double-persisting a terminal status, since persistence is a separate,
// idempotent activity).
func RunSyncActivity(
	ctx context.Context,
	orch *orchestrator.Orchestrator,
	job orchestrator.Job,
	heartbeatEvery time.Duration,
	heartbeat HeartbeatFunc,
	progressCh chan<- orchestrator.ProgressEvent,
) orchestrator.Result {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 30 * time.Second
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	if heartbeat != nil {
		go func() {
			ticker := time.NewTicker(heartbeatEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					heartbeat(heartbeatCtx, "sync job in progress")
				case <-heartbeatCtx.Done():
					return
				}
			}
		}()
	}

	return orch.Run(ctx, job, progressCh)
}

// TerminalStatus mirrors orchestrator.Status for callers that only link
// against this package.
type TerminalStatus = orchestrator.Status

// PersistFunc writes the final job status to durable storage (the
// relational store's sync_jobs table). It is supplied by the caller so
// this package stays storage-agnostic.
type PersistFunc func(ctx context.Context, jobID string, status TerminalStatus, entitiesProcessed, entitiesFailed int64, failureReason string) error

// PersistTerminalActivity is the companion activity invoked by the
// workflow layer (never by the orchestrator itself) once RunSyncActivity
// returns. Separating it lets the workflow engine retry persistence
// independently of the sync work, and lets it be invoked uniformly from
// the success, cancellation, and failure paths.
func PersistTerminalActivity(ctx context.Context, log *logging.Logger, persist PersistFunc, jobID string, result orchestrator.Result) error {
	reason := ""
	if result.Err != nil {
		reason = result.Err.Error()
	}
	if err := persist(ctx, jobID, result.Status, result.EntitiesProcessed, result.EntitiesFailed, reason); err != nil {
		log.WithContext(ctx).WithError(err).Error("failed to persist terminal job status")
		return err
	}
	return nil
}
