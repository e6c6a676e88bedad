// Package orchestrator implements the sync job state machine: pending ->
// running -> {completed | cancelling -> cancelled | failed}. It owns the
// single-producer/multi-worker concurrency model, per-entity retry,
// ledger-driven incremental decisions, and the completion protocol that
// deletes disappeared entities. Grounded on spec §4.F and the teacher's
// resilience (internal/resilience) and metrics conventions.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syncforge/core/internal/config"
	"github.com/syncforge/core/internal/dag"
	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/ledger"
	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/metrics"
	"github.com/syncforge/core/internal/resilience"
	"github.com/syncforge/core/internal/source"
	"github.com/syncforge/core/internal/synccore"
)

// Status is a SyncJob's place in the state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Job describes one sync run: the connection being synced, the source
// connector and cursor to resume from, and the DAG to route through.
type Job struct {
	ID               string
	SyncConnectionID string
	Source           source.Connector
	KindDescriptors  map[string]entity.KindDescriptor
	Cursor           source.Cursor
	DAG              *dag.DAG
	Ledger           ledger.Ledger
}

// ProgressEvent is emitted on the supplied channel as the job advances.
// The progress bus (internal/progress) fans these out to subscribers;
// the orchestrator itself only produces them.
type ProgressEvent struct {
	JobID            string
	SyncConnectionID string
	Status           Status
	EntitiesProcessed int64
	EntitiesFailed    int64
	Message          string
	At               time.Time
}

// Result is returned once Run reaches a terminal status.
type Result struct {
	Status            Status
	EntitiesProcessed int64
	EntitiesFailed    int64
	Err               error
}

// Orchestrator runs Jobs according to cfg's concurrency and retry policy.
type Orchestrator struct {
	cfg     config.OrchestratorConfig
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New constructs an Orchestrator.
func New(cfg config.OrchestratorConfig, log *logging.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log, metrics: m}
}

type workItem struct {
	entity entity.Entity
	seq    uint64
}

type batchSink struct {
	orch    *Orchestrator
	mu      sync.Mutex
	batches map[string][]entity.Entity // destinationName -> pending points
	dag     *dag.DAG
	jobID   string
}

// newBatchSink returns a sink that groups routed entities per destination and flushes once a
// destination's MaxBatchSize is reached; Flush must be called at the end
// of the producer drain to write any remainder.
func newBatchSink(orch *Orchestrator, d *dag.DAG, jobID string) *batchSink {
	return &batchSink{orch: orch, batches: make(map[string][]entity.Entity), dag: d, jobID: jobID}
}

func (s *batchSink) Accept(ctx context.Context, destinationName, namespace string, e entity.Entity) error {
	s.mu.Lock()
	s.batches[destinationName] = append(s.batches[destinationName], e)
	batch := s.batches[destinationName]
	dest, _, _ := s.dag.Destination(destinationName)
	full := dest != nil && len(batch) >= dest.MaxBatchSize()
	if full {
		s.batches[destinationName] = nil
	}
	s.mu.Unlock()

	if full {
		return s.flushOne(ctx, destinationName, namespace, batch)
	}
	return nil
}

// Flush writes every destination's remaining partial batch.
func (s *batchSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	remaining := s.batches
	s.batches = make(map[string][]entity.Entity)
	s.mu.Unlock()

	for destName, batch := range remaining {
		if len(batch) == 0 {
			continue
		}
		_, namespace, _ := s.dag.Destination(destName)
		if err := s.flushOne(ctx, destName, namespace, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *batchSink) flushOne(ctx context.Context, destinationName, namespace string, batch []entity.Entity) error {
	dest, _, ok := s.dag.Destination(destinationName)
	if !ok {
		return fmt.Errorf("batch sink: unknown destination %q", destinationName)
	}

	points := make([]destination.Point, 0, len(batch))
	for _, e := range batch {
		points = append(points, toPoint(namespace, e))
	}

	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return dest.BulkUpsert(ctx, namespace, points)
	})
	if err != nil {
		s.orch.recordWrite("error")
		return splitAndRetryOrFail(ctx, dest, namespace, batch)
	}
	s.orch.recordWrite("success")
	return nil
}

// splitAndRetryOrFail implements the batch-split-once-then-per-entity-fail
// policy: a batch that fails even after the shared retry policy is split
// in half once; entities in a half that still fails are written one at a
// time so a single bad entity doesn't sink its whole batch.
func splitAndRetryOrFail(ctx context.Context, dest destination.Destination, namespace string, batch []entity.Entity) error {
	if len(batch) <= 1 {
		return writeOneOrFail(ctx, dest, namespace, batch)
	}

	mid := len(batch) / 2
	firstErr := writeOneOrFail(ctx, dest, namespace, batch[:mid])
	if err := writeOneOrFail(ctx, dest, namespace, batch[mid:]); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func writeOneOrFail(ctx context.Context, dest destination.Destination, namespace string, batch []entity.Entity) error {
	points := make([]destination.Point, 0, len(batch))
	for _, e := range batch {
		points = append(points, toPoint(namespace, e))
	}
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return dest.BulkUpsert(ctx, namespace, points)
	})
	if err == nil {
		return nil
	}
	if len(batch) == 1 {
		return &synccore.DestinationTransientError{Cause: err}
	}
	var firstErr error
	for _, e := range batch {
		if werr := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			return dest.BulkUpsert(ctx, namespace, []destination.Point{toPoint(namespace, e)})
		}); werr != nil && firstErr == nil {
			firstErr = &synccore.DestinationTransientError{Cause: werr}
		}
	}
	return firstErr
}

func toPoint(namespace string, e entity.Entity) destination.Point {
	payload := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload["kind"] = e.Kind
	payload["embeddable_text"] = e.EmbeddableText
	return destination.Point{
		PointID:      e.EntityID,
		Vector:       e.Vector,
		SparseVector: e.SparseVector,
		Payload:      payload,
	}
}

func (o *Orchestrator) recordWrite(result string) {
	if o.metrics != nil {
		o.metrics.DestinationWriteTotal.WithLabelValues(result).Inc()
	}
}

// Run drives job to completion. It returns when the job reaches a
// terminal status; progress is also reported on progressCh (best-effort:
// a full channel drops events rather than blocking the job).
func (o *Orchestrator) Run(ctx context.Context, job Job, progressCh chan<- ProgressEvent) Result {
	start := time.Now()
	log := o.log.WithJob(job.ID, job.SyncConnectionID)
	log.Info("sync job starting")

	if o.metrics != nil {
		o.metrics.JobsStarted.WithLabelValues(job.SyncConnectionID).Inc()
	}

	// runCtx is decoupled from ctx's own cancellation signal (but keeps its
	// values) so the drain goroutine below controls exactly when workers
	// stop, instead of having ctx cancellation propagate to runCtx
	// immediately and skip the drain deadline.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	queueSize := o.cfg.WorkerCount * o.cfg.QueueMultiplier
	if queueSize <= 0 {
		queueSize = 12
	}
	queue := make(chan workItem, queueSize)

	var processed, failed int64
	// jobGeneration prefixes every EmitSeq this run assigns so the
	// ledger's cross-job CAS comparison stays monotone: a per-job counter
	// that restarted at zero every run would make a later job's early
	// entities look "stale" against an earlier job's later ones. Millisecond
	// resolution leaves headroom for up to emitSeqGenerationWidth entities
	// in a single job; within one process a run that starts in the same
	// millisecond as the previous one is bumped past its generation.
	jobGeneration := uint64(time.Now().UnixMilli()) * emitSeqGenerationWidth
	for {
		last := atomic.LoadUint64(&lastJobGeneration)
		if jobGeneration <= last {
			jobGeneration = last + emitSeqGenerationWidth
		}
		if atomic.CompareAndSwapUint64(&lastJobGeneration, last, jobGeneration) {
			break
		}
	}
	var seqCounter uint64
	sink := newBatchSink(o, job.DAG, job.ID)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.WorkerCount; i++ {
		wg.Add(1)
		go o.worker(runCtx, job, sink, queue, &processed, &failed, &wg)
	}

	heartbeat := o.cfg.HeartbeatEvery
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	heartbeatTicker := time.NewTicker(heartbeat)
	defer heartbeatTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-heartbeatTicker.C:
				o.emitProgress(progressCh, job, StatusRunning, atomic.LoadInt64(&processed), atomic.LoadInt64(&failed), "heartbeat")
			case <-runCtx.Done():
				return
			}
		}
	}()

	// A cancellation request on the caller's ctx starts a bounded drain:
	// the producer stops pulling from the source, but already-queued
	// entities keep flushing through workers until either the queue
	// empties or DrainDeadline elapses, at which point runCtx is hard
	// cancelled.
	drainDeadline := o.cfg.DrainDeadline
	if drainDeadline <= 0 {
		drainDeadline = 30 * time.Second
	}
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		select {
		case <-ctx.Done():
		case <-runCtx.Done():
			return
		}
		o.emitProgress(progressCh, job, StatusCancelling, atomic.LoadInt64(&processed), atomic.LoadInt64(&failed), "cancellation requested, draining")
		select {
		case <-runCtx.Done():
		case <-time.After(drainDeadline):
			cancel()
		}
	}()

	produceErr := o.produce(ctx, job, queue, jobGeneration, &seqCounter)
	close(queue)
	wg.Wait()
	cancel()
	<-done
	<-drainDone

	if flushErr := sink.Flush(ctx); flushErr != nil && produceErr == nil {
		produceErr = flushErr
	}

	result := o.finalize(ctx, job, produceErr, processed, failed, jobGeneration, log)

	if o.metrics != nil {
		o.metrics.JobsFinished.WithLabelValues(job.SyncConnectionID, string(result.Status)).Inc()
		o.metrics.JobDuration.WithLabelValues(job.SyncConnectionID).Observe(time.Since(start).Seconds())
	}
	o.emitProgress(progressCh, job, result.Status, atomic.LoadInt64(&processed), atomic.LoadInt64(&failed), "job finished")

	return result
}

// emitSeqGenerationWidth bounds how many entities a single job may assign
// an EmitSeq to before its generation prefix collides with the next
// millisecond's jobGeneration value.
const emitSeqGenerationWidth = 1_000_000

// lastJobGeneration is the most recent jobGeneration handed out in this
// process.
var lastJobGeneration uint64

// produce pulls entities from job.Source and pushes them onto queue,
// assigning each a monotone EmitSeq (jobGeneration + an intra-job
// counter, so EmitSeq stays comparable across separate job runs of the
// same connection). A SourceTransientError pauses for
// SourceTransientPause and retries Produce once at the cursor it reached;
// it returns the source error (if any) once Produce returns or ctx is
// cancelled.
func (o *Orchestrator) produce(ctx context.Context, job Job, queue chan<- workItem, jobGeneration uint64, seqCounter *uint64) error {
	emit := func(emitCtx context.Context, e entity.Entity) error {
		seq := jobGeneration + atomic.AddUint64(seqCounter, 1)
		e.EmitSeq = seq

		select {
		case queue <- workItem{entity: e, seq: seq}:
			return nil
		case <-emitCtx.Done():
			return emitCtx.Err()
		}
	}
	cursor, err := job.Source.Produce(ctx, job.Cursor, emit)
	if _, transient := err.(*synccore.SourceTransientError); transient && ctx.Err() == nil {
		select {
		case <-time.After(o.cfg.SourceTransientPause):
			_, err = job.Source.Produce(ctx, cursor, emit)
		case <-ctx.Done():
		}
	}

	if ctx.Err() != nil {
		return &synccore.CancelledError{}
	}
	return err
}

// worker consumes the queue, routes each entity through the DAG after an
// incremental-sync decision against the ledger, and accounts outcomes.
func (o *Orchestrator) worker(ctx context.Context, job Job, sink *batchSink, queue <-chan workItem, processed, failed *int64, wg *sync.WaitGroup) {
	defer wg.Done()
	for item := range queue {
		if err := o.processOne(ctx, job, sink, item.entity); err != nil {
			atomic.AddInt64(failed, 1)
			if o.metrics != nil {
				o.metrics.EntitiesTotal.WithLabelValues(job.SyncConnectionID, "failed").Inc()
			}
			continue
		}
		atomic.AddInt64(processed, 1)
		if o.metrics != nil {
			o.metrics.EntitiesTotal.WithLabelValues(job.SyncConnectionID, "processed").Inc()
		}
	}
}

// processOne applies the incremental-sync decision procedure (insert,
// update, or keep based on the ledger's last-seen content hash) before
// routing e through the DAG. "Keep" entities still record a RecordSeen
// so ListDisappeared can distinguish them from truly vanished entities,
// but are not re-written downstream.
//
// On an update (content changed since the last time e was seen), the
// ledger's record of e's previously known children is diffed against
// whatever this route actually produces: a file that shrank from five
// chunks to three must not leave the last two lingering in the ledger
// or the destination.
func (o *Orchestrator) processOne(ctx context.Context, job Job, sink *batchSink, e entity.Entity) error {
	descriptor, ok := job.KindDescriptors[e.Kind]
	if !ok {
		return &dagUnroutedError{kind: e.Kind}
	}

	hash, err := entity.Hash(e, descriptor)
	if err != nil {
		return &synccore.InvalidEntityError{EntityID: e.EntityID, Reason: err.Error()}
	}
	e.ContentHash = hash

	previousHash, knownChildren, seen, err := job.Ledger.LookupHash(ctx, job.SyncConnectionID, e.EntityID)
	if err != nil {
		return &synccore.LedgerError{Cause: err}
	}

	applied, err := job.Ledger.RecordSeen(ctx, ledger.Record{
		SyncConnectionID: job.SyncConnectionID,
		EntityID:         e.EntityID,
		ParentEntityID:   e.ParentEntityID,
		ContentHash:      hash,
		EmitSeq:          e.EmitSeq,
	})
	if err != nil {
		return &synccore.LedgerError{Cause: err}
	}
	if !applied {
		// A newer emission for this entity_id already recorded a later
		// seq; this one arrived out of order from another worker and is
		// stale. Discard without touching the destination.
		return nil
	}

	unchanged := seen && bytesEqual(previousHash, hash)
	if unchanged {
		// A kept entity is not re-routed, so its known children are
		// re-stamped with this emission's seq to keep them out of
		// ListDisappeared at job end.
		for _, childID := range knownChildren {
			childHash, _, ok, err := job.Ledger.LookupHash(ctx, job.SyncConnectionID, childID)
			if err != nil {
				return &synccore.LedgerError{Cause: err}
			}
			if !ok {
				continue
			}
			if _, err := job.Ledger.RecordSeen(ctx, ledger.Record{SyncConnectionID: job.SyncConnectionID, EntityID: childID, ParentEntityID: e.EntityID, ContentHash: childHash, EmitSeq: e.EmitSeq}); err != nil {
				return &synccore.LedgerError{Cause: err}
			}
		}
		return nil
	}

	childSink := &ledgerChildSink{BatchSink: sink, ledger: job.Ledger, connectionID: job.SyncConnectionID, emitSeq: e.EmitSeq}
	if err := job.DAG.Route(ctx, e, childSink); err != nil {
		return err
	}

	if !seen {
		return nil
	}
	return o.deleteOrphanedChildren(ctx, job, knownChildren, childSink.emitted)
}

// ledgerChildSink wraps the job's shared destination sink so every
// derived entity a transformer produces (a file's chunks, a page's
// fetched body) gets its own ledger row, tagged with ParentEntityID and
// the originating source entity's EmitSeq. Without this, derived
// entities would never appear in the ledger at all, since Route's
// recursion for a transformer's output never calls back into
// processOne.
type ledgerChildSink struct {
	dag.BatchSink
	ledger       ledger.Ledger
	connectionID string
	emitSeq      uint64
	mu           sync.Mutex
	emitted      []string
}

func (s *ledgerChildSink) Accept(ctx context.Context, destinationName, namespace string, e entity.Entity) error {
	if e.ParentEntityID != "" {
		if _, err := s.ledger.RecordSeen(ctx, ledger.Record{
			SyncConnectionID: s.connectionID,
			EntityID:         e.EntityID,
			ParentEntityID:   e.ParentEntityID,
			ContentHash:      e.ContentHash,
			EmitSeq:          s.emitSeq,
		}); err != nil {
			return &synccore.LedgerError{Cause: err}
		}
		s.mu.Lock()
		s.emitted = append(s.emitted, e.EntityID)
		s.mu.Unlock()
	}
	return s.BatchSink.Accept(ctx, destinationName, namespace, e)
}

// deleteOrphanedChildren removes every previously known child of the
// entity just routed that this pass did not re-emit.
func (o *Orchestrator) deleteOrphanedChildren(ctx context.Context, job Job, knownChildren, emittedChildren []string) error {
	if len(knownChildren) == 0 {
		return nil
	}
	stillPresent := make(map[string]bool, len(emittedChildren))
	for _, id := range emittedChildren {
		stillPresent[id] = true
	}
	for _, childID := range knownChildren {
		if stillPresent[childID] {
			continue
		}
		if err := o.deleteEverywhere(ctx, job, childID); err != nil {
			return err
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type dagUnroutedError struct{ kind string }

func (e *dagUnroutedError) Error() string { return fmt.Sprintf("no kind descriptor registered for %q", e.kind) }

// finalize determines the terminal status and, on a clean completion,
// runs the disappearance-deletion protocol: every ledger row for this
// connection with emit_seq at or before jobGeneration was last touched
// by a prior job, not this one, and is deleted, children before parents.
func (o *Orchestrator) finalize(ctx context.Context, job Job, produceErr error, processed, failed int64, jobGeneration uint64, log *logrus.Entry) Result {
	switch {
	case produceErr != nil && isCancelled(produceErr):
		log.Warn("sync job cancelled")
		return Result{Status: StatusCancelled, EntitiesProcessed: processed, EntitiesFailed: failed, Err: &synccore.CancelledError{}}
	case produceErr != nil:
		log.WithError(produceErr).Error("sync job failed")
		return Result{Status: StatusFailed, EntitiesProcessed: processed, EntitiesFailed: failed, Err: produceErr}
	}

	if err := o.deleteDisappeared(ctx, job, jobGeneration); err != nil {
		log.WithError(err).Error("sync job failed during completion")
		return Result{Status: StatusFailed, EntitiesProcessed: processed, EntitiesFailed: failed, Err: err}
	}

	log.Info("sync job completed")
	return Result{Status: StatusCompleted, EntitiesProcessed: processed, EntitiesFailed: failed}
}

func isCancelled(err error) bool {
	_, ok := err.(*synccore.CancelledError)
	if ok {
		return true
	}
	return err == context.Canceled
}

// deleteDisappeared queries the ledger for every entity of this
// connection not touched by the current job and deletes it from both the
// ledger and its destination, children first. jobGeneration is this run's
// EmitSeq range floor (every entity it RecordSeen's gets jobGeneration+1
// or higher), so any row at or below it was last written by an earlier
// job and was not re-emitted this time.
func (o *Orchestrator) deleteDisappeared(ctx context.Context, job Job, jobGeneration uint64) error {
	disappeared, err := job.Ledger.ListDisappeared(ctx, job.SyncConnectionID, jobGeneration+1)
	if err != nil {
		return &synccore.LedgerError{Cause: err}
	}
	if len(disappeared) == 0 {
		return nil
	}

	known := make(map[string]bool, len(disappeared))
	for _, r := range disappeared {
		known[r.EntityID] = true
	}

	// A row whose ParentEntityID also vanished this job is a child: it is
	// deleted before its parent so a reader never observes an orphan
	// whose parent has already disappeared. Rows whose parent is absent
	// from this batch (never disappeared, or never had one) are roots.
	var children, roots []ledger.Record
	for _, r := range disappeared {
		if r.ParentEntityID != "" && known[r.ParentEntityID] {
			children = append(children, r)
		} else {
			roots = append(roots, r)
		}
	}

	for _, r := range children {
		if err := o.deleteEverywhere(ctx, job, r.EntityID); err != nil {
			return err
		}
	}
	for _, r := range roots {
		if err := o.deleteEverywhere(ctx, job, r.EntityID); err != nil {
			return err
		}
	}

	return nil
}

// deleteEverywhere removes entityID from every destination the DAG
// declares and from the ledger. The ledger doesn't record which
// destination(s) a given entity was actually routed to, so every
// declared destination gets a delete; a destination that never held the
// point treats it as a no-op.
func (o *Orchestrator) deleteEverywhere(ctx context.Context, job Job, entityID string) error {
	for _, node := range job.DAG.AllDestinationNames() {
		dest, namespace, ok := job.DAG.Destination(node)
		if !ok {
			continue
		}
		if err := dest.BulkDelete(ctx, namespace, []string{entityID}); err != nil {
			return &synccore.DestinationTransientError{Cause: err}
		}
	}
	if err := job.Ledger.Remove(ctx, job.SyncConnectionID, entityID); err != nil {
		return &synccore.LedgerError{Cause: err}
	}
	return nil
}

func (o *Orchestrator) emitProgress(progressCh chan<- ProgressEvent, job Job, status Status, processed, failedCount int64, message string) {
	if progressCh == nil {
		return
	}
	event := ProgressEvent{
		JobID:             job.ID,
		SyncConnectionID:  job.SyncConnectionID,
		Status:            status,
		EntitiesProcessed: processed,
		EntitiesFailed:    failedCount,
		Message:           message,
		At:                time.Now(),
	}
	select {
	case progressCh <- event:
	default:
		o.log.WithJob(job.ID, job.SyncConnectionID).Warn("progress channel full, dropping event")
	}
}
