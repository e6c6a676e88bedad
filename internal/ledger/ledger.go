// Package ledger tracks, per sync connection, the last-seen content hash
// of every entity, implementing the incremental-sync decision procedure
// from spec §4.G: insert/update/keep/delete.
package ledger

import "context"

// Record is one ledger row. ParentEntityID is set when the row was
// derived from another entity (a file's chunks, a page's fetched body);
// it is empty for entities emitted directly by a source connector.
type Record struct {
	SyncConnectionID string
	EntityID         string
	ParentEntityID   string
	ContentHash      []byte
	EmitSeq          uint64
}

// Ledger is implemented by every storage backend (memledger for tests,
// pgledger for production).
type Ledger interface {
	// LookupHash returns the last recorded content hash for
	// (connectionID, entityID) and the entity_ids of every row currently
	// recorded with entityID as its parent, or ok=false if entityID was
	// never seen.
	LookupHash(ctx context.Context, connectionID, entityID string) (hash []byte, knownChildren []string, ok bool, err error)

	// RecordSeen upserts the record if emitSeq is greater than the
	// previously stored emit_seq for this (connectionID, entityID) —
	// a compare-and-set that discards stale duplicate writes arriving
	// out of order from concurrent workers. It returns applied=false
	// when the write was discarded as stale.
	RecordSeen(ctx context.Context, r Record) (applied bool, err error)

	// ListDisappeared returns every entity recorded for connectionID
	// whose EmitSeq is less than currentJobSeq — i.e. rows untouched by
	// the job in progress, which the completion protocol deletes.
	ListDisappeared(ctx context.Context, connectionID string, currentJobSeq uint64) ([]Record, error)

	// Remove deletes the ledger row for (connectionID, entityID).
	Remove(ctx context.Context, connectionID, entityID string) error
}
