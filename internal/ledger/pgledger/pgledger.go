// Package pgledger is the Postgres-backed Ledger used in production,
// grounded on the teacher's pkg/storage/postgres base store: a thin
// *sql.DB wrapper with context-aware queries and no ORM, using ON
// CONFLICT for the compare-and-set RecordSeen needs.
package pgledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/syncforge/core/internal/ledger"
	"github.com/syncforge/core/internal/synccore"
)

// Ledger implements ledger.Ledger over a sync_entity_ledger table.
type Ledger struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB. Migrations are applied separately
// via internal/store/migrations.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) LookupHash(ctx context.Context, connectionID, entityID string) ([]byte, []string, bool, error) {
	const q = `SELECT content_hash FROM sync_entity_ledger WHERE sync_connection_id = $1 AND entity_id = $2`

	var hash []byte
	err := l.db.QueryRowContext(ctx, q, connectionID, entityID).Scan(&hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil, false, nil
	case err != nil:
		return nil, nil, false, &synccore.LedgerError{Cause: fmt.Errorf("lookup hash: %w", err)}
	}

	const childQ = `SELECT entity_id FROM sync_entity_ledger WHERE sync_connection_id = $1 AND parent_entity_id = $2`
	rows, err := l.db.QueryContext(ctx, childQ, connectionID, entityID)
	if err != nil {
		return nil, nil, false, &synccore.LedgerError{Cause: fmt.Errorf("lookup known children: %w", err)}
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return nil, nil, false, &synccore.LedgerError{Cause: fmt.Errorf("scan known child: %w", err)}
		}
		children = append(children, childID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, &synccore.LedgerError{Cause: fmt.Errorf("iterate known children: %w", err)}
	}

	return hash, children, true, nil
}

// RecordSeen upserts the row, but only applies the write when no existing
// row has a greater-or-equal emit_seq — the compare-and-set that
// discards stale duplicate writes from out-of-order workers.
func (l *Ledger) RecordSeen(ctx context.Context, r ledger.Record) (bool, error) {
	const q = `
		INSERT INTO sync_entity_ledger (sync_connection_id, entity_id, parent_entity_id, content_hash, emit_seq)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sync_connection_id, entity_id) DO UPDATE
			SET parent_entity_id = EXCLUDED.parent_entity_id, content_hash = EXCLUDED.content_hash, emit_seq = EXCLUDED.emit_seq
			WHERE sync_entity_ledger.emit_seq < EXCLUDED.emit_seq
		RETURNING emit_seq`

	var appliedSeq uint64
	err := l.db.QueryRowContext(ctx, q, r.SyncConnectionID, r.EntityID, r.ParentEntityID, r.ContentHash, r.EmitSeq).Scan(&appliedSeq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// ON CONFLICT DO UPDATE ... WHERE false still inserts nothing new
		// and returns no row when the row already existed and the guard
		// failed: the write was stale.
		return false, nil
	case err != nil:
		return false, &synccore.LedgerError{Cause: fmt.Errorf("record seen: %w", err)}
	}
	return appliedSeq == r.EmitSeq, nil
}

func (l *Ledger) ListDisappeared(ctx context.Context, connectionID string, currentJobSeq uint64) ([]ledger.Record, error) {
	const q = `
		SELECT sync_connection_id, entity_id, parent_entity_id, content_hash, emit_seq
		FROM sync_entity_ledger
		WHERE sync_connection_id = $1 AND emit_seq < $2`

	rows, err := l.db.QueryContext(ctx, q, connectionID, currentJobSeq)
	if err != nil {
		return nil, &synccore.LedgerError{Cause: fmt.Errorf("list disappeared: %w", err)}
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		var r ledger.Record
		if err := rows.Scan(&r.SyncConnectionID, &r.EntityID, &r.ParentEntityID, &r.ContentHash, &r.EmitSeq); err != nil {
			return nil, &synccore.LedgerError{Cause: fmt.Errorf("scan disappeared row: %w", err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &synccore.LedgerError{Cause: fmt.Errorf("iterate disappeared rows: %w", err)}
	}
	return out, nil
}

func (l *Ledger) Remove(ctx context.Context, connectionID, entityID string) error {
	const q = `DELETE FROM sync_entity_ledger WHERE sync_connection_id = $1 AND entity_id = $2`
	if _, err := l.db.ExecContext(ctx, q, connectionID, entityID); err != nil {
		return &synccore.LedgerError{Cause: fmt.Errorf("remove: %w", err)}
	}
	return nil
}
