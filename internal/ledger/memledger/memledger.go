// Package memledger is an in-memory Ledger used by tests and local runs,
// grounded on the same map+mutex style as destination/memdest.
package memledger

import (
	"context"
	"sync"

	"github.com/syncforge/core/internal/ledger"
)

type key struct {
	connectionID string
	entityID     string
}

// Ledger is a thread-safe in-process implementation of ledger.Ledger.
type Ledger struct {
	mu      sync.Mutex
	records map[key]ledger.Record
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{records: make(map[key]ledger.Record)}
}

func (l *Ledger) LookupHash(ctx context.Context, connectionID, entityID string) ([]byte, []string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[key{connectionID, entityID}]
	if !ok {
		return nil, nil, false, nil
	}
	var children []string
	for k, rec := range l.records {
		if k.connectionID == connectionID && rec.ParentEntityID == entityID {
			children = append(children, rec.EntityID)
		}
	}
	return r.ContentHash, children, true, nil
}

func (l *Ledger) RecordSeen(ctx context.Context, r ledger.Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{r.SyncConnectionID, r.EntityID}
	existing, ok := l.records[k]
	if ok && r.EmitSeq <= existing.EmitSeq {
		return false, nil
	}
	l.records[k] = r
	return true, nil
}

func (l *Ledger) ListDisappeared(ctx context.Context, connectionID string, currentJobSeq uint64) ([]ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Record
	for k, r := range l.records {
		if k.connectionID != connectionID {
			continue
		}
		if r.EmitSeq < currentJobSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Ledger) Remove(ctx context.Context, connectionID, entityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key{connectionID, entityID})
	return nil
}
