// Package memory provides an in-process Audit Ledger.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/studyshare/pkg/studyshare"
)

// Ledger appends events to per-session slices.
type Ledger struct {
	mu     sync.RWMutex
	events map[string][]studyshare.AuditEvent
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{events: make(map[string][]studyshare.AuditEvent)}
}

var _ studyshare.AuditLedger = (*Ledger)(nil)

func (l *Ledger) LogAction(ctx context.Context, event studyshare.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[event.SessionID] = append(l.events[event.SessionID], event)
	return nil
}

func (l *Ledger) GetSessionLogs(ctx context.Context, sessionID string) ([]studyshare.AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]studyshare.AuditEvent{}, l.events[sessionID]...), nil
}

// GetAllSessionIDs returns session IDs in lexical order.
func (l *Ledger) GetAllSessionIDs(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.events))
	for id := range l.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
