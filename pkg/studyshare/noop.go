package studyshare

import (
	"context"

	"github.com/google/uuid"
)

// NoopAuditLedger is an audit ledger that discards every event
type NoopAuditLedger struct{}

// NewNoopAuditLedger creates a new no-op audit ledger
func NewNoopAuditLedger() *NoopAuditLedger {
	return &NoopAuditLedger{}
}

func (n *NoopAuditLedger) LogAction(ctx context.Context, event AuditEvent) error {
	return nil
}

func (n *NoopAuditLedger) GetSessionLogs(ctx context.Context, sessionID string) ([]AuditEvent, error) {
	return nil, nil
}

func (n *NoopAuditLedger) GetAllSessionIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

// NoopActivityLog is an activity log that records nothing
type NoopActivityLog struct{}

// NewNoopActivityLog creates a new no-op activity log
func NewNoopActivityLog() *NoopActivityLog {
	return &NoopActivityLog{}
}

func (n *NoopActivityLog) StartSession(ctx context.Context, session *Session) error {
	return nil
}

func (n *NoopActivityLog) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return nil, ErrSessionNotFound
}

func (n *NoopActivityLog) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	return nil, nil
}

func (n *NoopActivityLog) Append(ctx context.Context, sessionID string, category ActionCategory, action Action) error {
	return nil
}

func (n *NoopActivityLog) Query(ctx context.Context, itemID uuid.UUID) ([]*HistoryEntry, error) {
	return nil, nil
}
