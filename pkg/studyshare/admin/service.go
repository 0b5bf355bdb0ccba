package admin

import (
	"context"

	"github.com/tendant/studyshare/pkg/studyshare"
)

// AdminService defines the read side of moderation: the pending queue,
// item browsing, statistics and the audit session browser.
//
// Endpoints using this service must be protected by admin authorization.
type AdminService interface {
	// ListPending returns pending items, each with the approved items of its
	// category that it would compete with. Siblings are loaded concurrently.
	ListPending(ctx context.Context, req ListPendingRequest) (*ListPendingResponse, error)

	// ListItems returns a page of items matching the filters.
	ListItems(ctx context.Context, req ListItemsRequest) (*ListItemsResponse, error)

	// CountItems returns the number of items matching the filters.
	CountItems(ctx context.Context, req CountRequest) (*CountResponse, error)

	// GetStatistics returns counts by status and kind.
	GetStatistics(ctx context.Context, req StatisticsRequest) (*StatisticsResponse, error)

	// ListSessions returns the session IDs known to the audit ledger.
	ListSessions(ctx context.Context) ([]string, error)

	// GetSessionLogs returns the audit events of one session.
	GetSessionLogs(ctx context.Context, sessionID string) ([]studyshare.AuditEvent, error)
}

// Option configures the admin service
type Option func(*adminService)

// WithAuditLedger enables the session browser
func WithAuditLedger(ledger studyshare.AuditLedger) Option {
	return func(s *adminService) {
		s.ledger = ledger
	}
}

// WithConcurrency bounds concurrent sibling lookups
func WithConcurrency(n int) Option {
	return func(s *adminService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a new AdminService instance that uses the provided repository.
func New(repo studyshare.Repository, opts ...Option) AdminService {
	s := &adminService{
		repo:        repo,
		ledger:      studyshare.NewNoopAuditLedger(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
