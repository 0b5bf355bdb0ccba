package studyshare

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Ready reports whether the store finished its initialization handshake
	Ready() bool
	// Upload stores the reader's bytes under params.ObjectKey
	Upload(ctx context.Context, reader io.Reader, params UploadParams) error
	// Download streams a stored blob
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)
	// Delete removes a blob; missing blobs yield ErrBlobNotFound
	Delete(ctx context.Context, objectKey string) error
	// GetObjectMeta retrieves metadata for a blob
	GetObjectMeta(ctx context.Context, objectKey string) (*BlobMeta, error)
}

// Transactor runs work atomically.
//
// Repository methods called with the context passed to fn join the
// transaction. LockCategory is only valid inside RunInTx and holds the lock
// until the transaction ends.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockCategory(ctx context.Context, lockKey string) error
}

// Repository defines the interface for item, decision and score persistence
type Repository interface {
	Transactor

	// Item operations
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	// UpdateItemStatus sets status and credit when the stored version equals
	// expectedVersion and bumps the version. Returns ErrVersionConflict otherwise.
	UpdateItemStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status ItemStatus, credit float64) (*Item, error)
	// DeleteItem hard-deletes the item when the stored version equals expectedVersion.
	DeleteItem(ctx context.Context, id uuid.UUID, expectedVersion int) error
	ListItems(ctx context.Context, filter ItemFilter) ([]*Item, error)
	CountItems(ctx context.Context, filter ItemFilter) (int64, error)
	IncrementItemCounter(ctx context.Context, id uuid.UUID, counter ItemCounter) error

	// Category index operations
	CountApproved(ctx context.Context, key CategoryKey, match UnitMatch, exclude ...uuid.UUID) (int, error)
	// ExistsYearSlot reports whether a pending or approved item holds
	// (course, term, subject, kind, year).
	ExistsYearSlot(ctx context.Context, key CategoryKey) (bool, error)

	// Decision log operations
	AppendDecision(ctx context.Context, entry *DecisionEntry) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*DecisionEntry, error)

	// Contributor score operations
	AddContributorScore(ctx context.Context, ownerID uuid.UUID, ownerName string, delta float64) error
	GetContributorScore(ctx context.Context, ownerID uuid.UUID) (float64, error)

	// Orphan blob operations
	EnqueueOrphanBlob(ctx context.Context, blob *OrphanBlob) error
	ListOrphanBlobs(ctx context.Context, limit int) ([]*OrphanBlob, error)
	DeleteOrphanBlob(ctx context.Context, id uuid.UUID) error
	MarkOrphanBlobAttempt(ctx context.Context, id uuid.UUID) error
}

// ActivityLog is the Session Activity Log.
type ActivityLog interface {
	// StartSession creates the session record. Starting an existing session is a no-op.
	StartSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
	// Append adds an action to a bucket. Unknown categories yield
	// ErrUnknownCategory, unknown sessions ErrSessionNotFound.
	Append(ctx context.Context, sessionID string, category ActionCategory, action Action) error
	// Query returns every action whose details reference the item, ordered
	// by timestamp. Implementations scan all sessions.
	Query(ctx context.Context, itemID uuid.UUID) ([]*HistoryEntry, error)
}

// AuditLedger is the append-only action log keyed by session.
type AuditLedger interface {
	LogAction(ctx context.Context, event AuditEvent) error
	GetSessionLogs(ctx context.Context, sessionID string) ([]AuditEvent, error)
	GetAllSessionIDs(ctx context.Context) ([]string, error)
}

// ItemFilter selects items for listing and counting.
type ItemFilter struct {
	Course   string
	Term     string
	Subject  string
	Kind     Kind
	Statuses []ItemStatus
	OwnerID  *uuid.UUID
	// Units, when set, keeps items whose units match under UnitMatch
	Units     []string
	UnitMatch UnitMatch

	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	Limit  *int
	Offset *int
	// SortOrder is "asc" or "desc" on created_at (default desc)
	SortOrder string
}

// ItemFilterOption represents a functional option for item filters
type ItemFilterOption func(*ItemFilter)

// WithCategory restricts the filter to a category, ignoring units.
func WithCategory(key CategoryKey) ItemFilterOption {
	return func(f *ItemFilter) {
		f.Course = key.Course
		f.Term = key.Term
		f.Subject = key.Subject
		f.Kind = key.Kind
	}
}

// WithStatuses restricts the filter to the given statuses.
func WithStatuses(statuses ...ItemStatus) ItemFilterOption {
	return func(f *ItemFilter) {
		f.Statuses = statuses
	}
}

// WithOwner restricts the filter to one owner.
func WithOwner(ownerID uuid.UUID) ItemFilterOption {
	return func(f *ItemFilter) {
		f.OwnerID = &ownerID
	}
}

// WithUnits keeps items whose normalized units match units under match.
func WithUnits(match UnitMatch, units ...string) ItemFilterOption {
	return func(f *ItemFilter) {
		f.Units = NormalizeUnits(units)
		f.UnitMatch = match
	}
}

// WithPagination sets limit and offset.
func WithPagination(limit, offset int) ItemFilterOption {
	return func(f *ItemFilter) {
		f.Limit = &limit
		f.Offset = &offset
	}
}

// NewItemFilter builds a filter from options.
func NewItemFilter(opts ...ItemFilterOption) ItemFilter {
	var f ItemFilter
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Matches reports whether item satisfies the non-pagination fields of f.
func (f ItemFilter) Matches(item *Item) bool {
	if f.Course != "" && item.Category.Course != f.Course {
		return false
	}
	if f.Term != "" && item.Category.Term != f.Term {
		return false
	}
	if f.Subject != "" && item.Category.Subject != f.Subject {
		return false
	}
	if f.Kind != "" && item.Category.Kind != f.Kind {
		return false
	}
	if f.OwnerID != nil && item.OwnerID != *f.OwnerID {
		return false
	}
	if len(f.Units) > 0 && !MatchUnits(f.UnitMatch, item.Category.Units, f.Units) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if item.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedAfter != nil && item.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && item.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// DecisionFilter selects Decision Log entries.
type DecisionFilter struct {
	// ItemID matches the subject item and the superseded item of replacements
	ItemID *uuid.UUID
	Type   DecisionType
	Limit  int
}
