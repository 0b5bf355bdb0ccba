package studyshare

import (
	"context"

	"github.com/google/uuid"
)

// Service is the main interface of the admission and moderation engine
type Service interface {
	// Admission
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	// Moderation
	Approve(ctx context.Context, req ApproveRequest) (*ModerationResult, error)
	Reject(ctx context.Context, req RejectRequest) (*ModerationResult, error)
	Remove(ctx context.Context, req RemoveRequest) (*ModerationResult, error)

	// Queries
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	ListItems(ctx context.Context, req ListItemsRequest) ([]*Item, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Item, error)
	ItemHistory(ctx context.Context, actor Actor, itemID uuid.UUID) (*ItemHistory, error)
	ContributorScore(ctx context.Context, ownerID uuid.UUID) (float64, error)

	// Usage
	RecordView(ctx context.Context, actor Actor, itemID uuid.UUID) error
	DownloadItem(ctx context.Context, actor Actor, itemID uuid.UUID) (*Download, error)

	// Sessions
	StartSession(ctx context.Context, actor Actor) (*Session, error)

	// Settings
	RelevanceThreshold() float64
	SetRelevanceThreshold(ctx context.Context, actor Actor, threshold float64) error

	// Blob store access
	GetBlobStore(name string) (BlobStore, error)

	// Close drains pending audit events
	Close(ctx context.Context) error
}
