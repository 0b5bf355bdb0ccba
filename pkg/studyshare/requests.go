package studyshare

import (
	"io"

	"github.com/google/uuid"
)

// SubmitRequest contains parameters for submitting an item
type SubmitRequest struct {
	Actor    Actor
	Category CategoryKey
	FileName string
	MimeType string
	// Size is advisory; the stored size is counted while streaming
	Size   int64
	Reader io.Reader
	// BlobBackend selects a registered blob store (default store if empty)
	BlobBackend    string
	RelevanceScore *float64
	Topics         []string
}

// SubmitResult is returned by Submit
type SubmitResult struct {
	Status ItemStatus `json:"status"`
	ItemID uuid.UUID  `json:"itemId"`
	Item   *Item      `json:"item"`
}

// ApproveRequest contains parameters for approving an item
type ApproveRequest struct {
	Actor         Actor
	ItemID        uuid.UUID
	ReplaceItemID *uuid.UUID
	Reason        string
}

// RejectRequest contains parameters for rejecting an item
type RejectRequest struct {
	Actor  Actor
	ItemID uuid.UUID
	Reason string
}

// RemoveRequest contains parameters for removing an approved item
type RemoveRequest struct {
	Actor  Actor
	ItemID uuid.UUID
	Reason string
}

// ModerationResult is returned by every moderation operation
type ModerationResult struct {
	Item     *Item          `json:"item"`
	Decision *DecisionEntry `json:"decision"`
	// Replaced is the retired item of a replacement
	Replaced *Item `json:"replaced,omitempty"`
}

// ListItemsRequest contains parameters for browsing items
type ListItemsRequest struct {
	Category CategoryKey
	Statuses []ItemStatus
	OwnerID  *uuid.UUID
	Limit    int
	Offset   int
}

// ItemHistory combines the activity and decision trail of an item
type ItemHistory struct {
	ItemID    uuid.UUID        `json:"item_id"`
	Activity  []*HistoryEntry  `json:"activity"`
	Decisions []*DecisionEntry `json:"decisions"`
}

// Download is a streamed blob with its item
type Download struct {
	Item   *Item
	Reader io.ReadCloser
}
