package studyshare

import (
	"time"

	"github.com/google/uuid"
)

// Capacity is the maximum number of approved items per category key.
const Capacity = 2

// DefaultUnit is the implicit unit of a submission without units.
const DefaultUnit = "general"

// DefaultRejectReason is recorded when a rejection carries no reason.
const DefaultRejectReason = "No reason provided"

// ItemStatus represents the moderation state of an item.
type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusApproved ItemStatus = "approved"
	ItemStatusRejected ItemStatus = "rejected"
	// ItemStatusRemoved is never persisted; removed items are deleted.
	ItemStatusRemoved ItemStatus = "removed"
)

// Kind identifies the type of material in a category.
type Kind string

const (
	KindNotes         Kind = "notes"
	KindPastQuestions Kind = "past-questions"
	KindBooks         Kind = "books"
)

// Role is the role of an authenticated actor.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	SessionID string    `json:"session_id,omitempty"`
}

// IsAdmin reports whether the actor may moderate.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CategoryKey identifies a content bucket.
type CategoryKey struct {
	Course  string   `json:"course"`
	Term    string   `json:"term"`
	Subject string   `json:"subject"`
	Kind    Kind     `json:"kind"`
	Units   []string `json:"units"`
	Year    string   `json:"year,omitempty"`
}

// LockKey returns the key that serializes admissions into the category.
// Units are excluded so that overlapping unit sets share one lock.
func (k CategoryKey) LockKey() string {
	return k.Course + "|" + k.Term + "|" + k.Subject + "|" + string(k.Kind)
}

// Item is a submitted unit of content.
type Item struct {
	ID             uuid.UUID   `json:"id"`
	Category       CategoryKey `json:"category"`
	OwnerID        uuid.UUID   `json:"owner_id"`
	OwnerName      string      `json:"owner_name"`
	Status         ItemStatus  `json:"status"`
	BlobBackend    string      `json:"blob_backend"`
	BlobKey        string      `json:"blob_key"`
	FileName       string      `json:"file_name"`
	MimeType       string      `json:"mime_type,omitempty"`
	FileSize       int64       `json:"file_size"`
	Fingerprint    string      `json:"fingerprint,omitempty"`
	ViewCount      int64       `json:"view_count"`
	DownloadCount  int64       `json:"download_count"`
	RelevanceScore *float64    `json:"relevance_score,omitempty"`
	Topics         []string    `json:"topics,omitempty"`
	Credit         float64     `json:"credit"`
	Version        int         `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Snapshot captures the identifying fields of an item for the Decision Log.
func (i *Item) Snapshot() *ItemSnapshot {
	return &ItemSnapshot{
		ItemID:         i.ID,
		Category:       i.Category,
		OwnerID:        i.OwnerID,
		OwnerName:      i.OwnerName,
		Status:         i.Status,
		BlobKey:        i.BlobKey,
		FileName:       i.FileName,
		Fingerprint:    i.Fingerprint,
		RelevanceScore: i.RelevanceScore,
		Topics:         append([]string(nil), i.Topics...),
	}
}

// ItemSnapshot is an immutable copy of an item at decision time.
type ItemSnapshot struct {
	ItemID         uuid.UUID   `json:"item_id"`
	Category       CategoryKey `json:"category"`
	OwnerID        uuid.UUID   `json:"owner_id"`
	OwnerName      string      `json:"owner_name"`
	Status         ItemStatus  `json:"status"`
	BlobKey        string      `json:"blob_key"`
	FileName       string      `json:"file_name"`
	Fingerprint    string      `json:"fingerprint,omitempty"`
	RelevanceScore *float64    `json:"relevance_score,omitempty"`
	Topics         []string    `json:"topics,omitempty"`
}

// DecisionType classifies Decision Log entries.
type DecisionType string

const (
	DecisionTypeApproval    DecisionType = "approval"
	DecisionTypeRejection   DecisionType = "rejection"
	DecisionTypeRemoval     DecisionType = "removal"
	DecisionTypeReplacement DecisionType = "replacement"
)

// Decision is the admin verdict recorded with an entry.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionReplace Decision = "replace"
	DecisionRemove  Decision = "remove"
)

// DecisionEntry is one append-only Decision Log record.
type DecisionEntry struct {
	ID          uuid.UUID     `json:"id"`
	Type        DecisionType  `json:"type"`
	AdminID     uuid.UUID     `json:"admin_id"`
	AdminName   string        `json:"admin_name"`
	Decision    Decision      `json:"decision"`
	ItemID      uuid.UUID     `json:"item_id"`
	Subject     *ItemSnapshot `json:"subject"`
	Superseded  *ItemSnapshot `json:"superseded,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// References reports whether the entry involves the item.
func (e *DecisionEntry) References(itemID uuid.UUID) bool {
	if e.ItemID == itemID {
		return true
	}
	return e.Superseded != nil && e.Superseded.ItemID == itemID
}

// ActionCategory names a Session Activity Log bucket.
type ActionCategory string

const (
	ActionViewed             ActionCategory = "viewed"
	ActionUploaded           ActionCategory = "uploaded"
	ActionContributorManaged ActionCategory = "contributorManaged"
	ActionResourceManaged    ActionCategory = "resourceManaged"
)

// ActionCategories lists every bucket in a session.
var ActionCategories = []ActionCategory{
	ActionViewed,
	ActionUploaded,
	ActionContributorManaged,
	ActionResourceManaged,
}

// IsValid reports whether c is a known bucket.
func (c ActionCategory) IsValid() bool {
	for _, known := range ActionCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Action is one entry in a session bucket.
type Action struct {
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Details   map[string]interface{} `json:"details" bson:"details"`
}

// References reports whether an "itemId" value anywhere in the details,
// including nested maps and lists, equals itemID.
func (a Action) References(itemID uuid.UUID) bool {
	return referencesItem(a.Details, itemID.String())
}

func referencesItem(v interface{}, id string) bool {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if k == "itemId" {
				switch ref := val.(type) {
				case string:
					if ref == id {
						return true
					}
				case uuid.UUID:
					if ref.String() == id {
						return true
					}
				}
			}
			if referencesItem(val, id) {
				return true
			}
		}
	case []interface{}:
		for _, val := range t {
			if referencesItem(val, id) {
				return true
			}
		}
	case []map[string]interface{}:
		for _, val := range t {
			if referencesItem(val, id) {
				return true
			}
		}
	}
	return false
}

// Session is a window of activity for one actor.
type Session struct {
	ID        string                      `json:"id"`
	ActorID   uuid.UUID                   `json:"actor_id"`
	ActorName string                      `json:"actor_name"`
	Role      Role                        `json:"role"`
	CreatedAt time.Time                   `json:"created_at"`
	Actions   map[ActionCategory][]Action `json:"actions"`
}

// HistoryEntry is an activity entry that references an item.
type HistoryEntry struct {
	SessionID string         `json:"session_id"`
	ActorName string         `json:"actor_name"`
	Role      Role           `json:"role"`
	Category  ActionCategory `json:"category"`
	Action    Action         `json:"action"`
}

// AnonymousSessionID keys audit events from actors without a session.
const AnonymousSessionID = "anonymous"

// AuditEvent is one Audit Ledger record.
type AuditEvent struct {
	SessionID         string     `json:"session_id"`
	ActorName         string     `json:"actor_name"`
	ActionType        string     `json:"action_type"`
	Timestamp         time.Time  `json:"timestamp"`
	ItemID            *uuid.UUID `json:"item_id,omitempty"`
	BlobID            string     `json:"blob_id,omitempty"`
	ItemStatus        ItemStatus `json:"item_status,omitempty"`
	ContributorName   string     `json:"contributor_name,omitempty"`
	ContributorStatus string     `json:"contributor_status,omitempty"`
}

// OrphanBlob is a blob whose best-effort delete failed.
type OrphanBlob struct {
	ID            uuid.UUID  `json:"id"`
	Backend       string     `json:"backend"`
	Key           string     `json:"key"`
	Reason        string     `json:"reason"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// ItemCounter names a usage counter on an item.
type ItemCounter string

const (
	CounterViews     ItemCounter = "view_count"
	CounterDownloads ItemCounter = "download_count"
)

// UnitMatch selects how unit sets are compared when counting.
type UnitMatch int

const (
	UnitMatchExact UnitMatch = iota
	UnitMatchOverlap
)

// BlobMeta describes a stored blob.
type BlobMeta struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// UploadParams carries the key and metadata for a blob upload.
type UploadParams struct {
	ObjectKey string
	MimeType  string
	Size      int64
}
