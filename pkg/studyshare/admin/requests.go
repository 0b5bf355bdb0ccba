package admin

import (
	"time"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// ListPendingRequest contains parameters for the moderation queue
type ListPendingRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListPendingResponse contains pending items oldest first
type ListPendingResponse struct {
	Items   []PendingItem `json:"items"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"has_more"`
}

// ListItemsRequest contains parameters for admin item listing
type ListItemsRequest struct {
	Filters ItemFilters `json:"filters"`
}

// ListItemsResponse contains the paginated list of items
type ListItemsResponse struct {
	Items   []*studyshare.Item `json:"items"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"has_more"`
}

// CountRequest contains parameters for counting items
type CountRequest struct {
	Filters ItemFilters `json:"filters"`
}

// CountResponse contains the count result
type CountResponse struct {
	Count int64 `json:"count"`
}

// StatisticsRequest contains parameters for retrieving item statistics
type StatisticsRequest struct {
	Filters ItemFilters       `json:"filters"`
	Options StatisticsOptions `json:"options"`
}

// StatisticsResponse contains the statistics result
type StatisticsResponse struct {
	Statistics ItemStatistics `json:"statistics"`
	ComputedAt time.Time      `json:"computed_at"`
}

// ListItemsOption provides functional options for listing items
type ListItemsOption func(*ItemFilters)

// WithCategory filters by category, ignoring units
func WithCategory(key studyshare.CategoryKey) ListItemsOption {
	return func(f *ItemFilters) {
		f.Course = key.Course
		f.Term = key.Term
		f.Subject = key.Subject
		f.Kind = key.Kind
	}
}

// WithOwnerID filters by owner ID
func WithOwnerID(ownerID uuid.UUID) ListItemsOption {
	return func(f *ItemFilters) {
		f.OwnerID = &ownerID
	}
}

// WithStatuses filters by statuses
func WithStatuses(statuses ...studyshare.ItemStatus) ListItemsOption {
	return func(f *ItemFilters) {
		f.Statuses = statuses
	}
}

// WithCreatedAfter filters by creation time (after)
func WithCreatedAfter(t time.Time) ListItemsOption {
	return func(f *ItemFilters) {
		f.CreatedAfter = &t
	}
}

// WithCreatedBefore filters by creation time (before)
func WithCreatedBefore(t time.Time) ListItemsOption {
	return func(f *ItemFilters) {
		f.CreatedBefore = &t
	}
}

// WithPagination sets limit and offset
func WithPagination(limit, offset int) ListItemsOption {
	return func(f *ItemFilters) {
		f.Limit = &limit
		f.Offset = &offset
	}
}

// NewListItemsRequest creates a ListItemsRequest with functional options
func NewListItemsRequest(opts ...ListItemsOption) ListItemsRequest {
	var filters ItemFilters
	for _, opt := range opts {
		opt(&filters)
	}
	return ListItemsRequest{Filters: filters}
}
