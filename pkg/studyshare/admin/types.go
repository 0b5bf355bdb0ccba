package admin

import (
	"time"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// ItemStatistics provides aggregated statistics about items
type ItemStatistics struct {
	TotalCount int64            `json:"total_count"`
	ByStatus   map[string]int64 `json:"by_status,omitempty"`
	ByKind     map[string]int64 `json:"by_kind,omitempty"`
	OldestItem *time.Time       `json:"oldest_item,omitempty"`
	NewestItem *time.Time       `json:"newest_item,omitempty"`
}

// ItemFilters defines filtering options for admin operations
type ItemFilters struct {
	Course   string                  `json:"course,omitempty"`
	Term     string                  `json:"term,omitempty"`
	Subject  string                  `json:"subject,omitempty"`
	Kind     studyshare.Kind         `json:"kind,omitempty"`
	Statuses []studyshare.ItemStatus `json:"statuses,omitempty"`
	OwnerID  *uuid.UUID              `json:"owner_id,omitempty"`

	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`

	Limit  *int `json:"limit,omitempty"`
	Offset *int `json:"offset,omitempty"`
	// SortOrder is asc or desc on created_at
	SortOrder string `json:"sort_order,omitempty"`
}

// StatisticsOptions defines what statistics to compute
type StatisticsOptions struct {
	IncludeStatusBreakdown bool `json:"include_status_breakdown"`
	IncludeKindBreakdown   bool `json:"include_kind_breakdown"`
	IncludeTimeRange       bool `json:"include_time_range"`
}

// DefaultStatisticsOptions returns statistics options with all breakdowns enabled
func DefaultStatisticsOptions() StatisticsOptions {
	return StatisticsOptions{
		IncludeStatusBreakdown: true,
		IncludeKindBreakdown:   true,
		IncludeTimeRange:       true,
	}
}

// PendingItem is a queued item with the approved items it competes with
type PendingItem struct {
	Item     *studyshare.Item   `json:"item"`
	Siblings []*studyshare.Item `json:"siblings"`
}
