package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/studyshare/pkg/studyshare"
	"golang.org/x/sync/errgroup"
)

const defaultLimit = 100

// adminService implements the AdminService interface
type adminService struct {
	repo        studyshare.Repository
	ledger      studyshare.AuditLedger
	concurrency int
}

var _ AdminService = (*adminService)(nil)

func (s *adminService) ListPending(ctx context.Context, req ListPendingRequest) (*ListPendingResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	filter := studyshare.NewItemFilter(
		studyshare.WithStatuses(studyshare.ItemStatusPending),
		studyshare.WithPagination(limit, req.Offset),
	)
	filter.SortOrder = "asc"

	pending, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}

	items := make([]PendingItem, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, item := range pending {
		items[i].Item = item
		g.Go(func() error {
			siblings, err := s.siblings(gctx, item)
			if err != nil {
				return fmt.Errorf("load siblings of %s: %w", item.ID, err)
			}
			items[i].Siblings = siblings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ListPendingResponse{
		Items:   items,
		Limit:   limit,
		Offset:  req.Offset,
		HasMore: len(pending) == limit,
	}, nil
}

// siblings returns the approved items counted against item's category.
func (s *adminService) siblings(ctx context.Context, item *studyshare.Item) ([]*studyshare.Item, error) {
	approved, err := s.repo.ListItems(ctx, studyshare.NewItemFilter(
		studyshare.WithCategory(item.Category),
		studyshare.WithStatuses(studyshare.ItemStatusApproved),
	))
	if err != nil {
		return nil, err
	}

	match := studyshare.PolicyFor(item.Category.Kind).UnitMatch
	result := make([]*studyshare.Item, 0, len(approved))
	for _, candidate := range approved {
		if studyshare.MatchUnits(match, candidate.Category.Units, item.Category.Units) {
			result = append(result, candidate)
		}
	}
	return result, nil
}

func (s *adminService) ListItems(ctx context.Context, req ListItemsRequest) (*ListItemsResponse, error) {
	filter := toRepoFilter(req.Filters)
	limit := defaultLimit
	if filter.Limit != nil && *filter.Limit > 0 {
		limit = *filter.Limit
	}
	offset := 0
	if filter.Offset != nil {
		offset = *filter.Offset
	}
	filter.Limit, filter.Offset = &limit, &offset

	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ListItemsResponse{
		Items:   items,
		Limit:   limit,
		Offset:  offset,
		HasMore: len(items) == limit,
	}, nil
}

func (s *adminService) CountItems(ctx context.Context, req CountRequest) (*CountResponse, error) {
	filter := toRepoFilter(req.Filters)
	filter.Limit, filter.Offset = nil, nil

	count, err := s.repo.CountItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &CountResponse{Count: count}, nil
}

func (s *adminService) GetStatistics(ctx context.Context, req StatisticsRequest) (*StatisticsResponse, error) {
	filter := toRepoFilter(req.Filters)
	filter.Limit, filter.Offset = nil, nil

	total, err := s.repo.CountItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats := ItemStatistics{TotalCount: total}

	if req.Options.IncludeStatusBreakdown {
		stats.ByStatus = make(map[string]int64)
		for _, status := range []studyshare.ItemStatus{
			studyshare.ItemStatusPending,
			studyshare.ItemStatusApproved,
			studyshare.ItemStatusRejected,
		} {
			byStatus := filter
			byStatus.Statuses = []studyshare.ItemStatus{status}
			n, err := s.repo.CountItems(ctx, byStatus)
			if err != nil {
				return nil, err
			}
			stats.ByStatus[string(status)] = n
		}
	}

	if req.Options.IncludeKindBreakdown || req.Options.IncludeTimeRange {
		items, err := s.repo.ListItems(ctx, filter)
		if err != nil {
			return nil, err
		}
		if req.Options.IncludeKindBreakdown {
			stats.ByKind = make(map[string]int64)
			for _, item := range items {
				stats.ByKind[string(item.Category.Kind)]++
			}
		}
		if req.Options.IncludeTimeRange {
			for _, item := range items {
				created := item.CreatedAt
				if stats.OldestItem == nil || created.Before(*stats.OldestItem) {
					stats.OldestItem = &created
				}
				if stats.NewestItem == nil || created.After(*stats.NewestItem) {
					stats.NewestItem = &created
				}
			}
		}
	}

	return &StatisticsResponse{Statistics: stats, ComputedAt: time.Now().UTC()}, nil
}

func (s *adminService) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := s.ledger.GetAllSessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit sessions: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *adminService) GetSessionLogs(ctx context.Context, sessionID string) ([]studyshare.AuditEvent, error) {
	events, err := s.ledger.GetSessionLogs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read audit session %s: %w", sessionID, err)
	}
	if events == nil {
		events = []studyshare.AuditEvent{}
	}
	return events, nil
}

func toRepoFilter(f ItemFilters) studyshare.ItemFilter {
	return studyshare.ItemFilter{
		Course:        f.Course,
		Term:          f.Term,
		Subject:       f.Subject,
		Kind:          f.Kind,
		Statuses:      f.Statuses,
		OwnerID:       f.OwnerID,
		CreatedAfter:  f.CreatedAfter,
		CreatedBefore: f.CreatedBefore,
		Limit:         f.Limit,
		Offset:        f.Offset,
		SortOrder:     f.SortOrder,
	}
}
