package studyshare

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repository.GetItem(ctx, id)
}

func (s *service) ListItems(ctx context.Context, req ListItemsRequest) ([]*Item, error) {
	filter := ItemFilter{
		Course:   req.Category.Course,
		Term:     req.Category.Term,
		Subject:  req.Category.Subject,
		Statuses: req.Statuses,
		OwnerID:  req.OwnerID,
	}
	if req.Category.Kind != "" {
		filter.Kind = NormalizeCategory(CategoryKey{Kind: req.Category.Kind}).Kind
	}
	// Units follow the kind's matching policy; without a kind any shared unit matches.
	if len(req.Category.Units) > 0 {
		filter.Units = NormalizeUnits(req.Category.Units)
		filter.UnitMatch = UnitMatchOverlap
		if filter.Kind != "" {
			filter.UnitMatch = PolicyFor(filter.Kind).UnitMatch
		}
	}
	if req.Limit > 0 {
		limit, offset := req.Limit, req.Offset
		filter.Limit = &limit
		filter.Offset = &offset
	}

	return s.repository.ListItems(ctx, filter)
}

// ListByOwner returns an owner's contribution history, newest first.
func (s *service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Item, error) {
	return s.repository.ListItems(ctx, NewItemFilter(WithOwner(ownerID)))
}

func (s *service) ContributorScore(ctx context.Context, ownerID uuid.UUID) (float64, error) {
	return s.repository.GetContributorScore(ctx, ownerID)
}

// ItemHistory scans the Session Activity Log for the item and adds its
// Decision Log entries. The activity scan visits every session.
func (s *service) ItemHistory(ctx context.Context, actor Actor, itemID uuid.UUID) (*ItemHistory, error) {
	if err := requireAdmin(actor, "item history"); err != nil {
		return nil, err
	}

	activity, err := s.activity.Query(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	decisions, err := s.repository.ListDecisions(ctx, DecisionFilter{ItemID: &itemID})
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	if activity == nil {
		activity = []*HistoryEntry{}
	}
	if decisions == nil {
		decisions = []*DecisionEntry{}
	}

	return &ItemHistory{ItemID: itemID, Activity: activity, Decisions: decisions}, nil
}

// RecordView counts a view of an approved item and logs it to the session.
func (s *service) RecordView(ctx context.Context, actor Actor, itemID uuid.UUID) error {
	item, err := s.repository.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !canDownload(item.Status) {
		return ErrItemNotFound
	}
	if err := s.repository.IncrementItemCounter(ctx, itemID, CounterViews); err != nil {
		return &ItemError{ItemID: itemID, Op: "view", Err: err}
	}

	s.recordActivity(ctx, actor, ActionViewed, map[string]interface{}{
		"itemId":   item.ID.String(),
		"fileName": item.FileName,
		"course":   item.Category.Course,
		"subject":  item.Category.Subject,
		"kind":     string(item.Category.Kind),
	})
	s.dispatchAudit(actor, AuditEvent{
		ActionType: "view",
		ItemID:     &item.ID,
		BlobID:     item.BlobKey,
		ItemStatus: item.Status,
	})
	return nil
}

// DownloadItem streams the blob of an approved item. The caller closes the reader.
func (s *service) DownloadItem(ctx context.Context, actor Actor, itemID uuid.UUID) (*Download, error) {
	item, err := s.repository.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !canDownload(item.Status) {
		return nil, ErrItemNotFound
	}

	store, err := s.GetBlobStore(item.BlobBackend)
	if err != nil {
		return nil, err
	}
	if !store.Ready() {
		return nil, &StorageError{Backend: item.BlobBackend, Key: item.BlobKey, Op: "download", Err: ErrStorageUnavailable}
	}

	reader, err := store.Download(ctx, item.BlobKey)
	if err != nil {
		return nil, &StorageError{Backend: item.BlobBackend, Key: item.BlobKey, Op: "download", Err: err}
	}

	if err := s.repository.IncrementItemCounter(ctx, itemID, CounterDownloads); err != nil {
		s.logger.WarnContext(ctx, "failed to count download", "item_id", itemID, "err", err)
	}
	s.dispatchAudit(actor, AuditEvent{
		ActionType: "download",
		ItemID:     &item.ID,
		BlobID:     item.BlobKey,
		ItemStatus: item.Status,
	})

	return &Download{Item: item, Reader: reader}, nil
}
