package studyshare

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

func requireAdmin(actor Actor, op string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: %s requires an admin", ErrUnauthorized, op)
	}
	return nil
}

// Approve publishes a pending item, optionally retiring a replacement target.
func (s *service) Approve(ctx context.Context, req ApproveRequest) (*ModerationResult, error) {
	const op = "approve"
	if err := requireAdmin(req.Actor, op); err != nil {
		return nil, err
	}
	if req.ReplaceItemID != nil && *req.ReplaceItemID == req.ItemID {
		return nil, NewValidationError("replaceItemId", "must differ from the approved item")
	}

	item, err := s.loadItem(ctx, req.ItemID, op)
	if err != nil {
		return nil, err
	}
	if ok, err := canApprove(item.ID, item.Status); !ok {
		return nil, err
	}

	var target *Item
	if req.ReplaceItemID != nil {
		target, err = s.repository.GetItem(ctx, *req.ReplaceItemID)
		switch {
		case errors.Is(err, ErrItemNotFound):
			s.logger.InfoContext(ctx, "replacement target not found, approving without replacement",
				"item_id", item.ID, "replace_item_id", *req.ReplaceItemID)
			target = nil
		case err != nil:
			return nil, &ItemError{ItemID: *req.ReplaceItemID, Op: op, Err: err}
		}
		if target != nil && !sameCategory(item.Category, target.Category) {
			return nil, NewValidationError("replaceItemId", "must be in the same category")
		}
	}

	entry := &DecisionEntry{
		ID:        uuid.New(),
		Type:      DecisionTypeApproval,
		AdminID:   req.Actor.ID,
		AdminName: req.Actor.Name,
		Decision:  DecisionApprove,
		ItemID:    item.ID,
		Reason:    req.Reason,
		CreatedAt: s.now(),
	}
	if target != nil {
		entry.Type = DecisionTypeReplacement
		entry.Decision = DecisionReplace
		entry.Superseded = target.Snapshot()
	}

	idx := categoryIndex{repo: s.repository}
	var approved *Item
	err = s.repository.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repository.LockCategory(ctx, item.Category.LockKey()); err != nil {
			return err
		}
		if target != nil {
			err := s.repository.DeleteItem(ctx, target.ID, target.Version)
			switch {
			case errors.Is(err, ErrItemNotFound):
				s.logger.InfoContext(ctx, "replacement target removed concurrently, approving without replacement",
					"item_id", item.ID, "replace_item_id", target.ID)
				target = nil
				entry.Type = DecisionTypeApproval
				entry.Decision = DecisionApprove
				entry.Superseded = nil
			case err != nil:
				return err
			}
		}

		fits, err := idx.hasCapacity(ctx, item.Category)
		if err != nil {
			return err
		}
		if !fits {
			return &TransitionError{
				ItemID: item.ID,
				Op:     op,
				From:   item.Status,
				Reason: fmt.Sprintf("category already holds %d approved items, approve with a replacement", Capacity),
			}
		}

		approved, err = s.repository.UpdateItemStatus(ctx, item.ID, item.Version, ItemStatusApproved, item.Credit+creditApproval)
		if err != nil {
			return err
		}
		if err := s.repository.AddContributorScore(ctx, item.OwnerID, item.OwnerName, creditApproval); err != nil {
			return err
		}
		entry.Subject = approved.Snapshot()
		return s.repository.AppendDecision(ctx, entry)
	})
	if err != nil {
		return nil, s.moderationError(ctx, op, item, err)
	}

	if target != nil {
		s.deleteBlob(ctx, target.BlobBackend, target.BlobKey, "replaced by "+item.ID.String())
	}

	s.logger.InfoContext(ctx, "item approved",
		"item_id", item.ID,
		"decision", entry.Decision,
		"admin", req.Actor.Name)

	s.logHookError(ctx, "status_change", s.hooks.executeOnStatusChange(ctx, item.ID, item.Status, ItemStatusApproved))
	if target != nil {
		s.logHookError(ctx, "status_change", s.hooks.executeOnStatusChange(ctx, target.ID, target.Status, ItemStatusRemoved))
	}
	s.logHookError(ctx, "after_decision", s.hooks.executeAfterDecision(ctx, entry))

	details := map[string]interface{}{
		"action":     string(entry.Decision),
		"decisionId": entry.ID.String(),
		"reason":     req.Reason,
	}
	if target != nil {
		details["old"] = itemReference(target)
		details["new"] = itemReference(approved)
	} else {
		details["itemId"] = item.ID.String()
		details["fileName"] = item.FileName
	}
	s.recordActivity(ctx, req.Actor, ActionResourceManaged, details)

	s.dispatchAudit(req.Actor, AuditEvent{
		ActionType:        string(entry.Decision),
		ItemID:            &approved.ID,
		BlobID:            approved.BlobKey,
		ItemStatus:        approved.Status,
		ContributorName:   approved.OwnerName,
		ContributorStatus: "credited",
	})

	return &ModerationResult{Item: approved, Decision: entry, Replaced: target}, nil
}

// Reject closes a pending item and discards its blob.
func (s *service) Reject(ctx context.Context, req RejectRequest) (*ModerationResult, error) {
	const op = "reject"
	if err := requireAdmin(req.Actor, op); err != nil {
		return nil, err
	}

	item, err := s.loadItem(ctx, req.ItemID, op)
	if err != nil {
		return nil, err
	}
	if ok, err := canReject(item.ID, item.Status); !ok {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = DefaultRejectReason
	}

	entry := &DecisionEntry{
		ID:        uuid.New(),
		Type:      DecisionTypeRejection,
		AdminID:   req.Actor.ID,
		AdminName: req.Actor.Name,
		Decision:  DecisionReject,
		ItemID:    item.ID,
		Reason:    reason,
		CreatedAt: s.now(),
	}

	var rejected *Item
	err = s.repository.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rejected, err = s.repository.UpdateItemStatus(ctx, item.ID, item.Version, ItemStatusRejected, item.Credit)
		if err != nil {
			return err
		}
		entry.Subject = rejected.Snapshot()
		return s.repository.AppendDecision(ctx, entry)
	})
	if err != nil {
		return nil, s.moderationError(ctx, op, item, err)
	}

	s.deleteBlob(ctx, item.BlobBackend, item.BlobKey, "rejected")

	s.logger.InfoContext(ctx, "item rejected",
		"item_id", item.ID,
		"reason", reason,
		"admin", req.Actor.Name)

	s.logHookError(ctx, "status_change", s.hooks.executeOnStatusChange(ctx, item.ID, item.Status, ItemStatusRejected))
	s.logHookError(ctx, "after_decision", s.hooks.executeAfterDecision(ctx, entry))

	s.recordActivity(ctx, req.Actor, ActionResourceManaged, map[string]interface{}{
		"action":     string(DecisionReject),
		"decisionId": entry.ID.String(),
		"itemId":     item.ID.String(),
		"fileName":   item.FileName,
		"reason":     reason,
	})
	s.dispatchAudit(req.Actor, AuditEvent{
		ActionType:      string(DecisionReject),
		ItemID:          &rejected.ID,
		BlobID:          item.BlobKey,
		ItemStatus:      ItemStatusRejected,
		ContributorName: item.OwnerName,
	})

	return &ModerationResult{Item: rejected, Decision: entry}, nil
}

// Remove retires an approved item: the record and its blob are deleted.
func (s *service) Remove(ctx context.Context, req RemoveRequest) (*ModerationResult, error) {
	const op = "remove"
	if err := requireAdmin(req.Actor, op); err != nil {
		return nil, err
	}

	item, err := s.loadItem(ctx, req.ItemID, op)
	if err != nil {
		return nil, err
	}
	if ok, err := canRemove(item.ID, item.Status); !ok {
		return nil, err
	}

	subject := item.Snapshot()
	subject.Status = ItemStatusRemoved
	entry := &DecisionEntry{
		ID:          uuid.New(),
		Type:        DecisionTypeRemoval,
		AdminID:     req.Actor.ID,
		AdminName:   req.Actor.Name,
		Decision:    DecisionRemove,
		ItemID:      item.ID,
		Subject:     subject,
		Reason:      req.Reason,
		Fingerprint: item.Fingerprint,
		CreatedAt:   s.now(),
	}

	err = s.repository.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repository.AppendDecision(ctx, entry); err != nil {
			return err
		}
		return s.repository.DeleteItem(ctx, item.ID, item.Version)
	})
	if err != nil {
		return nil, s.moderationError(ctx, op, item, err)
	}

	s.deleteBlob(ctx, item.BlobBackend, item.BlobKey, "removed")

	s.logger.InfoContext(ctx, "item removed",
		"item_id", item.ID,
		"fingerprint", item.Fingerprint,
		"admin", req.Actor.Name)

	s.logHookError(ctx, "status_change", s.hooks.executeOnStatusChange(ctx, item.ID, item.Status, ItemStatusRemoved))
	s.logHookError(ctx, "after_decision", s.hooks.executeAfterDecision(ctx, entry))

	s.recordActivity(ctx, req.Actor, ActionResourceManaged, map[string]interface{}{
		"action":      string(DecisionRemove),
		"decisionId":  entry.ID.String(),
		"itemId":      item.ID.String(),
		"fileName":    item.FileName,
		"fingerprint": item.Fingerprint,
		"reason":      req.Reason,
	})
	s.dispatchAudit(req.Actor, AuditEvent{
		ActionType:      string(DecisionRemove),
		ItemID:          &item.ID,
		BlobID:          item.BlobKey,
		ItemStatus:      ItemStatusRemoved,
		ContributorName: item.OwnerName,
	})

	removed := *item
	removed.Status = ItemStatusRemoved
	return &ModerationResult{Item: &removed, Decision: entry}, nil
}

func (s *service) loadItem(ctx context.Context, id uuid.UUID, op string) (*Item, error) {
	item, err := s.repository.GetItem(ctx, id)
	if err != nil {
		return nil, &ItemError{ItemID: id, Op: op, Err: err}
	}
	return item, nil
}

// moderationError maps a failed moderation transaction. A lost version race
// means another decision won and is reported as an invalid transition.
func (s *service) moderationError(ctx context.Context, op string, item *Item, err error) error {
	s.fireError(ctx, op, err)

	var te *TransitionError
	switch {
	case errors.As(err, &te):
		return err
	case errors.Is(err, ErrVersionConflict):
		return &TransitionError{ItemID: item.ID, Op: op, From: item.Status, Reason: "item was modified concurrently"}
	default:
		return &ItemError{ItemID: item.ID, Op: op, Err: err}
	}
}

func itemReference(item *Item) map[string]interface{} {
	return map[string]interface{}{
		"itemId":   item.ID.String(),
		"fileName": item.FileName,
		"owner":    item.OwnerName,
	}
}

// sameCategory reports whether target competes for the same capacity as item:
// same bucket, units matching under the kind's policy, and for year-slot kinds
// the same year.
func sameCategory(item, target CategoryKey) bool {
	if item.LockKey() != target.LockKey() {
		return false
	}
	policy := PolicyFor(item.Kind)
	if policy.YearSlot && item.Year != target.Year {
		return false
	}
	return MatchUnits(policy.UnitMatch, item.Units, target.Units)
}
