package studyshare

import (
	"fmt"

	"github.com/google/uuid"
)

// canApprove checks if an item can be approved based on its status.
func canApprove(id uuid.UUID, status ItemStatus) (bool, error) {
	switch status {
	case ItemStatusPending:
		return true, nil
	case ItemStatusApproved:
		return false, &TransitionError{ItemID: id, Op: "approve", From: status, Reason: "item is already approved"}
	case ItemStatusRejected, ItemStatusRemoved:
		return false, &TransitionError{ItemID: id, Op: "approve", From: status}
	default:
		return false, fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, status)
	}
}

// canReject checks if an item can be rejected based on its status.
func canReject(id uuid.UUID, status ItemStatus) (bool, error) {
	switch status {
	case ItemStatusPending:
		return true, nil
	case ItemStatusApproved:
		return false, &TransitionError{ItemID: id, Op: "reject", From: status, Reason: "approved items can only be removed"}
	case ItemStatusRejected, ItemStatusRemoved:
		return false, &TransitionError{ItemID: id, Op: "reject", From: status}
	default:
		return false, fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, status)
	}
}

// canRemove checks if an item can be removed based on its status.
func canRemove(id uuid.UUID, status ItemStatus) (bool, error) {
	switch status {
	case ItemStatusApproved:
		return true, nil
	case ItemStatusPending:
		return false, &TransitionError{ItemID: id, Op: "remove", From: status, Reason: "pending items must be approved or rejected"}
	case ItemStatusRejected, ItemStatusRemoved:
		return false, &TransitionError{ItemID: id, Op: "remove", From: status}
	default:
		return false, fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, status)
	}
}

// canDownload checks if an item's blob may be served.
func canDownload(status ItemStatus) bool {
	return status == ItemStatusApproved
}
