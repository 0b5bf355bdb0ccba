package studyshare

import (
	"context"

	"github.com/google/uuid"
)

// categoryIndex answers capacity questions about a category using the
// kind's unit matching policy.
type categoryIndex struct {
	repo Repository
}

// countApproved returns how many approved items count toward key.
func (c categoryIndex) countApproved(ctx context.Context, key CategoryKey, exclude ...uuid.UUID) (int, error) {
	return c.repo.CountApproved(ctx, key, PolicyFor(key.Kind).UnitMatch, exclude...)
}

// existsExact reports whether the year slot of key is occupied.
// Kinds without a year dimension never occupy a slot.
func (c categoryIndex) existsExact(ctx context.Context, key CategoryKey) (bool, error) {
	if !PolicyFor(key.Kind).YearSlot {
		return false, nil
	}
	return c.repo.ExistsYearSlot(ctx, key)
}

// hasCapacity reports whether one more approved item fits into key.
func (c categoryIndex) hasCapacity(ctx context.Context, key CategoryKey, exclude ...uuid.UUID) (bool, error) {
	if PolicyFor(key.Kind).YearSlot {
		return true, nil
	}
	n, err := c.countApproved(ctx, key, exclude...)
	if err != nil {
		return false, err
	}
	return n < Capacity, nil
}
