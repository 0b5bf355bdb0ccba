package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// Repository implements studyshare.Repository using in-memory storage.
//
// Transactions are serialized by txMu, which makes every category lock a
// no-op. Writes inside a transaction record undo steps that are replayed
// when the transaction function fails.
type Repository struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	items     map[uuid.UUID]*studyshare.Item
	decisions []*studyshare.DecisionEntry
	scores    map[uuid.UUID]*score
	orphans   map[uuid.UUID]*studyshare.OrphanBlob
}

type score struct {
	ownerName string
	value     float64
}

type txKey struct{}

type txState struct {
	undo []func()
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		items:   make(map[uuid.UUID]*studyshare.Item),
		scores:  make(map[uuid.UUID]*score),
		orphans: make(map[uuid.UUID]*studyshare.OrphanBlob),
	}
}

var _ studyshare.Repository = (*Repository)(nil)

// Transaction operations

func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	state := &txState{}
	defer func() {
		if p := recover(); p != nil {
			r.rollback(state)
			panic(p)
		}
		if err != nil {
			r.rollback(state)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, state))
}

func (r *Repository) LockCategory(ctx context.Context, lockKey string) error {
	if _, ok := ctx.Value(txKey{}).(*txState); !ok {
		return fmt.Errorf("lock category %q: no transaction in context", lockKey)
	}
	return nil
}

func (r *Repository) rollback(state *txState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(state.undo) - 1; i >= 0; i-- {
		state.undo[i]()
	}
}

// onRollback registers an undo step. Callers hold r.mu.
func (r *Repository) onRollback(ctx context.Context, undo func()) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.undo = append(state.undo, undo)
	}
}

// Item operations

func (r *Repository) CreateItem(ctx context.Context, item *studyshare.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	r.items[item.ID] = copyItem(item)
	r.onRollback(ctx, func() { delete(r.items, item.ID) })
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*studyshare.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, studyshare.ErrItemNotFound
	}
	return copyItem(item), nil
}

func (r *Repository) UpdateItemStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status studyshare.ItemStatus, credit float64) (*studyshare.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[id]
	if !exists {
		return nil, studyshare.ErrItemNotFound
	}
	if item.Version != expectedVersion {
		return nil, studyshare.ErrVersionConflict
	}

	prevStatus, prevCredit, prevVersion, prevUpdated := item.Status, item.Credit, item.Version, item.UpdatedAt
	item.Status = status
	item.Credit = credit
	item.Version++
	item.UpdatedAt = time.Now().UTC()
	r.onRollback(ctx, func() {
		item.Status, item.Credit, item.Version, item.UpdatedAt = prevStatus, prevCredit, prevVersion, prevUpdated
	})

	return copyItem(item), nil
}

func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[id]
	if !exists {
		return studyshare.ErrItemNotFound
	}
	if item.Version != expectedVersion {
		return studyshare.ErrVersionConflict
	}

	delete(r.items, id)
	r.onRollback(ctx, func() { r.items[id] = item })
	return nil
}

func (r *Repository) ListItems(ctx context.Context, filter studyshare.ItemFilter) ([]*studyshare.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*studyshare.Item
	for _, item := range r.items {
		if filter.Matches(item) {
			result = append(result, copyItem(item))
		}
	}

	asc := filter.SortOrder == "asc"
	sort.Slice(result, func(i, j int) bool {
		if asc {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, filter.Limit, filter.Offset), nil
}

func (r *Repository) CountItems(ctx context.Context, filter studyshare.ItemFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, item := range r.items {
		if filter.Matches(item) {
			count++
		}
	}
	return count, nil
}

func (r *Repository) IncrementItemCounter(ctx context.Context, id uuid.UUID, counter studyshare.ItemCounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[id]
	if !exists {
		return studyshare.ErrItemNotFound
	}
	switch counter {
	case studyshare.CounterViews:
		item.ViewCount++
	case studyshare.CounterDownloads:
		item.DownloadCount++
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

// Category index operations

func (r *Repository) CountApproved(ctx context.Context, key studyshare.CategoryKey, match studyshare.UnitMatch, exclude ...uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, item := range r.items {
		if item.Status != studyshare.ItemStatusApproved || !sameBucket(item.Category, key) {
			continue
		}
		if containsID(exclude, item.ID) {
			continue
		}
		if studyshare.MatchUnits(match, item.Category.Units, key.Units) {
			count++
		}
	}
	return count, nil
}

func (r *Repository) ExistsYearSlot(ctx context.Context, key studyshare.CategoryKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, item := range r.items {
		if item.Status != studyshare.ItemStatusApproved && item.Status != studyshare.ItemStatusPending {
			continue
		}
		if sameBucket(item.Category, key) && item.Category.Year == key.Year {
			return true, nil
		}
	}
	return false, nil
}

// Decision log operations

func (r *Repository) AppendDecision(ctx context.Context, entry *studyshare.DecisionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryCopy := *entry
	r.decisions = append(r.decisions, &entryCopy)
	n := len(r.decisions)
	r.onRollback(ctx, func() { r.decisions = r.decisions[:n-1] })
	return nil
}

func (r *Repository) ListDecisions(ctx context.Context, filter studyshare.DecisionFilter) ([]*studyshare.DecisionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*studyshare.DecisionEntry
	for _, entry := range r.decisions {
		if filter.ItemID != nil && !entry.References(*filter.ItemID) {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		entryCopy := *entry
		result = append(result, &entryCopy)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// Contributor score operations

func (r *Repository) AddContributorScore(ctx context.Context, ownerID uuid.UUID, ownerName string, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.scores[ownerID]
	if !exists {
		s = &score{}
		r.scores[ownerID] = s
	}
	prevName := s.ownerName
	s.value += delta
	if ownerName != "" {
		s.ownerName = ownerName
	}
	r.onRollback(ctx, func() {
		if !exists {
			delete(r.scores, ownerID)
			return
		}
		s.value -= delta
		s.ownerName = prevName
	})
	return nil
}

func (r *Repository) GetContributorScore(ctx context.Context, ownerID uuid.UUID) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, exists := r.scores[ownerID]; exists {
		return s.value, nil
	}
	return 0, nil
}

// Orphan blob operations

func (r *Repository) EnqueueOrphanBlob(ctx context.Context, blob *studyshare.OrphanBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blobCopy := *blob
	r.orphans[blob.ID] = &blobCopy
	r.onRollback(ctx, func() { delete(r.orphans, blob.ID) })
	return nil
}

func (r *Repository) ListOrphanBlobs(ctx context.Context, limit int) ([]*studyshare.OrphanBlob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*studyshare.OrphanBlob, 0, len(r.orphans))
	for _, blob := range r.orphans {
		blobCopy := *blob
		result = append(result, &blobCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *Repository) DeleteOrphanBlob(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orphans[id]; !exists {
		return fmt.Errorf("orphan blob %s: %w", id, studyshare.ErrNotFound)
	}
	delete(r.orphans, id)
	return nil
}

func (r *Repository) MarkOrphanBlobAttempt(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob, exists := r.orphans[id]
	if !exists {
		return fmt.Errorf("orphan blob %s: %w", id, studyshare.ErrNotFound)
	}
	now := time.Now().UTC()
	blob.Attempts++
	blob.LastAttemptAt = &now
	return nil
}

// Helper functions

func copyItem(item *studyshare.Item) *studyshare.Item {
	c := *item
	c.Category.Units = append([]string(nil), item.Category.Units...)
	c.Topics = append([]string(nil), item.Topics...)
	if item.RelevanceScore != nil {
		v := *item.RelevanceScore
		c.RelevanceScore = &v
	}
	return &c
}

func sameBucket(a, b studyshare.CategoryKey) bool {
	return a.Course == b.Course && a.Term == b.Term && a.Subject == b.Subject && a.Kind == b.Kind
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func paginate(items []*studyshare.Item, limit, offset *int) []*studyshare.Item {
	start := 0
	if offset != nil && *offset > 0 {
		start = *offset
	}
	if start >= len(items) {
		return []*studyshare.Item{}
	}
	end := len(items)
	if limit != nil && *limit > 0 && start+*limit < end {
		end = start + *limit
	}
	return items[start:end]
}
