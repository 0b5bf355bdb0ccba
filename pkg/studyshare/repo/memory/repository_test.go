package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/repo/memory"
)

func newItem(kind studyshare.Kind, status studyshare.ItemStatus, units ...string) *studyshare.Item {
	now := time.Now().UTC()
	return &studyshare.Item{
		ID: uuid.New(),
		Category: studyshare.NormalizeCategory(studyshare.CategoryKey{
			Course:  "CS",
			Term:    "2024-1",
			Subject: "CS201",
			Kind:    kind,
			Units:   units,
		}),
		OwnerID:   uuid.New(),
		OwnerName: "alice",
		Status:    status,
		BlobKey:   "objects/ab/cd",
		FileName:  "notes.pdf",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryRepository_ItemOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		item := newItem(studyshare.KindNotes, studyshare.ItemStatusPending, "unit 1")
		require.NoError(t, repo.CreateItem(ctx, item))

		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)
		assert.Equal(t, []string{"unit 1"}, got.Category.Units)

		// Returned copies are detached from stored state
		got.Category.Units[0] = "mutated"
		again, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, "unit 1", again.Category.Units[0])
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetItem(ctx, uuid.New())
		assert.ErrorIs(t, err, studyshare.ErrItemNotFound)
		assert.ErrorIs(t, err, studyshare.ErrNotFound)
	})

	t.Run("UpdateStatusChecksVersion", func(t *testing.T) {
		item := newItem(studyshare.KindBooks, studyshare.ItemStatusPending)
		require.NoError(t, repo.CreateItem(ctx, item))

		updated, err := repo.UpdateItemStatus(ctx, item.ID, 1, studyshare.ItemStatusApproved, 1.0)
		require.NoError(t, err)
		assert.Equal(t, studyshare.ItemStatusApproved, updated.Status)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, 1.0, updated.Credit)

		_, err = repo.UpdateItemStatus(ctx, item.ID, 1, studyshare.ItemStatusRejected, 1.0)
		assert.ErrorIs(t, err, studyshare.ErrVersionConflict)
	})

	t.Run("DeleteChecksVersion", func(t *testing.T) {
		item := newItem(studyshare.KindBooks, studyshare.ItemStatusApproved)
		require.NoError(t, repo.CreateItem(ctx, item))

		assert.ErrorIs(t, repo.DeleteItem(ctx, item.ID, 7), studyshare.ErrVersionConflict)
		require.NoError(t, repo.DeleteItem(ctx, item.ID, 1))
		assert.ErrorIs(t, repo.DeleteItem(ctx, item.ID, 1), studyshare.ErrItemNotFound)
	})

	t.Run("Counters", func(t *testing.T) {
		item := newItem(studyshare.KindBooks, studyshare.ItemStatusApproved)
		require.NoError(t, repo.CreateItem(ctx, item))

		require.NoError(t, repo.IncrementItemCounter(ctx, item.ID, studyshare.CounterViews))
		require.NoError(t, repo.IncrementItemCounter(ctx, item.ID, studyshare.CounterViews))
		require.NoError(t, repo.IncrementItemCounter(ctx, item.ID, studyshare.CounterDownloads))

		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.ViewCount)
		assert.Equal(t, int64(1), got.DownloadCount)
	})
}

func TestMemoryRepository_CategoryIndex(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	for _, item := range []*studyshare.Item{
		newItem(studyshare.KindNotes, studyshare.ItemStatusApproved, "unit 1", "unit 2"),
		newItem(studyshare.KindNotes, studyshare.ItemStatusApproved, "unit 3"),
		newItem(studyshare.KindNotes, studyshare.ItemStatusPending, "unit 2"),
	} {
		require.NoError(t, repo.CreateItem(ctx, item))
	}

	key := studyshare.NormalizeCategory(studyshare.CategoryKey{
		Course: "CS", Term: "2024-1", Subject: "CS201", Kind: studyshare.KindNotes,
		Units: []string{"Unit 2", "unit 3"},
	})

	tests := []struct {
		name  string
		match studyshare.UnitMatch
		want  int
	}{
		{"overlap counts any shared unit", studyshare.UnitMatchOverlap, 2},
		{"exact requires equal sets", studyshare.UnitMatchExact, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := repo.CountApproved(ctx, key, tt.match)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	t.Run("YearSlot", func(t *testing.T) {
		paper := newItem(studyshare.KindPastQuestions, studyshare.ItemStatusPending)
		paper.Category.Year = "2023"
		require.NoError(t, repo.CreateItem(ctx, paper))

		slot := paper.Category
		exists, err := repo.ExistsYearSlot(ctx, slot)
		require.NoError(t, err)
		assert.True(t, exists)

		slot.Year = "2022"
		exists, err = repo.ExistsYearSlot(ctx, slot)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestMemoryRepository_TransactionRollback(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	item := newItem(studyshare.KindBooks, studyshare.ItemStatusPending)
	require.NoError(t, repo.CreateItem(ctx, item))

	boom := errors.New("boom")
	err := repo.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.LockCategory(ctx, item.Category.LockKey()))
		if _, err := repo.UpdateItemStatus(ctx, item.ID, 1, studyshare.ItemStatusApproved, 1.0); err != nil {
			return err
		}
		if err := repo.AddContributorScore(ctx, item.OwnerID, item.OwnerName, 0.5); err != nil {
			return err
		}
		if err := repo.AppendDecision(ctx, &studyshare.DecisionEntry{ID: uuid.New(), ItemID: item.ID}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, studyshare.ItemStatusPending, got.Status)
	assert.Equal(t, 1, got.Version)

	score, err := repo.GetContributorScore(ctx, item.OwnerID)
	require.NoError(t, err)
	assert.Zero(t, score)

	decisions, err := repo.ListDecisions(ctx, studyshare.DecisionFilter{ItemID: &item.ID})
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestMemoryRepository_LockRequiresTransaction(t *testing.T) {
	repo := memory.New()
	assert.Error(t, repo.LockCategory(context.Background(), "cs|2024|cs201|notes"))
}

func TestMemoryRepository_ListItems(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	owner := uuid.New()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		item := newItem(studyshare.KindBooks, studyshare.ItemStatusApproved)
		item.OwnerID = owner
		item.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateItem(ctx, item))
	}
	require.NoError(t, repo.CreateItem(ctx, newItem(studyshare.KindBooks, studyshare.ItemStatusPending)))

	items, err := repo.ListItems(ctx, studyshare.NewItemFilter(studyshare.WithOwner(owner), studyshare.WithPagination(2, 1)))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	count, err := repo.CountItems(ctx, studyshare.NewItemFilter(studyshare.WithStatuses(studyshare.ItemStatusPending)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryRepository_ListItemsUnitsBeforePagination(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, unit := range []string{"u1", "u2", "u2"} {
		item := newItem(studyshare.KindNotes, studyshare.ItemStatusApproved, unit)
		item.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateItem(ctx, item))
	}

	items, err := repo.ListItems(ctx, studyshare.NewItemFilter(
		studyshare.WithUnits(studyshare.UnitMatchOverlap, "u1"),
		studyshare.WithPagination(2, 0),
	))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"u1"}, items[0].Category.Units)

	count, err := repo.CountItems(ctx, studyshare.NewItemFilter(studyshare.WithUnits(studyshare.UnitMatchExact, "u2")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryRepository_OrphanBlobs(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	blob := &studyshare.OrphanBlob{ID: uuid.New(), Backend: "memory", Key: "objects/aa/bb", CreatedAt: time.Now()}
	require.NoError(t, repo.EnqueueOrphanBlob(ctx, blob))
	require.NoError(t, repo.MarkOrphanBlobAttempt(ctx, blob.ID))

	blobs, err := repo.ListOrphanBlobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, 1, blobs[0].Attempts)
	assert.NotNil(t, blobs[0].LastAttemptAt)

	require.NoError(t, repo.DeleteOrphanBlob(ctx, blob.ID))
	blobs, err = repo.ListOrphanBlobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}
