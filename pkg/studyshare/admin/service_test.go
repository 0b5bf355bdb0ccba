package admin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/admin"
	ledgermemory "github.com/tendant/studyshare/pkg/studyshare/ledger/memory"
	"github.com/tendant/studyshare/pkg/studyshare/repo/memory"
)

func seed(t *testing.T, repo *memory.Repository, kind studyshare.Kind, status studyshare.ItemStatus, created time.Time, units ...string) *studyshare.Item {
	t.Helper()
	item := &studyshare.Item{
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
		BlobKey:   "objects/" + uuid.NewString(),
		FileName:  "file.pdf",
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, repo.CreateItem(context.Background(), item))
	return item
}

func TestAdminService_ListPending(t *testing.T) {
	repo := memory.New()
	svc := admin.New(repo, admin.WithConcurrency(2))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	a := seed(t, repo, studyshare.KindNotes, studyshare.ItemStatusApproved, base, "unit 1")
	seed(t, repo, studyshare.KindNotes, studyshare.ItemStatusApproved, base, "unit 9")
	seed(t, repo, studyshare.KindBooks, studyshare.ItemStatusApproved, base)
	first := seed(t, repo, studyshare.KindNotes, studyshare.ItemStatusPending, base.Add(time.Minute), "unit 1", "unit 2")
	second := seed(t, repo, studyshare.KindBooks, studyshare.ItemStatusPending, base.Add(2*time.Minute))

	resp, err := svc.ListPending(ctx, admin.ListPendingRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.False(t, resp.HasMore)
	assert.Equal(t, 100, resp.Limit)

	// Oldest first
	assert.Equal(t, first.ID, resp.Items[0].Item.ID)
	require.Len(t, resp.Items[0].Siblings, 1)
	assert.Equal(t, a.ID, resp.Items[0].Siblings[0].ID)

	assert.Equal(t, second.ID, resp.Items[1].Item.ID)
	assert.Len(t, resp.Items[1].Siblings, 1)

	t.Run("Pagination", func(t *testing.T) {
		resp, err := svc.ListPending(ctx, admin.ListPendingRequest{Limit: 1})
		require.NoError(t, err)
		require.Len(t, resp.Items, 1)
		assert.True(t, resp.HasMore)
		assert.Equal(t, first.ID, resp.Items[0].Item.ID)
	})
}

func TestAdminService_ListAndCount(t *testing.T) {
	repo := memory.New()
	svc := admin.New(repo)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		seed(t, repo, studyshare.KindBooks, studyshare.ItemStatusApproved, base.Add(time.Duration(i)*time.Minute))
	}
	seed(t, repo, studyshare.KindNotes, studyshare.ItemStatusRejected, base)

	resp, err := svc.ListItems(ctx, admin.NewListItemsRequest(
		admin.WithStatuses(studyshare.ItemStatusApproved),
		admin.WithPagination(2, 0),
	))
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, 2, resp.Limit)

	count, err := svc.CountItems(ctx, admin.CountRequest{Filters: admin.ItemFilters{Kind: studyshare.KindBooks}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.Count)

	after := base.Add(90 * time.Second)
	count, err = svc.CountItems(ctx, admin.CountRequest{Filters: admin.ItemFilters{CreatedAfter: &after}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.Count)
}

func TestAdminService_GetStatistics(t *testing.T) {
	repo := memory.New()
	svc := admin.New(repo)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seed(t, repo, studyshare.KindBooks, studyshare.ItemStatusApproved, base)
	seed(t, repo, studyshare.KindNotes, studyshare.ItemStatusPending, base.Add(time.Hour), "unit 1")
	seed(t, repo, studyshare.KindNotes, studyshare.ItemStatusRejected, base.Add(2*time.Hour), "unit 2")

	resp, err := svc.GetStatistics(ctx, admin.StatisticsRequest{Options: admin.DefaultStatisticsOptions()})
	require.NoError(t, err)

	stats := resp.Statistics
	assert.Equal(t, int64(3), stats.TotalCount)
	assert.Equal(t, int64(1), stats.ByStatus["approved"])
	assert.Equal(t, int64(1), stats.ByStatus["pending"])
	assert.Equal(t, int64(1), stats.ByStatus["rejected"])
	assert.Equal(t, int64(2), stats.ByKind["notes"])
	assert.Equal(t, int64(1), stats.ByKind["books"])
	require.NotNil(t, stats.OldestItem)
	require.NotNil(t, stats.NewestItem)
	assert.True(t, stats.OldestItem.Equal(base))
	assert.True(t, stats.NewestItem.Equal(base.Add(2*time.Hour)))
	assert.False(t, resp.ComputedAt.IsZero())

	t.Run("CountOnly", func(t *testing.T) {
		resp, err := svc.GetStatistics(ctx, admin.StatisticsRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), resp.Statistics.TotalCount)
		assert.Nil(t, resp.Statistics.ByStatus)
		assert.Nil(t, resp.Statistics.ByKind)
		assert.Nil(t, resp.Statistics.OldestItem)
	})
}

func TestAdminService_Sessions(t *testing.T) {
	ctx := context.Background()

	t.Run("WithoutLedger", func(t *testing.T) {
		svc := admin.New(memory.New())
		ids, err := svc.ListSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("WithLedger", func(t *testing.T) {
		ledger := ledgermemory.New()
		itemID := uuid.New()
		require.NoError(t, ledger.LogAction(ctx, studyshare.AuditEvent{SessionID: "s-2", ActionType: "view", ItemID: &itemID}))
		require.NoError(t, ledger.LogAction(ctx, studyshare.AuditEvent{SessionID: "s-1", ActionType: "upload"}))
		require.NoError(t, ledger.LogAction(ctx, studyshare.AuditEvent{SessionID: "s-2", ActionType: "download", ItemID: &itemID}))

		svc := admin.New(memory.New(), admin.WithAuditLedger(ledger))
		ids, err := svc.ListSessions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"s-1", "s-2"}, ids)

		events, err := svc.GetSessionLogs(ctx, "s-2")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "view", events[0].ActionType)
		assert.Equal(t, "download", events[1].ActionType)

		events, err = svc.GetSessionLogs(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("LedgerError", func(t *testing.T) {
		svc := admin.New(memory.New(), admin.WithAuditLedger(brokenLedger{}))
		_, err := svc.ListSessions(ctx)
		assert.ErrorIs(t, err, errLedgerDown)
	})
}

var errLedgerDown = errors.New("ledger down")

type brokenLedger struct{}

func (brokenLedger) LogAction(context.Context, studyshare.AuditEvent) error { return errLedgerDown }
func (brokenLedger) GetSessionLogs(context.Context, string) ([]studyshare.AuditEvent, error) {
	return nil, errLedgerDown
}
func (brokenLedger) GetAllSessionIDs(context.Context) ([]string, error) { return nil, errLedgerDown }
