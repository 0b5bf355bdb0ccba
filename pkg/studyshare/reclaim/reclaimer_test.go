package reclaim_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/reclaim"
	"github.com/tendant/studyshare/pkg/studyshare/repo/memory"
	memorystorage "github.com/tendant/studyshare/pkg/studyshare/storage/memory"
)

type stores map[string]studyshare.BlobStore

func (s stores) GetBlobStore(name string) (studyshare.BlobStore, error) {
	store, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", studyshare.ErrBlobStoreNotFound, name)
	}
	return store, nil
}

func setup(t *testing.T, n int) (*memory.Repository, *memorystorage.Backend, []*studyshare.OrphanBlob) {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	store := memorystorage.New()

	base := time.Now().UTC().Add(-time.Hour)
	var blobs []*studyshare.OrphanBlob
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("objects/%02d", i)
		require.NoError(t, store.Upload(ctx, bytes.NewReader([]byte("x")), studyshare.UploadParams{ObjectKey: key}))
		blob := &studyshare.OrphanBlob{
			ID:        uuid.New(),
			Backend:   "memory",
			Key:       key,
			Reason:    "rejected",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.EnqueueOrphanBlob(ctx, blob))
		blobs = append(blobs, blob)
	}
	return repo, store, blobs
}

func TestReclaimer_DrainsQueue(t *testing.T) {
	repo, store, _ := setup(t, 7)
	ctx := context.Background()

	var progress [][2]int64
	r := reclaim.New(repo, stores{"memory": store})
	result, err := r.Run(ctx, reclaim.Options{
		BatchSize: 3,
		OnProgress: func(processed, total int64) {
			progress = append(progress, [2]int64{processed, total})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.TotalFound)
	assert.Equal(t, int64(7), result.TotalReclaimed)
	assert.Zero(t, result.TotalFailed)
	assert.Equal(t, 0, store.Len())
	assert.NotEmpty(t, progress)
	assert.Equal(t, [2]int64{7, 7}, progress[len(progress)-1])

	remaining, err := repo.ListOrphanBlobs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReclaimer_MissingBlobCountsAsReclaimed(t *testing.T) {
	repo, store, blobs := setup(t, 2)
	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, blobs[0].Key))

	result, err := reclaim.New(repo, stores{"memory": store}).Run(ctx, reclaim.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalReclaimed)

	remaining, err := repo.ListOrphanBlobs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReclaimer_FailuresStayQueued(t *testing.T) {
	repo, store, blobs := setup(t, 4)
	ctx := context.Background()
	store.FailDeletes(errors.New("disk on fire"))

	r := reclaim.New(repo, stores{"memory": store})
	result, err := r.Run(ctx, reclaim.Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.TotalFound)
	assert.Equal(t, int64(4), result.TotalFailed)
	assert.Len(t, result.FailedIDs, 4)

	remaining, err := repo.ListOrphanBlobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 4)
	for _, blob := range remaining {
		assert.Equal(t, 1, blob.Attempts)
	}

	t.Run("MaxAttemptsSkips", func(t *testing.T) {
		result, err := r.Run(ctx, reclaim.Options{MaxAttempts: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.TotalSkipped)
		assert.Zero(t, result.TotalFailed)
	})

	t.Run("RecoveredStore", func(t *testing.T) {
		store.FailDeletes(nil)
		result, err := r.Run(ctx, reclaim.Options{})
		require.NoError(t, err)
		assert.Equal(t, int64(len(blobs)), result.TotalReclaimed)
		assert.Equal(t, 0, store.Len())
	})
}

func TestReclaimer_UnavailableStore(t *testing.T) {
	repo, store, _ := setup(t, 1)
	store.SetReady(false)

	result, err := reclaim.New(repo, stores{"memory": store}).Run(context.Background(), reclaim.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalFailed)
	assert.Equal(t, 1, store.Len())
}

func TestReclaimer_UnknownBackend(t *testing.T) {
	repo, _, _ := setup(t, 1)

	result, err := reclaim.New(repo, stores{}).Run(context.Background(), reclaim.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalFailed)
}

func TestReclaimer_DryRun(t *testing.T) {
	repo, store, _ := setup(t, 5)
	ctx := context.Background()

	result, err := reclaim.New(repo, stores{"memory": store}).Run(ctx, reclaim.Options{DryRun: true, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.TotalFound)
	assert.Equal(t, int64(5), result.TotalReclaimed)
	assert.Equal(t, 5, store.Len())

	remaining, err := repo.ListOrphanBlobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)
}

func TestReclaimer_ForEach(t *testing.T) {
	repo, store, _ := setup(t, 3)
	ctx := context.Background()

	var keys []string
	result, err := reclaim.New(repo, stores{"memory": store}).ForEach(ctx, func(ctx context.Context, blob *studyshare.OrphanBlob) error {
		keys = append(keys, blob.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"objects/00", "objects/01", "objects/02"}, keys)
	assert.Equal(t, int64(3), result.TotalReclaimed)
	// The callback replaced the delete, so blobs survive
	assert.Equal(t, 3, store.Len())
}
