package presets_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/presets"
)

func submitRequest(actor studyshare.Actor, content string) studyshare.SubmitRequest {
	return studyshare.SubmitRequest{
		Actor: actor,
		Category: studyshare.CategoryKey{
			Course: "CS", Term: "2024-1", Subject: "CS201", Kind: studyshare.KindBooks,
		},
		FileName: "book.pdf",
		Reader:   bytes.NewReader([]byte(content)),
		Size:     int64(len(content)),
	}
}

func TestNewTesting(t *testing.T) {
	f := presets.NewTesting(t)
	actor := studyshare.Actor{ID: uuid.New(), Name: "alice", Role: studyshare.RoleUser}

	result, err := f.Service.Submit(context.Background(), submitRequest(actor, "chapter"))
	require.NoError(t, err)
	assert.Equal(t, studyshare.ItemStatusApproved, result.Status)
	assert.Equal(t, 1, f.Store.Len())

	item, err := f.Repository.GetItem(context.Background(), result.ItemID)
	require.NoError(t, err)
	assert.Equal(t, "alice", item.OwnerName)
}

func TestNewDevelopment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dev-data")
	svc, cleanup, err := presets.NewDevelopment(dir)
	require.NoError(t, err)

	actor := studyshare.Actor{ID: uuid.New(), Name: "alice", Role: studyshare.RoleUser}
	_, err = svc.Submit(context.Background(), submitRequest(actor, "chapter"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
