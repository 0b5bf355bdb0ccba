// Package presets builds ready-to-use services for local development and tests.
package presets

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/tendant/studyshare/pkg/studyshare"
	activitymemory "github.com/tendant/studyshare/pkg/studyshare/activity/memory"
	ledgermemory "github.com/tendant/studyshare/pkg/studyshare/ledger/memory"
	"github.com/tendant/studyshare/pkg/studyshare/repo/memory"
	fsstorage "github.com/tendant/studyshare/pkg/studyshare/storage/fs"
	memorystorage "github.com/tendant/studyshare/pkg/studyshare/storage/memory"
)

// Fixture exposes the in-memory backends behind a testing service so tests
// can inspect and break them.
type Fixture struct {
	Service    studyshare.Service
	Repository *memory.Repository
	Store      *memorystorage.Backend
	Activity   *activitymemory.Log
	Ledger     *ledgermemory.Ledger
}

// NewDevelopment creates a service for local development: in-memory
// repository, activity log and ledger, with blobs under storageDir so
// uploads survive a look with a file browser. The returned cleanup closes
// the service and removes storageDir.
func NewDevelopment(storageDir string, opts ...studyshare.Option) (studyshare.Service, func(), error) {
	if storageDir == "" {
		storageDir = "./dev-data"
	}

	fsBackend, err := fsstorage.New(fsstorage.Config{BaseDir: storageDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	options := []studyshare.Option{
		studyshare.WithRepository(memory.New()),
		studyshare.WithBlobStore("fs", fsBackend),
		studyshare.WithActivityLog(activitymemory.New()),
		studyshare.WithAuditLedger(ledgermemory.New()),
	}
	svc, err := studyshare.New(append(options, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}

	cleanup := func() {
		_ = svc.Close(context.Background())
		os.RemoveAll(storageDir)
	}
	return svc, cleanup, nil
}

// NewTesting creates an isolated in-memory service. Audit delivery is not
// retried. The service is closed when the test completes.
func NewTesting(t testing.TB, opts ...studyshare.Option) *Fixture {
	t.Helper()

	f := &Fixture{
		Repository: memory.New(),
		Store:      memorystorage.New(),
		Activity:   activitymemory.New(),
		Ledger:     ledgermemory.New(),
	}

	options := []studyshare.Option{
		studyshare.WithRepository(f.Repository),
		studyshare.WithBlobStore("memory", f.Store),
		studyshare.WithActivityLog(f.Activity),
		studyshare.WithAuditLedger(f.Ledger, studyshare.WithRetry(1, 0)),
	}
	svc, err := studyshare.New(append(options, opts...)...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	f.Service = svc

	t.Cleanup(func() {
		_ = svc.Close(context.Background())
	})
	return f
}
