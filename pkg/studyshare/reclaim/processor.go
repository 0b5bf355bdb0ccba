package reclaim

import (
	"context"

	"github.com/tendant/studyshare/pkg/studyshare"
)

// BlobResolver looks up a blob store by backend name. studyshare.Service
// satisfies it.
type BlobResolver interface {
	GetBlobStore(name string) (studyshare.BlobStore, error)
}

// OrphanProcessor disposes of one queued blob.
// Returning nil removes the queue entry; an error bumps its attempt count.
type OrphanProcessor interface {
	Process(ctx context.Context, blob *studyshare.OrphanBlob) error
}

// deleteProcessor deletes the blob from its backend.
type deleteProcessor struct {
	stores BlobResolver
}

func (p *deleteProcessor) Process(ctx context.Context, blob *studyshare.OrphanBlob) error {
	store, err := p.stores.GetBlobStore(blob.Backend)
	if err != nil {
		return err
	}
	if !store.Ready() {
		return studyshare.ErrStorageUnavailable
	}
	return store.Delete(ctx, blob.Key)
}
