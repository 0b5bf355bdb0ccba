package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendant/studyshare/pkg/studyshare"
)

// Backend is an in-memory implementation of the studyshare.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]*object

	ready     atomic.Bool
	failWrite atomic.Pointer[error]
	failDel   atomic.Pointer[error]
}

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// New creates a new in-memory storage backend, ready for use
func New() *Backend {
	b := &Backend{
		objects: make(map[string]*object),
	}
	b.ready.Store(true)
	return b
}

var _ studyshare.BlobStore = (*Backend)(nil)

// Ready reports whether the backend accepts operations
func (b *Backend) Ready() bool {
	return b.ready.Load()
}

// SetReady toggles readiness, simulating an unavailable store
func (b *Backend) SetReady(ready bool) {
	b.ready.Store(ready)
}

// FailUploads makes every upload fail with err until called with nil
func (b *Backend) FailUploads(err error) {
	if err == nil {
		b.failWrite.Store(nil)
		return
	}
	b.failWrite.Store(&err)
}

// FailDeletes makes every delete fail with err until called with nil
func (b *Backend) FailDeletes(err error) {
	if err == nil {
		b.failDel.Store(nil)
		return
	}
	b.failDel.Store(&err)
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*studyshare.BlobMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, studyshare.ErrBlobNotFound
	}

	return &studyshare.BlobMeta{
		Key:         objectKey,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		UpdatedAt:   obj.updatedAt,
		Metadata:    map[string]string{"mime_type": obj.mimeType},
	}, nil
}

// Upload stores content in memory
func (b *Backend) Upload(ctx context.Context, reader io.Reader, params studyshare.UploadParams) error {
	if errPtr := b.failWrite.Load(); errPtr != nil {
		return *errPtr
	}
	if params.ObjectKey == "" {
		return errors.New("object key is required")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[params.ObjectKey] = &object{data: data, mimeType: mimeType, updatedAt: time.Now().UTC()}
	return nil
}

// Download returns a reader over a copy of the stored bytes
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, studyshare.ErrBlobNotFound
	}

	return io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))), nil
}

// Delete removes content from memory
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	if errPtr := b.failDel.Load(); errPtr != nil {
		return *errPtr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return studyshare.ErrBlobNotFound
	}
	delete(b.objects, objectKey)
	return nil
}
