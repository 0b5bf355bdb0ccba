package studyshare

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare/objectkey"
)

// Owner credit per item: a pending submission earns the first half, approval
// the second. Auto-approved submissions earn both at once.
const (
	creditApproved = 1.0
	creditPending  = 0.5
	creditApproval = creditApproved - creditPending
)

func creditFor(status ItemStatus) float64 {
	if status == ItemStatusApproved {
		return creditApproved
	}
	return creditPending
}

// Submit runs the Admission Controller: the item is published when its
// category has capacity and queued for review otherwise.
func (s *service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.hooks.executeBeforeSubmit(ctx, &req); err != nil {
		return nil, err
	}

	key := NormalizeCategory(req.Category)
	if err := s.validateSubmission(req, key); err != nil {
		return nil, err
	}

	idx := categoryIndex{repo: s.repository}

	// Refuse a duplicate year before any bytes are uploaded. The check is
	// repeated under the category lock.
	dup, err := idx.existsExact(ctx, key)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, &DuplicateYearError{Category: key}
	}

	backend := req.BlobBackend
	if backend == "" {
		backend = s.defaultStore
	}
	store, err := s.GetBlobStore(backend)
	if err != nil {
		return nil, &StorageError{Backend: backend, Op: "upload", Err: errors.Join(ErrStorageUnavailable, err)}
	}
	if !store.Ready() {
		return nil, &StorageError{Backend: backend, Op: "upload", Err: ErrStorageUnavailable}
	}

	itemID := uuid.New()
	fileName := strings.TrimSpace(req.FileName)
	blobKey := s.keyGenerator.GenerateKey(itemID, &objectkey.KeyMetadata{
		FileName: fileName,
		OwnerID:  req.Actor.ID.String(),
		Course:   key.Course,
		Term:     key.Term,
		Subject:  key.Subject,
		Kind:     string(key.Kind),
	})

	hasher := sha256.New()
	body := &countingReader{r: io.TeeReader(req.Reader, hasher)}
	if err := store.Upload(ctx, body, UploadParams{ObjectKey: blobKey, MimeType: req.MimeType, Size: req.Size}); err != nil {
		s.fireError(ctx, "submit", err)
		return nil, &StorageError{Backend: backend, Key: blobKey, Op: "upload", Err: errors.Join(ErrStorageUnavailable, err)}
	}

	now := s.now()
	item := &Item{
		ID:             itemID,
		Category:       key,
		OwnerID:        req.Actor.ID,
		OwnerName:      req.Actor.Name,
		BlobBackend:    backend,
		BlobKey:        blobKey,
		FileName:       fileName,
		MimeType:       req.MimeType,
		FileSize:       body.n,
		Fingerprint:    hex.EncodeToString(hasher.Sum(nil)),
		RelevanceScore: req.RelevanceScore,
		Topics:         req.Topics,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.repository.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repository.LockCategory(ctx, key.LockKey()); err != nil {
			return err
		}

		dup, err := idx.existsExact(ctx, key)
		if err != nil {
			return err
		}
		if dup {
			return &DuplicateYearError{Category: key}
		}

		fits, err := idx.hasCapacity(ctx, key)
		if err != nil {
			return err
		}

		item.Status = ItemStatusPending
		if fits && !s.belowThreshold(req.RelevanceScore) {
			item.Status = ItemStatusApproved
		}
		item.Credit = creditFor(item.Status)

		if err := s.repository.CreateItem(ctx, item); err != nil {
			return err
		}
		return s.repository.AddContributorScore(ctx, item.OwnerID, item.OwnerName, item.Credit)
	})
	if err != nil {
		s.deleteBlob(ctx, backend, blobKey, "submission aborted")
		s.fireError(ctx, "submit", err)
		var dupErr *DuplicateYearError
		if errors.As(err, &dupErr) {
			return nil, err
		}
		return nil, &ItemError{ItemID: itemID, Op: "submit", Err: err}
	}

	s.logger.InfoContext(ctx, "item submitted",
		"item_id", item.ID,
		"status", item.Status,
		"kind", key.Kind,
		"owner", item.OwnerName)

	s.logHookError(ctx, "after_submit", s.hooks.executeAfterSubmit(ctx, item))

	s.recordActivity(ctx, req.Actor, ActionUploaded, map[string]interface{}{
		"itemId":   item.ID.String(),
		"fileName": item.FileName,
		"course":   key.Course,
		"term":     key.Term,
		"subject":  key.Subject,
		"kind":     string(key.Kind),
		"units":    key.Units,
		"year":     key.Year,
		"status":   string(item.Status),
	})
	s.dispatchAudit(req.Actor, AuditEvent{
		ActionType:      "upload",
		ItemID:          &itemID,
		BlobID:          item.BlobKey,
		ItemStatus:      item.Status,
		ContributorName: item.OwnerName,
	})

	return &SubmitResult{Status: item.Status, ItemID: item.ID, Item: item}, nil
}

func (s *service) validateSubmission(req SubmitRequest, key CategoryKey) error {
	if req.Actor.ID == uuid.Nil {
		return NewValidationError("owner", "is required")
	}
	if err := ValidateCategory(key); err != nil {
		return err
	}
	if req.Reader == nil {
		return NewValidationError("file", "is required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return NewValidationError("fileName", "is required")
	}
	if req.RelevanceScore != nil && *req.RelevanceScore < 0 {
		return NewValidationError("relevanceScore", "must not be negative")
	}
	return nil
}

// belowThreshold reports whether a scored submission falls under the
// relevance threshold. Unscored submissions and a zero threshold pass.
func (s *service) belowThreshold(score *float64) bool {
	threshold := s.RelevanceThreshold()
	return threshold > 0 && score != nil && *score < threshold
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
