// Package postgres implements studyshare.Repository on PostgreSQL.
//
// Category locks are transaction-scoped advisory locks keyed by a hash of
// the lock key. Status changes and deletes compare the row version.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/studyshare/pkg/studyshare"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const itemColumns = `id, course, term, subject, kind, units, year, owner_id, owner_name,
	status, blob_backend, blob_key, file_name, mime_type, file_size, fingerprint,
	view_count, download_count, relevance_score, topics, credit, version, created_at, updated_at`

// Repository implements studyshare.Repository using PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ studyshare.Repository = (*Repository)(nil)

func (r *Repository) db(ctx context.Context) DBTX {
	return querierFromCtx(ctx, r.pool)
}

// Transaction operations

// RunInTx runs fn in a Read Committed transaction. A call made with a
// context that already carries a transaction joins it.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFromCtx(ctx); ok {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) LockCategory(ctx context.Context, lockKey string) error {
	tx, ok := txFromCtx(ctx)
	if !ok {
		return fmt.Errorf("lock category %q: no transaction in context", lockKey)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("lock category %q: %w", lockKey, err)
	}
	return nil
}

// Item operations

func (r *Repository) CreateItem(ctx context.Context, item *studyshare.Item) error {
	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`

	topics := item.Topics
	if topics == nil {
		topics = []string{}
	}
	_, err := r.db(ctx).Exec(ctx, query,
		item.ID, item.Category.Course, item.Category.Term, item.Category.Subject,
		string(item.Category.Kind), item.Category.Units, item.Category.Year,
		item.OwnerID, item.OwnerName, string(item.Status), item.BlobBackend, item.BlobKey,
		item.FileName, item.MimeType, item.FileSize, item.Fingerprint,
		item.ViewCount, item.DownloadCount, item.RelevanceScore, topics, item.Credit,
		item.Version, item.CreatedAt, item.UpdatedAt)
	return mapError(err, "item", item.ID, studyshare.ErrItemNotFound)
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*studyshare.Item, error) {
	row := r.db(ctx).QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		return nil, mapError(err, "item", id, studyshare.ErrItemNotFound)
	}
	return item, nil
}

func (r *Repository) UpdateItemStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status studyshare.ItemStatus, credit float64) (*studyshare.Item, error) {
	query := `
		UPDATE items SET status = $3, credit = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2
		RETURNING ` + itemColumns

	row := r.db(ctx).QueryRow(ctx, query, id, expectedVersion, string(status), credit, time.Now().UTC())
	item, err := scanItem(row)
	if err == pgx.ErrNoRows {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, mapError(err, "item", id, studyshare.ErrItemNotFound)
	}
	return item, nil
}

func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID, expectedVersion int) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM items WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return mapError(err, "item", id, studyshare.ErrItemNotFound)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// missOrConflict explains a versioned write that touched no row.
func (r *Repository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError(err, "item", id, studyshare.ErrItemNotFound)
	}
	if !exists {
		return studyshare.ErrItemNotFound
	}
	return studyshare.ErrVersionConflict
}

func (r *Repository) ListItems(ctx context.Context, filter studyshare.ItemFilter) ([]*studyshare.Item, error) {
	order := "created_at DESC"
	if filter.SortOrder == "asc" {
		order = "created_at ASC"
	}
	builder := applyItemFilter(psql.Select(itemColumns).From("items"), filter).OrderBy(order, "id")
	if filter.Limit != nil && *filter.Limit > 0 {
		builder = builder.Limit(uint64(*filter.Limit))
	}
	if filter.Offset != nil && *filter.Offset > 0 {
		builder = builder.Offset(uint64(*filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list items query: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []*studyshare.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) CountItems(ctx context.Context, filter studyshare.ItemFilter) (int64, error) {
	query, args, err := applyItemFilter(psql.Select("count(*)").From("items"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count items query: %w", err)
	}
	var count int64
	if err := r.db(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

func (r *Repository) IncrementItemCounter(ctx context.Context, id uuid.UUID, counter studyshare.ItemCounter) error {
	var column string
	switch counter {
	case studyshare.CounterViews:
		column = "view_count"
	case studyshare.CounterDownloads:
		column = "download_count"
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}

	tag, err := r.db(ctx).Exec(ctx, `UPDATE items SET `+column+` = `+column+` + 1 WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "item", id, studyshare.ErrItemNotFound)
	}
	if tag.RowsAffected() == 0 {
		return studyshare.ErrItemNotFound
	}
	return nil
}

// Category index operations

func (r *Repository) CountApproved(ctx context.Context, key studyshare.CategoryKey, match studyshare.UnitMatch, exclude ...uuid.UUID) (int, error) {
	builder := psql.Select("count(*)").From("items").
		Where(bucketEq(key)).
		Where(squirrel.Eq{"status": string(studyshare.ItemStatusApproved)})

	units := key.Units
	if units == nil {
		units = []string{}
	}
	builder = whereUnits(builder, match, units)
	if len(exclude) > 0 {
		builder = builder.Where(squirrel.NotEq{"id": exclude})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count approved query: %w", err)
	}
	var n int
	if err := r.db(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count approved in %s: %w", key.LockKey(), err)
	}
	return n, nil
}

func (r *Repository) ExistsYearSlot(ctx context.Context, key studyshare.CategoryKey) (bool, error) {
	inner, args, err := psql.Select("1").From("items").
		Where(bucketEq(key)).
		Where(squirrel.Eq{
			"year":   key.Year,
			"status": []string{string(studyshare.ItemStatusPending), string(studyshare.ItemStatusApproved)},
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build year slot query: %w", err)
	}

	var exists bool
	if err := r.db(ctx).QueryRow(ctx, "SELECT EXISTS("+inner+")", args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check year slot %s %s: %w", key.LockKey(), key.Year, err)
	}
	return exists, nil
}

// Decision log operations

func (r *Repository) AppendDecision(ctx context.Context, entry *studyshare.DecisionEntry) error {
	subject, err := marshalSnapshot(entry.Subject)
	if err != nil {
		return err
	}
	superseded, err := marshalSnapshot(entry.Superseded)
	if err != nil {
		return err
	}
	supersededID := pgtype.UUID{}
	if entry.Superseded != nil {
		supersededID = pgtype.UUID{Bytes: entry.Superseded.ItemID, Valid: true}
	}

	query := `
		INSERT INTO decisions (
			id, type, admin_id, admin_name, decision, item_id, superseded_id,
			subject, superseded, reason, fingerprint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db(ctx).Exec(ctx, query,
		entry.ID, string(entry.Type), entry.AdminID, entry.AdminName, string(entry.Decision),
		entry.ItemID, supersededID, subject, superseded, entry.Reason, entry.Fingerprint, entry.CreatedAt)
	return mapError(err, "decision", entry.ID, studyshare.ErrNotFound)
}

func (r *Repository) ListDecisions(ctx context.Context, filter studyshare.DecisionFilter) ([]*studyshare.DecisionEntry, error) {
	builder := psql.Select("id, type, admin_id, admin_name, decision, item_id, subject, superseded, reason, fingerprint, created_at").
		From("decisions").
		OrderBy("seq")
	if filter.ItemID != nil {
		builder = builder.Where(squirrel.Or{
			squirrel.Eq{"item_id": *filter.ItemID},
			squirrel.Eq{"superseded_id": *filter.ItemID},
		})
	}
	if filter.Type != "" {
		builder = builder.Where(squirrel.Eq{"type": string(filter.Type)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list decisions query: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	entries := []*studyshare.DecisionEntry{}
	for rows.Next() {
		var (
			entry               studyshare.DecisionEntry
			typ, decision       string
			subject, superseded []byte
		)
		if err := rows.Scan(&entry.ID, &typ, &entry.AdminID, &entry.AdminName, &decision, &entry.ItemID,
			&subject, &superseded, &entry.Reason, &entry.Fingerprint, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		entry.Type = studyshare.DecisionType(typ)
		entry.Decision = studyshare.Decision(decision)
		if entry.Subject, err = unmarshalSnapshot(subject); err != nil {
			return nil, err
		}
		if entry.Superseded, err = unmarshalSnapshot(superseded); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Contributor score operations

func (r *Repository) AddContributorScore(ctx context.Context, ownerID uuid.UUID, ownerName string, delta float64) error {
	query := `
		INSERT INTO contributor_scores (owner_id, owner_name, score, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id) DO UPDATE SET
			score = contributor_scores.score + EXCLUDED.score,
			owner_name = COALESCE(NULLIF(EXCLUDED.owner_name, ''), contributor_scores.owner_name),
			updated_at = now()`

	_, err := r.db(ctx).Exec(ctx, query, ownerID, ownerName, delta)
	return mapError(err, "contributor", ownerID, studyshare.ErrNotFound)
}

func (r *Repository) GetContributorScore(ctx context.Context, ownerID uuid.UUID) (float64, error) {
	var score float64
	err := r.db(ctx).QueryRow(ctx, `SELECT score FROM contributor_scores WHERE owner_id = $1`, ownerID).Scan(&score)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err, "contributor", ownerID, studyshare.ErrNotFound)
	}
	return score, nil
}

// Orphan blob operations

func (r *Repository) EnqueueOrphanBlob(ctx context.Context, blob *studyshare.OrphanBlob) error {
	query := `
		INSERT INTO orphan_blobs (id, backend, key, reason, attempts, created_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db(ctx).Exec(ctx, query,
		blob.ID, blob.Backend, blob.Key, blob.Reason, blob.Attempts, blob.CreatedAt, blob.LastAttemptAt)
	return mapError(err, "orphan blob", blob.ID, studyshare.ErrNotFound)
}

func (r *Repository) ListOrphanBlobs(ctx context.Context, limit int) ([]*studyshare.OrphanBlob, error) {
	builder := psql.Select("id, backend, key, reason, attempts, created_at, last_attempt_at").
		From("orphan_blobs").
		OrderBy("created_at")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list orphan blobs query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orphan blobs: %w", err)
	}
	defer rows.Close()

	blobs := []*studyshare.OrphanBlob{}
	for rows.Next() {
		var blob studyshare.OrphanBlob
		if err := rows.Scan(&blob.ID, &blob.Backend, &blob.Key, &blob.Reason, &blob.Attempts,
			&blob.CreatedAt, &blob.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan orphan blob: %w", err)
		}
		blobs = append(blobs, &blob)
	}
	return blobs, rows.Err()
}

func (r *Repository) DeleteOrphanBlob(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM orphan_blobs WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "orphan blob", id, studyshare.ErrNotFound)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("orphan blob %s: %w", id, studyshare.ErrNotFound)
	}
	return nil
}

func (r *Repository) MarkOrphanBlobAttempt(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orphan_blobs SET attempts = attempts + 1, last_attempt_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return mapError(err, "orphan blob", id, studyshare.ErrNotFound)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("orphan blob %s: %w", id, studyshare.ErrNotFound)
	}
	return nil
}

// Helper functions

func bucketEq(key studyshare.CategoryKey) squirrel.Eq {
	return squirrel.Eq{
		"course":  key.Course,
		"term":    key.Term,
		"subject": key.Subject,
		"kind":    string(key.Kind),
	}
}

func applyItemFilter(b squirrel.SelectBuilder, f studyshare.ItemFilter) squirrel.SelectBuilder {
	if f.Course != "" {
		b = b.Where(squirrel.Eq{"course": f.Course})
	}
	if f.Term != "" {
		b = b.Where(squirrel.Eq{"term": f.Term})
	}
	if f.Subject != "" {
		b = b.Where(squirrel.Eq{"subject": f.Subject})
	}
	if f.Kind != "" {
		b = b.Where(squirrel.Eq{"kind": string(f.Kind)})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		b = b.Where(squirrel.Eq{"status": statuses})
	}
	if f.OwnerID != nil {
		b = b.Where(squirrel.Eq{"owner_id": *f.OwnerID})
	}
	if len(f.Units) > 0 {
		b = whereUnits(b, f.UnitMatch, f.Units)
	}
	if f.CreatedAfter != nil {
		b = b.Where(squirrel.GtOrEq{"created_at": *f.CreatedAfter})
	}
	if f.CreatedBefore != nil {
		b = b.Where(squirrel.LtOrEq{"created_at": *f.CreatedBefore})
	}
	return b
}

func whereUnits(b squirrel.SelectBuilder, match studyshare.UnitMatch, units []string) squirrel.SelectBuilder {
	if match == studyshare.UnitMatchOverlap {
		return b.Where("units && ?", units)
	}
	return b.Where("units = ?", units)
}

func scanItem(row pgx.Row) (*studyshare.Item, error) {
	var (
		item         studyshare.Item
		kind, status string
	)
	err := row.Scan(
		&item.ID, &item.Category.Course, &item.Category.Term, &item.Category.Subject, &kind,
		&item.Category.Units, &item.Category.Year, &item.OwnerID, &item.OwnerName,
		&status, &item.BlobBackend, &item.BlobKey, &item.FileName, &item.MimeType, &item.FileSize,
		&item.Fingerprint, &item.ViewCount, &item.DownloadCount, &item.RelevanceScore, &item.Topics,
		&item.Credit, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Category.Kind = studyshare.Kind(kind)
	item.Status = studyshare.ItemStatus(status)
	if len(item.Topics) == 0 {
		item.Topics = nil
	}
	return &item, nil
}

func marshalSnapshot(s *studyshare.ItemSnapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal item snapshot: %w", err)
	}
	return b, nil
}

func unmarshalSnapshot(b []byte) (*studyshare.ItemSnapshot, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s studyshare.ItemSnapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal item snapshot: %w", err)
	}
	return &s, nil
}
