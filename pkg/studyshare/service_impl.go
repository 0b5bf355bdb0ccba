package studyshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare/objectkey"
)

// service implements the Service interface
type service struct {
	repository   Repository
	blobStores   map[string]BlobStore
	defaultStore string
	activity     ActivityLog
	keyGenerator objectkey.Generator
	hooks        *Hooks
	logger       *slog.Logger
	now          func() time.Time

	ledger         AuditLedger
	dispatcherOpts []DispatcherOption
	dispatcher     *AuditDispatcher
	ownsDispatcher bool

	mu        sync.RWMutex
	threshold float64
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore adds a blob storage backend
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[name] = store
	}
}

// WithDefaultBlobStore names the backend used when a submission selects none
func WithDefaultBlobStore(name string) Option {
	return func(s *service) {
		s.defaultStore = name
	}
}

// WithActivityLog sets the Session Activity Log
func WithActivityLog(log ActivityLog) Option {
	return func(s *service) {
		s.activity = log
	}
}

// WithAuditLedger delivers audit events to ledger through a dispatcher owned
// by the service. Close drains it.
func WithAuditLedger(ledger AuditLedger, opts ...DispatcherOption) Option {
	return func(s *service) {
		s.ledger = ledger
		s.dispatcherOpts = opts
	}
}

// WithAuditDispatcher uses an externally managed dispatcher
func WithAuditDispatcher(d *AuditDispatcher) Option {
	return func(s *service) {
		s.dispatcher = d
	}
}

// WithKeyGenerator sets the blob key layout
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(s *service) {
		s.keyGenerator = gen
	}
}

// WithHooks registers lifecycle hooks
func WithHooks(hooks *Hooks) Option {
	return func(s *service) {
		s.hooks.Merge(hooks)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRelevanceThreshold sets the initial relevance threshold
func WithRelevanceThreshold(threshold float64) Option {
	return func(s *service) {
		s.threshold = threshold
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores:   make(map[string]BlobStore),
		activity:     NewNoopActivityLog(),
		keyGenerator: objectkey.NewRecommendedGenerator(),
		hooks:        &Hooks{},
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.threshold < 0 {
		return nil, fmt.Errorf("relevance threshold must not be negative")
	}
	if s.defaultStore == "" && len(s.blobStores) == 1 {
		for name := range s.blobStores {
			s.defaultStore = name
		}
	}
	if s.defaultStore != "" {
		if _, ok := s.blobStores[s.defaultStore]; !ok {
			return nil, fmt.Errorf("default blob store %q is not registered", s.defaultStore)
		}
	}

	s.logger = s.logger.With("service", "studyshare")

	if s.dispatcher == nil && s.ledger != nil {
		opts := append([]DispatcherOption{WithDispatcherLogger(s.logger)}, s.dispatcherOpts...)
		s.dispatcher = NewAuditDispatcher(s.ledger, opts...)
		s.ownsDispatcher = true
	}

	return s, nil
}

// GetBlobStore returns a registered blob store by name
func (s *service) GetBlobStore(name string) (BlobStore, error) {
	if name == "" {
		name = s.defaultStore
	}
	store, ok := s.blobStores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobStoreNotFound, name)
	}
	return store, nil
}

func (s *service) Close(ctx context.Context) error {
	if s.dispatcher != nil && s.ownsDispatcher {
		return s.dispatcher.Close(ctx)
	}
	return nil
}

func (s *service) RelevanceThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

func (s *service) SetRelevanceThreshold(ctx context.Context, actor Actor, threshold float64) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only admins may change the relevance threshold", ErrUnauthorized)
	}
	if threshold < 0 {
		return NewValidationError("threshold", "must not be negative")
	}

	s.mu.Lock()
	old := s.threshold
	s.threshold = threshold
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "relevance threshold changed", "old", old, "new", threshold, "admin", actor.Name)
	s.recordActivity(ctx, actor, ActionContributorManaged, map[string]interface{}{
		"setting": "relevanceThreshold",
		"old":     old,
		"new":     threshold,
	})
	return nil
}

func (s *service) StartSession(ctx context.Context, actor Actor) (*Session, error) {
	if actor.ID == uuid.Nil {
		return nil, NewValidationError("actor", "is required")
	}
	session := s.newSession(actor)
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := s.activity.StartSession(ctx, session); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

func (s *service) newSession(actor Actor) *Session {
	return &Session{
		ID:        actor.SessionID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Role:      actor.Role,
		CreatedAt: s.now(),
		Actions:   make(map[ActionCategory][]Action),
	}
}

// recordActivity appends to the actor's session. Failures are logged and ignored.
func (s *service) recordActivity(ctx context.Context, actor Actor, category ActionCategory, details map[string]interface{}) {
	if actor.SessionID == "" {
		return
	}
	if !category.IsValid() {
		s.logger.WarnContext(ctx, "ignoring unknown activity category", "category", category, "session_id", actor.SessionID)
		return
	}

	action := Action{Timestamp: s.now(), Details: details}
	err := s.activity.Append(ctx, actor.SessionID, category, action)
	if errors.Is(err, ErrSessionNotFound) {
		if err = s.activity.StartSession(ctx, s.newSession(actor)); err == nil {
			err = s.activity.Append(ctx, actor.SessionID, category, action)
		}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record session activity",
			"session_id", actor.SessionID,
			"category", category,
			"err", err)
	}
}

// dispatchAudit hands an event to the dispatcher without waiting.
func (s *service) dispatchAudit(actor Actor, event AuditEvent) {
	if s.dispatcher == nil {
		return
	}
	event.SessionID = actor.SessionID
	if event.SessionID == "" {
		event.SessionID = AnonymousSessionID
	}
	event.ActorName = actor.Name
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.dispatcher.Dispatch(event)
}

// deleteBlob removes a blob best effort. Failures are queued for reclaim.
func (s *service) deleteBlob(ctx context.Context, backend, key, reason string) {
	if key == "" {
		return
	}

	store, err := s.GetBlobStore(backend)
	if err == nil {
		if !store.Ready() {
			err = ErrStorageUnavailable
		} else {
			err = store.Delete(ctx, key)
		}
	}
	if err == nil || errors.Is(err, ErrBlobNotFound) {
		return
	}

	s.logger.WarnContext(ctx, "blob delete failed, queued for reclaim",
		"backend", backend,
		"blob_key", key,
		"reason", reason,
		"err", err)

	orphan := &OrphanBlob{
		ID:        uuid.New(),
		Backend:   backend,
		Key:       key,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	if err := s.repository.EnqueueOrphanBlob(ctx, orphan); err != nil {
		s.logger.WarnContext(ctx, "failed to queue orphan blob", "blob_key", key, "err", err)
	}
}

func (s *service) fireError(ctx context.Context, op string, err error) {
	s.hooks.executeOnError(ctx, op, err)
}

func (s *service) logHookError(ctx context.Context, hook string, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "hook failed", "hook", hook, "err", err)
	}
}
