package studyshare

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAuditQueueFull indicates an audit event was dropped because the queue was full.
var ErrAuditQueueFull = errors.New("audit queue full")

// ErrAuditDispatcherClosed indicates an audit event arrived after Close.
var ErrAuditDispatcherClosed = errors.New("audit dispatcher closed")

// DropHandler is called for every audit event that is not delivered.
type DropHandler func(event AuditEvent, err error)

// AuditDispatcher delivers audit events to a ledger in the background.
// Dispatch never blocks; events that cannot be queued or delivered are dropped.
type AuditDispatcher struct {
	ledger      AuditLedger
	logger      *slog.Logger
	queue       chan AuditEvent
	workers     int
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	onDrop      DropHandler

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures an AuditDispatcher
type DispatcherOption func(*AuditDispatcher)

// WithQueueSize sets the queue capacity
func WithQueueSize(size int) DispatcherOption {
	return func(d *AuditDispatcher) {
		if size > 0 {
			d.queue = make(chan AuditEvent, size)
		}
	}
}

// WithWorkers sets the number of delivery goroutines
func WithWorkers(n int) DispatcherOption {
	return func(d *AuditDispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetry sets the delivery attempts per event and the linear backoff step
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *AuditDispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		d.backoff = backoff
	}
}

// WithDropHandler sets the callback for undelivered events
func WithDropHandler(fn DropHandler) DispatcherOption {
	return func(d *AuditDispatcher) {
		d.onDrop = fn
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *AuditDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewAuditDispatcher creates a dispatcher and starts its workers.
func NewAuditDispatcher(ledger AuditLedger, opts ...DispatcherOption) *AuditDispatcher {
	d := &AuditDispatcher{
		ledger:      ledger,
		logger:      slog.Default(),
		queue:       make(chan AuditEvent, 256),
		workers:     1,
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
		callTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Dispatch queues an event for delivery.
func (d *AuditDispatcher) Dispatch(event AuditEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, ErrAuditDispatcherClosed)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.drop(event, ErrAuditQueueFull)
	}
}

// Close stops accepting events and waits for queued events to be delivered
// or for ctx to end.
func (d *AuditDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *AuditDispatcher) deliver(event AuditEvent) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
		err = d.ledger.LogAction(ctx, event)
		cancel()
		if err == nil {
			return
		}
		if attempt < d.maxAttempts && d.backoff > 0 {
			time.Sleep(time.Duration(attempt) * d.backoff)
		}
	}
	d.drop(event, err)
}

func (d *AuditDispatcher) drop(event AuditEvent, err error) {
	d.logger.Warn("audit event dropped",
		"session_id", event.SessionID,
		"action_type", event.ActionType,
		"err", err)
	if d.onDrop != nil {
		d.onDrop(event, err)
	}
}
