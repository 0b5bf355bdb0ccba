// Package metrics exposes admission and moderation counters to Prometheus.
package metrics

import (
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// Collector holds the studyshare counters.
type Collector struct {
	Submissions       *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	StatusChanges     *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	AuditDropped      *prometheus.CounterVec
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
}

// New creates the counters. Nothing is registered until Register.
func New() *Collector {
	return &Collector{
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "submissions_total", Help: "Committed submissions by resulting status and kind."},
			[]string{"status", "kind"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "decisions_total", Help: "Committed moderation decisions."},
			[]string{"decision"},
		),
		StatusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "status_changes_total", Help: "Item status transitions."},
			[]string{"from", "to"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "errors_total", Help: "Failed operations."},
			[]string{"operation"},
		),
		AuditDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "audit_dropped_total", Help: "Audit events that were not delivered."},
			[]string{"reason"},
		),
		RateLimitAllowed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter."},
			[]string{"limiter"},
		),
		RateLimitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "studyshare", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter."},
			[]string{"limiter"},
		),
	}
}

// Register adds every counter to reg.
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.Submissions,
		c.Decisions,
		c.StatusChanges,
		c.Errors,
		c.AuditDropped,
		c.RateLimitAllowed,
		c.RateLimitRejected,
	)
}

// Hooks returns service hooks that feed the counters.
func (c *Collector) Hooks() *studyshare.Hooks {
	return &studyshare.Hooks{
		AfterSubmit: []studyshare.AfterSubmitHook{
			func(hctx *studyshare.HookContext, item *studyshare.Item) error {
				c.Submissions.WithLabelValues(string(item.Status), string(item.Category.Kind)).Inc()
				return nil
			},
		},
		AfterDecision: []studyshare.AfterDecisionHook{
			func(hctx *studyshare.HookContext, entry *studyshare.DecisionEntry) error {
				c.Decisions.WithLabelValues(string(entry.Decision)).Inc()
				return nil
			},
		},
		OnStatusChange: []studyshare.StatusChangeHook{
			func(hctx *studyshare.HookContext, itemID uuid.UUID, oldStatus, newStatus studyshare.ItemStatus) error {
				c.StatusChanges.WithLabelValues(string(oldStatus), string(newStatus)).Inc()
				return nil
			},
		},
		OnError: []studyshare.ErrorHook{
			func(hctx *studyshare.HookContext, operation string, err error) {
				c.Errors.WithLabelValues(operation).Inc()
			},
		},
	}
}

// DropHandler counts undelivered audit events, chaining to next when set.
func (c *Collector) DropHandler(next studyshare.DropHandler) studyshare.DropHandler {
	return func(event studyshare.AuditEvent, err error) {
		reason := "delivery_failed"
		switch {
		case errors.Is(err, studyshare.ErrAuditQueueFull):
			reason = "queue_full"
		case errors.Is(err, studyshare.ErrAuditDispatcherClosed):
			reason = "closed"
		}
		c.AuditDropped.WithLabelValues(reason).Inc()
		if next != nil {
			next(event, err)
		}
	}
}
