package studyshare

import (
	"context"

	"github.com/google/uuid"
)

// Hook system allows extending admission and moderation without modifying
// core code. Before hooks may veto an operation; after hooks run once the
// transaction has committed and their errors are only logged.

// Hooks defines all available lifecycle hooks
type Hooks struct {
	// Admission hooks
	BeforeSubmit []BeforeSubmitHook
	AfterSubmit  []AfterSubmitHook

	// Moderation hooks
	OnStatusChange []StatusChangeHook
	AfterDecision  []AfterDecisionHook

	// Error hooks
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeSubmitHook is called before a submission is validated and stored
type BeforeSubmitHook func(hctx *HookContext, req *SubmitRequest) error

// AfterSubmitHook is called after a submission is committed
type AfterSubmitHook func(hctx *HookContext, item *Item) error

// StatusChangeHook is called when an item changes status.
// Removed and replaced items report ItemStatusRemoved as the new status.
type StatusChangeHook func(hctx *HookContext, itemID uuid.UUID, oldStatus, newStatus ItemStatus) error

// AfterDecisionHook is called after a Decision Log entry is committed
type AfterDecisionHook func(hctx *HookContext, entry *DecisionEntry) error

// ErrorHook is called when an operation fails
type ErrorHook func(hctx *HookContext, operation string, err error)

// Merge appends every hook of other to h.
func (h *Hooks) Merge(other *Hooks) {
	if other == nil {
		return
	}
	h.BeforeSubmit = append(h.BeforeSubmit, other.BeforeSubmit...)
	h.AfterSubmit = append(h.AfterSubmit, other.AfterSubmit...)
	h.OnStatusChange = append(h.OnStatusChange, other.OnStatusChange...)
	h.AfterDecision = append(h.AfterDecision, other.AfterDecision...)
	h.OnError = append(h.OnError, other.OnError...)
}

func (h *Hooks) executeBeforeSubmit(ctx context.Context, req *SubmitRequest) error {
	if len(h.BeforeSubmit) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeSubmit {
		if err := hook(hctx, req); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterSubmit(ctx context.Context, item *Item) error {
	if len(h.AfterSubmit) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterSubmit {
		if err := hook(hctx, item); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnStatusChange(ctx context.Context, itemID uuid.UUID, oldStatus, newStatus ItemStatus) error {
	if len(h.OnStatusChange) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnStatusChange {
		if err := hook(hctx, itemID, oldStatus, newStatus); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterDecision(ctx context.Context, entry *DecisionEntry) error {
	if len(h.AfterDecision) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterDecision {
		if err := hook(hctx, entry); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnError(ctx context.Context, operation string, err error) {
	if len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}
