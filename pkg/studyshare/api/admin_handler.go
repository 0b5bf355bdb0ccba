package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/admin"
)

// AdminHandler serves the moderation endpoints. Mount it behind RequireAdmin.
type AdminHandler struct {
	service studyshare.Service
	admin   admin.AdminService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service studyshare.Service, adminSvc admin.AdminService) *AdminHandler {
	return &AdminHandler{service: service, admin: adminSvc}
}

// DecisionRequest is the optional body of approve, reject and remove
type DecisionRequest struct {
	ReplaceItemID *uuid.UUID `json:"replaceItemId,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// ThresholdBody carries the relevance threshold
type ThresholdBody struct {
	Threshold float64 `json:"threshold"`
}

// Routes returns the admin routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/pending", h.ListPending)
	r.Get("/items", h.ListItems)
	r.Post("/items/{itemID}/approve", h.Approve)
	r.Post("/items/{itemID}/reject", h.Reject)
	r.Post("/items/{itemID}/remove", h.Remove)
	r.Get("/items/{itemID}/history", h.History)
	r.Get("/statistics", h.Statistics)

	r.Get("/config/relevance-threshold", h.GetThreshold)
	r.Put("/config/relevance-threshold", h.SetThreshold)

	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{sessionID}", h.SessionLogs)

	return r
}

func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}
	body, ok := decodeDecision(w, r)
	if !ok {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	result, err := h.service.Approve(r.Context(), studyshare.ApproveRequest{
		Actor:         actor,
		ItemID:        id,
		ReplaceItemID: body.ReplaceItemID,
		Reason:        body.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}
	body, ok := decodeDecision(w, r)
	if !ok {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	result, err := h.service.Reject(r.Context(), studyshare.RejectRequest{Actor: actor, ItemID: id, Reason: body.Reason})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *AdminHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}
	body, ok := decodeDecision(w, r)
	if !ok {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	result, err := h.service.Remove(r.Context(), studyshare.RemoveRequest{Actor: actor, ItemID: id, Reason: body.Reason})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// ListPending returns the moderation queue oldest first, with sibling items
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.admin.ListPending(r.Context(), admin.ListPendingRequest{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// ListItems lists items in any status.
// Query parameters: course, term, subject, kind, status, limit, offset.
func (h *AdminHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	filters, err := adminFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.admin.ListItems(r.Context(), admin.ListItemsRequest{Filters: filters})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	history, err := h.service.ItemHistory(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, history)
}

// Statistics reports counts by status and kind.
// Query parameters: course, term, subject, kind, created_after, created_before (RFC 3339).
func (h *AdminHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	filters, err := adminFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filters.Limit, filters.Offset = nil, nil

	resp, err := h.admin.GetStatistics(r.Context(), admin.StatisticsRequest{
		Filters: filters,
		Options: admin.DefaultStatisticsOptions(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *AdminHandler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ThresholdBody{Threshold: h.service.RelevanceThreshold()})
}

func (h *AdminHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var body ThresholdBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, studyshare.NewValidationError("body", err.Error()))
		return
	}

	actor, _ := ActorFromContext(r.Context())
	if err := h.service.SetRelevanceThreshold(r.Context(), actor, body.Threshold); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ThresholdBody{Threshold: h.service.RelevanceThreshold()})
}

func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.admin.ListSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ids)
}

func (h *AdminHandler) SessionLogs(w http.ResponseWriter, r *http.Request) {
	events, err := h.admin.GetSessionLogs(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, events)
}

// decodeDecision reads an optional JSON body
func decodeDecision(w http.ResponseWriter, r *http.Request) (DecisionRequest, bool) {
	var body DecisionRequest
	if r.Body == nil {
		return body, true
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, studyshare.NewValidationError("body", err.Error()))
		return body, false
	}
	return body, true
}

func adminFilters(r *http.Request) (admin.ItemFilters, error) {
	q := r.URL.Query()
	filters := admin.ItemFilters{
		Course:    q.Get("course"),
		Term:      q.Get("term"),
		Subject:   q.Get("subject"),
		SortOrder: q.Get("sort"),
	}
	if kind := q.Get("kind"); kind != "" {
		filters.Kind = studyshare.NormalizeCategory(studyshare.CategoryKey{Kind: studyshare.Kind(kind)}).Kind
	}
	for _, s := range multiValue(q["status"]) {
		filters.Statuses = append(filters.Statuses, studyshare.ItemStatus(s))
	}
	for _, bound := range []struct {
		param string
		dst   **time.Time
	}{
		{"created_after", &filters.CreatedAfter},
		{"created_before", &filters.CreatedBefore},
	} {
		if raw := q.Get(bound.param); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filters, studyshare.NewValidationError(bound.param, "must be an RFC 3339 timestamp")
			}
			*bound.dst = &t
		}
	}

	limit, offset, err := pagination(r)
	if err != nil {
		return filters, err
	}
	if limit > 0 {
		filters.Limit = &limit
	}
	filters.Offset = &offset
	return filters, nil
}
