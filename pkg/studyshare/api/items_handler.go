package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// DefaultMaxUploadBytes bounds the multipart body of a submission
const DefaultMaxUploadBytes = 64 << 20

// ItemsHandler serves the contributor-facing item endpoints
type ItemsHandler struct {
	service        studyshare.Service
	maxUploadBytes int64
}

// NewItemsHandler creates a new items handler
func NewItemsHandler(service studyshare.Service, maxUploadBytes int64) *ItemsHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ItemsHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// SubmitResponse is returned by POST /items
type SubmitResponse struct {
	Status studyshare.ItemStatus `json:"status"`
	ItemID uuid.UUID             `json:"itemId"`
}

// ScoreResponse is returned by GET /contributors/{ownerID}/score
type ScoreResponse struct {
	OwnerID uuid.UUID `json:"owner_id"`
	Score   float64   `json:"score"`
}

// Submit accepts a multipart upload with the category fields and a "file" part.
func (h *ItemsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, studyshare.NewValidationError("body", "expected multipart form: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, studyshare.NewValidationError("file", "is required"))
		return
	}
	defer file.Close()

	req := studyshare.SubmitRequest{
		Actor: actor,
		Category: studyshare.CategoryKey{
			Course:  r.FormValue("course"),
			Term:    r.FormValue("term"),
			Subject: r.FormValue("subject"),
			Kind:    studyshare.Kind(r.FormValue("kind")),
			Units:   multiValue(r.MultipartForm.Value["units"]),
			Year:    r.FormValue("year"),
		},
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Reader:   file,
		Topics:   multiValue(r.MultipartForm.Value["topics"]),
	}
	if raw := r.FormValue("relevance_score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, studyshare.NewValidationError("relevance_score", "must be a number"))
			return
		}
		req.RelevanceScore = &score
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, SubmitResponse{Status: result.Status, ItemID: result.ItemID})
}

// ListItems browses items by category and status.
// Query parameters: course, term, subject, kind, units, status, limit, offset.
func (h *ItemsHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := studyshare.ListItemsRequest{
		Category: studyshare.CategoryKey{
			Course:  q.Get("course"),
			Term:    q.Get("term"),
			Subject: q.Get("subject"),
			Kind:    studyshare.Kind(q.Get("kind")),
			Units:   multiValue(q["units"]),
		},
	}
	for _, s := range multiValue(q["status"]) {
		req.Statuses = append(req.Statuses, studyshare.ItemStatus(s))
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.Limit, req.Offset = limit, offset

	// Contributors only browse published items
	actor, _ := ActorFromContext(r.Context())
	if !actor.IsAdmin() {
		req.Statuses = []studyshare.ItemStatus{studyshare.ItemStatusApproved}
	}

	items, err := h.service.ListItems(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*studyshare.Item{}
	}
	render.JSON(w, r, items)
}

// GetItem returns an item. Unpublished items are visible to their owner and admins only.
func (h *ItemsHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	if item.Status != studyshare.ItemStatusApproved && !actor.IsAdmin() && item.OwnerID != actor.ID {
		writeError(w, r, studyshare.ErrItemNotFound)
		return
	}
	render.JSON(w, r, item)
}

// RecordView counts a view of an approved item
func (h *ItemsHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	if err := h.service.RecordView(r.Context(), actor, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download streams the blob of an approved item
func (h *ItemsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	download, err := h.service.DownloadItem(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer download.Reader.Close()

	mimeType := download.Item.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Item.FileName))
	if download.Item.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(download.Item.FileSize, 10))
	}

	if _, err := io.Copy(w, download.Reader); err != nil {
		slog.Warn("Download interrupted", "item_id", id, "err", err)
	}
}

// ListByOwner returns a contributor's items, newest first.
// Other contributors only see the approved ones.
func (h *ItemsHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := parseID(w, r, "ownerID")
	if !ok {
		return
	}

	items, err := h.service.ListByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	visible := make([]*studyshare.Item, 0, len(items))
	for _, item := range items {
		if actor.ID == ownerID || actor.IsAdmin() || item.Status == studyshare.ItemStatusApproved {
			visible = append(visible, item)
		}
	}
	render.JSON(w, r, visible)
}

// Score returns a contributor's accumulated credit
func (h *ItemsHandler) Score(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := parseID(w, r, "ownerID")
	if !ok {
		return
	}

	score, err := h.service.ContributorScore(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ScoreResponse{OwnerID: ownerID, Score: score})
}

// StartSession opens the activity session named by the token's sid claim
func (h *ItemsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	session, err := h.service.StartSession(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, session)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, studyshare.NewValidationError(param, "must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, studyshare.NewValidationError("limit", "must be a non-negative integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, studyshare.NewValidationError("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// multiValue accepts both repeated fields and comma separated lists
func multiValue(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
