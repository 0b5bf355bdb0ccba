package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/admin"
	"github.com/tendant/studyshare/pkg/studyshare/api"
	ledgermemory "github.com/tendant/studyshare/pkg/studyshare/ledger/memory"
	"github.com/tendant/studyshare/pkg/studyshare/metrics"
	"github.com/tendant/studyshare/pkg/studyshare/presets"
	memorystorage "github.com/tendant/studyshare/pkg/studyshare/storage/memory"
)

type testServer struct {
	*httptest.Server
	tokenAuth *jwtauth.JWTAuth
	store     *memorystorage.Backend
	ledger    *ledgermemory.Ledger
}

func newTestServer(t *testing.T, limiter *api.ActorRateLimiter) *testServer {
	t.Helper()
	f := presets.NewTesting(t)

	tokenAuth := jwtauth.New("HS256", []byte("test-secret"), nil)
	handler := api.Routes(api.RouterConfig{
		Service:       f.Service,
		Admin:         admin.New(f.Repository, admin.WithAuditLedger(f.Ledger)),
		TokenAuth:     tokenAuth,
		SubmitLimiter: limiter,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, tokenAuth: tokenAuth, store: f.Store, ledger: f.Ledger}
}

func (s *testServer) token(t *testing.T, id uuid.UUID, name string, role studyshare.Role) string {
	t.Helper()
	_, tok, err := s.tokenAuth.Encode(map[string]interface{}{
		"sub":  id.String(),
		"name": name,
		"role": string(role),
		"sid":  "session-" + name,
	})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) doJSON(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	return s.do(t, method, path, token, reader, "application/json")
}

func (s *testServer) submit(t *testing.T, token string, fields map[string]string, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != "" {
		fw, err := mw.CreateFormFile("file", "notes.pdf")
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/items", token, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func books() map[string]string {
	return map[string]string{"course": "CS", "term": "2024-1", "subject": "CS201", "kind": "books"}
}

func TestAPI_RequiresToken(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.do(t, http.MethodGet, "/items", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/items", "not-a-jwt", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, badSub, err := srv.tokenAuth.Encode(map[string]interface{}{"sub": "alice"})
	require.NoError(t, err)
	resp = srv.do(t, http.MethodGet, "/items", badSub, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_SubmitAndModerate(t *testing.T) {
	srv := newTestServer(t, nil)
	owner := uuid.New()
	user := srv.token(t, owner, "alice", studyshare.RoleUser)
	root := srv.token(t, uuid.New(), "root", studyshare.RoleAdmin)

	var ids []uuid.UUID
	for i, want := range []studyshare.ItemStatus{
		studyshare.ItemStatusApproved,
		studyshare.ItemStatusApproved,
		studyshare.ItemStatusPending,
	} {
		resp := srv.submit(t, user, books(), fmt.Sprintf("book %d", i))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		got := decode[api.SubmitResponse](t, resp)
		assert.Equal(t, want, got.Status)
		ids = append(ids, got.ItemID)
	}
	pending := ids[2]

	t.Run("ContributorsSeeApprovedOnly", func(t *testing.T) {
		resp := srv.do(t, http.MethodGet, "/items?course=CS&kind=books", user, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[[]studyshare.Item](t, resp), 2)

		other := srv.token(t, uuid.New(), "bob", studyshare.RoleUser)
		resp = srv.do(t, http.MethodGet, "/items/"+pending.String(), other, nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = srv.do(t, http.MethodGet, "/items/"+pending.String(), user, nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("AdminOnly", func(t *testing.T) {
		resp := srv.do(t, http.MethodGet, "/admin/pending", user, nil, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("PendingWithSiblings", func(t *testing.T) {
		resp := srv.do(t, http.MethodGet, "/admin/pending", root, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		queue := decode[admin.ListPendingResponse](t, resp)
		require.Len(t, queue.Items, 1)
		assert.Equal(t, pending, queue.Items[0].Item.ID)
		assert.Len(t, queue.Items[0].Siblings, 2)
	})

	t.Run("ApproveFullCategoryConflicts", func(t *testing.T) {
		resp := srv.doJSON(t, http.MethodPost, "/admin/items/"+pending.String()+"/approve", root, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, "invalid_transition", body.Error.Code)
	})

	t.Run("ApproveWithReplacement", func(t *testing.T) {
		resp := srv.doJSON(t, http.MethodPost, "/admin/items/"+pending.String()+"/approve", root,
			api.DecisionRequest{ReplaceItemID: &ids[0], Reason: "newer edition"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[studyshare.ModerationResult](t, resp)
		assert.Equal(t, studyshare.ItemStatusApproved, result.Item.Status)
		require.NotNil(t, result.Replaced)
		assert.Equal(t, ids[0], result.Replaced.ID)

		resp = srv.do(t, http.MethodGet, "/items/"+ids[0].String(), root, nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("RejectApprovedIsInvalid", func(t *testing.T) {
		resp := srv.doJSON(t, http.MethodPost, "/admin/items/"+pending.String()+"/reject", root, api.DecisionRequest{})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("Remove", func(t *testing.T) {
		resp := srv.do(t, http.MethodPost, "/admin/items/"+ids[1].String()+"/remove", root, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[studyshare.ModerationResult](t, resp)
		assert.Equal(t, studyshare.ItemStatusRemoved, result.Item.Status)
	})

	t.Run("History", func(t *testing.T) {
		resp := srv.do(t, http.MethodGet, "/admin/items/"+pending.String()+"/history", root, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		history := decode[studyshare.ItemHistory](t, resp)
		assert.NotEmpty(t, history.Decisions)
	})

	t.Run("Score", func(t *testing.T) {
		// Two auto-approvals, one pending submission and its approval top-up
		resp := srv.do(t, http.MethodGet, "/contributors/"+owner.String()+"/score", user, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 3.0, decode[api.ScoreResponse](t, resp).Score)
	})
}

// syncBuffer is a log sink shared by the test and the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAPI_SubmitLogsOnce(t *testing.T) {
	var logs syncBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	srv := newTestServer(t, nil)
	user := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)
	resp := srv.submit(t, user, books(), "book")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, 1, strings.Count(strings.ToLower(logs.String()), `"msg":"item submitted"`))
}

func TestAPI_SubmitErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)

	t.Run("MissingFile", func(t *testing.T) {
		resp := srv.submit(t, user, books(), "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("MissingCourse", func(t *testing.T) {
		fields := books()
		delete(fields, "course")
		resp := srv.submit(t, user, fields, "content")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation_error", decode[api.ErrorResponse](t, resp).Error.Code)
	})

	t.Run("NotMultipart", func(t *testing.T) {
		resp := srv.do(t, http.MethodPost, "/items", user, strings.NewReader("{}"), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("DuplicateYear", func(t *testing.T) {
		fields := map[string]string{"course": "CS", "term": "2024-1", "subject": "CS201", "kind": "past-questions", "year": "2023"}
		resp := srv.submit(t, user, fields, "paper")
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = srv.submit(t, user, fields, "paper again")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "duplicate_year", decode[api.ErrorResponse](t, resp).Error.Code)
	})

	t.Run("StorageUnavailable", func(t *testing.T) {
		srv.store.SetReady(false)
		defer srv.store.SetReady(true)
		resp := srv.submit(t, user, books(), "content")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestAPI_ViewAndDownload(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)

	resp := srv.submit(t, user, books(), "chapter one")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[api.SubmitResponse](t, resp).ItemID

	resp = srv.do(t, http.MethodPost, "/items/"+id.String()+"/views", user, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/items/"+id.String()+"/download", user, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "chapter one", string(data))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "notes.pdf")

	resp = srv.do(t, http.MethodGet, "/items/"+id.String(), user, nil, "")
	item := decode[studyshare.Item](t, resp)
	assert.Equal(t, int64(1), item.ViewCount)
	assert.Equal(t, int64(1), item.DownloadCount)

	resp = srv.do(t, http.MethodGet, "/items/"+uuid.NewString()+"/download", user, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/items/not-a-uuid", user, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RelevanceThreshold(t *testing.T) {
	srv := newTestServer(t, nil)
	root := srv.token(t, uuid.New(), "root", studyshare.RoleAdmin)

	resp := srv.doJSON(t, http.MethodPut, "/admin/config/relevance-threshold", root, api.ThresholdBody{Threshold: 0.6})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.6, decode[api.ThresholdBody](t, resp).Threshold)

	resp = srv.do(t, http.MethodGet, "/admin/config/relevance-threshold", root, nil, "")
	assert.Equal(t, 0.6, decode[api.ThresholdBody](t, resp).Threshold)

	resp = srv.doJSON(t, http.MethodPut, "/admin/config/relevance-threshold", root, api.ThresholdBody{Threshold: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	user := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)
	fields := books()
	fields["relevance_score"] = "0.2"
	resp = srv.submit(t, user, fields, "off topic")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, studyshare.ItemStatusPending, decode[api.SubmitResponse](t, resp).Status)
}

func TestAPI_SessionsBrowser(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)
	root := srv.token(t, uuid.New(), "root", studyshare.RoleAdmin)

	resp := srv.do(t, http.MethodPost, "/sessions", user, nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "session-alice", decode[studyshare.Session](t, resp).ID)

	resp = srv.submit(t, user, books(), "content")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Eventually(t, func() bool {
		logs, _ := srv.ledger.GetSessionLogs(context.Background(), "session-alice")
		return len(logs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	resp = srv.do(t, http.MethodGet, "/admin/sessions", root, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[[]string](t, resp), "session-alice")

	resp = srv.do(t, http.MethodGet, "/admin/sessions/session-alice", root, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]studyshare.AuditEvent](t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "session-alice", events[0].SessionID)
}

func TestAPI_StatisticsAndAdminItems(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)
	root := srv.token(t, uuid.New(), "root", studyshare.RoleAdmin)

	for i := 0; i < 3; i++ {
		resp := srv.submit(t, user, books(), fmt.Sprintf("book %d", i))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := srv.do(t, http.MethodGet, "/admin/statistics?kind=Books", root, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[admin.StatisticsResponse](t, resp).Statistics
	assert.Equal(t, int64(3), stats.TotalCount)
	assert.Equal(t, int64(2), stats.ByStatus["approved"])
	assert.Equal(t, int64(1), stats.ByStatus["pending"])

	resp = srv.do(t, http.MethodGet, "/admin/items?status=pending", root, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[admin.ListItemsResponse](t, resp).Items, 1)

	resp = srv.do(t, http.MethodGet, "/admin/statistics?created_after=yesterday", root, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SubmitRateLimit(t *testing.T) {
	collector := metrics.New()
	limiter := api.NewActorRateLimiter("submit", 0.001, 1, collector)
	srv := newTestServer(t, limiter)
	alice := srv.token(t, uuid.New(), "alice", studyshare.RoleUser)
	bob := srv.token(t, uuid.New(), "bob", studyshare.RoleUser)

	resp := srv.submit(t, alice, books(), "one")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = srv.submit(t, alice, books(), "two")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Budgets are per actor
	resp = srv.submit(t, bob, books(), "three")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.RateLimitAllowed.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RateLimitRejected.WithLabelValues("submit")))
}
