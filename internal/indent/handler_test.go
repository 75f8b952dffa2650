package indent

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func newTestRouter(f *fixture) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, f.svc)
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	handler.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, actor string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(shared.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleRaise(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/indents", map[string]any{
		"siteId":      f.site.ID.String(),
		"materialId":  f.material.ID.String(),
		"quantity":    50,
		"priority":    "High",
		"requestedBy": f.actor.String(),
		"expectedBy":  "2026-10-01",
	}, f.actor.String())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Number   string  `json:"number"`
		Status   string  `json:"status"`
		Quantity float64 `json:"quantity"`
		Unit     string  `json:"unit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "IND-2026-0001", resp.Number)
	require.Equal(t, "Pending Approval", resp.Status)
	require.InDelta(t, 50, resp.Quantity, 0.0001)
	require.Equal(t, "bags", resp.Unit)
}

func TestHandleRaiseValidation(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	// Missing quantity fails request validation.
	rec := doJSON(t, router, http.MethodPost, "/indents", map[string]any{
		"siteId":      f.site.ID.String(),
		"requestedBy": f.actor.String(),
		"expectedBy":  "2026-10-01",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/indents", map[string]any{
		"siteId":      f.site.ID.String(),
		"materialId":  f.material.ID.String(),
		"quantity":    50,
		"requestedBy": f.actor.String(),
		"expectedBy":  "next tuesday",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecisionConflict(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	ind := f.raise(t, 50)

	rec := doJSON(t, router, http.MethodPost, "/indents/"+ind.ID.String()+"/decision",
		map[string]any{"decision": "approve"}, f.actor.String())
	require.Equal(t, http.StatusOK, rec.Code)

	// Approving twice surfaces the state machine refusal as a 409 problem.
	rec = doJSON(t, router, http.MethodPost, "/indents/"+ind.ID.String()+"/decision",
		map[string]any{"decision": "approve"}, f.actor.String())
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem struct {
		Title      string         `json:"title"`
		Extensions map[string]any `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "State Conflict", problem.Title)
	require.Equal(t, "Approved", problem.Extensions["currentStatus"])
}

func TestHandleDecisionRejectWithoutReason(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	ind := f.raise(t, 50)

	rec := doJSON(t, router, http.MethodPost, "/indents/"+ind.ID.String()+"/decision",
		map[string]any{"decision": "reject"}, f.actor.String())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetNotFound(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/indents/3f3b9b3e-8a50-4a54-9c1d-111111111111", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/indents/not-a-uuid", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIssueInsufficientStock(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.inventory.stock[f.material.ID] = 50
	ind := f.raise(t, 50)

	rec := doJSON(t, router, http.MethodPost, "/indents/"+ind.ID.String()+"/decision",
		map[string]any{"decision": "approve"}, f.actor.String())
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/indents/"+ind.ID.String()+"/check-inventory", nil, f.actor.String())
	require.Equal(t, http.StatusOK, rec.Code)

	f.inventory.stock[f.material.ID] = 10

	rec = doJSON(t, router, http.MethodPost, "/indents/"+ind.ID.String()+"/issue", nil, f.actor.String())
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Insufficient Stock", problem.Title)
}
