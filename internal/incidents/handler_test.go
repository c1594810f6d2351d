package incidents_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/internal/incidents"
	"carecore/internal/incidents/incidentstest"
)

type actorKey struct{}

func routes(h *incidents.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/incidents", h.List)
	r.Get("/incidents/metrics", h.Metrics)
	r.Get("/incidents/{id}", h.Get)
	r.Patch("/incidents/{id}/acknowledge", h.Acknowledge)
	r.Patch("/incidents/{id}/start", h.Start)
	r.Post("/incidents/{id}/notes", h.AddNote)
	r.Patch("/incidents/{id}/resolve", h.Resolve)
	return r
}

func newHandler(t *testing.T) (http.Handler, *incidents.Machine, *incidentstest.Store) {
	t.Helper()
	store := incidentstest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := incidents.NewMachine(store, logger)
	h := &incidents.Handler{
		Machine: m,
		Logger:  logger,
		Actor: func(ctx context.Context) (incidents.Actor, bool) {
			a, ok := ctx.Value(actorKey{}).(incidents.Actor)
			return a, ok
		},
	}
	return routes(h), m, store
}

func do(h http.Handler, method, path, body string, asStaff bool) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if asStaff {
		req = req.WithContext(context.WithValue(req.Context(), actorKey{}, incidents.StaffActor("E-7", "Dana Reyes")))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerLifecycle(t *testing.T) {
	h, m, _ := newHandler(t)
	inc := openIncident(t, m, "A-1")
	base := "/incidents/" + inc.ID

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPatch, base+"/acknowledge", "", false).Code)

	rec := do(h, http.MethodPatch, base+"/acknowledge", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got incidents.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, incidents.StatusAcknowledged, got.Status)

	rec = do(h, http.MethodPatch, base+"/acknowledge", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"invalid_transition"`)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPatch, base+"/start", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, base+"/notes", `{"note":"  "}`, true).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, base+"/notes", `{"note":"BP stabilising"}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPatch, base+"/resolve", `{"resolution_notes":"short"}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPatch, base+"/resolve", `{not json`, true).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPatch, base+"/resolve", `{"resolution_notes":"patient transferred to ICU"}`, true).Code)
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPatch, base+"/resolve", `{"resolution_notes":"patient transferred to ICU"}`, true).Code)

	rec = do(h, http.MethodGet, base, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Incident incidents.Incident       `json:"incident"`
		History  []incidents.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, incidents.StatusResolved, detail.Incident.Status)
	assert.Len(t, detail.History, 5)
	assert.Len(t, detail.Incident.IntermediateNotes, 1)
}

func TestHandlerNotFoundAndListing(t *testing.T) {
	h, m, store := newHandler(t)
	openIncident(t, m, "A-1")
	openIncident(t, m, "A-2")

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/incidents/INC-nope", "", true).Code)

	rec := do(h, http.MethodGet, "/incidents?status=OPEN&limit=1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []incidents.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(h, http.MethodGet, "/incidents/metrics", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"employee_performance":[]`)
	assert.Contains(t, rec.Body.String(), `"CRITICAL":2`)

	store.FailWith = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/incidents", "", true).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, incidents.StatusFor(incidents.KindNotFound))
	assert.Equal(t, http.StatusConflict, incidents.StatusFor(incidents.KindConflict))
	assert.Equal(t, http.StatusConflict, incidents.StatusFor(incidents.KindAlreadyResolved))
	assert.Equal(t, http.StatusBadRequest, incidents.StatusFor(incidents.KindValidation))
	assert.Equal(t, http.StatusServiceUnavailable, incidents.StatusFor(incidents.KindPersistence))
	assert.Equal(t, http.StatusInternalServerError, incidents.StatusFor(""))
}
