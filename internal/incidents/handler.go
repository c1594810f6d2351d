package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ActorFunc extracts the acting staff member from a request context.
type ActorFunc func(ctx context.Context) (Actor, bool)

// Handler exposes the lifecycle over HTTP. Routes expect an {id} URL parameter.
type Handler struct {
	Machine *Machine
	Logger  *slog.Logger
	Actor   ActorFunc
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:   Status(q.Get("status")),
		Severity: Severity(q.Get("severity")),
		Limit:    100,
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	incs, err := h.Machine.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list incidents", err)
		return
	}
	writeJSON(w, http.StatusOK, incs)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Machine.Metrics(r.Context())
	if err != nil {
		h.fail(w, "incident metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	inc, history, err := h.Machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get incident", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incident": inc,
		"history":  history,
	})
}

func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	inc, err := h.Machine.Acknowledge(r.Context(), chi.URLParam(r, "id"), actor)
	h.respond(w, "acknowledge", inc, err)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if !decodeOptional(w, r, &body) {
		return
	}
	inc, err := h.Machine.Start(r.Context(), chi.URLParam(r, "id"), actor, body.Note)
	h.respond(w, "start", inc, err)
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if !decodeOptional(w, r, &body) {
		return
	}
	inc, err := h.Machine.AddNote(r.Context(), chi.URLParam(r, "id"), actor, body.Note)
	h.respond(w, "add note", inc, err)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		ResolutionNotes string `json:"resolution_notes"`
	}
	if !decodeOptional(w, r, &body) {
		return
	}
	inc, err := h.Machine.Resolve(r.Context(), chi.URLParam(r, "id"), actor, body.ResolutionNotes)
	h.respond(w, "resolve", inc, err)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	if h.Actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return Actor{}, false
	}
	actor, ok := h.Actor(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return Actor{}, false
	}
	return actor, true
}

func (h *Handler) respond(w http.ResponseWriter, op string, inc *Incident, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	kind := KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(op, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidTransition, KindAlreadyResolved, KindConflict:
		return http.StatusConflict
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional reads a JSON body if there is one.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Kind: KindValidation})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
