package alerts

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"carecore/internal/incidents"
)

// IngestHandler accepts alerts over HTTP, for monitors that cannot reach the broker.
type IngestHandler struct {
	Intake      *Intake
	Logger      *slog.Logger
	IngestToken string
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.IngestToken != "" && r.Header.Get("X-Api-Key") != h.IngestToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	a, err := Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.Intake.CreateFromAlert(r.Context(), a)
	if err != nil {
		h.Logger.Error("ingest alert", "alert_id", a.AlertID, "err", err)
		status := http.StatusInternalServerError
		var ie *incidents.Error
		if errors.As(err, &ie) && ie.Kind == incidents.KindPersistence {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"incident": res.Incident,
		"created":  res.Created,
		"assigned": res.Outcome.Assigned,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
