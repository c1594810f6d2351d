package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"carecore/internal/assignment"
	"carecore/internal/incidents"
)

type Assigner interface {
	AutoAssign(ctx context.Context, incidentID, category string) (assignment.Outcome, error)
}

// Intake creates incidents from alerts and starts auto-assignment.
type Intake struct {
	Machine  *incidents.Machine
	Assigner Assigner
	Logger   *slog.Logger
}

type Result struct {
	Incident *incidents.Incident
	Created  bool
	Outcome  assignment.Outcome
}

// CreateFromAlert opens an incident for the alert and tries to assign it. A
// repeated alert reuses the stored incident and only retries assignment while
// it is still OPEN and unassigned, so redelivery is safe.
func (in *Intake) CreateFromAlert(ctx context.Context, a Alert) (Result, error) {
	if err := a.Validate(); err != nil {
		return Result{}, err
	}
	inc, created, err := in.Machine.Create(ctx, incidents.NewIncident{
		AlertID:   a.AlertID,
		AlertType: a.AlertType,
		PatientID: a.PatientID,
		Severity:  incidents.Severity(a.Severity),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create incident for alert %s: %w", a.AlertID, err)
	}
	res := Result{Incident: inc, Created: created}
	if !created && (inc.Status != incidents.StatusOpen || inc.AssignedTo != nil) {
		in.Logger.Info("alert already handled", "alert_id", a.AlertID, "incident_id", inc.ID, "status", inc.Status)
		return res, nil
	}

	out, err := in.Assigner.AutoAssign(ctx, inc.ID, a.AlertType)
	if err != nil {
		return res, fmt.Errorf("auto-assign %s: %w", inc.ID, err)
	}
	res.Outcome = out
	if out.Assigned {
		if fresh, _, err := in.Machine.Get(ctx, inc.ID); err == nil {
			res.Incident = fresh
		}
	}
	return res, nil
}
