// Package assignment routes new incidents to on-call staff.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carecore/internal/incidents"
	"carecore/internal/notify"
	"carecore/internal/roster"
	"carecore/internal/telemetry"
)

// Roles resolves an alert category to its eligible roles, most preferred first.
type Roles interface {
	RolesFor(category string) []string
}

type Roster interface {
	CurrentOnCall(ctx context.Context, role string) ([]roster.Candidate, error)
	Claim(ctx context.Context, incidentID, employeeID string) (roster.ClaimResult, error)
}

// Triggerer is poked after a transition commits outbox rows.
type Triggerer interface {
	Trigger()
}

type Outcome struct {
	Assigned   bool
	Assignee   *incidents.Assignee
	RolesTried []string
}

type Orchestrator struct {
	machine *incidents.Machine
	roles   Roles
	roster  Roster
	relay   Triggerer
	logger  *slog.Logger
	now     func() time.Time
}

func NewOrchestrator(machine *incidents.Machine, roles Roles, r Roster, relay Triggerer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		machine: machine,
		roles:   roles,
		roster:  r,
		relay:   relay,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AutoAssign walks the roles for category and assigns the incident to the first
// candidate the roster lets us claim. Roster failures fall through to the next
// role. When every role is exhausted the incident stays OPEN, an unassignable
// event is queued, and Outcome.Assigned is false with a nil error.
//
// Roster calls are not cancelled with ctx; each one is bounded by the client timeout.
func (o *Orchestrator) AutoAssign(ctx context.Context, incidentID, category string) (Outcome, error) {
	rosterCtx := context.WithoutCancel(ctx)
	roles := o.roles.RolesFor(category)
	out := Outcome{}

	for _, role := range roles {
		out.RolesTried = append(out.RolesTried, role)

		candidates, err := o.roster.CurrentOnCall(rosterCtx, role)
		if err != nil {
			o.logger.Warn("on-call lookup failed", "incident_id", incidentID, "role", role, "err", err)
			continue
		}
		pick, ok := Pick(candidates)
		if !ok {
			o.logger.Debug("nobody on call", "incident_id", incidentID, "role", role)
			continue
		}
		claim, err := o.roster.Claim(rosterCtx, incidentID, pick.EmployeeID)
		if err != nil {
			o.logger.Warn("claim failed", "incident_id", incidentID, "role", role, "employee_id", pick.EmployeeID, "err", err)
			continue
		}

		inc, err := o.assign(ctx, incidentID, category, role, pick, claim)
		if errors.Is(err, incidents.ErrInvalidTransition) {
			// Someone acted on the incident while we were negotiating.
			o.logger.Warn("incident left OPEN before assignment", "incident_id", incidentID, "employee_id", pick.EmployeeID)
			return out, nil
		}
		if err != nil {
			telemetry.ObserveAssignment(telemetry.AssignmentError)
			return out, err
		}
		telemetry.ObserveAssignment(telemetry.AssignmentAssigned)
		o.logger.Info("incident auto-assigned", "incident_id", incidentID, "employee_id", pick.EmployeeID, "role", role, "tier", pick.Tier)
		out.Assigned = true
		out.Assignee = inc.AssignedTo
		return out, nil
	}

	if err := o.unassignable(ctx, incidentID, category, out.RolesTried); err != nil {
		telemetry.ObserveAssignment(telemetry.AssignmentError)
		return out, err
	}
	telemetry.ObserveAssignment(telemetry.AssignmentUnassignable)
	o.logger.Warn("no available staff", "incident_id", incidentID, "alert_type", category, "roles_tried", out.RolesTried)
	return out, nil
}

func (o *Orchestrator) assign(ctx context.Context, incidentID, category, role string, pick roster.Candidate, claim roster.ClaimResult) (*incidents.Incident, error) {
	current, err := o.current(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	severity := firstNonEmpty(claim.Severity, string(current.Severity))
	patientID := firstNonEmpty(claim.PatientID, current.PatientID)

	notice := notify.NewAssignment(notify.Recipient{
		EmployeeID: pick.EmployeeID,
		Name:       pick.Name,
		Email:      pick.Email,
		Phone:      pick.Phone,
		Role:       role,
		Tier:       pick.Tier,
	}, incidentID, category, severity, patientID, o.now())
	msg, err := notify.Outbox(notify.SubjectAssigned, notice)
	if err != nil {
		return nil, err
	}

	assignee := incidents.Assignee{EmployeeID: pick.EmployeeID, Name: pick.Name, Role: role, Tier: pick.Tier}
	inc, err := o.machine.Assign(ctx, incidentID, assignee, "Auto-assigned based on alert type: "+category, msg)
	if err != nil {
		return nil, fmt.Errorf("assign %s to %s: %w", incidentID, pick.EmployeeID, err)
	}
	o.kick()
	return inc, nil
}

func (o *Orchestrator) unassignable(ctx context.Context, incidentID, category string, tried []string) error {
	current, err := o.current(ctx, incidentID)
	if err != nil {
		return err
	}
	msg, err := notify.Outbox(notify.SubjectUnassignable, notify.NewUnassignable(current, category, tried, o.now()))
	if err != nil {
		return err
	}
	if err := o.machine.Enqueue(ctx, msg); err != nil {
		return err
	}
	o.kick()
	return nil
}

func (o *Orchestrator) current(ctx context.Context, incidentID string) (*incidents.Incident, error) {
	inc, _, err := o.machine.Get(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", incidentID, err)
	}
	return inc, nil
}

func (o *Orchestrator) kick() {
	if o.relay != nil {
		o.relay.Trigger()
	}
}

// Pick returns the lowest-tier candidate; on ties the first one listed wins.
func Pick(candidates []roster.Candidate) (roster.Candidate, bool) {
	if len(candidates) == 0 {
		return roster.Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Tier < best.Tier {
			best = c
		}
	}
	return best, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
