// Package notify builds broker messages about incidents and relays them from the outbox.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carecore/internal/incidents"
)

const (
	SubjectAssigned     = "notifications.assigned"
	SubjectUnassignable = "incidents.unassignable"

	TypeAssigned     = "INCIDENT_ASSIGNED"
	TypeUnassignable = "INCIDENT_UNASSIGNABLE"
)

// Recipient is the staff member a notification goes to.
type Recipient struct {
	EmployeeID string
	Name       string
	Email      string
	Phone      string
	Role       string
	Tier       int
}

type AssignmentData struct {
	IncidentID string `json:"incident_id"`
	AlertType  string `json:"alert_type"`
	Role       string `json:"role"`
	Tier       int    `json:"tier"`
}

// Assignment is the notice consumed by the delivery service.
type Assignment struct {
	Type          string         `json:"type"`
	EmployeeID    string         `json:"employee_id"`
	EmployeeName  string         `json:"employee_name"`
	EmployeeEmail string         `json:"employee_email"`
	EmployeePhone string         `json:"employee_phone"`
	IncidentID    string         `json:"incident_id"`
	AlertType     string         `json:"alert_type"`
	Severity      string         `json:"severity"`
	PatientID     string         `json:"patient_id"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Data          AssignmentData `json:"data"`
	Timestamp     string         `json:"timestamp"`
}

func NewAssignment(to Recipient, incidentID, alertType, severity, patientID string, at time.Time) Assignment {
	return Assignment{
		Type:          TypeAssigned,
		EmployeeID:    to.EmployeeID,
		EmployeeName:  to.Name,
		EmployeeEmail: to.Email,
		EmployeePhone: to.Phone,
		IncidentID:    incidentID,
		AlertType:     alertType,
		Severity:      severity,
		PatientID:     patientID,
		Title:         fmt.Sprintf("New %s Incident Assigned", severity),
		Message:       fmt.Sprintf("%s incident for patient %s has been assigned to you.", alertType, patientID),
		Data: AssignmentData{
			IncidentID: incidentID,
			AlertType:  alertType,
			Role:       to.Role,
			Tier:       to.Tier,
		},
		Timestamp: at.Format(time.RFC3339Nano),
	}
}

// Unassignable reports an incident no role could take.
type Unassignable struct {
	Type       string   `json:"type"`
	IncidentID string   `json:"incident_id"`
	AlertType  string   `json:"alert_type"`
	Severity   string   `json:"severity"`
	PatientID  string   `json:"patient_id"`
	RolesTried []string `json:"roles_tried"`
	Timestamp  string   `json:"timestamp"`
}

func NewUnassignable(inc *incidents.Incident, alertType string, rolesTried []string, at time.Time) Unassignable {
	return Unassignable{
		Type:       TypeUnassignable,
		IncidentID: inc.ID,
		AlertType:  alertType,
		Severity:   string(inc.Severity),
		PatientID:  inc.PatientID,
		RolesTried: rolesTried,
		Timestamp:  at.Format(time.RFC3339Nano),
	}
}

// Outbox wraps a payload as an outbox row with a fresh de-duplication id.
func Outbox(subject string, payload any) (incidents.OutboxMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return incidents.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return incidents.OutboxMessage{
		Subject: subject,
		MsgID:   uuid.NewString(),
		Payload: raw,
	}, nil
}
