package incidents

import "time"

type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAssigned     Status = "ASSIGNED"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusResolved     Status = "RESOLVED"
)

func (s Status) In(set ...Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusResolved
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Action labels a history entry.
type Action string

const (
	ActionCreated       Action = "CREATED"
	ActionAssigned      Action = "ASSIGNED"
	ActionAcknowledged  Action = "ACKNOWLEDGED"
	ActionStatusChanged Action = "STATUS_CHANGED"
	ActionNoteAdded     Action = "NOTE_ADDED"
	ActionResolved      Action = "RESOLVED"
)

// Actor identifies who performed an operation. A nil EmployeeID means the system.
type Actor struct {
	EmployeeID *string `json:"employee_id"`
	Name       string  `json:"employee_name"`
}

func SystemActor() Actor {
	return Actor{Name: "SYSTEM"}
}

func StaffActor(employeeID, name string) Actor {
	id := employeeID
	return Actor{EmployeeID: &id, Name: name}
}

// Assignee is the staff member an incident was routed to.
type Assignee struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Tier       int    `json:"tier"`
}

type Incident struct {
	ID                string     `json:"incident_id"`
	AlertID           string     `json:"alert_id"`
	AlertType         string     `json:"alert_type"`
	PatientID         string     `json:"patient_id"`
	Severity          Severity   `json:"severity"`
	Status            Status     `json:"status"`
	AssignedTo        *Assignee  `json:"assigned_to,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at"`
	InProgressAt      *time.Time `json:"in_progress_at"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	Elapsed           Elapsed    `json:"elapsed"`
	ResolutionNotes   string     `json:"resolution_notes,omitempty"`
	ResolvedBy        *Actor     `json:"resolved_by,omitempty"`
	IntermediateNotes []string   `json:"intermediate_notes"`
	Version           int        `json:"version"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (inc *Incident) Clone() *Incident {
	c := *inc
	if inc.AssignedTo != nil {
		a := *inc.AssignedTo
		c.AssignedTo = &a
	}
	c.AcknowledgedAt = cloneTime(inc.AcknowledgedAt)
	c.InProgressAt = cloneTime(inc.InProgressAt)
	c.ResolvedAt = cloneTime(inc.ResolvedAt)
	if inc.ResolvedBy != nil {
		r := *inc.ResolvedBy
		if r.EmployeeID != nil {
			id := *r.EmployeeID
			r.EmployeeID = &id
		}
		c.ResolvedBy = &r
	}
	c.IntermediateNotes = append([]string(nil), inc.IntermediateNotes...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// HistoryEntry is an immutable audit record.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	IncidentID     string    `json:"incident_id"`
	EmployeeID     *string   `json:"employee_id"`
	EmployeeName   string    `json:"employee_name"`
	Action         Action    `json:"action"`
	PreviousStatus *Status   `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Note           string    `json:"note"`
	Timestamp      time.Time `json:"timestamp"`
}

// OutboxMessage is a broker message committed together with a transition.
type OutboxMessage struct {
	ID          int64
	Subject     string
	MsgID       string
	Payload     []byte
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
	LastError   string
}

type ListFilter struct {
	Status   Status
	Severity Severity
	Limit    int
}
