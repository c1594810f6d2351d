package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"carecore/internal/telemetry"
)

// MinResolutionNotes is the shortest accepted resolution text, counted after trimming.
const MinResolutionNotes = 10

const defaultStartNote = "Started working on incident"

// ReadReceipts is told when an assignee has seen an incident.
type ReadReceipts interface {
	MarkRead(ctx context.Context, incidentID, employeeID string) error
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithReadReceipts(r ReadReceipts) Option {
	return func(m *Machine) { m.receipts = r }
}

// Machine owns the incident lifecycle. Every transition is applied through
// Repository.Update so the guard and the write happen under one lock.
type Machine struct {
	repo     Repository
	logger   *slog.Logger
	now      func() time.Time
	receipts ReadReceipts
}

func NewMachine(repo Repository, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type NewIncident struct {
	AlertID   string
	AlertType string
	PatientID string
	Severity  Severity
}

// Create opens an incident for an alert. It is idempotent per alert id: a repeated
// alert returns the stored incident with created=false.
func (m *Machine) Create(ctx context.Context, n NewIncident) (*Incident, bool, error) {
	const op = "create"
	if strings.TrimSpace(n.AlertID) == "" || strings.TrimSpace(n.PatientID) == "" {
		return nil, false, newError(KindValidation, op, "alert_id and patient_id are required", nil)
	}
	switch n.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return nil, false, newError(KindValidation, op, fmt.Sprintf("unknown severity %q", n.Severity), nil)
	}
	id, err := newIncidentID()
	if err != nil {
		return nil, false, newError(KindPersistence, op, "generate id", err)
	}
	now := m.now()
	inc := &Incident{
		ID:                id,
		AlertID:           n.AlertID,
		AlertType:         n.AlertType,
		PatientID:         n.PatientID,
		Severity:          n.Severity,
		Status:            StatusOpen,
		CreatedAt:         now,
		IntermediateNotes: []string{},
		Version:           1,
	}
	inc.Elapsed = CalculateElapsed(inc)
	entry := HistoryEntry{
		IncidentID:   id,
		EmployeeName: SystemActor().Name,
		Action:       ActionCreated,
		NewStatus:    StatusOpen,
		Note:         "Created from alert " + n.AlertID,
		Timestamp:    now,
	}
	stored, created, err := m.repo.Create(ctx, inc, entry)
	if err != nil {
		return nil, false, PersistenceError(op, err)
	}
	if created {
		telemetry.ObserveTransition(string(ActionCreated))
		m.logger.Info("incident created", "incident_id", stored.ID, "alert_id", n.AlertID, "severity", n.Severity)
	} else {
		m.logger.Info("alert already has an incident", "incident_id", stored.ID, "alert_id", n.AlertID)
	}
	return stored, created, nil
}

// Assign routes an OPEN incident to a staff member. Outbox messages are committed
// with the state change.
func (m *Machine) Assign(ctx context.Context, id string, a Assignee, note string, out ...OutboxMessage) (*Incident, error) {
	const op = "assign"
	if strings.TrimSpace(a.EmployeeID) == "" {
		return nil, newError(KindValidation, op, "employee id is required", nil)
	}
	return m.apply(ctx, op, ActionAssigned, id, func(inc *Incident) (HistoryEntry, []OutboxMessage, error) {
		if inc.Status != StatusOpen {
			return HistoryEntry{}, nil, invalidTransition(op, inc.Status)
		}
		now := m.now()
		prev := inc.Status
		assignee := a
		inc.Status = StatusAssigned
		inc.AssignedTo = &assignee
		actor := StaffActor(a.EmployeeID, a.Name)
		return m.entry(inc, actor, ActionAssigned, prev, note, now), out, nil
	})
}

func (m *Machine) Acknowledge(ctx context.Context, id string, actor Actor) (*Incident, error) {
	const op = "acknowledge"
	inc, err := m.apply(ctx, op, ActionAcknowledged, id, func(inc *Incident) (HistoryEntry, []OutboxMessage, error) {
		if !inc.Status.In(StatusOpen, StatusAssigned) {
			return HistoryEntry{}, nil, invalidTransition(op, inc.Status)
		}
		now := m.now()
		prev := inc.Status
		inc.Status = StatusAcknowledged
		inc.AcknowledgedAt = &now
		m.recalculate(inc)
		return m.entry(inc, actor, ActionAcknowledged, prev, "Employee acknowledged the incident", now), nil, nil
	})
	if err != nil {
		return nil, err
	}
	m.markRead(ctx, inc, actor)
	return inc, nil
}

func (m *Machine) Start(ctx context.Context, id string, actor Actor, note string) (*Incident, error) {
	const op = "start"
	if strings.TrimSpace(note) == "" {
		note = defaultStartNote
	}
	return m.apply(ctx, op, ActionStatusChanged, id, func(inc *Incident) (HistoryEntry, []OutboxMessage, error) {
		if inc.Status != StatusAcknowledged {
			return HistoryEntry{}, nil, newError(KindInvalidTransition, op,
				fmt.Sprintf("cannot start incident with status %s; must be %s first", inc.Status, StatusAcknowledged), nil)
		}
		now := m.now()
		prev := inc.Status
		inc.Status = StatusInProgress
		inc.InProgressAt = &now
		return m.entry(inc, actor, ActionStatusChanged, prev, note, now), nil, nil
	})
}

// AddNote appends a progress note without changing status.
func (m *Machine) AddNote(ctx context.Context, id string, actor Actor, note string) (*Incident, error) {
	const op = "add note"
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, newError(KindValidation, op, "note cannot be empty", nil)
	}
	return m.apply(ctx, op, ActionNoteAdded, id, func(inc *Incident) (HistoryEntry, []OutboxMessage, error) {
		if inc.Status.Terminal() {
			return HistoryEntry{}, nil, invalidTransition(op, inc.Status)
		}
		now := m.now()
		inc.IntermediateNotes = append(inc.IntermediateNotes, FormatNote(now, note))
		return m.entry(inc, actor, ActionNoteAdded, inc.Status, note, now), nil, nil
	})
}

func (m *Machine) Resolve(ctx context.Context, id string, actor Actor, resolutionNotes string) (*Incident, error) {
	const op = "resolve"
	if utf8.RuneCountInString(strings.TrimSpace(resolutionNotes)) < MinResolutionNotes {
		return nil, newError(KindValidation, op,
			fmt.Sprintf("resolution notes are required (minimum %d characters)", MinResolutionNotes), nil)
	}
	return m.apply(ctx, op, ActionResolved, id, func(inc *Incident) (HistoryEntry, []OutboxMessage, error) {
		if inc.Status.Terminal() {
			return HistoryEntry{}, nil, newError(KindAlreadyResolved, op, "incident already resolved", nil)
		}
		now := m.now()
		prev := inc.Status
		resolver := actor
		inc.Status = StatusResolved
		inc.ResolvedAt = &now
		inc.ResolutionNotes = resolutionNotes
		inc.ResolvedBy = &resolver
		m.recalculate(inc)
		return m.entry(inc, actor, ActionResolved, prev, resolutionNotes, now), nil, nil
	})
}

func (m *Machine) Get(ctx context.Context, id string) (*Incident, []HistoryEntry, error) {
	inc, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, PersistenceError("get", err)
	}
	history, err := m.repo.History(ctx, id)
	if err != nil {
		return nil, nil, PersistenceError("history", err)
	}
	return inc, history, nil
}

func (m *Machine) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	incs, err := m.repo.List(ctx, f)
	if err != nil {
		return nil, PersistenceError("list", err)
	}
	return incs, nil
}

func (m *Machine) Metrics(ctx context.Context) (*Stats, error) {
	stats, err := m.repo.Stats(ctx)
	if err != nil {
		return nil, PersistenceError("metrics", err)
	}
	return stats, nil
}

// Enqueue commits broker messages that are not tied to a transition.
func (m *Machine) Enqueue(ctx context.Context, msgs ...OutboxMessage) error {
	if err := m.repo.Enqueue(ctx, msgs...); err != nil {
		return PersistenceError("enqueue", err)
	}
	return nil
}

func (m *Machine) apply(ctx context.Context, op string, action Action, id string, mut Mutation) (*Incident, error) {
	inc, err := m.repo.Update(ctx, id, mut)
	if err != nil {
		return nil, PersistenceError(op, err)
	}
	telemetry.ObserveTransition(string(action))
	m.logger.Info("incident updated", "incident_id", id, "op", op, "status", inc.Status)
	return inc, nil
}

func (m *Machine) entry(inc *Incident, actor Actor, action Action, prev Status, note string, at time.Time) HistoryEntry {
	p := prev
	return HistoryEntry{
		IncidentID:     inc.ID,
		EmployeeID:     actor.EmployeeID,
		EmployeeName:   actor.Name,
		Action:         action,
		PreviousStatus: &p,
		NewStatus:      inc.Status,
		Note:           note,
		Timestamp:      at,
	}
}

func (m *Machine) recalculate(inc *Incident) {
	inc.Elapsed = CalculateElapsed(inc)
	for _, metric := range inc.Elapsed.Skewed() {
		telemetry.ObserveIntegrityWarning(metric)
		m.logger.Warn("negative elapsed time; timestamps out of order",
			"incident_id", inc.ID, "metric", metric)
	}
}

func (m *Machine) markRead(ctx context.Context, inc *Incident, actor Actor) {
	if m.receipts == nil || actor.EmployeeID == nil {
		return
	}
	if err := m.receipts.MarkRead(ctx, inc.ID, *actor.EmployeeID); err != nil {
		m.logger.Warn("could not mark notification as read", "incident_id", inc.ID, "err", err)
	}
}

func invalidTransition(op string, from Status) error {
	return newError(KindInvalidTransition, op, fmt.Sprintf("cannot %s incident with status %s", op, from), nil)
}

// FormatNote prefixes a note with its wall-clock time.
func FormatNote(at time.Time, note string) string {
	return fmt.Sprintf("[%s] %s", at.Format("15:04:05"), note)
}

func newIncidentID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "INC-" + u.String(), nil
}
