package incidents

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const incidentColumns = `incident_id, alert_id, alert_type, patient_id, severity, status,
	assigned_employee_id, assigned_employee_name, assigned_role, assigned_tier,
	created_at, acknowledged_at, in_progress_at, resolved_at,
	resolution_notes, resolved_by_employee_id, resolved_by_name,
	intermediate_notes, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (*Incident, error) {
	var (
		inc                                    Incident
		assignedID, assignedName, assignedRole sql.NullString
		assignedTier                           sql.NullInt64
		ackAt, startedAt, resolvedAt           sql.NullTime
		notes, resolverID, resolverName        sql.NullString
		intermediate                           pq.StringArray
	)
	if err := row.Scan(&inc.ID, &inc.AlertID, &inc.AlertType, &inc.PatientID, &inc.Severity, &inc.Status,
		&assignedID, &assignedName, &assignedRole, &assignedTier,
		&inc.CreatedAt, &ackAt, &startedAt, &resolvedAt,
		&notes, &resolverID, &resolverName,
		&intermediate, &inc.Version); err != nil {
		return nil, err
	}
	if assignedID.Valid {
		inc.AssignedTo = &Assignee{
			EmployeeID: assignedID.String,
			Name:       assignedName.String,
			Role:       assignedRole.String,
			Tier:       int(assignedTier.Int64),
		}
	}
	inc.AcknowledgedAt = timePtr(ackAt)
	inc.InProgressAt = timePtr(startedAt)
	inc.ResolvedAt = timePtr(resolvedAt)
	inc.ResolutionNotes = notes.String
	if resolverName.Valid || resolverID.Valid {
		r := Actor{Name: resolverName.String}
		if resolverID.Valid {
			id := resolverID.String
			r.EmployeeID = &id
		}
		inc.ResolvedBy = &r
	}
	inc.IntermediateNotes = []string(intermediate)
	if inc.IntermediateNotes == nil {
		inc.IntermediateNotes = []string{}
	}
	inc.Elapsed = CalculateElapsed(&inc)
	return &inc, nil
}

func (s *Store) Create(ctx context.Context, inc *Incident, entry HistoryEntry) (*Incident, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO incidents
		(incident_id, alert_id, alert_type, patient_id, severity, status, created_at, updated_at, intermediate_notes, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$8,$9)
		ON CONFLICT (alert_id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, q,
		inc.ID,
		inc.AlertID,
		inc.AlertType,
		inc.PatientID,
		inc.Severity,
		inc.Status,
		inc.CreatedAt,
		pq.Array(inc.IntermediateNotes),
		inc.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, false, newError(KindConflict, "create", "incident id already taken", err)
		}
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		existing, err := s.getBy(ctx, s.db, "alert_id", inc.AlertID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := insertHistory(ctx, tx, entry); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return inc.Clone(), true, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Incident, error) {
	return s.getBy(ctx, s.db, "incident_id", id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getBy(ctx context.Context, q queryRower, column, value string) (*Incident, error) {
	row := q.QueryRowContext(ctx, "SELECT "+incidentColumns+" FROM incidents WHERE "+column+" = $1", value)
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(KindNotFound, "get", "incident not found", nil)
		}
		return nil, err
	}
	return inc, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	clauses := []string{"1=1"}
	args := []any{}
	idx := 1
	if f.Status != "" {
		clauses = append(clauses, "status = $"+itoa(idx))
		args = append(args, string(f.Status))
		idx++
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = $"+itoa(idx))
		args = append(args, string(f.Severity))
		idx++
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := "SELECT " + incidentColumns + " FROM incidents WHERE " + strings.Join(clauses, " AND ") +
		" ORDER BY created_at DESC, incident_id DESC LIMIT " + itoa(limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	const q = `
		SELECT id, incident_id, employee_id, employee_name, action, previous_status, new_status, note, timestamp
		FROM incident_history WHERE incident_id = $1
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []HistoryEntry{}
	for rows.Next() {
		var (
			h          HistoryEntry
			employeeID sql.NullString
			prev       sql.NullString
			note       sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.IncidentID, &employeeID, &h.EmployeeName, &h.Action,
			&prev, &h.NewStatus, &note, &h.Timestamp); err != nil {
			return nil, err
		}
		if employeeID.Valid {
			v := employeeID.String
			h.EmployeeID = &v
		}
		if prev.Valid {
			p := Status(prev.String)
			h.PreviousStatus = &p
		}
		h.Note = note.String
		res = append(res, h)
	}
	return res, rows.Err()
}

// Update locks the row, runs the mutation, and writes the new state together with
// its history entry and outbox messages. The write is additionally conditioned on the
// status and version that were read, so a lost lock surfaces as ErrConflict.
func (s *Store) Update(ctx context.Context, id string, m Mutation) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+incidentColumns+" FROM incidents WHERE incident_id = $1 FOR UPDATE", id)
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(KindNotFound, "update", "incident not found", nil)
		}
		return nil, err
	}
	baseStatus, baseVersion := inc.Status, inc.Version

	entry, out, err := m(inc)
	if err != nil {
		return nil, err
	}
	inc.Version = baseVersion + 1

	var assignedID, assignedName, assignedRole, assignedTier any
	if a := inc.AssignedTo; a != nil {
		assignedID, assignedName, assignedRole, assignedTier = a.EmployeeID, a.Name, nullString(a.Role), a.Tier
	}
	var resolverID, resolverName any
	if r := inc.ResolvedBy; r != nil {
		resolverName = r.Name
		if r.EmployeeID != nil {
			resolverID = *r.EmployeeID
		}
	}

	const q = `
		UPDATE incidents SET
			status = $1,
			assigned_employee_id = $2, assigned_employee_name = $3, assigned_role = $4, assigned_tier = $5,
			acknowledged_at = $6, in_progress_at = $7, resolved_at = $8,
			response_time_seconds = $9, resolution_time_seconds = $10, total_time_seconds = $11,
			resolution_notes = $12, resolved_by_employee_id = $13, resolved_by_name = $14,
			intermediate_notes = $15, version = $16, updated_at = $17
		WHERE incident_id = $18 AND status = $19 AND version = $20
	`
	res, err := tx.ExecContext(ctx, q,
		inc.Status,
		assignedID, assignedName, assignedRole, assignedTier,
		inc.AcknowledgedAt, inc.InProgressAt, inc.ResolvedAt,
		inc.Elapsed.Response.Ptr(), inc.Elapsed.Resolution.Ptr(), inc.Elapsed.Total.Ptr(),
		nullString(inc.ResolutionNotes), resolverID, resolverName,
		pq.Array(inc.IntermediateNotes), inc.Version, time.Now().UTC(),
		id, baseStatus, baseVersion,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, newError(KindConflict, "update", "incident changed concurrently", nil)
	}
	if err := insertHistory(ctx, tx, entry); err != nil {
		return nil, err
	}
	for _, msg := range out {
		if err := insertOutbox(ctx, tx, msg); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inc, nil
}

func (s *Store) Enqueue(ctx context.Context, msgs ...OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, msg := range msgs {
		if err := insertOutbox(ctx, tx, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		SeverityCounts:      map[Severity]int{},
		StatusCounts:        map[Status]int{},
		ResolverPerformance: []ResolverPerformance{},
	}

	var response, resolution, total sql.NullFloat64
	const avgQ = `
		SELECT AVG(response_time_seconds), AVG(resolution_time_seconds), AVG(total_time_seconds)
		FROM incidents WHERE status = 'RESOLVED'
	`
	if err := s.db.QueryRowContext(ctx, avgQ).Scan(&response, &resolution, &total); err != nil {
		return nil, err
	}
	stats.AverageTimes = NewAverageTimes(floatPtr(response), floatPtr(resolution), floatPtr(total))

	if err := s.countBy(ctx, "severity", func(k string, n int) { stats.SeverityCounts[Severity(k)] = n }); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "status", func(k string, n int) { stats.StatusCounts[Status(k)] = n }); err != nil {
		return nil, err
	}

	const perfQ = `
		SELECT resolved_by_employee_id, MAX(resolved_by_name), COUNT(*),
		       AVG(response_time_seconds), AVG(resolution_time_seconds)
		FROM incidents
		WHERE status = 'RESOLVED' AND resolved_by_employee_id IS NOT NULL
		GROUP BY resolved_by_employee_id
		ORDER BY AVG(response_time_seconds) ASC NULLS LAST
	`
	rows, err := s.db.QueryContext(ctx, perfQ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p               ResolverPerformance
			name            sql.NullString
			avgResp, avgRes sql.NullFloat64
		)
		if err := rows.Scan(&p.EmployeeID, &name, &p.IncidentsHandled, &avgResp, &avgRes); err != nil {
			return nil, err
		}
		p.Name = name.String
		p.AvgResponseSeconds = floatPtr(avgResp)
		p.AvgResolutionSeconds = floatPtr(avgRes)
		stats.ResolverPerformance = append(stats.ResolverPerformance, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) countBy(ctx context.Context, column string, set func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM incidents GROUP BY "+column)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		set(key, n)
	}
	return rows.Err()
}

func (s *Store) PendingOutbox(ctx context.Context, limit, maxAttempts int) ([]OutboxMessage, error) {
	const q = `
		SELECT id, subject, msg_id, payload, attempts, created_at
		FROM outbox
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY id ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, q, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.MsgID, &msg.Payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	const q = `UPDATE outbox SET published_at = $1, last_error = NULL WHERE id = $2`
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	const q = `UPDATE outbox SET attempts = attempts + 1, last_error = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, q, reason, id)
	return err
}

func insertHistory(ctx context.Context, tx *sql.Tx, h HistoryEntry) error {
	const q = `
		INSERT INTO incident_history
		(incident_id, employee_id, employee_name, action, previous_status, new_status, note, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	var prev any
	if h.PreviousStatus != nil {
		prev = string(*h.PreviousStatus)
	}
	_, err := tx.ExecContext(ctx, q, h.IncidentID, h.EmployeeID, h.EmployeeName, h.Action, prev, h.NewStatus,
		nullString(h.Note), h.Timestamp)
	return err
}

func insertOutbox(ctx context.Context, tx *sql.Tx, msg OutboxMessage) error {
	const q = `
		INSERT INTO outbox (subject, msg_id, payload, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (msg_id) DO NOTHING
	`
	_, err := tx.ExecContext(ctx, q, msg.Subject, msg.MsgID, msg.Payload, time.Now().UTC())
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
