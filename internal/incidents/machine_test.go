package incidents_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/internal/incidents"
	"carecore/internal/incidents/incidentstest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingReceipts struct {
	calls []string
	err   error
}

func (r *recordingReceipts) MarkRead(_ context.Context, incidentID, employeeID string) error {
	r.calls = append(r.calls, incidentID+"/"+employeeID)
	return r.err
}

func newMachine(t *testing.T, opts ...incidents.Option) (*incidents.Machine, *incidentstest.Store, *fakeClock) {
	t.Helper()
	store := incidentstest.New()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]incidents.Option{incidents.WithClock(clock.Now)}, opts...)
	return incidents.NewMachine(store, logger, opts...), store, clock
}

func openIncident(t *testing.T, m *incidents.Machine, alertID string) *incidents.Incident {
	t.Helper()
	inc, created, err := m.Create(context.Background(), incidents.NewIncident{
		AlertID:   alertID,
		AlertType: "CARDIAC_ARREST",
		PatientID: "P-100",
		Severity:  incidents.SeverityCritical,
	})
	require.NoError(t, err)
	require.True(t, created)
	return inc
}

var nurse = incidents.StaffActor("E-7", "Dana Reyes")

func TestCreateOpensIncidentWithHistory(t *testing.T) {
	m, store, _ := newMachine(t)
	inc := openIncident(t, m, "A-1")

	assert.Equal(t, incidents.StatusOpen, inc.Status)
	assert.True(t, strings.HasPrefix(inc.ID, "INC-"))
	history := store.AllHistory()
	require.Len(t, history, 1)
	assert.Equal(t, incidents.ActionCreated, history[0].Action)
	assert.Nil(t, history[0].EmployeeID)
	assert.Equal(t, "SYSTEM", history[0].EmployeeName)
	assert.Nil(t, history[0].PreviousStatus)
	assert.Equal(t, "Created from alert A-1", history[0].Note)
}

func TestCreateIsIdempotentPerAlert(t *testing.T) {
	m, store, _ := newMachine(t)
	first := openIncident(t, m, "A-1")

	again, created, err := m.Create(context.Background(), incidents.NewIncident{
		AlertID: "A-1", AlertType: "CARDIAC_ARREST", PatientID: "P-100", Severity: incidents.SeverityCritical,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, store.AllHistory(), 1)
}

func TestCreateIDsAreOrdered(t *testing.T) {
	m, _, _ := newMachine(t)
	prev := ""
	for i := 0; i < 50; i++ {
		inc := openIncident(t, m, fmt.Sprintf("A-%d", i))
		assert.Greater(t, inc.ID, prev)
		prev = inc.ID
	}
}

func TestCreateValidation(t *testing.T) {
	m, _, _ := newMachine(t)
	_, _, err := m.Create(context.Background(), incidents.NewIncident{AlertID: "A-1", PatientID: "P", Severity: "SEVERE"})
	assert.ErrorIs(t, err, incidents.ErrValidation)

	_, _, err = m.Create(context.Background(), incidents.NewIncident{PatientID: "P", Severity: incidents.SeverityLow})
	assert.ErrorIs(t, err, incidents.ErrValidation)
}

func TestCreateSurfacesPersistenceError(t *testing.T) {
	m, store, _ := newMachine(t)
	store.FailWith = errors.New("connection refused")
	_, _, err := m.Create(context.Background(), incidents.NewIncident{
		AlertID: "A-1", PatientID: "P", Severity: incidents.SeverityLow,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, incidents.ErrPersistence)
	assert.Equal(t, incidents.KindPersistence, incidents.KindOf(err))
}

func TestLifecycleHappyPath(t *testing.T) {
	m, store, clock := newMachine(t)
	ctx := context.Background()
	inc := openIncident(t, m, "A-1")

	inc, err := m.Assign(ctx, inc.ID, incidents.Assignee{EmployeeID: "E-7", Name: "Dana Reyes", Role: "NURSE", Tier: 1}, "auto")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusAssigned, inc.Status)
	require.NotNil(t, inc.AssignedTo)
	assert.Equal(t, "E-7", inc.AssignedTo.EmployeeID)

	clock.Advance(120 * time.Second)
	inc, err = m.Acknowledge(ctx, inc.ID, nurse)
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusAcknowledged, inc.Status)
	require.True(t, inc.Elapsed.Response.Valid())
	assert.Equal(t, 120.0, inc.Elapsed.Response.Seconds)

	clock.Advance(60 * time.Second)
	inc, err = m.Start(ctx, inc.ID, nurse, "")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusInProgress, inc.Status)
	require.NotNil(t, inc.InProgressAt)

	clock.Advance(420 * time.Second)
	inc, err = m.Resolve(ctx, inc.ID, nurse, "Patient stabilised")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusResolved, inc.Status)
	assert.Equal(t, 120.0, inc.Elapsed.Response.Seconds)
	assert.Equal(t, 480.0, inc.Elapsed.Resolution.Seconds)
	assert.Equal(t, 600.0, inc.Elapsed.Total.Seconds)
	require.NotNil(t, inc.ResolvedBy)
	assert.Equal(t, "E-7", *inc.ResolvedBy.EmployeeID)

	var actions []incidents.Action
	for _, h := range store.AllHistory() {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []incidents.Action{
		incidents.ActionCreated,
		incidents.ActionAssigned,
		incidents.ActionAcknowledged,
		incidents.ActionStatusChanged,
		incidents.ActionResolved,
	}, actions)
	start := store.AllHistory()[3]
	assert.Equal(t, "Started working on incident", start.Note)
	require.NotNil(t, start.PreviousStatus)
	assert.Equal(t, incidents.StatusAcknowledged, *start.PreviousStatus)
}

func TestTransitionEdges(t *testing.T) {
	ctx := context.Background()
	type step func(m *incidents.Machine, id string) (*incidents.Incident, error)
	assign := func(m *incidents.Machine, id string) (*incidents.Incident, error) {
		return m.Assign(ctx, id, incidents.Assignee{EmployeeID: "E-1", Name: "A"}, "")
	}
	ack := func(m *incidents.Machine, id string) (*incidents.Incident, error) { return m.Acknowledge(ctx, id, nurse) }
	start := func(m *incidents.Machine, id string) (*incidents.Incident, error) { return m.Start(ctx, id, nurse, "go") }
	resolve := func(m *incidents.Machine, id string) (*incidents.Incident, error) {
		return m.Resolve(ctx, id, nurse, "done and dusted")
	}
	// Paths that bring a fresh incident into each status.
	reach := map[incidents.Status][]step{
		incidents.StatusOpen:         nil,
		incidents.StatusAssigned:     {assign},
		incidents.StatusAcknowledged: {assign, ack},
		incidents.StatusInProgress:   {assign, ack, start},
		incidents.StatusResolved:     {assign, ack, start, resolve},
	}
	cases := []struct {
		name string
		op   step
		ok   map[incidents.Status]incidents.Status
	}{
		{"assign", assign, map[incidents.Status]incidents.Status{incidents.StatusOpen: incidents.StatusAssigned}},
		{"acknowledge", ack, map[incidents.Status]incidents.Status{
			incidents.StatusOpen:     incidents.StatusAcknowledged,
			incidents.StatusAssigned: incidents.StatusAcknowledged,
		}},
		{"start", start, map[incidents.Status]incidents.Status{incidents.StatusAcknowledged: incidents.StatusInProgress}},
		{"resolve", resolve, map[incidents.Status]incidents.Status{
			incidents.StatusOpen:         incidents.StatusResolved,
			incidents.StatusAssigned:     incidents.StatusResolved,
			incidents.StatusAcknowledged: incidents.StatusResolved,
			incidents.StatusInProgress:   incidents.StatusResolved,
		}},
	}
	for _, tc := range cases {
		for from, path := range reach {
			t.Run(tc.name+"_from_"+string(from), func(t *testing.T) {
				m, store, _ := newMachine(t)
				inc := openIncident(t, m, "A-1")
				for _, p := range path {
					_, err := p(m, inc.ID)
					require.NoError(t, err)
				}
				before := len(store.AllHistory())

				got, err := tc.op(m, inc.ID)
				want, allowed := tc.ok[from]
				if allowed {
					require.NoError(t, err)
					assert.Equal(t, want, got.Status)
					assert.Len(t, store.AllHistory(), before+1)
					return
				}
				require.Error(t, err)
				if tc.name == "resolve" {
					assert.ErrorIs(t, err, incidents.ErrAlreadyResolved)
				} else {
					assert.ErrorIs(t, err, incidents.ErrInvalidTransition)
				}
				current, err := store.Get(ctx, inc.ID)
				require.NoError(t, err)
				assert.Equal(t, from, current.Status)
				assert.Len(t, store.AllHistory(), before)
			})
		}
	}
}

func TestAcknowledgeTwiceKeepsFirstTimestamp(t *testing.T) {
	m, store, clock := newMachine(t)
	ctx := context.Background()
	inc := openIncident(t, m, "A-1")

	first, err := m.Acknowledge(ctx, inc.ID, nurse)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = m.Acknowledge(ctx, inc.ID, nurse)
	assert.ErrorIs(t, err, incidents.ErrInvalidTransition)

	current, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.AcknowledgedAt, *current.AcknowledgedAt)
}

func TestAcknowledgeMarksNotificationRead(t *testing.T) {
	receipts := &recordingReceipts{err: errors.New("notification service down")}
	m, _, _ := newMachine(t, incidents.WithReadReceipts(receipts))
	inc := openIncident(t, m, "A-1")

	_, err := m.Acknowledge(context.Background(), inc.ID, nurse)
	require.NoError(t, err, "receipt failures are best-effort")
	assert.Equal(t, []string{inc.ID + "/E-7"}, receipts.calls)
}

func TestResolveNotesLength(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		notes string
		ok    bool
	}{
		{"", false},
		{"          ", false},
		{"123456789", false},
		{"   123456789   ", false},
		{"1234567890", true},
		{"  1234567890  ", true},
	}
	for _, tt := range tests {
		m, _, _ := newMachine(t)
		inc := openIncident(t, m, "A-1")
		_, err := m.Resolve(ctx, inc.ID, nurse, tt.notes)
		if tt.ok {
			assert.NoError(t, err, "%q", tt.notes)
		} else {
			assert.ErrorIs(t, err, incidents.ErrValidation, "%q", tt.notes)
		}
	}
}

func TestResolveWithoutAcknowledgeHasNoResolutionTime(t *testing.T) {
	m, _, clock := newMachine(t)
	inc := openIncident(t, m, "A-1")
	clock.Advance(5 * time.Minute)

	inc, err := m.Resolve(context.Background(), inc.ID, nurse, "false alarm, sensor detached")
	require.NoError(t, err)
	assert.Equal(t, incidents.DurationNotApplicable, inc.Elapsed.Resolution.State)
	assert.Equal(t, incidents.DurationPending, inc.Elapsed.Response.State)
	assert.Equal(t, 300.0, inc.Elapsed.Total.Seconds)
}

func TestAddNote(t *testing.T) {
	m, store, clock := newMachine(t)
	ctx := context.Background()
	inc := openIncident(t, m, "A-1")

	_, err := m.AddNote(ctx, inc.ID, nurse, "   ")
	assert.ErrorIs(t, err, incidents.ErrValidation)

	for _, n := range []string{"first", "second", "third"} {
		clock.Advance(time.Second)
		_, err := m.AddNote(ctx, inc.ID, nurse, n)
		require.NoError(t, err)
	}
	current, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusOpen, current.Status)
	assert.Equal(t, []string{"[08:00:01] first", "[08:00:02] second", "[08:00:03] third"}, current.IntermediateNotes)

	_, err = m.Resolve(ctx, inc.ID, nurse, "resolved after notes")
	require.NoError(t, err)
	_, err = m.AddNote(ctx, inc.ID, nurse, "late")
	assert.ErrorIs(t, err, incidents.ErrInvalidTransition)
}

func TestUnknownIncident(t *testing.T) {
	m, _, _ := newMachine(t)
	_, err := m.Acknowledge(context.Background(), "INC-missing", nurse)
	assert.ErrorIs(t, err, incidents.ErrNotFound)
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	m, store, _ := newMachine(t)
	ctx := context.Background()
	inc := openIncident(t, m, "A-1")
	_, err := m.Acknowledge(ctx, inc.ID, nurse)
	require.NoError(t, err)
	_, err = m.Start(ctx, inc.ID, nurse, "")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Resolve(ctx, inc.ID, nurse, "closed by concurrent caller")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, incidents.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, wins)

	resolved := 0
	for _, h := range store.AllHistory() {
		if h.Action == incidents.ActionResolved {
			resolved++
		}
	}
	assert.Equal(t, 1, resolved)
}

func TestMetricsAggregates(t *testing.T) {
	m, _, clock := newMachine(t)
	ctx := context.Background()
	other := incidents.StaffActor("E-9", "Sam Ortiz")

	a := openIncident(t, m, "A-1")
	b := openIncident(t, m, "A-2")
	openIncident(t, m, "A-3")

	clock.Advance(60 * time.Second)
	_, err := m.Acknowledge(ctx, a.ID, nurse)
	require.NoError(t, err)
	clock.Advance(60 * time.Second)
	_, err = m.Acknowledge(ctx, b.ID, other)
	require.NoError(t, err)
	clock.Advance(60 * time.Second)
	_, err = m.Resolve(ctx, a.ID, nurse, "resolved incident a")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, b.ID, other, "resolved incident b")
	require.NoError(t, err)

	stats, err := m.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SeverityCounts[incidents.SeverityCritical])
	assert.Equal(t, 2, stats.StatusCounts[incidents.StatusResolved])
	assert.Equal(t, 1, stats.StatusCounts[incidents.StatusOpen])
	assert.InDelta(t, 90.0, stats.AverageTimes.ResponseSeconds, 0.001)
	assert.InDelta(t, 1.5, stats.AverageTimes.ResponseMinutes, 0.001)
	assert.InDelta(t, 180.0, stats.AverageTimes.TotalSeconds, 0.001)
	require.Len(t, stats.ResolverPerformance, 2)
	assert.Equal(t, "E-7", stats.ResolverPerformance[0].EmployeeID)
	assert.Equal(t, "E-9", stats.ResolverPerformance[1].EmployeeID)
}
