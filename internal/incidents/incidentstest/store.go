// Package incidentstest provides an in-memory incidents.Repository for tests.
package incidentstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"carecore/internal/incidents"
)

// Store serializes every operation behind one mutex, which gives Update the same
// all-or-nothing behaviour as the Postgres row lock.
type Store struct {
	mu       sync.Mutex
	byID     map[string]*incidents.Incident
	byAlert  map[string]string
	history  []incidents.HistoryEntry
	outbox   []incidents.OutboxMessage
	nextID   int64
	// FailWith, when set, is returned by every call.
	FailWith error
}

func New() *Store {
	return &Store{
		byID:    map[string]*incidents.Incident{},
		byAlert: map[string]string{},
	}
}

func (s *Store) Create(_ context.Context, inc *incidents.Incident, entry incidents.HistoryEntry) (*incidents.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, false, s.FailWith
	}
	if id, ok := s.byAlert[inc.AlertID]; ok {
		return s.byID[id].Clone(), false, nil
	}
	stored := inc.Clone()
	s.byID[stored.ID] = stored
	s.byAlert[stored.AlertID] = stored.ID
	s.appendHistory(entry)
	return stored.Clone(), true, nil
}

func (s *Store) Get(_ context.Context, id string) (*incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	inc, ok := s.byID[id]
	if !ok {
		return nil, &incidents.Error{Kind: incidents.KindNotFound, Op: "get", Msg: "incident not found"}
	}
	return inc.Clone(), nil
}

func (s *Store) History(_ context.Context, id string) ([]incidents.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	res := []incidents.HistoryEntry{}
	for _, h := range s.history {
		if h.IncidentID == id {
			res = append(res, h)
		}
	}
	return res, nil
}

func (s *Store) List(_ context.Context, f incidents.ListFilter) ([]incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	res := []incidents.Incident{}
	for _, inc := range s.byID {
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		res = append(res, *inc.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *Store) Update(_ context.Context, id string, m incidents.Mutation) (*incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	cur, ok := s.byID[id]
	if !ok {
		return nil, &incidents.Error{Kind: incidents.KindNotFound, Op: "update", Msg: "incident not found"}
	}
	next := cur.Clone()
	entry, out, err := m(next)
	if err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	s.byID[id] = next
	s.appendHistory(entry)
	s.appendOutbox(out...)
	return next.Clone(), nil
}

func (s *Store) Enqueue(_ context.Context, msgs ...incidents.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.appendOutbox(msgs...)
	return nil
}

func (s *Store) Stats(_ context.Context) (*incidents.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	all := make([]incidents.Incident, 0, len(s.byID))
	for _, inc := range s.byID {
		all = append(all, *inc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return incidents.Aggregate(all), nil
}

func (s *Store) PendingOutbox(_ context.Context, limit, maxAttempts int) ([]incidents.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	var res []incidents.OutboxMessage
	for _, msg := range s.outbox {
		if msg.PublishedAt != nil || msg.Attempts >= maxAttempts {
			continue
		}
		res = append(res, msg)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *Store) MarkPublished(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			now := time.Now().UTC()
			s.outbox[i].PublishedAt = &now
			s.outbox[i].LastError = ""
		}
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].Attempts++
			s.outbox[i].LastError = reason
		}
	}
	return nil
}

// Outbox returns a snapshot of every queued message.
func (s *Store) Outbox() []incidents.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]incidents.OutboxMessage(nil), s.outbox...)
}

// AllHistory returns every entry in write order.
func (s *Store) AllHistory() []incidents.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]incidents.HistoryEntry(nil), s.history...)
}

func (s *Store) appendHistory(h incidents.HistoryEntry) {
	s.nextID++
	h.ID = s.nextID
	s.history = append(s.history, h)
}

func (s *Store) appendOutbox(msgs ...incidents.OutboxMessage) {
	for _, msg := range msgs {
		dup := false
		for _, existing := range s.outbox {
			if existing.MsgID == msg.MsgID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		s.nextID++
		msg.ID = s.nextID
		msg.CreatedAt = time.Now().UTC()
		s.outbox = append(s.outbox, msg)
	}
}
