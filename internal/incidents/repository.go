package incidents

import "context"

// Mutation validates the current state of a locked incident and mutates it in place.
// It returns the history entry to append and any outbox messages to commit with it.
// Returning an error aborts the update and nothing is written.
type Mutation func(inc *Incident) (HistoryEntry, []OutboxMessage, error)

// Repository is the incident store. Update must apply the mutation atomically: two
// concurrent updates of the same incident must never both succeed from the same base state.
type Repository interface {
	// Create inserts inc and its creation entry. If an incident for the same alert
	// already exists, the stored incident is returned with created=false.
	Create(ctx context.Context, inc *Incident, entry HistoryEntry) (stored *Incident, created bool, err error)
	Get(ctx context.Context, id string) (*Incident, error)
	History(ctx context.Context, id string) ([]HistoryEntry, error)
	List(ctx context.Context, f ListFilter) ([]Incident, error)
	Update(ctx context.Context, id string, m Mutation) (*Incident, error)
	Enqueue(ctx context.Context, msgs ...OutboxMessage) error
	Stats(ctx context.Context) (*Stats, error)
}

// OutboxStore is the relay's view of pending broker messages.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit, maxAttempts int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}
