package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"carecore/internal/incidents"
	"carecore/internal/telemetry"
)

// Publisher delivers one message to the broker. msgID is used for de-duplication.
type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

type RelayConfig struct {
	Schedule    string
	BatchSize   int
	MaxAttempts int
}

// Relay drains the outbox into the broker. Delivery is at least once; the
// broker drops duplicates by message id.
type Relay struct {
	store   incidents.OutboxStore
	pub     Publisher
	logger  *slog.Logger
	cfg     RelayConfig
	trigger chan struct{}
}

func NewRelay(store incidents.OutboxStore, pub Publisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 2s"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Relay{
		store:   store,
		pub:     pub,
		logger:  logger,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger asks for a drain as soon as possible without blocking.
func (r *Relay) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run drains on the configured schedule and on every Trigger until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Schedule, r.Trigger); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	r.logger.Info("outbox relay started", "schedule", r.cfg.Schedule)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-r.trigger:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox drain failed", "err", err)
			}
		}
	}
}

// RunOnce publishes one batch of pending messages and returns how many went out.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.PendingOutbox(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, msg := range pending {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.pub.Publish(pubCtx, msg.Subject, msg.MsgID, msg.Payload)
		cancel()
		telemetry.ObserveNotification(err == nil)
		if err != nil {
			r.logger.Warn("publish failed", "subject", msg.Subject, "msg_id", msg.MsgID, "attempt", msg.Attempts+1, "err", err)
			if markErr := r.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				return sent, markErr
			}
			if msg.Attempts+1 >= r.cfg.MaxAttempts {
				r.logger.Error("giving up on outbox message", "subject", msg.Subject, "msg_id", msg.MsgID)
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, msg.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
