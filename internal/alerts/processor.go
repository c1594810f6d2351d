package alerts

import (
	"context"
	"log/slog"
	"time"

	"carecore/internal/telemetry"
)

// Delivery is one inbound message with its acknowledgment controls.
type Delivery interface {
	Data() []byte
	NumDelivered() uint64
	Ack() error
	NakWithDelay(d time.Duration) error
	Term() error
}

// DeadLetters receives messages that will never be processed.
type DeadLetters interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

type ProcessorConfig struct {
	DeadLetterSubject string
	MaxDeliver        int
	RedeliveryDelay   time.Duration
}

// Processor handles one delivery at a time: create, assign, then ack.
type Processor struct {
	intake *Intake
	dlq    DeadLetters
	cfg    ProcessorConfig
	logger *slog.Logger
}

func NewProcessor(intake *Intake, dlq DeadLetters, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = 10 * time.Second
	}
	return &Processor{intake: intake, dlq: dlq, cfg: cfg, logger: logger}
}

// Handle processes d and settles it. The returned error is only for settlement
// failures; processing failures are handled by redelivery or dead-lettering.
func (p *Processor) Handle(ctx context.Context, d Delivery) error {
	start := time.Now()
	err := p.process(ctx, d.Data())
	if err == nil {
		telemetry.ObserveAlert(time.Since(start), telemetry.AlertAcked)
		return d.Ack()
	}

	attempt := d.NumDelivered()
	if !IsPermanent(err) && attempt < uint64(p.cfg.MaxDeliver) {
		p.logger.Warn("alert processing failed; will redeliver", "attempt", attempt, "err", err)
		telemetry.ObserveAlert(time.Since(start), telemetry.AlertRedelivered)
		return d.NakWithDelay(p.cfg.RedeliveryDelay)
	}

	p.logger.Error("alert dead-lettered", "attempt", attempt, "permanent", IsPermanent(err), "err", err)
	telemetry.ObserveAlert(time.Since(start), telemetry.AlertDeadLettered)
	if dlqErr := p.deadLetter(ctx, d.Data()); dlqErr != nil {
		p.logger.Error("dead-letter publish failed; leaving for redelivery", "err", dlqErr)
		return d.NakWithDelay(p.cfg.RedeliveryDelay)
	}
	return d.Term()
}

func (p *Processor) process(ctx context.Context, data []byte) error {
	a, err := Decode(data)
	if err != nil {
		return err
	}
	res, err := p.intake.CreateFromAlert(ctx, a)
	if err != nil {
		if IsPermanent(err) {
			return err
		}
		return Transient(err)
	}
	p.logger.Info("alert processed", "alert_id", a.AlertID, "incident_id", res.Incident.ID,
		"created", res.Created, "assigned", res.Outcome.Assigned)
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, data []byte) error {
	if p.dlq == nil || p.cfg.DeadLetterSubject == "" {
		return nil
	}
	return p.dlq.Publish(ctx, p.cfg.DeadLetterSubject, "", data)
}
