package alerts

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNoMessage is returned by Source.Next when nothing arrived before its poll timeout.
var ErrNoMessage = errors.New("no message")

// Source yields deliveries from one broker connection.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
	Close()
}

// Dialer opens a Source. It does its own bounded connection retry.
type Dialer func(ctx context.Context) (Source, error)

type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

// Consumer keeps one Source open and feeds its deliveries to a Handler one at a
// time. Failed connection cycles are followed by a pause; Run only returns when
// ctx is done.
type Consumer struct {
	Dial    Dialer
	Handler Handler
	Pause   time.Duration
	Logger  *slog.Logger
}

func (c *Consumer) Run(ctx context.Context) error {
	pause := c.Pause
	if pause <= 0 {
		pause = 10 * time.Second
	}
	for {
		src, err := c.Dial(ctx)
		if err == nil {
			c.Logger.Info("alert consumer started")
			err = c.consume(ctx, src)
			src.Close()
		}
		if ctx.Err() != nil {
			c.Logger.Info("alert consumer stopped")
			return nil
		}
		c.Logger.Error("alert consumer connection cycle failed", "err", err, "retry_in", pause)
		select {
		case <-ctx.Done():
			c.Logger.Info("alert consumer stopped")
			return nil
		case <-time.After(pause):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, src Source) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d, err := src.Next(ctx)
		if errors.Is(err, ErrNoMessage) {
			continue
		}
		if err != nil {
			return err
		}
		if err := c.Handler.Handle(ctx, d); err != nil {
			c.Logger.Warn("could not settle alert message", "err", err)
		}
	}
}
