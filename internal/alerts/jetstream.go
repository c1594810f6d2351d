package alerts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"carecore/internal/messaging"
)

type natsDelivery struct {
	msg *nats.Msg
}

func (d natsDelivery) Data() []byte { return d.msg.Data }

func (d natsDelivery) NumDelivered() uint64 {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return meta.NumDelivered
}

func (d natsDelivery) Ack() error { return d.msg.Ack() }

func (d natsDelivery) NakWithDelay(delay time.Duration) error { return d.msg.NakWithDelay(delay) }

func (d natsDelivery) Term() error { return d.msg.Term() }

type pullSource struct {
	client *messaging.Client
	sub    *nats.Subscription
	poll   time.Duration
}

func (s *pullSource) Next(ctx context.Context) (Delivery, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.poll)
	defer cancel()
	msgs, err := s.sub.Fetch(1, nats.Context(fetchCtx))
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return nil, ErrNoMessage
	case err != nil && !s.client.IsClosed() && !s.client.IsConnected():
		// The client is reconnecting; keep the subscription and poll again.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
		return nil, ErrNoMessage
	case err != nil:
		return nil, err
	case len(msgs) == 0:
		return nil, ErrNoMessage
	}
	return natsDelivery{msg: msgs[0]}, nil
}

func (s *pullSource) Close() {
	s.client.Close()
}

type JetStreamConfig struct {
	Conn messaging.Config
	Pull messaging.PullConfig
	Poll time.Duration
}

// JetStreamDialer connects to NATS, provisions the streams and binds the durable
// alert consumer.
func JetStreamDialer(cfg JetStreamConfig, logger *slog.Logger) Dialer {
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	return func(ctx context.Context) (Source, error) {
		client, err := messaging.Connect(ctx, cfg.Conn, logger)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureStreams(); err != nil {
			client.Close()
			return nil, err
		}
		sub, err := client.PullSubscribe(messaging.AlertsSubject, cfg.Pull)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &pullSource{client: client, sub: sub, poll: cfg.Poll}, nil
	}
}
