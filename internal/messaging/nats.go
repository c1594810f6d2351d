// Package messaging wraps the NATS JetStream connection shared by the alert
// consumer and the outbox relay.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Songmu/retry"
	"github.com/nats-io/nats.go"

	"carecore/internal/telemetry"
)

// DefaultMaxReconnects bounds automatic reconnection after a dropped connection.
const DefaultMaxReconnects = 60

// Stream and subject names.
const (
	AlertsStream        = "ALERTS"
	AlertsSubject       = "alerts.new"
	DeadLetterSubject   = "alerts.dead"
	NotificationsStream = "NOTIFICATIONS"
)

type Config struct {
	URL             string
	Name            string
	ConnectAttempts uint
	ConnectDelay    time.Duration
	ReconnectWait   time.Duration
	MaxReconnects   int
	ConnectTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "carecore"
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}
	if c.ConnectDelay == 0 {
		c.ConnectDelay = 5 * time.Second
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	// Zero would disable reconnection in nats.go; negative means forever.
	if c.MaxReconnects == 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	conn       *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

func (c Config) options() []nats.Option {
	return []nats.Option{
		nats.Name(c.Name),
		nats.ReconnectWait(c.ReconnectWait),
		nats.MaxReconnects(c.MaxReconnects),
		nats.Timeout(c.ConnectTimeout),
	}
}

// Connect dials NATS with a fixed-delay retry. It gives up after
// cfg.ConnectAttempts tries or as soon as ctx is done.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	opts := cfg.options()

	var conn *nats.Conn
	attempt := 0
	// The delay is waited here rather than by retry so cancellation cuts it short.
	err := retry.Retry(cfg.ConnectAttempts, 0, func() error {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.ConnectDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		c, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			logger.Warn("broker connection failed", "attempt", attempt, "of", cfg.ConnectAttempts, "err", err)
			return err
		}
		conn = c
		return nil
	})
	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	client := &Client{conn: conn, js: js, logger: logger}
	conn.SetReconnectHandler(func(nc *nats.Conn) {
		telemetry.ObserveBroker(telemetry.BrokerReconnected)
		logger.Info("broker reconnected", "url", nc.ConnectedUrl())
	})
	conn.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		telemetry.ObserveBroker(telemetry.BrokerDisconnected)
		if err != nil {
			logger.Warn("broker disconnected", "err", err)
		}
	})
	conn.SetClosedHandler(func(*nats.Conn) {
		telemetry.ObserveBroker(telemetry.BrokerClosed)
		logger.Warn("broker connection closed")
	})
	telemetry.ObserveBroker(telemetry.BrokerConnected)
	logger.Info("connected to broker", "url", conn.ConnectedUrl())
	return client, nil
}

// EnsureStreams creates or updates the streams this service reads and writes.
func (c *Client) EnsureStreams() error {
	streams := []*nats.StreamConfig{
		{
			Name:      AlertsStream,
			Subjects:  []string{AlertsSubject, DeadLetterSubject},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		},
		{
			Name:       NotificationsStream,
			Subjects:   []string{"notifications.>", "incidents.>"},
			Storage:    nats.FileStorage,
			Retention:  nats.LimitsPolicy,
			Duplicates: 10 * time.Minute,
		},
	}
	for _, cfg := range streams {
		_, err := c.js.StreamInfo(cfg.Name)
		switch {
		case errors.Is(err, nats.ErrStreamNotFound):
			_, err = c.js.AddStream(cfg)
		case err == nil:
			_, err = c.js.UpdateStream(cfg)
		}
		if err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Publish sends data to a JetStream subject. A non-empty msgID lets the server
// drop duplicates inside the stream's window.
func (c *Client) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

type PullConfig struct {
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
}

// PullSubscribe binds a durable pull consumer with one message in flight.
func (c *Client) PullSubscribe(subject string, cfg PullConfig) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, cfg.Durable,
		nats.BindStream(AlertsStream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(1),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// IsClosed reports whether the connection is gone for good, either closed by
// the caller or after reconnection gave up.
func (c *Client) IsClosed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// LazyPublisher connects on first use and redials after the connection is
// closed. Failed publishes are left to the caller to retry.
type LazyPublisher struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *Client
}

func NewLazyPublisher(cfg Config, logger *slog.Logger) *LazyPublisher {
	cfg.ConnectAttempts = 1
	return &LazyPublisher{cfg: cfg, logger: logger}
}

func (p *LazyPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	client, err := p.get(ctx)
	if err != nil {
		return err
	}
	return client.Publish(ctx, subject, msgID, data)
}

func (p *LazyPublisher) get(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && !p.client.IsClosed() {
		return p.client, nil
	}
	client, err := Connect(ctx, p.cfg, p.logger)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureStreams(); err != nil {
		client.Close()
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *LazyPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}
