package messaging

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222"}.withDefaults()
	assert.Equal(t, "carecore", cfg.Name)
	assert.Equal(t, uint(5), cfg.ConnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ConnectDelay)

	cfg = Config{ConnectAttempts: 2, ConnectDelay: time.Second}.withDefaults()
	assert.Equal(t, uint(2), cfg.ConnectAttempts)
	assert.Equal(t, time.Second, cfg.ConnectDelay)
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	start := time.Now()
	_, err := Connect(context.Background(), Config{
		URL:             "nats://127.0.0.1:1",
		ConnectAttempts: 3,
		ConnectDelay:    10 * time.Millisecond,
		ConnectTimeout:  200 * time.Millisecond,
	}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectStopsWhenContextDone(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, Config{URL: "nats://127.0.0.1:1", ConnectDelay: time.Hour}, logger)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLazyPublisherReportsUnreachableBroker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewLazyPublisher(Config{URL: "nats://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond}, logger)
	defer p.Close()

	err := p.Publish(context.Background(), "notifications.assigned", "id-1", []byte(`{}`))
	require.Error(t, err)
	assert.Nil(t, p.client)
}

func TestConfigKeepsReconnectsEnabled(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222"}.withDefaults()
	assert.Equal(t, DefaultMaxReconnects, cfg.MaxReconnects)

	opts := nats.GetDefaultOptions()
	for _, apply := range cfg.options() {
		require.NoError(t, apply(&opts))
	}
	assert.Equal(t, DefaultMaxReconnects, opts.MaxReconnect)
	assert.True(t, opts.AllowReconnect)
	assert.Equal(t, 2*time.Second, opts.ReconnectWait)

	forever := Config{MaxReconnects: -1}.withDefaults()
	assert.Equal(t, -1, forever.MaxReconnects)
}

func TestConnectCancelInterruptsDelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := Connect(ctx, Config{
		URL:             "nats://127.0.0.1:1",
		ConnectAttempts: 5,
		ConnectDelay:    2 * time.Second,
		ConnectTimeout:  20 * time.Millisecond,
	}, logger)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
