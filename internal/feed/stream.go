package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tokenwatch/internal/domain"
)

// StreamConfig configures StreamClient behavior.
type StreamConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the capacity of the outgoing event channel.
	Buffer int
}

// DefaultStreamConfig returns the default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            64,
	}
}

// StreamClient consumes a websocket feed of token launches as a push
// alternative to polling. Messages run through the same normalization as
// polled records, so downstream dedup and matching are identical.
type StreamClient struct {
	endpoint string
	config   StreamConfig
	logger   logrus.FieldLogger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan *domain.TokenEvent
	done   chan struct{}
	wg     sync.WaitGroup

	nowFn func() time.Time
}

// NewStreamClient connects to the endpoint, subscribes to new-token
// notifications, and starts the read loop.
func NewStreamClient(ctx context.Context, endpoint string, config *StreamConfig, logger logrus.FieldLogger) (*StreamClient, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &StreamClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		events:   make(chan *domain.TokenEvent, cfg.Buffer),
		done:     make(chan struct{}),
		nowFn:    time.Now,
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Events returns the channel of normalized token events. It is closed
// when the client shuts down.
func (c *StreamClient) Events() <-chan *domain.TokenEvent {
	return c.events
}

// Close shuts the client down and closes the event channel.
func (c *StreamClient) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.events)
}

func (c *StreamClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	return c.subscribe()
}

func (c *StreamClient) subscribe() error {
	payload, err := json.Marshal(map[string]string{"method": "subscribeNewToken"})
	if err != nil {
		return fmt.Errorf("marshal subscribe payload: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send subscribe message: %w", err)
	}
	return nil
}

func (c *StreamClient) readLoop() {
	defer c.wg.Done()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.WithError(err).Warn("stream read failed, reconnecting")
			if !c.reconnect() {
				return
			}
			continue
		}

		ev, ok := decodeStreamMessage(message, c.nowFn().UnixMilli())
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		default:
			// Slow consumer: drop rather than block the read loop.
			c.logger.WithField("address", ev.Address).Warn("stream buffer full, dropping event")
		}
	}
}

func (c *StreamClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.WithError(err).Debug("ping write failed")
				}
			}
			c.connMu.Unlock()
		}
	}
}

// reconnect dials with capped exponential delays until it succeeds or the
// client is closed. Returns false when the client closed.
func (c *StreamClient) reconnect() bool {
	delay := c.config.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("stream reconnected")
			return true
		}

		c.logger.WithError(err).Warn("stream reconnect failed")
		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// decodeStreamMessage normalizes one websocket message into a TokenEvent.
// Subscription acks and ineligible records return false.
func decodeStreamMessage(message []byte, nowMs int64) (*domain.TokenEvent, bool) {
	return normalizeRecord(message, nowMs)
}
