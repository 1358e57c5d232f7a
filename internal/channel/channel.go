// Package channel owns the duplex realtime connection to the dispatch
// backend. The client is an explicitly injected object; nothing in this
// process holds an ambient global connection.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
)

var ErrNotConnected = errors.New("channel not connected")

// Emitter is the narrow outbound interface components hold. Both the real
// Client and test fakes satisfy it.
type Emitter interface {
	Emit(v any) error
	IsConnected() bool
}

// LifecycleListener receives connection lifecycle events. Only the session
// coordinator subscribes one.
type LifecycleListener interface {
	Connected()
	Disconnected(reason string)
	Reconnecting(attempt int)
	Reconnected(attempt int)
	ChannelError(msg string)
}

// Handler receives every inbound message, pre-routed on the envelope type.
type Handler func(msgType string, payload []byte)

type Options struct {
	URL           string
	MaxReconnects int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Client is a reconnecting websocket channel. Writes are serialised with a
// mutex because multiple components enqueue emits concurrently.
type Client struct {
	opts      Options
	log       *slog.Logger
	handler   Handler
	lifecycle LifecycleListener

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 8
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Client{
		opts:      opts,
		log:       log,
		handler:   func(string, []byte) {},
		lifecycle: nopLifecycle{},
		done:      make(chan struct{}),
	}
}

// SetHandler registers the inbound message handler. Call before Connect.
func (c *Client) SetHandler(h Handler) {
	if h != nil {
		c.handler = h
	}
}

// SetLifecycleListener registers the lifecycle listener. Call before Connect.
func (c *Client) SetLifecycleListener(l LifecycleListener) {
	if l != nil {
		c.lifecycle = l
	}
}

// Connect dials the backend and starts the read loop. The context bounds the
// initial handshake only; reconnects are governed by Options.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting channel: %w", err)
	}
	c.setConn(conn)
	c.lifecycle.Connected()
	c.log.Info("channel connected", "url", c.opts.URL)

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	return conn, err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.connected.Store(true)
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Emit marshals v and writes it to the socket. Returns ErrNotConnected when
// the channel is down; callers decide whether that is fatal.
func (c *Client) Emit(v any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Close tears the connection down exactly once and stops the read loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.connected.Store(false)
		c.writeMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.writeMu.Unlock()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn == nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			select {
			case <-c.done:
				return
			default:
			}
			c.lifecycle.Disconnected(err.Error())
			c.log.Warn("channel disconnected", "reason", err.Error())
			if !c.reconnect() {
				return
			}
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.log.Warn("unparseable channel message", "error", err)
			continue
		}
		c.handler(env.Type, payload)
	}
}

// reconnect retries the dial with increasing delay until it succeeds or the
// attempt budget is spent. Offers arriving while disconnected are lost; the
// client does not buffer or replay.
func (c *Client) reconnect() bool {
	delay := c.opts.BaseDelay
	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		c.lifecycle.Reconnecting(attempt)
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		conn, err := c.dial(context.Background())
		if err == nil {
			c.setConn(conn)
			c.lifecycle.Reconnected(attempt)
			observability.ChannelReconnectsTotal.Inc()
			c.log.Info("channel reconnected", "attempt", attempt)
			return true
		}

		c.log.Warn("reconnect failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > c.opts.MaxDelay {
			delay = c.opts.MaxDelay
		}
	}
	observability.ChannelErrorsTotal.Inc()
	c.lifecycle.ChannelError("reconnect attempts exhausted")
	c.log.Error("channel gave up reconnecting", "attempts", c.opts.MaxReconnects)
	return false
}

type nopLifecycle struct{}

func (nopLifecycle) Connected()          {}
func (nopLifecycle) Disconnected(string) {}
func (nopLifecycle) Reconnecting(int)    {}
func (nopLifecycle) Reconnected(int)     {}
func (nopLifecycle) ChannelError(string) {}
