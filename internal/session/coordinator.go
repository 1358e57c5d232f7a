// Package session owns the live dispatch session: it wires the realtime
// channel, the location broadcaster, the ride-request inbox, the booking
// wizard and the panel controller together, and owns their lifecycles.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/driver-dispatch/internal/channel"
	"github.com/example/driver-dispatch/internal/heartbeat"
	"github.com/example/driver-dispatch/internal/inbox"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
	"github.com/example/driver-dispatch/internal/panel"
	"github.com/example/driver-dispatch/internal/wizard"
)

// Channel is the full duplex surface the coordinator owns. The concrete
// client is injected; the coordinator is the only lifecycle subscriber.
type Channel interface {
	channel.Emitter
	Connect(ctx context.Context) error
	Close() error
	SetHandler(channel.Handler)
	SetLifecycleListener(channel.LifecycleListener)
}

// Status is the combined view served to the UI. ChannelDown is terminal:
// the reconnect budget ran out and only a restart brings the channel back.
type Status struct {
	Presence     models.DriverPresence `json:"presence"`
	Reconnecting bool                  `json:"reconnecting"`
	ChannelDown  bool                  `json:"channel_down"`
	Requests     []inbox.Record        `json:"requests"`
	Booking      wizard.Session        `json:"booking"`
	Detent       panel.Detent          `json:"detent"`
}

type Coordinator struct {
	driverID    string
	ch          Channel
	broadcaster *heartbeat.Broadcaster
	inbox       *inbox.Inbox
	wizard      *wizard.Wizard
	panel       *panel.Controller
	log         *slog.Logger

	mu           sync.Mutex
	online       bool
	reconnecting bool
	channelDown  bool

	stopOnce sync.Once
}

func New(
	driverID string,
	ch Channel,
	broadcaster *heartbeat.Broadcaster,
	in *inbox.Inbox,
	wiz *wizard.Wizard,
	pnl *panel.Controller,
	log *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		driverID:    driverID,
		ch:          ch,
		broadcaster: broadcaster,
		inbox:       in,
		wizard:      wiz,
		panel:       pnl,
		log:         log,
	}

	ch.SetHandler(c.handleInbound)
	ch.SetLifecycleListener(c)
	in.SetOnChange(func() { c.panel.Observe(c.panelInputs()) })
	wiz.SetOnChange(func(s wizard.State) {
		// Entering location search gets the direct command for perceived
		// responsiveness; everything else settles through the debounce.
		// Both paths evaluate the same mapping.
		if s == wizard.StateLocationSearch {
			c.panel.SetImmediate(c.panelInputs())
			return
		}
		c.panel.Observe(c.panelInputs())
	})
	return c
}

// Start connects the channel and starts the broadcaster and inbox loops.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.ch.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.online = true
	c.mu.Unlock()

	c.inbox.Start()
	c.broadcaster.Start()
	c.log.Info("dispatch session started", "driver_id", c.driverID)
	return nil
}

// Stop tears down every loop and listener exactly once. Anything left
// running after this point would keep emitting after navigation away.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.online = false
		c.mu.Unlock()

		c.broadcaster.Stop()
		c.inbox.Stop()
		c.panel.Stop()
		if err := c.ch.Close(); err != nil {
			c.log.Warn("channel close failed", "error", err)
		}
		c.log.Info("dispatch session stopped", "driver_id", c.driverID)
	})
}

// Logout broadcasts the final logged-out heartbeat and stops the session.
// The broadcast goes out even when no position was ever sampled; the
// fallback coordinate stands in so the server always sees the sign-off.
func (c *Coordinator) Logout() {
	available, _ := c.broadcaster.Presence()
	if c.ch.IsConnected() {
		hb := models.NewHeartbeat(c.driverID, c.broadcaster.LastPosition(), available)
		if err := c.ch.Emit(models.NewLogout(hb)); err != nil {
			c.log.Warn("logout emit failed", "error", err)
		}
	}
	c.Stop()
}

func (c *Coordinator) ToggleAvailability(available bool) {
	c.broadcaster.ToggleAvailability(available)
}

func (c *Coordinator) Presence() models.DriverPresence {
	c.mu.Lock()
	online := c.online && !c.channelDown
	c.mu.Unlock()

	available, last := c.broadcaster.Presence()
	return models.DriverPresence{
		DriverID:     c.driverID,
		IsOnline:     online,
		IsAvailable:  available,
		LastLocation: last,
	}
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	reconnecting := c.reconnecting
	down := c.channelDown
	c.mu.Unlock()
	return Status{
		Presence:     c.Presence(),
		Reconnecting: reconnecting,
		ChannelDown:  down,
		Requests:     c.inbox.Snapshot(),
		Booking:      c.wizard.Snapshot(),
		Detent:       c.panel.Current(),
	}
}

func (c *Coordinator) Inbox() *inbox.Inbox    { return c.inbox }
func (c *Coordinator) Wizard() *wizard.Wizard { return c.wizard }

func (c *Coordinator) panelInputs() panel.Inputs {
	return panel.Inputs{
		PendingOffers: c.inbox.PendingCount(),
		Wizard:        c.wizard.State(),
	}
}

func (c *Coordinator) handleInbound(msgType string, payload []byte) {
	switch msgType {
	case models.MsgRideRequest:
		var req models.RideRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.log.Warn("malformed ride request", "error", err)
			return
		}
		if err := c.inbox.Add(req); err != nil {
			c.log.Warn("ride request rejected", "error", err)
		}
	default:
		// Includes any server-side notice that another driver won an
		// accepted ride: there is no client recovery path for that case.
		observability.UnknownMessagesTotal.Inc()
		c.log.Warn("unhandled channel message", "type", msgType)
	}
}

// Lifecycle events. Only this coordinator subscribes to the channel.

func (c *Coordinator) Connected() {
	c.mu.Lock()
	c.reconnecting = false
	c.channelDown = false
	c.mu.Unlock()
}

func (c *Coordinator) Disconnected(reason string) {
	c.setReconnecting(true)
	c.log.Warn("channel down", "reason", reason)
}

func (c *Coordinator) Reconnecting(attempt int) {
	c.setReconnecting(true)
	c.log.Info("channel reconnecting", "attempt", attempt)
}

func (c *Coordinator) Reconnected(attempt int) {
	c.mu.Lock()
	c.reconnecting = false
	c.channelDown = false
	c.mu.Unlock()
	c.log.Info("channel reconnected", "attempt", attempt)
}

// ChannelError means the client gave up: the reconnect budget is spent and
// no further attempts follow. The session presents itself as offline.
func (c *Coordinator) ChannelError(msg string) {
	c.mu.Lock()
	c.reconnecting = false
	c.channelDown = true
	c.mu.Unlock()
	c.log.Error("channel error", "message", msg)
}

func (c *Coordinator) setReconnecting(v bool) {
	c.mu.Lock()
	c.reconnecting = v
	c.mu.Unlock()
}
