package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
	"github.com/Temutjin2k/ride-hail-driver/pkg/metrics"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
)

type Config struct {
	Endpoint string
	DriverID string

	// Zero values fall back to the defaults above.
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
}

// Channel owns the single persistent websocket to the dispatch backend.
//
// Outbound sends while disconnected land in a single buffer slot with
// last-write-wins overwrite: a buffered location update can be silently
// replaced by a later accept/reject notification and vice versa. This is
// deliberate memory-bounded backpressure for a stream dominated by
// high-frequency location data — callers must not rely on delivery of
// intermediate buffered sends.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logger.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          types.ConnState
	pending        []byte // single outbound slot
	hbStop         chan struct{}
	reconnectTimer *time.Timer
	closed         bool

	wmu sync.Mutex // serializes socket writes

	subMu     sync.Mutex
	nextSubID int
	msgSubs   map[int]func(models.Envelope)
	connSubs  map[int]func()
	errSubs   map[int]func(error)
}

func NewChannel(cfg Config, log logger.Logger) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	return &Channel{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		log:      log,
		state:    types.Disconnected,
		msgSubs:  make(map[int]func(models.Envelope)),
		connSubs: make(map[int]func()),
		errSubs:  make(map[int]func(error)),
	}
}

func (c *Channel) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the websocket. No-op if a connection attempt is already
// underway or a socket exists.
func (c *Channel) Connect() error {
	ctx := wrap.WithAction(context.Background(), "transport_connect")

	c.mu.Lock()
	if c.state != types.Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.state = types.Connecting
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.cfg.Endpoint, nil)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
		c.log.Warn(ctx, "dial failed", "err", err.Error())
		c.notifyError(err)
		// A failed dial behaves like an immediate close: the reconnect
		// policy takes over.
		c.handleClose(nil)
		return err
	}

	c.onOpen(ctx, conn)
	return nil
}

func (c *Channel) onOpen(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = types.Connected

	// A pending reconnect attempt is obsolete once a socket is open.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	c.hbStop = make(chan struct{})
	go c.heartbeatLoop(conn, c.hbStop)

	flush := c.pending
	c.pending = nil
	c.mu.Unlock()

	metrics.TransportConnected.Set(1)
	c.log.Info(ctx, "connected to dispatch", "endpoint", c.cfg.Endpoint)

	if flush != nil {
		if err := c.write(conn, flush); err != nil {
			c.log.Warn(ctx, "failed to flush buffered message", "err", err.Error())
		}
	}

	c.notifyConnected()

	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.notifyError(fmt.Errorf("malformed inbound frame: %w", err))
			continue
		}

		metrics.TransportMessagesTotal.WithLabelValues(metrics.DirectionIn, string(env.Type)).Inc()
		c.notifyMessage(env)
	}
}

// handleClose is the single close transition: stop the heartbeat and,
// if no reconnect timer is pending, schedule exactly one attempt.
// A second close before that timer fires must not create a second timer.
func (c *Channel) handleClose(conn *websocket.Conn) {
	ctx := wrap.WithAction(context.Background(), "transport_close")

	c.mu.Lock()
	if conn != nil && c.conn != conn {
		// close of a socket we already replaced
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = types.Disconnected

	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}

	scheduled := false
	if !c.closed && c.reconnectTimer == nil {
		c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
			c.mu.Lock()
			c.reconnectTimer = nil
			c.mu.Unlock()
			_ = c.Connect()
		})
		scheduled = true
	}
	c.mu.Unlock()

	metrics.TransportConnected.Set(0)
	if scheduled {
		metrics.TransportReconnectsTotal.Inc()
		c.log.Info(ctx, "disconnected, reconnect scheduled", "delay", c.cfg.ReconnectDelay.String())
	}
}

// Send transmits the envelope immediately when connected; otherwise it
// overwrites the single outbound buffer slot (last-write-wins).
func (c *Channel) Send(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == types.Connected && conn != nil
	if !connected {
		if c.pending != nil {
			metrics.TransportBufferOverwritesTotal.Inc()
		}
		c.pending = data
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.write(conn, data); err != nil {
		c.notifyError(err)
		return err
	}

	metrics.TransportMessagesTotal.WithLabelValues(metrics.DirectionOut, string(env.Type)).Inc()
	return nil
}

func (c *Channel) write(conn *websocket.Conn, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// heartbeatLoop transmits a ping envelope while the socket stays open,
// bypassing the buffer slot since the channel is known open.
func (c *Channel) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ping, err := json.Marshal(models.Envelope{
		Type:     types.MsgPing,
		Role:     models.RoleDriver,
		DriverID: c.cfg.DriverID,
	})
	if err != nil {
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(conn, ping); err != nil {
				// the read loop will observe the close
				return
			}
			metrics.TransportMessagesTotal.WithLabelValues(metrics.DirectionOut, string(types.MsgPing)).Inc()
		}
	}
}

// Disconnect tears down the socket and stops the heartbeat. It does not
// clear the outbound buffer, and an already-pending reconnect timer is
// left alone; no new reconnects are scheduled until Connect is called.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		// the read loop observes the close and finishes the transition
		_ = conn.Close()
	}
}

// OnMessage subscribes to inbound envelopes. Returns an unsubscribe func.
func (c *Channel) OnMessage(handler func(models.Envelope)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.msgSubs[id] = handler

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.msgSubs, id)
	}
}

// OnConnected subscribes to open events. Returns an unsubscribe func.
func (c *Channel) OnConnected(handler func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.connSubs[id] = handler

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.connSubs, id)
	}
}

// OnError subscribes to transport errors. Errors do not trigger
// reconnect by themselves; reconnect is driven only by the close
// transition. Returns an unsubscribe func.
func (c *Channel) OnError(handler func(error)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.errSubs[id] = handler

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.errSubs, id)
	}
}

func (c *Channel) notifyMessage(env models.Envelope) {
	for _, h := range c.snapshotMsgSubs() {
		h(env)
	}
}

func (c *Channel) notifyConnected() {
	c.subMu.Lock()
	subs := make([]func(), 0, len(c.connSubs))
	for _, h := range c.connSubs {
		subs = append(subs, h)
	}
	c.subMu.Unlock()

	for _, h := range subs {
		h()
	}
}

func (c *Channel) notifyError(err error) {
	c.subMu.Lock()
	subs := make([]func(error), 0, len(c.errSubs))
	for _, h := range c.errSubs {
		subs = append(subs, h)
	}
	c.subMu.Unlock()

	for _, h := range subs {
		h(err)
	}
}

func (c *Channel) snapshotMsgSubs() []func(models.Envelope) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	subs := make([]func(models.Envelope), 0, len(c.msgSubs))
	for _, h := range c.msgSubs {
		subs = append(subs, h)
	}
	return subs
}
