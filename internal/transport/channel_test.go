package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
)

// dispatchServer is an in-process stand-in for the dispatch backend.
type dispatchServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu       sync.Mutex
	conns    int
	received []models.Envelope
	current  *websocket.Conn
}

func newDispatchServer(t *testing.T) *dispatchServer {
	s := &dispatchServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns++
		s.current = conn
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *dispatchServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *dispatchServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *dispatchServer) messages() []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Envelope, len(s.received))
	copy(out, s.received)
	return out
}

func (s *dispatchServer) dropConnection() {
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *dispatchServer) push(t *testing.T, env models.Envelope) {
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn == nil {
		t.Fatalf("no active connection to push on")
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func testChannel(t *testing.T, s *dispatchServer, reconnect time.Duration) *Channel {
	log := logger.InitLogger("test", logger.LevelError)
	c := NewChannel(Config{
		Endpoint:          s.wsURL(),
		DriverID:          "driver-1",
		HeartbeatInterval: time.Hour, // keep heartbeats out of most tests
		ReconnectDelay:    reconnect,
	}, log)
	t.Cleanup(c.Disconnect)
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestChannel_ConnectIsIdempotent(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, time.Hour)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	waitFor(t, time.Second, func() bool { return s.connections() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := s.connections(); got != 1 {
		t.Fatalf("expected a single connection, got %d", got)
	}
}

func TestChannel_SendWhileConnected(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, time.Hour)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	env, _ := models.NewDriverEnvelope(types.MsgLocationUpdate, "driver-1", models.LocationUpdateMessage{Latitude: 51.1})
	if err := c.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(s.messages()) == 1 })
	if got := s.messages()[0]; got.Type != types.MsgLocationUpdate || got.Role != models.RoleDriver {
		t.Fatalf("unexpected message on the wire: %+v", got)
	}
}

func TestChannel_CoalescesBufferedSends(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, time.Hour)

	// Both sends land in the single buffer slot; msg2 overwrites msg1.
	msg1, _ := models.NewDriverEnvelope(types.MsgLocationUpdate, "driver-1", models.LocationUpdateMessage{Latitude: 1})
	msg2, _ := models.NewDriverEnvelope(types.MsgRideRejected, "driver-1", models.OfferResultMessage{RequestKey: "rk-1"})
	if err := c.Send(msg1); err != nil {
		t.Fatalf("Send msg1: %v", err)
	}
	if err := c.Send(msg2); err != nil {
		t.Fatalf("Send msg2: %v", err)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(s.messages()) >= 1 })
	time.Sleep(50 * time.Millisecond)

	msgs := s.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one flushed message, got %d", len(msgs))
	}
	if msgs[0].Type != types.MsgRideRejected {
		t.Fatalf("expected the later message to win, got %s", msgs[0].Type)
	}
}

func TestChannel_ReconnectAfterClose(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, 20*time.Millisecond)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.connections() == 1 })

	s.dropConnection()

	waitFor(t, time.Second, func() bool { return s.connections() == 2 })
	waitFor(t, time.Second, func() bool { return c.State() == types.Connected })
}

func TestChannel_SingleReconnectTimer(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, 50*time.Millisecond)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.connections() == 1 })

	// Force the close transition twice with no intervening open: the
	// second close must not arm a second timer.
	s.dropConnection()
	waitFor(t, time.Second, func() bool { return c.State() == types.Disconnected })
	c.handleClose(nil)

	waitFor(t, time.Second, func() bool { return s.connections() == 2 })
	time.Sleep(150 * time.Millisecond)
	if got := s.connections(); got != 2 {
		t.Fatalf("expected exactly one reconnect, got %d connections", got)
	}
}

func TestChannel_DeliversInboundToAllSubscribers(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, time.Hour)

	var mu sync.Mutex
	var got1, got2 []types.MessageType
	c.OnMessage(func(env models.Envelope) {
		mu.Lock()
		got1 = append(got1, env.Type)
		mu.Unlock()
	})
	unsub := c.OnMessage(func(env models.Envelope) {
		mu.Lock()
		got2 = append(got2, env.Type)
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.connections() == 1 })

	s.push(t, models.Envelope{Type: types.MsgRideRequest})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got1) == 1 && len(got2) == 1
	})

	// After unsubscribe only the first handler keeps receiving.
	unsub()
	s.push(t, models.Envelope{Type: types.MsgRideStatusUpdate})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got1) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if len(got2) != 1 {
		t.Fatalf("unsubscribed handler still receiving, got %d messages", len(got2))
	}
}

func TestChannel_HeartbeatPing(t *testing.T) {
	s := newDispatchServer(t)
	log := logger.InitLogger("test", logger.LevelError)
	c := NewChannel(Config{
		Endpoint:          s.wsURL(),
		DriverID:          "driver-1",
		HeartbeatInterval: 20 * time.Millisecond,
		ReconnectDelay:    time.Hour,
	}, log)
	t.Cleanup(c.Disconnect)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		for _, m := range s.messages() {
			if m.Type == types.MsgPing && m.Role == models.RoleDriver && m.DriverID == "driver-1" {
				return true
			}
		}
		return false
	})
}

func TestChannel_OnConnectedNotified(t *testing.T) {
	s := newDispatchServer(t)
	c := testChannel(t, s, time.Hour)

	connected := make(chan struct{}, 1)
	c.OnConnected(func() { connected <- struct{}{} })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatalf("connected subscriber was not notified")
	}
}
