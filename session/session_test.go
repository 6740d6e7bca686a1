package session

import (
	"testing"
	"time"

	"github.com/duplexmux/duplexmux/transport"
	"github.com/duplexmux/duplexmux/wire"
)

// harness wires two ConnectionSessions (client + server) together through
// plain Go slices rather than a real transport, driving both sides forward
// by hand. It stays dependency-free so it can live inside the session
// package's own tests.
type harness struct {
	t      *testing.T
	client *ConnectionSession
	server *ConnectionSession

	clientOut [][]*wire.Buffer
	serverOut [][]*wire.Buffer

	clientIn [][]byte
	serverIn [][]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, DefaultConfig(4096))
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t}

	h.client = NewClientSession(Identity{SessionName: "test-client", ClientUUID: "client-1", ClientInstanceNum: 1}, time.Now(), Options{
		Config:   cfg,
		Outbound: func(b []*wire.Buffer) error { h.clientOut = append(h.clientOut, b); return nil },
		Features: transport.Features{Reliable: true},
		OnInboundMessage: func(now time.Time, stream uint16, payload []byte) {
			h.clientIn = append(h.clientIn, append([]byte(nil), payload...))
		},
	})
	h.server = NewServerSession(Identity{}, time.Now(), Options{
		Config:   cfg,
		Outbound: func(b []*wire.Buffer) error { h.serverOut = append(h.serverOut, b); return nil },
		Features: transport.Features{Reliable: true},
		OnInboundMessage: func(now time.Time, stream uint16, payload []byte) {
			h.serverIn = append(h.serverIn, append([]byte(nil), payload...))
		},
	})
	return h
}

// pump drives both sessions' Service and delivers whatever each produced to
// the other side, repeating until neither side has anything queued or n
// rounds have elapsed.
func (h *harness) pump(now time.Time, rounds int) {
	for i := 0; i < rounds; i++ {
		h.client.Service(now)
		h.server.Service(now)

		for _, batch := range h.clientOut {
			h.server.HandleInboundBuffers(now, batch)
		}
		h.clientOut = nil
		for _, batch := range h.serverOut {
			h.client.HandleInboundBuffers(now, batch)
		}
		h.serverOut = nil
	}
}

func (h *harness) connect(now time.Time) {
	h.client.SetState(now, wire.StateRequestTransportConnect, "", wire.TerminationReasonNone)
	h.client.NoteTransportIsConnected(now, transport.EndpointID("test-endpoint"))
	h.pump(now, 4)

	if cur, _ := h.client.State(); cur.Code != wire.StateActive {
		h.t.Fatalf("client did not reach Active: got %s", cur.Code)
	}
	if cur, _ := h.server.State(); cur.Code != wire.StateActive {
		h.t.Fatalf("server did not reach Active: got %s", cur.Code)
	}
}

func TestHandshakeReachesActive(t *testing.T) {
	h := newHarness(t)
	h.connect(time.Now())
}

func TestSingleBufferMessageDelivered(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.connect(now)

	msg := NewMessage(FragmentPayload([]byte("hello"), 4096))
	if err := h.client.HandleOutboundMessage(now, 1, msg); err != nil {
		t.Fatalf("HandleOutboundMessage: %v", err)
	}

	h.pump(now, 4)

	if len(h.serverIn) != 1 || string(h.serverIn[0]) != "hello" {
		t.Fatalf("server did not receive message: %v", h.serverIn)
	}
	if msg.State != MessageDelivered {
		t.Fatalf("message not marked Delivered: %s", msg.State)
	}
}

func TestFragmentedMessageReassembled(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.connect(now)

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte('a' + i)
	}
	msg := NewMessage(FragmentPayload(payload, 3)) // forces Start/Middle.../End
	if len(msg.Buffers) < 2 {
		t.Fatalf("expected fragmentation, got %d buffers", len(msg.Buffers))
	}
	if err := h.client.HandleOutboundMessage(now, 2, msg); err != nil {
		t.Fatalf("HandleOutboundMessage: %v", err)
	}

	h.pump(now, 6)

	if len(h.serverIn) != 1 || string(h.serverIn[0]) != string(payload) {
		t.Fatalf("server did not reassemble fragmented message: %v", h.serverIn)
	}
}

func TestOutOfOrderDeliveryIsReordered(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.connect(now)

	for i, s := range []string{"one", "two", "three"} {
		msg := NewMessage(FragmentPayload([]byte(s), 4096))
		if err := h.client.HandleOutboundMessage(now, 1, msg); err != nil {
			t.Fatalf("HandleOutboundMessage %d: %v", i, err)
		}
	}

	h.client.Service(now)
	if len(h.clientOut) != 1 {
		t.Fatalf("expected one outbound batch, got %d", len(h.clientOut))
	}
	batch := h.clientOut[0]
	h.clientOut = nil
	if len(batch) != 3 {
		t.Fatalf("expected 3 buffers in batch, got %d", len(batch))
	}

	// Deliver out of order: last, first, middle.
	h.server.HandleInboundBuffers(now, []*wire.Buffer{batch[2]})
	h.server.HandleInboundBuffers(now, []*wire.Buffer{batch[0]})
	h.server.HandleInboundBuffers(now, []*wire.Buffer{batch[1]})

	if len(h.serverIn) != 3 {
		t.Fatalf("expected 3 delivered messages, got %d", len(h.serverIn))
	}
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if string(h.serverIn[i]) != w {
			t.Errorf("message %d: got %q, want %q", i, h.serverIn[i], w)
		}
	}
}

func TestBufferSizeMismatchTerminatesWithReason(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	// Replace the server with one expecting a different buffer size so the
	// handshake fails the size check.
	h.server = NewServerSession(Identity{}, now, Options{
		Config:   DefaultConfig(1024),
		Outbound: func(b []*wire.Buffer) error { h.serverOut = append(h.serverOut, b); return nil },
		Features: transport.Features{Reliable: true},
	})

	h.client.SetState(now, wire.StateRequestTransportConnect, "", wire.TerminationReasonNone)
	h.client.NoteTransportIsConnected(now, transport.EndpointID("test-endpoint"))
	h.pump(now, 4)

	cur, _ := h.server.State()
	if cur.Code != wire.StateTerminated {
		t.Fatalf("expected server to terminate on buffer size mismatch, got %s", cur.Code)
	}
	if cur.TerminationReason != wire.TerminationBufferSizesDoNotMatch {
		t.Fatalf("expected TerminationBufferSizesDoNotMatch, got %s", cur.TerminationReason)
	}
}

func TestCloseHandshakeReachesTerminated(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.connect(now)

	h.client.Close(now, "done")
	h.pump(now, 6)

	if cur, _ := h.client.State(); cur.Code != wire.StateTerminated {
		t.Fatalf("client did not terminate after close: %s", cur.Code)
	}
	if cur, _ := h.server.State(); cur.Code != wire.StateTerminated {
		t.Fatalf("server did not terminate after peer close: %s", cur.Code)
	}
}

func TestOutboundMessageRejectedBeforeActive(t *testing.T) {
	h := newHarness(t)
	msg := NewMessage(FragmentPayload([]byte("too early"), 4096))
	if err := h.client.HandleOutboundMessage(time.Now(), 1, msg); err == nil {
		t.Fatal("expected error sending before the session is Active")
	}
	if msg.State != MessageFailed {
		t.Fatalf("expected message to be marked Failed, got %s", msg.State)
	}
}
