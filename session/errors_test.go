package session

import (
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/duplexmux/duplexmux/transport"
	"github.com/duplexmux/duplexmux/wire"
)

// TestErrRecoversProtocolViolationCause exercises the manager-to-session
// boundary spec.md §7 kind 1 describes: once a session terminates with
// TerminationProtocolViolation, Err() must expose a cause a caller can
// recover with errors.As/pkgerrors.Cause.
func TestErrRecoversProtocolViolationCause(t *testing.T) {
	now := time.Now()
	c := NewClientSession(Identity{ClientUUID: "c"}, now, Options{
		Config:   DefaultConfig(4096),
		Outbound: func(b []*wire.Buffer) error { return nil },
		Features: transport.Features{Reliable: true},
	})
	c.SetState(now, wire.StateRequestTransportConnect, "", wire.TerminationReasonNone)
	c.NoteTransportIsConnected(now, transport.EndpointID("test-endpoint"))
	c.Service(now)

	if err := c.Err(); err != nil {
		t.Fatalf("expected Err() to be nil before any violation, got %v", err)
	}

	// An ack far beyond anything ever sent falls outside the acceptable
	// window and is a protocol violation (receive.go's acceptAck check).
	bogus := &wire.Buffer{
		Header: wire.Header{
			Purpose:   wire.PurposeAck,
			AckSeqNum: 1 << 32,
		},
	}
	c.HandleInboundBuffers(now, []*wire.Buffer{bogus})

	cur, _ := c.State()
	if cur.Code != wire.StateTerminated || cur.TerminationReason != wire.TerminationProtocolViolation {
		t.Fatalf("expected termination with TerminationProtocolViolation, got %s/%s", cur.Code, cur.TerminationReason)
	}

	err := c.Err()
	if err == nil {
		t.Fatal("expected Err() to return the protocol violation cause, got nil")
	}
	var violation *ProtocolViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("errors.As failed to recover *ProtocolViolationError from %v", err)
	}
	if pkgerrors.Cause(err) == error(violation) {
		t.Error("expected pkgerrors.Cause to unwrap past the ProtocolViolationError wrapper")
	}
}
