// Package transport defines the external contract a datagram socket,
// byte-stream connection, or in-process "patch panel" must satisfy to carry
// a ConnectionSession's buffers (spec.md §1, §5). The core never performs
// I/O itself; it only produces and consumes wire.Buffer batches through
// this contract.
package transport

import "github.com/duplexmux/duplexmux/wire"

// EndpointID identifies one remote endpoint as seen by a server-role
// SessionManager (spec.md §4.2's transportEndpoint table key). Its exact
// shape (socket address, stream id, in-process peer name) is owned by the
// transport implementation; the core only uses it as an opaque map key.
type EndpointID string

// IPAddress identifies the network address a remote endpoint connected
// from, used by SessionManager's address-indexed stranding table. It is
// deliberately a distinct type from EndpointID: spec.md §9 notes a defect
// in an earlier implementation that reused the endpoint table for
// address-keyed bookkeeping, and this spec requires a dedicated map.
type IPAddress string

// Features describes the properties of an underlying connection that the
// session core's send pipeline branches on (spec.md §4.1 step 3,
// §9 "Reliable vs. unreliable transport branch").
type Features struct {
	// Reliable is true for a transport that preserves order and delivers
	// each buffer at most once on its own (a byte-stream connection or an
	// in-process channel pair). False for an unreliable datagram transport,
	// which requires the session's own retransmission logic.
	Reliable bool
}

// OutboundHandler is the delegate a ConnectionSession invokes to hand a
// batch of outbound buffers to the transport (spec.md §4.1 step 7). If a
// session's outbound delegate is unset, the session terminates immediately.
type OutboundHandler func(buffers []*wire.Buffer) error

// ErrorTag classifies a transport-level failure reported through
// HandleTransportException (spec.md §4.1, §7).
type ErrorTag int

const (
	ErrorTagUnknown ErrorTag = iota
	// ErrorTagTrafficRejectedByRemoteEnd marks a failure where the remote
	// end actively refused traffic (e.g. ICMP port unreachable on a UDP
	// socket). While a session is still connecting, this is logged and
	// ignored rather than closing the connection, since the client is
	// permitted to keep retrying the open handshake.
	ErrorTagTrafficRejectedByRemoteEnd
)

// Error is the error type a transport passes to
// ConnectionSession.HandleTransportException.
type Error struct {
	Tag ErrorTag
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
