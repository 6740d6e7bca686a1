package session

import "github.com/duplexmux/duplexmux/wire"

// MessageState tracks a Message through its lifecycle (spec.md §3
// "Message"): Initial → Data → SendPosted → Sent → Delivered, or any → Failed.
type MessageState uint8

const (
	MessageInitial MessageState = iota
	MessageData
	MessageSendPosted
	MessageSent
	MessageDelivered
	MessageFailed
)

func (s MessageState) String() string {
	switch s {
	case MessageInitial:
		return "Initial"
	case MessageData:
		return "Data"
	case MessageSendPosted:
		return "SendPosted"
	case MessageSent:
		return "Sent"
	case MessageDelivered:
		return "Delivered"
	case MessageFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Message is an application-level unit composed of one or more buffers on a
// single stream (spec.md §3 "Message").
type Message struct {
	Stream  uint16
	Buffers []*wire.Buffer
	State   MessageState

	delivered int // count of buffers promoted to Delivered
}

// FragmentPayload splits payload into chunks of at most maxPayload bytes.
// A zero-length payload still yields exactly one (empty) chunk, so that
// zero-byte messages round-trip as a single buffer.
func FragmentPayload(payload []byte, maxPayload int) [][]byte {
	if maxPayload <= 0 {
		panic("session: maxPayload must be positive")
	}
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(payload) > 0 {
		n := maxPayload
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// NewMessage builds a Message from already-fragmented payload chunks. Each
// chunk becomes one buffer in state Unused with purpose None; the session's
// HandleOutboundMessage assigns purpose codes and a stream id (spec.md §4.1).
func NewMessage(chunks [][]byte) *Message {
	buffers := make([]*wire.Buffer, len(chunks))
	for i, c := range chunks {
		buffers[i] = &wire.Buffer{Payload: c, State: wire.BufferUnused}
	}
	return &Message{Buffers: buffers, State: MessageInitial}
}

// onBufferDelivered records that one of the message's buffers reached
// BufferDelivered, advancing the message to MessageDelivered once all of
// its buffers have (spec.md §3: "A message is Delivered when all of its
// buffers have been cumulatively acknowledged").
func (m *Message) onBufferDelivered() {
	m.delivered++
	if m.delivered >= len(m.Buffers) {
		m.State = MessageDelivered
	}
}

// allSent reports whether every buffer in the message has been written to
// the transport at least once (State >= BufferSent, or already Delivered).
func (m *Message) allSent() bool {
	for _, b := range m.Buffers {
		switch b.State {
		case wire.BufferSent, wire.BufferDelivered, wire.BufferReadyToResend:
		default:
			return false
		}
	}
	return true
}
