package session

import (
	"fmt"
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// HandleOutboundMessage accepts an application message for delivery on the
// given stream (spec.md §4.1 "Outbound message handling"). The message must
// be freshly built by NewMessage (every buffer Unused, purpose None); a
// single-buffer message is stamped PurposeMessage, a multi-buffer message
// is stamped MessageStart/MessageMiddle/MessageEnd. On any precondition
// failure the message is moved to MessageFailed and an error is returned
// instead of being queued.
func (s *ConnectionSession) HandleOutboundMessage(now time.Time, stream uint16, msg *Message) error {
	if !s.canAcceptOutboundMessages() {
		msg.State = MessageFailed
		return fmt.Errorf("session: cannot accept outbound messages in state %s", s.currentStateCode())
	}
	if len(msg.Buffers) == 0 {
		msg.State = MessageFailed
		return fmt.Errorf("session: message has no buffers")
	}
	for _, b := range msg.Buffers {
		if b.State != wire.BufferUnused || b.Header.Purpose != wire.PurposeNone {
			msg.State = MessageFailed
			return fmt.Errorf("session: message buffer is not fresh")
		}
	}

	msg.Stream = stream
	if len(msg.Buffers) == 1 {
		msg.Buffers[0].Header.Purpose = wire.PurposeMessage
	} else {
		last := len(msg.Buffers) - 1
		msg.Buffers[0].Header.Purpose = wire.PurposeMessageStart
		for i := 1; i < last; i++ {
			msg.Buffers[i].Header.Purpose = wire.PurposeMessageMiddle
		}
		msg.Buffers[last].Header.Purpose = wire.PurposeMessageEnd
	}
	for _, b := range msg.Buffers {
		b.Header.Stream = stream
		b.State = wire.BufferReadyToSend
		s.bufferOwner[b] = msg
	}

	msg.State = MessageData
	st := s.outboundStreamFor(stream)
	st.messages = append(st.messages, msg)
	return nil
}

func (s *ConnectionSession) currentStateCode() wire.StateCode {
	cur, _ := s.State()
	return cur.Code
}
