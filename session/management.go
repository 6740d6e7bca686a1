package session

import (
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// handleManagement decodes and dispatches a management buffer (spec.md
// §4.1 "Management buffer handling", §4.3). Decode failures and
// out-of-sequence management types are protocol violations.
func (s *ConnectionSession) handleManagement(now time.Time, b *wire.Buffer) {
	attrs, err := s.codec.Decode(b.Payload)
	if err != nil {
		s.terminate(now, "malformed management payload: "+err.Error(), wire.TerminationProtocolViolation)
		return
	}

	switch attrs.Type {
	case wire.ManagementRequestOpenSession:
		s.handleRequestOpenSession(now, attrs)
	case wire.ManagementSessionRequestAcceptedResponse:
		s.handleSessionAccepted(now, attrs)
	case wire.ManagementRequestCloseSession:
		s.handleRequestCloseSession(now, attrs)
	case wire.ManagementNoteSessionTerminated:
		s.handleNoteSessionTerminated(now, attrs)
	case wire.ManagementStatus:
		s.handleStatus(now, attrs)
	case wire.ManagementKeepAlive:
		s.handleKeepAlive(now, attrs)
	default:
		s.terminate(now, "unrecognized management type", wire.TerminationProtocolViolation)
	}
}

// handleRequestOpenSession is the server-role handshake entry point
// (spec.md §4.2): a fresh or resumed session's first inbound buffer.
func (s *ConnectionSession) handleRequestOpenSession(now time.Time, attrs *wire.AttributeSet) {
	if s.isClient {
		s.terminate(now, "client session received RequestOpenSession", wire.TerminationProtocolViolation)
		return
	}
	cur, _ := s.State()
	if cur.Code != wire.StateServerSessionInitial {
		return // duplicate/retransmitted open request on an already-open session: ignore
	}
	if attrs.ClientUUID == "" || attrs.ClientInstanceNum == 0 {
		log.Debug("dropping open request with empty client identity", "client_uuid", attrs.ClientUUID, "client_instance_num", attrs.ClientInstanceNum)
		return
	}
	if attrs.BufferSize != s.cfg.BufferSize {
		s.terminate(now, "buffer size mismatch during open handshake", wire.TerminationBufferSizesDoNotMatch)
		return
	}
	s.SessionName = attrs.Name
	s.ClientUUID = attrs.ClientUUID
	s.ClientInstanceNum = attrs.ClientInstanceNum
	s.SetState(now, wire.StateActive, "", wire.TerminationReasonNone)
	s.enqueueManagement(now, &wire.AttributeSet{
		Type:       wire.ManagementSessionRequestAcceptedResponse,
		BufferSize: s.cfg.BufferSize,
	})
}

// handleSessionAccepted is the client-role handshake completion (spec.md
// §4.1: RequestSessionOpen -> Active).
func (s *ConnectionSession) handleSessionAccepted(now time.Time, attrs *wire.AttributeSet) {
	if !s.isClient {
		s.terminate(now, "server session received SessionRequestAcceptedResponse", wire.TerminationProtocolViolation)
		return
	}
	cur, _ := s.State()
	if cur.Code != wire.StateRequestSessionOpen {
		return // late/duplicate response: already active
	}
	if attrs.BufferSize != s.cfg.BufferSize {
		s.terminate(now, "buffer size mismatch during open handshake", wire.TerminationBufferSizesDoNotMatch)
		return
	}
	s.SetState(now, wire.StateActive, "", wire.TerminationReasonNone)
}

// handleRequestCloseSession handles the peer's close request (spec.md §4.1
// CloseRequested): the session moves to CloseRequested, immediately sends
// NoteSessionTerminated, and terminates with TerminationClosedByRequest.
func (s *ConnectionSession) handleRequestCloseSession(now time.Time, attrs *wire.AttributeSet) {
	cur, _ := s.State()
	if !cur.Code.IsConnectedOrConnecting() {
		return
	}
	s.SetState(now, wire.StateCloseRequested, attrs.Reason, wire.TerminationReasonNone)
	s.terminate(now, attrs.Reason, wire.TerminationClosedByRequest)
}

// handleNoteSessionTerminated is the peer's final word (spec.md §4.1, §7):
// the remote end has already torn down its side, so we terminate without
// sending a reply.
func (s *ConnectionSession) handleNoteSessionTerminated(now time.Time, attrs *wire.AttributeSet) {
	reason := attrs.TerminationReason
	if reason == wire.TerminationReasonNone {
		reason = wire.TerminationClosedByRequest
	}
	s.SetState(now, wire.StateTerminated, attrs.Reason, reason)
}

// handleStatus processes the peer's view of its held out-of-order buffers
// (spec.md §4.1 step 3a, §4.3): any of our sent buffers NOT in the peer's
// held set but at or below its reported high-water mark were lost and must
// be resent; this is computed as outOfOrderPossibleMissingBufferArray in
// the original design and folded here into a direct resend decision.
func (s *ConnectionSession) handleStatus(now time.Time, attrs *wire.AttributeSet) {
	held := make(map[uint64]bool, len(attrs.HeldBufferSeqNums))
	var highWater uint64
	for _, n := range attrs.HeldBufferSeqNums {
		held[n] = true
		if n > highWater {
			highWater = n
		}
	}
	if highWater == 0 {
		return
	}
	for _, b := range s.deliveryPendingList {
		seq := b.Header.SeqNum
		if seq == 0 || seq >= highWater {
			continue
		}
		if held[seq] {
			continue
		}
		if b.State == wire.BufferSent {
			s.resend(b)
		}
	}
}

// handleKeepAlive acknowledges liveness; the buffer carries no payload of
// its own significance beyond having arrived (spec.md §4.1 "Keep-alive").
func (s *ConnectionSession) handleKeepAlive(now time.Time, attrs *wire.AttributeSet) {
	s.lastDeliveredKeepAliveBufferTimeStamp = now
}
