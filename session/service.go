package session

import (
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// Service runs one maintenance pass and returns the amount of work
// performed, so an external ServiceLoop can keep calling it until it
// returns zero (spec.md §4.1 "Service", §5 "externally driven scheduler").
func (s *ConnectionSession) Service(now time.Time) int {
	cur, _ := s.State()
	switch cur.Code {
	case wire.StateNone, wire.StateClientSessionInitial, wire.StateServerSessionInitial, wire.StateTerminated:
		return 0

	case wire.StateConnectionClosed:
		s.SetState(now, wire.StateTerminated, cur.Reason, wire.TerminationReasonNone)
		return 1

	case wire.StateRequestSessionOpen:
		if now.Sub(s.enteredStateAt) >= s.cfg.ConnectWaitTimeLimit {
			s.SetState(now, wire.StateTerminated, "connect wait time limit reached", wire.TerminationConnectWaitTimeLimitReached)
			return 1
		}
		work := s.resendHandshakeIfDue(now)
		work += s.ServiceTransmitter(now)
		return work

	case wire.StateCloseRequested:
		if now.Sub(s.enteredStateAt) >= s.cfg.CloseRequestWaitTimeLimit {
			s.terminate(now, "close request wait time limit reached", wire.TerminationCloseRequestWaitTimeLimitReached)
			return 1
		}
		return s.ServiceTransmitter(now)

	case wire.StateActive, wire.StateIdle, wire.StateIdleWithPendingWork:
		return s.serviceActiveFamily(now)

	default:
		return 0
	}
}

// resendHandshakeIfDue periodically re-sends the RequestOpenSession buffer
// while waiting for SessionRequestAcceptedResponse (spec.md §4.1
// RequestSessionOpen): this buffer carries SeqNum 0 and so falls outside
// the ack-driven retransmission loop in serviceRetransmission.
func (s *ConnectionSession) resendHandshakeIfDue(now time.Time) int {
	if !s.lastHandshakeResendAt.IsZero() && now.Sub(s.lastHandshakeResendAt) < s.cfg.NormalRetransmitHoldoffPeriod {
		return 0
	}
	s.enqueueManagement(now, &wire.AttributeSet{
		Type:              wire.ManagementRequestOpenSession,
		Name:              s.SessionName,
		ClientUUID:        s.ClientUUID,
		ClientInstanceNum: s.ClientInstanceNum,
		BufferSize:        s.cfg.BufferSize,
	})
	s.lastHandshakeResendAt = now
	return 1
}

// serviceActiveFamily runs full maintenance for Active/Idle/IdleWithPendingWork
// (spec.md §4.1): transmitter pass, keep-alive, session expiration, the
// distinct IdleWithPendingWork stall timeout, and the Active<->Idle
// demotion/promotion based on outbound activity and queued work.
func (s *ConnectionSession) serviceActiveFamily(now time.Time) int {
	cur, _ := s.State()

	if cur.Code == wire.StateIdleWithPendingWork && now.Sub(s.enteredStateAt) >= s.cfg.SessionExpirationPeriod {
		s.terminate(now, "pending work undelivered past session expiration period", wire.TerminationSessionPendingWorkTimeLimitReached)
		return 1
	}
	if s.keepAliveExpired(now) {
		s.terminate(now, "session expired: no traffic or keep-alive received", wire.TerminationSessionKeepAliveTimeLimitReached)
		return 1
	}
	if s.checkStaleAssembly(now) {
		return 1
	}

	work := s.ServiceTransmitter(now)
	work += s.serviceKeepAlive(now)

	hasPendingWork := s.hasOutboundWork()

	switch cur.Code {
	case wire.StateActive:
		if !hasPendingWork && now.Sub(s.lastSendActivity) >= s.cfg.ActiveToIdleHoldoff {
			s.SetState(now, wire.StateIdle, "", wire.TerminationReasonNone)
			work++
		}
	case wire.StateIdle:
		if hasPendingWork {
			s.SetState(now, wire.StateIdleWithPendingWork, "", wire.TerminationReasonNone)
			work++
		}
	case wire.StateIdleWithPendingWork:
		if hasPendingWork {
			s.SetState(now, wire.StateActive, "", wire.TerminationReasonNone)
			work++
		} else {
			s.SetState(now, wire.StateIdle, "", wire.TerminationReasonNone)
			work++
		}
	}

	return work
}

// hasOutboundWork reports whether any buffer is still queued to be sent or
// is in flight awaiting delivery.
func (s *ConnectionSession) hasOutboundWork() bool {
	if len(s.readyToSendList) > 0 || len(s.sendNowList) > 0 || len(s.deliveryPendingList) > 0 {
		return true
	}
	for _, id := range s.streamOrder {
		if st := s.streamsOut[id]; st != nil && st.hasUnposted() {
			return true
		}
	}
	return false
}

// Close begins an orderly shutdown: a connecting or connected session is
// moved to CloseRequested and a RequestCloseSession buffer is sent to the
// peer (spec.md §4.1 CloseRequested). Calling Close on a session that is
// neither connected nor connecting, or is already CloseRequested, is a
// no-op.
func (s *ConnectionSession) Close(now time.Time, reason string) {
	cur, _ := s.State()
	if !cur.Code.IsConnectedOrConnecting() || cur.Code == wire.StateCloseRequested {
		return
	}
	s.SetState(now, wire.StateCloseRequested, reason, wire.TerminationReasonNone)
	s.enqueueManagement(now, &wire.AttributeSet{
		Type:   wire.ManagementRequestCloseSession,
		Reason: reason,
	})
}
