package session

import (
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// serviceKeepAlive is the client-role keep-alive scheduler (spec.md §4.1
// "Keep-alive"): while Idle, the client periodically sends a KeepAlive
// management buffer so the server can detect a silently vanished peer
// within SessionExpirationPeriod even though no application traffic is
// flowing.
func (s *ConnectionSession) serviceKeepAlive(now time.Time) int {
	if !s.isClient || s.cfg.NominalKeepAliveSendInterval == 0 {
		return 0
	}
	cur, _ := s.State()
	if cur.Code != wire.StateIdle && cur.Code != wire.StateIdleWithPendingWork {
		return 0
	}
	if !s.lastKeepAliveSentAt.IsZero() && now.Sub(s.lastKeepAliveSentAt) < s.cfg.NominalKeepAliveSendInterval {
		return 0
	}
	s.enqueueManagement(now, &wire.AttributeSet{Type: wire.ManagementKeepAlive})
	s.lastKeepAliveSentAt = now
	return 1
}

// keepAliveExpired reports whether the session has gone too long without
// evidence of a live peer (spec.md §4.1 session expiration). A server
// tracks this via the last KeepAlive buffer actually delivered to it
// (lastDeliveredKeepAliveBufferTimeStamp, set in handleKeepAlive); a client
// sends KeepAlive itself and instead falls back to general receive
// activity, since servers never send KeepAlive buffers of their own.
func (s *ConnectionSession) keepAliveExpired(now time.Time) bool {
	if !s.isClient && !s.lastDeliveredKeepAliveBufferTimeStamp.IsZero() {
		return now.Sub(s.lastDeliveredKeepAliveBufferTimeStamp) >= s.cfg.SessionExpirationPeriod
	}
	return now.Sub(s.lastRecvActivity) >= s.cfg.SessionExpirationPeriod
}
