package session

import (
	"sync"
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// StateValue is the published state of a ConnectionSession (spec.md §3
// "Session state"): a tagged variant carrying whatever auxiliary data the
// current state needs, updated atomically on every transition.
type StateValue struct {
	Code              wire.StateCode
	Timestamp         time.Time
	Reason            string
	TerminationReason wire.TerminationReasonCode
}

// CloseRequestReason is the string a transport reads to decide whether to
// start tearing down its socket: non-empty exactly when Code is one of
// CloseRequested, ConnectionClosed, or Terminated (spec.md §4.1 SetState).
func (v StateValue) CloseRequestReason() string {
	switch v.Code {
	case wire.StateCloseRequested, wire.StateConnectionClosed, wire.StateTerminated:
		if v.Reason != "" {
			return v.Reason
		}
		return v.Code.String()
	default:
		return ""
	}
}

// StateSlot is a sequence-numbered observable cell holding an immutable
// StateValue snapshot (spec.md §5 "Observable state slot", §9 design note):
// any number of observers may Get concurrently with each other (they share a
// read lock; Set waits for them), and detect a change by comparing the
// returned sequence number.
type StateSlot struct {
	mu    sync.RWMutex
	seq   uint64
	value StateValue
}

// Get returns the current snapshot and its sequence number.
func (s *StateSlot) Get() (StateValue, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.seq
}

// Set publishes a new snapshot and returns its sequence number. Set is only
// ever called by the session's own worker (spec.md §5).
func (s *StateSlot) Set(v StateValue) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.value = v
	return s.seq
}
