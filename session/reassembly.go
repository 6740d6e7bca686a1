package session

import (
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// assembleReadyMessages walks every inbound stream with pending buffers and
// delivers whatever complete messages are now available, in sequence order
// (spec.md §4.1 step 4, "Per-stream message assembly"):
//   - a single PurposeMessage buffer is a complete message on its own
//   - PurposeMessageStart, any number of PurposeMessageMiddle, then
//     PurposeMessageEnd together reassemble into one message
//   - a Start run that is not yet closed waits for more buffers
//     (waitingForMessageBoundary); any buffer other than Middle/End inside
//     the run, or a Middle/End with no preceding Start, is a protocol
//     violation
func (s *ConnectionSession) assembleReadyMessages(now time.Time) {
	for _, id := range s.streamOrder2() {
		st := s.streamsIn[id]
		if st == nil {
			continue
		}
		if s.assemblyIsStale(now, st) {
			s.terminate(now, "message assembly stuck past session expiration period", wire.TerminationProtocolViolation)
			return
		}
		if !s.drainStream(now, st) {
			return // session was terminated mid-drain
		}
	}
}

// assemblyIsStale reports whether st has had a fragment run pending (a
// MessageStart with no terminating MessageEnd yet) for longer than
// SessionExpirationPeriod (spec.md §4.1: "If an assembly has been pending
// longer than SessionExpirationPeriod, treat as protocol violation"). A
// stream that has drained back to empty is not stale regardless of how
// long ago assemblyStarted was stamped.
func (s *ConnectionSession) assemblyIsStale(now time.Time, st *inboundStream) bool {
	return len(st.pending) > 0 && !st.assemblyStarted.IsZero() && now.Sub(st.assemblyStarted) >= s.cfg.SessionExpirationPeriod
}

// checkStaleAssembly is the periodic counterpart to assembleReadyMessages'
// inline staleness check: it catches a peer that sends a MessageStart and
// then nothing else, since no further inbound buffer ever arrives to
// re-trigger assembleReadyMessages for that stream. Called from the
// Service(now) maintenance pass. Returns true if it terminated the session.
func (s *ConnectionSession) checkStaleAssembly(now time.Time) bool {
	for _, id := range s.streamOrder2() {
		st := s.streamsIn[id]
		if st == nil {
			continue
		}
		if s.assemblyIsStale(now, st) {
			s.terminate(now, "message assembly stuck past session expiration period", wire.TerminationProtocolViolation)
			return true
		}
	}
	return false
}

// streamOrder2 returns inbound stream ids in a stable order so assembly is
// deterministic across calls (map iteration order is not).
func (s *ConnectionSession) streamOrder2() []uint16 {
	ids := make([]uint16, 0, len(s.streamsIn))
	for id := range s.streamsIn {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// drainStream delivers as many complete messages as are currently buffered
// on st. Returns false if a protocol violation terminated the session.
func (s *ConnectionSession) drainStream(now time.Time, st *inboundStream) bool {
	for len(st.pending) > 0 {
		b := st.pending[0]

		switch b.Header.Purpose {
		case wire.PurposeMessage:
			if st.waitingForMessageBoundary {
				s.terminate(now, "message buffer received mid-fragment", wire.TerminationProtocolViolation)
				return false
			}
			st.pending = st.pending[1:]
			if !s.deliver(now, st.id, b.Payload) {
				return false
			}

		case wire.PurposeMessageStart:
			// While waitingForMessageBoundary, this is the same Start that
			// opened the pending run; rescan it now that more buffers may
			// have arrived. A second Start inside the run is caught by
			// findFragmentEnd as fragmentInvalid.
			end, status := st.findFragmentEnd()
			switch status {
			case fragmentIncomplete:
				st.waitingForMessageBoundary = true
				return true // incomplete: wait for more buffers
			case fragmentInvalid:
				s.terminate(now, "fragment run interrupted by a non-fragment buffer", wire.TerminationProtocolViolation)
				return false
			}
			payload := st.concatFragments(end)
			st.pending = st.pending[end+1:]
			st.waitingForMessageBoundary = false
			if !s.deliver(now, st.id, payload) {
				return false
			}

		case wire.PurposeMessageMiddle, wire.PurposeMessageEnd:
			s.terminate(now, "fragment received without a preceding message start", wire.TerminationProtocolViolation)
			return false

		default:
			// Management/Ack buffers never reach the inbound stream queue.
			st.pending = st.pending[1:]
		}
	}
	return true
}

// fragmentStatus reports how far findFragmentEnd got scanning a fragment
// run.
type fragmentStatus int

const (
	// fragmentComplete: a terminating MessageEnd was found.
	fragmentComplete fragmentStatus = iota
	// fragmentIncomplete: every buffer seen so far is a MessageMiddle and
	// no End has arrived yet; wait for more buffers.
	fragmentIncomplete
	// fragmentInvalid: a buffer other than MessageMiddle/MessageEnd
	// appeared before the run closed (spec.md §4.1: anything else in that
	// position is a protocol violation, not something to wait out).
	fragmentInvalid
)

// findFragmentEnd scans st.pending (which begins with a MessageStart) for
// the index of its terminating MessageEnd, requiring every buffer in
// between to be a MessageMiddle.
func (st *inboundStream) findFragmentEnd() (int, fragmentStatus) {
	for i := 1; i < len(st.pending); i++ {
		switch st.pending[i].Header.Purpose {
		case wire.PurposeMessageMiddle:
			continue
		case wire.PurposeMessageEnd:
			return i, fragmentComplete
		default:
			return 0, fragmentInvalid
		}
	}
	return 0, fragmentIncomplete
}

// concatFragments joins the payloads of st.pending[0:end+1] (a Start,
// zero or more Middles, and an End) into one reassembled message.
func (st *inboundStream) concatFragments(end int) []byte {
	total := 0
	for i := 0; i <= end; i++ {
		total += len(st.pending[i].Payload)
	}
	out := make([]byte, 0, total)
	for i := 0; i <= end; i++ {
		out = append(out, st.pending[i].Payload...)
	}
	return out
}

// deliver hands a reassembled message to the registered delegate. Returns
// false (after terminating the session) if no delegate is registered.
func (s *ConnectionSession) deliver(now time.Time, stream uint16, payload []byte) bool {
	if s.onInboundMessage == nil {
		s.terminate(now, "inbound message with no delegate registered", wire.TerminationProtocolViolation)
		return false
	}
	s.onInboundMessage(now, stream, payload)
	return true
}
