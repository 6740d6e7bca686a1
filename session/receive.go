package session

import (
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// HandleInboundBuffers runs the receive pipeline (spec.md §4.1 "Receive
// pipeline", steps 1-4) over a batch of buffers delivered by the transport
// in a single call. The batch need not be in sequence order; reordering is
// this method's job.
func (s *ConnectionSession) HandleInboundBuffers(now time.Time, buffers []*wire.Buffer) {
	cur, _ := s.State()
	if !cur.Code.IsConnectedOrConnecting() && cur.Code != wire.StateServerSessionInitial {
		return
	}

	s.lastRecvActivity = now
	touchedStream := false
	ackNow := false

	for _, b := range buffers {
		// Step 1: ack processing.
		if !s.acceptAck(b.Header.AckSeqNum) {
			s.terminate(now, "ack sequence number outside acceptable window", wire.TerminationProtocolViolation)
			return
		}

		if b.Header.Purpose == wire.PurposeAck && len(b.Payload) == 0 {
			// Bare ack buffer: carries no sequence/payload work of its own.
			continue
		}

		if b.Header.Purpose == wire.PurposeMessage || b.Header.Purpose == wire.PurposeMessageEnd {
			ackNow = true
		}

		// Step 2: classify by sequence number and dispatch by purpose.
		if !s.classifyAndStore(now, b) {
			continue
		}

		if b.Header.Purpose == wire.PurposeManagement {
			s.handleManagement(now, b)
		} else if b.Header.Purpose.IsData() {
			touchedStream = true
		}
	}

	s.drainHeldBuffers(now)

	// Step 4: post-batch message assembly.
	if touchedStream {
		s.assembleReadyMessages(now)
	}
	if ackNow {
		// A message boundary arrived: ack it on the next send pass rather
		// than waiting out ExplicitAckHoldoffPeriod.
		s.requestSendAckNow = true
	}
}

// acceptAck validates an inbound ack against the acceptable window (spec.md
// §4.1 step 1, §8: an ack more than MaxAcceptableAckWindowWidth ahead of the
// last valid ack is a protocol violation).
func (s *ConnectionSession) acceptAck(ack uint64) bool {
	if ack <= s.lastRecvdValidAckBufferSeqNum {
		return true
	}
	if ack-s.lastRecvdValidAckBufferSeqNum > s.cfg.MaxAcceptableAckWindowWidth {
		return false
	}
	s.lastRecvdValidAckBufferSeqNum = ack
	return true
}

// classifyAndStore places an inbound data/management buffer either directly
// in sequence (advancing lastRecvdValidBufferSeqNum) or in the held
// out-of-order map, per spec.md §4.1 step 2. Returns true when the caller
// should dispatch b now (SeqNum 0 or in order); returns false for a past
// duplicate, for a buffer placed in the held map (dispatched later by
// promoteHeldRun), and when holding it terminated the session.
func (s *ConnectionSession) classifyAndStore(now time.Time, b *wire.Buffer) bool {
	seq := b.Header.SeqNum
	if seq == 0 {
		// Handshake-only buffers (RequestOpenSession/SessionRequestAcceptedResponse)
		// are exempt from sequencing; management dispatch handles them directly.
		return true
	}

	if seq <= s.lastRecvdValidBufferSeqNum {
		// Past duplicate: already delivered or already advanced over.
		return false
	}

	if seq == s.lastRecvdValidBufferSeqNum+1 {
		if b.Header.Flags.Has(wire.FlagBufferIsBeingResent) {
			// No gap was actually present on our side; log-only per design,
			// no behavioral effect (spec.md §9).
			log.Debug("buffer marked as resent arrived in order", "seq", seq)
		}
		s.lastRecvdValidBufferSeqNum = seq
		if b.Header.Purpose == wire.PurposeManagement {
			// Dispatched by the caller; only the ack needs scheduling.
			s.scheduleAck(now)
		} else {
			s.storeInboundData(now, b)
		}
		s.promoteHeldRun(now)
		return true
	}

	// Out of order: hold it.
	if _, already := s.heldOutOfOrder[seq]; !already {
		if len(s.heldOutOfOrder) >= s.cfg.MaxOutOfOrderBufferHoldCount {
			s.terminate(now, "too many out-of-order buffers held", wire.TerminationProtocolViolation)
			return false
		}
		if len(s.heldOutOfOrder) == 0 {
			s.firstOutOfOrderBufferReceivedTimeStamp = now
		}
		s.heldOutOfOrder[seq] = b
		if s.metrics != nil {
			s.metrics.HeldBuffers.Set(float64(len(s.heldOutOfOrder)))
		}
	}
	return false
}

// promoteHeldRun advances lastRecvdValidBufferSeqNum over any held buffers
// that are now contiguous, moving each into its stream's pending queue.
func (s *ConnectionSession) promoteHeldRun(now time.Time) {
	for {
		next := s.lastRecvdValidBufferSeqNum + 1
		b, ok := s.heldOutOfOrder[next]
		if !ok {
			break
		}
		delete(s.heldOutOfOrder, next)
		s.lastRecvdValidBufferSeqNum = next
		if b.Header.Purpose == wire.PurposeManagement {
			s.handleManagement(now, b)
		} else {
			s.storeInboundData(now, b)
		}
		if s.metrics != nil {
			s.metrics.HeldBuffers.Set(float64(len(s.heldOutOfOrder)))
		}
	}
	if len(s.heldOutOfOrder) == 0 {
		s.firstOutOfOrderBufferReceivedTimeStamp = time.Time{}
	}
}

// drainHeldBuffers checks the held out-of-order map against
// MaxOutOfOrderBufferHoldPeriod: once the oldest held buffer has been held
// that long, it requests an immediate ack on the next transmit pass. It does
// not discard held buffers; the held map is bounded only by
// MaxOutOfOrderBufferHoldCount.
func (s *ConnectionSession) drainHeldBuffers(now time.Time) {
	if len(s.heldOutOfOrder) == 0 {
		return
	}
	if s.firstOutOfOrderBufferReceivedTimeStamp.IsZero() {
		return
	}
	if now.Sub(s.firstOutOfOrderBufferReceivedTimeStamp) < s.cfg.MaxOutOfOrderBufferHoldPeriod {
		return
	}
	// Status updates for held buffers are sent by serviceRetransmission;
	// here only an immediate ack is requested.
	s.requestSendAckNow = true
}

func (s *ConnectionSession) storeInboundData(now time.Time, b *wire.Buffer) {
	st := s.inboundStreamFor(b.Header.Stream)
	st.pending = append(st.pending, b)
	if len(st.pending) == 1 {
		st.assemblyStarted = now
	}
	s.scheduleAck(now)
}

// scheduleAck arms the deferred-ack deadline the first time new data
// arrives since the last ack was sent (spec.md §4.1 step 6, "explicit ack
// scheduling with deferred-ack holdoff").
func (s *ConnectionSession) scheduleAck(now time.Time) {
	if s.deferredAckDeadline.IsZero() {
		s.deferredAckDeadline = now.Add(s.cfg.ExplicitAckHoldoffPeriod)
	}
}
