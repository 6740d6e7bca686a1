package session

import (
	"sort"
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// ServiceTransmitter runs one pass of the send pipeline (spec.md §4.1 "Send
// pipeline", steps 1-7). It is invoked from Service and from
// sendFinalTerminationNote, which flushes the final NoteSessionTerminated
// buffer immediately; other enqueued management buffers wait for the next
// Service pass.
func (s *ConnectionSession) ServiceTransmitter(now time.Time) int {
	work := 0

	// Step 1: advance the ack-to-send counter.
	if s.bufferAckSeqNumToSend != s.lastRecvdValidBufferSeqNum {
		s.bufferAckSeqNumToSend = s.lastRecvdValidBufferSeqNum
	}

	// Step 2: reap delivered buffers from the delivery-pending list.
	work += s.reapDeliveryPending(now)

	// Step 3: retransmission (unreliable transports only).
	if !s.features.Reliable {
		work += s.serviceRetransmission(now)
	}

	// Step 4: window filling.
	work += s.fillWindow(now)

	// Step 5: dispatch readyToSendList into sendNowList/deliveryPendingList.
	work += s.dispatchWindow()

	// Step 6: explicit ack.
	work += s.maybeSendExplicitAck(now)

	// Step 7: transmit.
	work += s.transmit(now)

	return work
}

func (s *ConnectionSession) reapDeliveryPending(now time.Time) int {
	if len(s.deliveryPendingList) == 0 {
		return 0
	}
	kept := s.deliveryPendingList[:0]
	reaped := 0
	for _, b := range s.deliveryPendingList {
		if b.Header.SeqNum <= s.lastRecvdValidAckBufferSeqNum {
			b.State = wire.BufferDelivered
			if b.Header.SeqNum > s.maxDeliveredBufferSeqNum {
				s.maxDeliveredBufferSeqNum = b.Header.SeqNum
			}
			if sentAt, ok := s.firstSentAt[b.Header.SeqNum]; ok {
				if s.metrics != nil {
					s.metrics.AckLatency.Observe(now.Sub(sentAt).Seconds())
				}
				delete(s.firstSentAt, b.Header.SeqNum)
			}
			if msg, ok := s.bufferOwner[b]; ok {
				msg.onBufferDelivered()
				delete(s.bufferOwner, b)
			} else {
				s.pool.Return(b)
			}
			reaped++
			continue
		}
		kept = append(kept, b)
	}
	s.deliveryPendingList = kept
	return reaped
}

func (s *ConnectionSession) serviceRetransmission(now time.Time) int {
	work := 0

	// (a) Status update for held out-of-order buffers past the holdoff.
	if len(s.heldOutOfOrder) > 0 && !s.firstOutOfOrderBufferReceivedTimeStamp.IsZero() &&
		now.Sub(s.firstOutOfOrderBufferReceivedTimeStamp) >= s.cfg.ShortRetransmitHoldoffPeriod &&
		now.Sub(s.lastStatusSentAt) >= s.cfg.ShortRetransmitHoldoffPeriod {
		held := s.heldSeqNumsSorted(s.cfg.MaxHeldBufferSeqNumsToIncludeInStatusUpdate)
		s.enqueueManagement(now, &wire.AttributeSet{
			Type:              wire.ManagementStatus,
			HeldBufferSeqNums: held,
		})
		s.lastStatusSentAt = now
		work++
	}

	if len(s.deliveryPendingList) == 0 {
		return work
	}

	// (c)/(d): age-based resend of the in-flight window, ordered by seq.
	sort.Slice(s.deliveryPendingList, func(i, j int) bool {
		return s.deliveryPendingList[i].Header.SeqNum < s.deliveryPendingList[j].Header.SeqNum
	})
	first := s.deliveryPendingList[0]
	age := now.Sub(s.lastSendActivity)
	if first.State == wire.BufferSent {
		nextExpected := first.Header.SeqNum == s.lastRecvdValidAckBufferSeqNum+1
		if age >= s.cfg.ShortRetransmitHoldoffPeriod && nextExpected {
			s.resend(first)
			work++
		} else if age >= s.cfg.NormalRetransmitHoldoffPeriod {
			for _, b := range s.deliveryPendingList {
				if b.State == wire.BufferSent {
					s.resend(b)
					work++
				}
			}
		}
	}

	return work
}

// heldSeqNumsSorted returns up to limit of the currently held out-of-order
// sequence numbers, ascending (spec.md §4.1 step 3a).
func (s *ConnectionSession) heldSeqNumsSorted(limit int) []uint64 {
	nums := make([]uint64, 0, len(s.heldOutOfOrder))
	for k := range s.heldOutOfOrder {
		nums = append(nums, k)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	if len(nums) > limit {
		nums = nums[:limit]
	}
	return nums
}

func (s *ConnectionSession) resend(b *wire.Buffer) {
	b.State = wire.BufferReadyToResend
	b.Header.Flags |= wire.FlagBufferIsBeingResent
	s.sendNowList = append(s.sendNowList, b)
	if s.metrics != nil {
		s.metrics.Resends.WithLabelValues(b.Header.Purpose.String()).Inc()
	}
}

// fillWindow pulls unposted buffers from each outbound stream in
// round-robin order, assigning each a fresh sequence number, until the
// write-ahead window is full (spec.md §4.1 step 4).
func (s *ConnectionSession) fillWindow(now time.Time) int {
	if !s.canAcceptOutboundMessages() {
		return 0
	}
	capacity := s.cfg.MaxBufferWriteAheadCount - len(s.deliveryPendingList)
	if capacity < 0 {
		capacity = 0
	}
	work := 0
	for len(s.readyToSendList) < capacity {
		b := s.pullNextRoundRobin()
		if b == nil {
			break
		}
		b.Header.SeqNum = s.nextSeq()
		if s.bufferSeqNumGen > s.maxSendPostedBufferSeqNum {
			s.maxSendPostedBufferSeqNum = s.bufferSeqNumGen
		}
		s.readyToSendList = append(s.readyToSendList, b)
		work++
	}
	return work
}

func (s *ConnectionSession) pullNextRoundRobin() *wire.Buffer {
	n := len(s.streamOrder)
	for i := 0; i < n; i++ {
		idx := (s.nextSourceStream + i) % n
		id := s.streamOrder[idx]
		st := s.streamsOut[id]
		if b := st.nextUnposted(); b != nil {
			s.nextSourceStream = (idx + 1) % n
			return b
		}
	}
	return nil
}

// dispatchWindow moves buffers from readyToSendList into sendNowList and
// deliveryPendingList (spec.md §4.1 step 5).
func (s *ConnectionSession) dispatchWindow() int {
	budget := s.cfg.MaxBufferWriteAheadCount - (len(s.sendNowList) + len(s.deliveryPendingList))
	if budget <= 0 || len(s.readyToSendList) == 0 {
		return 0
	}
	n := budget
	if n > len(s.readyToSendList) {
		n = len(s.readyToSendList)
	}
	moved := s.readyToSendList[:n]
	s.readyToSendList = s.readyToSendList[n:]
	s.sendNowList = append(s.sendNowList, moved...)
	s.deliveryPendingList = append(s.deliveryPendingList, moved...)
	return n
}

// maybeSendExplicitAck appends a bare Ack buffer when nothing else is being
// sent and either an immediate ack was requested or the holdoff period has
// elapsed since the ack became pending (spec.md §4.1 step 6).
func (s *ConnectionSession) maybeSendExplicitAck(now time.Time) int {
	if len(s.sendNowList) > 0 {
		return 0
	}
	if s.bufferAckSeqNumToSend <= s.maxSentBufferAckSeqNum {
		return 0
	}
	due := s.requestSendAckNow
	if !due && !s.deferredAckDeadline.IsZero() && !now.Before(s.deferredAckDeadline) {
		due = true
	}
	if !due {
		return 0
	}
	b := s.pool.Acquire()
	b.Header = wire.Header{Purpose: wire.PurposeAck}
	b.State = wire.BufferReadyToSend
	s.sendNowList = append(s.sendNowList, b)
	return 1
}

// transmit stamps and hands the outgoing batch to the transport (spec.md
// §4.1 step 7). If the outbound delegate is unset, the session terminates.
func (s *ConnectionSession) transmit(now time.Time) int {
	if len(s.sendNowList) == 0 {
		return 0
	}
	if s.outbound == nil {
		s.SetState(now, wire.StateTerminated, "no outbound transport delegate", wire.TerminationProtocolViolation)
		s.sendNowList = nil
		return 0
	}

	batch := s.sendNowList
	for _, b := range batch {
		b.Header.AckSeqNum = s.bufferAckSeqNumToSend
		if b.Header.SeqNum > 0 || b.Header.Purpose == wire.PurposeManagement {
			b.State = wire.BufferSendPosted
		}
	}

	if err := s.outbound(batch); err == nil {
		for _, b := range batch {
			if b.State == wire.BufferSendPosted {
				b.State = wire.BufferSent
				if b.Header.SeqNum > s.maxSentBufferSeqNum {
					s.maxSentBufferSeqNum = b.Header.SeqNum
				}
				if b.Header.SeqNum > 0 {
					if _, tracked := s.firstSentAt[b.Header.SeqNum]; !tracked {
						s.firstSentAt[b.Header.SeqNum] = now
					}
				}
			}
		}
	}

	// Fire-and-forget buffers (bare acks, the SeqNum-0 handshake buffers)
	// are never placed in deliveryPendingList and so would otherwise never
	// return to the pool.
	for _, b := range batch {
		if b.Header.Purpose == wire.PurposeAck || (b.Header.SeqNum == 0 && b.Header.Purpose == wire.PurposeManagement) {
			s.pool.Return(b)
		}
	}

	s.maxSentBufferAckSeqNum = s.bufferAckSeqNumToSend
	s.sendNowList = nil
	s.deferredAckDeadline = time.Time{}
	s.requestSendAckNow = false
	s.lastSendActivity = now
	return len(batch)
}
