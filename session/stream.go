package session

import (
	"time"

	"github.com/duplexmux/duplexmux/wire"
)

// outboundStream holds one stream's pending outbound work: messages queued
// by the application, not yet all assigned sequence numbers (spec.md §3
// "Stream": "a per-stream outbound queue of pending messages and their
// not-yet-numbered buffers").
type outboundStream struct {
	id       uint16
	messages []*Message // FIFO; messages[0] is the oldest not fully posted
}

// nextUnposted returns the next buffer still awaiting a sequence number
// (SeqNum 0 is never assigned to a data/message buffer; only the initial
// management handshake buffer carries it), or nil if the stream has
// nothing left to post. Fully-posted messages are pruned from the front of
// the queue as a side effect.
func (s *outboundStream) nextUnposted() *wire.Buffer {
	for len(s.messages) > 0 {
		msg := s.messages[0]
		for _, b := range msg.Buffers {
			if b.Header.SeqNum == 0 {
				return b
			}
		}
		s.messages = s.messages[1:]
	}
	return nil
}

// hasUnposted reports whether the stream still has a buffer to contribute
// to the round-robin window fill (spec.md §4.1 step 4).
func (s *outboundStream) hasUnposted() bool {
	return s.nextUnposted() != nil
}

// inboundStream accumulates received buffers awaiting reassembly into
// application messages (spec.md §4.1 "Per-stream message assembly").
type inboundStream struct {
	id                        uint16
	pending                   []*wire.Buffer
	waitingForMessageBoundary bool
	assemblyStarted           time.Time
}
