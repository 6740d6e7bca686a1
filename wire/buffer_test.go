package wire

import "testing"

func TestPoolAcquireReturnsZeroedBuffer(t *testing.T) {
	p := NewPool(64)
	b := p.Acquire()
	if b.State != BufferUnused {
		t.Errorf("fresh buffer state = %s, want Unused", b.State)
	}
	if len(b.Payload) != 0 {
		t.Errorf("fresh buffer payload length = %d, want 0", len(b.Payload))
	}
	if cap(b.Payload) < 64 {
		t.Errorf("fresh buffer payload capacity = %d, want >= 64", cap(b.Payload))
	}
}

func TestPoolReturnRecyclesBuffer(t *testing.T) {
	p := NewPool(64)
	b := p.Acquire()
	b.Header = Header{Purpose: PurposeMessage, SeqNum: 42}
	b.Payload = append(b.Payload, []byte("hello")...)
	b.State = BufferDelivered

	p.Return(b)
	b2 := p.Acquire()

	if b2.Header.SeqNum != 0 {
		t.Errorf("recycled buffer header SeqNum = %d, want 0", b2.Header.SeqNum)
	}
	if len(b2.Payload) != 0 {
		t.Errorf("recycled buffer payload length = %d, want 0", len(b2.Payload))
	}
	if b2.State != BufferUnused {
		t.Errorf("recycled buffer state = %s, want Unused", b2.State)
	}
}

func TestBufferStateString(t *testing.T) {
	cases := map[BufferState]string{
		BufferUnused:        "Unused",
		BufferReadyToSend:   "ReadyToSend",
		BufferSendPosted:    "SendPosted",
		BufferSent:          "Sent",
		BufferReadyToResend: "ReadyToResend",
		BufferDelivered:     "Delivered",
		BufferReceivePosted: "ReceivePosted",
		BufferReceived:      "Received",
		BufferState(99):     "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("BufferState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
