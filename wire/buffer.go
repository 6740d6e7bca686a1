package wire

import "sync"

// BufferState tracks a Buffer's position in the send/receive lifecycle
// (spec.md §3 "Buffer").
type BufferState uint8

const (
	BufferUnused BufferState = iota
	BufferReadyToSend
	BufferSendPosted
	BufferSent
	BufferReadyToResend
	BufferDelivered
	BufferReceivePosted
	BufferReceived
)

func (s BufferState) String() string {
	switch s {
	case BufferUnused:
		return "Unused"
	case BufferReadyToSend:
		return "ReadyToSend"
	case BufferSendPosted:
		return "SendPosted"
	case BufferSent:
		return "Sent"
	case BufferReadyToResend:
		return "ReadyToResend"
	case BufferDelivered:
		return "Delivered"
	case BufferReceivePosted:
		return "ReceivePosted"
	case BufferReceived:
		return "Received"
	default:
		return "Unknown"
	}
}

// Buffer is the unit of transport: a header plus its payload, carrying its
// own lifecycle state so a session can reason about what still needs
// sending, resending, or delivering.
type Buffer struct {
	Header  Header
	Payload []byte
	State   BufferState
}

// Pool is the thread-safe buffer pool contract required by the core
// (spec.md §5): any number of sessions may Acquire/Return concurrently.
type Pool struct {
	elementSize int
	pool        sync.Pool
}

// NewPool returns a Pool whose buffers hold up to elementSize payload bytes.
func NewPool(elementSize int) *Pool {
	p := &Pool{elementSize: elementSize}
	p.pool.New = func() any {
		return &Buffer{Payload: make([]byte, 0, elementSize)}
	}
	return p
}

// ElementSize returns the configured per-buffer payload capacity.
func (p *Pool) ElementSize() int {
	return p.elementSize
}

// Acquire returns a zeroed Buffer ready for reuse.
func (p *Pool) Acquire() *Buffer {
	b := p.pool.Get().(*Buffer)
	b.Header = Header{}
	b.Payload = b.Payload[:0]
	b.State = BufferUnused
	return b
}

// Return releases b back to the pool. Callers must not use b after Return.
func (p *Pool) Return(b *Buffer) {
	p.pool.Put(b)
}
