package session

import "time"

// Config is the set of tunables named in spec.md §6, mirroring the
// default-filling constructor pattern of the teacher's
// StreamableClientTransportOptions (mcp/streamable.go).
type Config struct {
	// BufferSize is this endpoint's buffer-pool element size, exchanged
	// during the open handshake; a mismatch is a protocol violation
	// (spec.md §4.1 management handling, TerminationBufferSizesDoNotMatch).
	BufferSize int32

	ConnectWaitTimeLimit                        time.Duration
	CloseRequestWaitTimeLimit                   time.Duration
	SessionExpirationPeriod                     time.Duration
	ActiveToIdleHoldoff                         time.Duration
	NominalKeepAliveSendInterval                time.Duration
	MaxBufferWriteAheadCount                    int
	AutoReconnectHoldoff                        time.Duration
	MaxOutOfOrderBufferHoldPeriod               time.Duration
	MaxOutOfOrderBufferHoldCount                int
	ShortRetransmitHoldoffPeriod                time.Duration
	NormalRetransmitHoldoffPeriod               time.Duration
	MaxHeldBufferSeqNumsToIncludeInStatusUpdate int
	ExplicitAckHoldoffPeriod                    time.Duration

	// MaxAcceptableAckWindowWidth bounds how far ahead of
	// lastRecvdValidAckBufferSeqNum an incoming ack may legally jump
	// (spec.md §4.1 step 1, §8: 10000).
	MaxAcceptableAckWindowWidth uint64
}

// DefaultConfig returns the spec.md §6 default tunables for a buffer-pool
// element size of bufferSize bytes.
func DefaultConfig(bufferSize int32) Config {
	return Config{
		BufferSize:                                  bufferSize,
		ConnectWaitTimeLimit:                         5 * time.Second,
		CloseRequestWaitTimeLimit:                    1250 * time.Millisecond,
		SessionExpirationPeriod:                      5 * time.Minute,
		ActiveToIdleHoldoff:                          5 * time.Second,
		NominalKeepAliveSendInterval:                 10 * time.Second,
		MaxBufferWriteAheadCount:                     30,
		AutoReconnectHoldoff:                         0,
		MaxOutOfOrderBufferHoldPeriod:                10 * time.Second,
		MaxOutOfOrderBufferHoldCount:                 100,
		ShortRetransmitHoldoffPeriod:                 200 * time.Millisecond,
		NormalRetransmitHoldoffPeriod:                400 * time.Millisecond,
		MaxHeldBufferSeqNumsToIncludeInStatusUpdate:  20,
		ExplicitAckHoldoffPeriod:                     20 * time.Millisecond,
		MaxAcceptableAckWindowWidth:                  10000,
	}
}
