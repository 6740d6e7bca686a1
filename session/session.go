// Package session implements ConnectionSession, the reliable, ordered,
// multi-stream message transport described in spec.md §4.1: one instance
// per logical session, owning the state machine, the send/retransmit
// engine, the receive/reorder engine, and per-stream message
// (de)fragmentation.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duplexmux/duplexmux/internal/xlog"
	"github.com/duplexmux/duplexmux/metrics"
	"github.com/duplexmux/duplexmux/transport"
	"github.com/duplexmux/duplexmux/wire"
)

var log = xlog.For("session")

// InboundMessageDelegate receives application messages reassembled from a
// stream's inbound buffers (spec.md §4.1 "Per-stream message assembly").
// If unset, an inbound message is a protocol violation (spec.md §4.1).
type InboundMessageDelegate func(now time.Time, stream uint16, payload []byte)

// Identity names a session: the stable (ClientUUID, ClientInstanceNum) pair
// that uniquely identifies it at the server (spec.md §3 "Session identity"),
// plus a human-readable SessionName.
type Identity struct {
	SessionName       string
	ClientUUID        string
	ClientInstanceNum uint64
}

// NewClientUUID generates a fresh, stable client identity using a random
// UUID (spec.md §3: "ClientUUID... stable across reconnects").
func NewClientUUID() string {
	return uuid.NewString()
}

// ConnectionSession is one reliable, multi-stream conversation between a
// client and a server endpoint (spec.md §4.1). All of its exported methods
// must be serialized by the host, one call at a time, per the cooperative
// single-threaded-per-session model of spec.md §5; the published state is
// the only thing safe to read concurrently, via State().
type ConnectionSession struct {
	Identity
	isClient bool

	cfg   Config
	codec wire.ManagementCodec
	pool  *wire.Pool

	outbound transport.OutboundHandler
	features transport.Features
	metrics  *metrics.Collector // optional; nil disables instrumentation

	onInboundMessage InboundMessageDelegate

	stateSlot StateSlot

	// Session-wide counters, spec.md §3.
	bufferSeqNumGen               uint64
	maxSendPostedBufferSeqNum     uint64
	maxSentBufferSeqNum           uint64
	maxDeliveredBufferSeqNum      uint64
	lastRecvdValidAckBufferSeqNum uint64
	lastRecvdValidBufferSeqNum    uint64
	bufferAckSeqNumToSend         uint64
	maxSentBufferAckSeqNum        uint64

	streamsOut       map[uint16]*outboundStream
	streamOrder      []uint16
	nextSourceStream int

	readyToSendList     []*wire.Buffer
	sendNowList         []*wire.Buffer
	deliveryPendingList []*wire.Buffer // ordered by ascending SeqNum

	// bufferOwner maps an outbound data buffer back to the Message it
	// belongs to, so delivery can be reflected onto the message once every
	// one of its buffers has been cumulatively acknowledged.
	bufferOwner map[*wire.Buffer]*Message

	// firstSentAt records when each in-flight sequence number was first
	// transmitted, purely for the ack-latency metric; deleted once the
	// buffer is reaped as delivered.
	firstSentAt map[uint64]time.Time

	streamsIn map[uint16]*inboundStream

	heldOutOfOrder                         map[uint64]*wire.Buffer
	firstOutOfOrderBufferReceivedTimeStamp time.Time
	lastStatusSentAt                       time.Time

	deferredAckDeadline time.Time
	requestSendAckNow   bool

	lastSendActivity time.Time
	lastRecvActivity time.Time

	enteredStateAt time.Time

	// Keep-alive: lastKeepAliveSentAt is used by the client role (sender),
	// lastDeliveredKeepAliveBufferTimeStamp by the server role (receiver).
	lastKeepAliveSentAt                   time.Time
	lastDeliveredKeepAliveBufferTimeStamp time.Time

	// lastHandshakeResendAt tracks resend of the RequestOpenSession buffer
	// (RequestSessionOpen state), which carries SeqNum 0 and so falls
	// outside the normal ack-driven retransmission loop.
	lastHandshakeResendAt time.Time

	// violationErr holds the cause of the most recent protocol violation,
	// recoverable via Err() once the session reaches Terminated.
	violationErr error
}

// Options configures a new ConnectionSession.
type Options struct {
	Config           Config
	Codec            wire.ManagementCodec // defaults to wire.JSONManagementCodec{}
	Pool             *wire.Pool           // defaults to a pool sized by Config.BufferSize
	Outbound         transport.OutboundHandler
	Features         transport.Features
	Metrics          *metrics.Collector
	OnInboundMessage InboundMessageDelegate
}

func (o *Options) normalize() {
	if o.Codec == nil {
		o.Codec = wire.JSONManagementCodec{}
	}
	if o.Pool == nil {
		o.Pool = wire.NewPool(int(o.Config.BufferSize))
	}
}

func newSession(id Identity, isClient bool, now time.Time, opts Options) *ConnectionSession {
	opts.normalize()
	s := &ConnectionSession{
		Identity:         id,
		isClient:         isClient,
		cfg:              opts.Config,
		codec:            opts.Codec,
		pool:             opts.Pool,
		outbound:         opts.Outbound,
		features:         opts.Features,
		metrics:          opts.Metrics,
		onInboundMessage: opts.OnInboundMessage,
		streamsOut:       make(map[uint16]*outboundStream),
		streamsIn:        make(map[uint16]*inboundStream),
		heldOutOfOrder:   make(map[uint64]*wire.Buffer),
		bufferOwner:      make(map[*wire.Buffer]*Message),
		firstSentAt:      make(map[uint64]time.Time),
		lastRecvActivity: now,
		lastSendActivity: now,
		enteredStateAt:   now,
	}
	return s
}

// NewClientSession creates a client-role session, created Unconnected
// (ClientSessionInitial) and driven to RequestTransportConnect by the host
// once it starts dialing (spec.md §3 "Lifecycle").
func NewClientSession(id Identity, now time.Time, opts Options) *ConnectionSession {
	s := newSession(id, true, now, opts)
	s.stateSlot.Set(StateValue{Code: wire.StateClientSessionInitial, Timestamp: now})
	return s
}

// NewServerSession creates a server-role session bound to an already
// connected transport endpoint (spec.md §3 "Lifecycle", §4.2). The caller
// (normally a SessionManager) is expected to immediately feed it the
// inbound RequestOpenSession buffer that caused its creation.
func NewServerSession(id Identity, now time.Time, opts Options) *ConnectionSession {
	s := newSession(id, false, now, opts)
	s.stateSlot.Set(StateValue{Code: wire.StateServerSessionInitial, Timestamp: now})
	return s
}

// State returns the current published state snapshot and its sequence
// number (spec.md §5 "Observable state slot"). Safe for concurrent use.
func (s *ConnectionSession) State() (StateValue, uint64) {
	return s.stateSlot.Get()
}

// SetState unconditionally transitions the session (spec.md §4.1 SetState).
func (s *ConnectionSession) SetState(now time.Time, code wire.StateCode, reason string, termReason wire.TerminationReasonCode) {
	cur, _ := s.stateSlot.Get()
	if cur.Code == wire.StateTerminated {
		// Terminal absorbing state: spec.md §8 invariant.
		return
	}
	if code != cur.Code {
		s.enteredStateAt = now
	}
	s.stateSlot.Set(StateValue{
		Code:              code,
		Timestamp:         now,
		Reason:            reason,
		TerminationReason: termReason,
	})
}

func (s *ConnectionSession) terminate(now time.Time, reason string, code wire.TerminationReasonCode) {
	log.Debug("terminating session", "client_uuid", s.ClientUUID, "reason", reason, "code", code)
	if s.metrics != nil {
		s.metrics.Terminations.WithLabelValues(code.String()).Inc()
	}
	if code == wire.TerminationProtocolViolation {
		s.violationErr = newProtocolViolation("%s", reason)
	}
	s.sendFinalTerminationNote(now, code, reason)
	s.SetState(now, wire.StateTerminated, reason, code)
}

// Err returns the cause of the most recent protocol violation that
// terminated this session, or nil if it has not terminated with
// TerminationProtocolViolation. A SessionManager can recover the underlying
// cause with errors.Cause (spec.md §7 kind 1).
func (s *ConnectionSession) Err() error {
	return s.violationErr
}

func (s *ConnectionSession) sendFinalTerminationNote(now time.Time, code wire.TerminationReasonCode, reason string) {
	cur, _ := s.stateSlot.Get()
	if cur.Code == wire.StateTerminated || cur.Code == wire.StateNone {
		return
	}
	if !cur.Code.IsConnectedOrConnecting() {
		return
	}
	s.enqueueManagement(now, &wire.AttributeSet{
		Type:              wire.ManagementNoteSessionTerminated,
		Reason:            reason,
		TerminationReason: code,
	})
	// Best-effort: try to flush immediately so the peer has a chance to see
	// it before the transport is torn down.
	s.ServiceTransmitter(now)
}

// NoteTransportIsConnected advances a connecting client session to
// RequestSessionOpen and enqueues the open-session handshake buffer
// (spec.md §4.1).
func (s *ConnectionSession) NoteTransportIsConnected(now time.Time, endpoint transport.EndpointID) {
	cur, _ := s.stateSlot.Get()
	if cur.Code != wire.StateRequestTransportConnect {
		return
	}
	s.SetState(now, wire.StateRequestSessionOpen, "", wire.TerminationReasonNone)
	s.enqueueManagement(now, &wire.AttributeSet{
		Type:              wire.ManagementRequestOpenSession,
		Name:              s.SessionName,
		ClientUUID:        s.ClientUUID,
		ClientInstanceNum: s.ClientInstanceNum,
		BufferSize:        s.cfg.BufferSize,
	})
}

// NoteTransportIsClosed transitions the session to ConnectionClosed
// (spec.md §4.1).
func (s *ConnectionSession) NoteTransportIsClosed(now time.Time, endpoint transport.EndpointID, failureCode string) {
	s.SetState(now, wire.StateConnectionClosed, failureCode, wire.TerminationReasonNone)
}

// HandleTransportException reports a transport-level failure (spec.md
// §4.1, §7 kind 2).
func (s *ConnectionSession) HandleTransportException(now time.Time, endpoint transport.EndpointID, err error, endpointClosed bool) {
	cur, _ := s.stateSlot.Get()
	if !cur.Code.IsConnectedOrConnecting() {
		return
	}
	if cur.Code == wire.StateRequestTransportConnect || cur.Code == wire.StateRequestSessionOpen {
		if te, ok := err.(*transport.Error); ok && te.Tag == transport.ErrorTagTrafficRejectedByRemoteEnd {
			// Ignored while connecting: the client is permitted to keep
			// retrying the open handshake (spec.md §4.1, §7 kind 2).
			return
		}
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.SetState(now, wire.StateConnectionClosed, msg, wire.TerminationReasonNone)
}

func (s *ConnectionSession) canAcceptOutboundMessages() bool {
	cur, _ := s.stateSlot.Get()
	return cur.Code.CanAcceptOutboundMessages()
}

func (s *ConnectionSession) outboundStreamFor(id uint16) *outboundStream {
	st, ok := s.streamsOut[id]
	if !ok {
		st = &outboundStream{id: id}
		s.streamsOut[id] = st
		s.streamOrder = append(s.streamOrder, id)
	}
	return st
}

func (s *ConnectionSession) inboundStreamFor(id uint16) *inboundStream {
	st, ok := s.streamsIn[id]
	if !ok {
		st = &inboundStream{id: id}
		s.streamsIn[id] = st
	}
	return st
}

func (s *ConnectionSession) nextSeq() uint64 {
	s.bufferSeqNumGen++
	return s.bufferSeqNumGen
}

func (s *ConnectionSession) String() string {
	cur, _ := s.stateSlot.Get()
	return fmt.Sprintf("ConnectionSession{%s %s/%d state=%s}", s.SessionName, s.ClientUUID, s.ClientInstanceNum, cur.Code)
}

// enqueueManagement builds a management buffer on stream 0 and appends it
// directly to sendNowList (and, when numbered, deliveryPendingList),
// bypassing the outbound stream queues and the write-ahead window. The
// handshake buffers (RequestOpenSession/SessionRequestAcceptedResponse)
// must be sendable with SeqNum 0 (spec.md §4.1 receive pipeline: "SeqNum=0
// permitted only for management buffers"): every such buffer enqueued
// before the session has numbered any buffer, including handshake resends,
// carries SeqNum 0 and is not tracked for delivery. All other management
// buffers (Status, KeepAlive, RequestCloseSession, NoteSessionTerminated)
// are numbered like any other buffer.
func (s *ConnectionSession) enqueueManagement(now time.Time, attrs *wire.AttributeSet) {
	payload, err := s.codec.Encode(attrs)
	if err != nil {
		// Encoding a management attribute set we built ourselves cannot
		// fail for the codec shipped with this package; guard anyway so a
		// future custom codec can't wedge the session.
		return
	}
	b := s.pool.Acquire()
	b.Header = wire.Header{Purpose: wire.PurposeManagement, Stream: 0}
	b.Payload = append(b.Payload[:0], payload...)
	b.State = wire.BufferReadyToSend
	zeroSeq := attrs.Type == wire.ManagementRequestOpenSession || attrs.Type == wire.ManagementSessionRequestAcceptedResponse
	if zeroSeq && s.bufferSeqNumGen == 0 {
		// First handshake buffer: leave SeqNum at 0 and send it directly,
		// bypassing the normal window-filling numbering (spec.md §4.1).
		s.sendNowList = append(s.sendNowList, b)
		return
	}
	b.Header.SeqNum = s.nextSeq()
	s.sendNowList = append(s.sendNowList, b)
	s.deliveryPendingList = append(s.deliveryPendingList, b)
	if s.bufferSeqNumGen > s.maxSendPostedBufferSeqNum {
		s.maxSendPostedBufferSeqNum = s.bufferSeqNumGen
	}
}
