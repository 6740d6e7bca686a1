// Package wire defines the on-the-wire representation shared by every
// ConnectionSession: the fixed buffer header, the byte-stream run framing,
// and the management payload codec (§4.3 and §6 of the session layer spec).
package wire

import "fmt"

// PurposeCode identifies what a Buffer carries.
type PurposeCode uint8

const (
	PurposeNone PurposeCode = iota
	PurposeManagement
	PurposeMessage
	PurposeMessageStart
	PurposeMessageMiddle
	PurposeMessageEnd
	PurposeAck
)

func (p PurposeCode) String() string {
	switch p {
	case PurposeNone:
		return "None"
	case PurposeManagement:
		return "Management"
	case PurposeMessage:
		return "Message"
	case PurposeMessageStart:
		return "MessageStart"
	case PurposeMessageMiddle:
		return "MessageMiddle"
	case PurposeMessageEnd:
		return "MessageEnd"
	case PurposeAck:
		return "Ack"
	default:
		return fmt.Sprintf("PurposeCode(%d)", uint8(p))
	}
}

// IsFragment reports whether p is one of the multi-buffer message purposes.
func (p PurposeCode) IsFragment() bool {
	return p == PurposeMessageStart || p == PurposeMessageMiddle || p == PurposeMessageEnd
}

// IsData reports whether p carries application payload (single or fragment).
func (p PurposeCode) IsData() bool {
	return p == PurposeMessage || p.IsFragment()
}

// Flags is a bitfield carried in the buffer header.
type Flags uint8

const (
	// FlagBufferIsBeingResent marks a buffer that is a retransmission of an
	// earlier send. Per spec.md §4.1/§9, receipt of this flag without a
	// matching gap in the receiver's held-buffer map carries no behavioral
	// effect; it is a log hint only.
	FlagBufferIsBeingResent Flags = 1 << iota
)

// Has reports whether f contains all bits of other.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// StateCode is the session's lifecycle state (§3 "Session state").
type StateCode uint8

const (
	StateNone StateCode = iota
	StateClientSessionInitial
	StateServerSessionInitial
	StateRequestTransportConnect
	StateRequestSessionOpen
	StateActive
	StateIdle
	StateIdleWithPendingWork
	StateCloseRequested
	StateConnectionClosed
	StateTerminated
)

func (s StateCode) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateClientSessionInitial:
		return "ClientSessionInitial"
	case StateServerSessionInitial:
		return "ServerSessionInitial"
	case StateRequestTransportConnect:
		return "RequestTransportConnect"
	case StateRequestSessionOpen:
		return "RequestSessionOpen"
	case StateActive:
		return "Active"
	case StateIdle:
		return "Idle"
	case StateIdleWithPendingWork:
		return "IdleWithPendingWork"
	case StateCloseRequested:
		return "CloseRequested"
	case StateConnectionClosed:
		return "ConnectionClosed"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("StateCode(%d)", uint8(s))
	}
}

// CanAcceptOutboundMessages reports whether a session in state s may accept
// new application messages for transmission (spec.md §4.1).
func (s StateCode) CanAcceptOutboundMessages() bool {
	return s == StateActive || s == StateIdle || s == StateIdleWithPendingWork
}

// IsConnectedOrConnecting reports whether s is any state from the start of
// the transport-connect handshake through an active/idle conversation, i.e.
// every state in which a transport exception should close the connection
// (spec.md §4.1 HandleTransportException).
func (s StateCode) IsConnectedOrConnecting() bool {
	switch s {
	case StateRequestTransportConnect, StateRequestSessionOpen,
		StateActive, StateIdle, StateIdleWithPendingWork, StateCloseRequested:
		return true
	default:
		return false
	}
}

// TerminationReasonCode explains why a session reached StateTerminated.
type TerminationReasonCode uint8

const (
	TerminationReasonNone TerminationReasonCode = iota
	TerminationClosedByRequest
	TerminationBufferSizesDoNotMatch
	TerminationProtocolViolation
	TerminationSessionKeepAliveTimeLimitReached
	TerminationSessionPendingWorkTimeLimitReached
	TerminationConnectWaitTimeLimitReached
	TerminationCloseRequestWaitTimeLimitReached
)

func (t TerminationReasonCode) String() string {
	switch t {
	case TerminationReasonNone:
		return "None"
	case TerminationClosedByRequest:
		return "ClosedByRequest"
	case TerminationBufferSizesDoNotMatch:
		return "BufferSizesDoNotMatch"
	case TerminationProtocolViolation:
		return "ProtocolViolation"
	case TerminationSessionKeepAliveTimeLimitReached:
		return "SessionKeepAliveTimeLimitReached"
	case TerminationSessionPendingWorkTimeLimitReached:
		return "SessionPendingWorkTimeLimitReached"
	case TerminationConnectWaitTimeLimitReached:
		return "ConnectWaitTimeLimitReached"
	case TerminationCloseRequestWaitTimeLimitReached:
		return "CloseRequestWaitTimeLimitReached"
	default:
		return fmt.Sprintf("TerminationReasonCode(%d)", uint8(t))
	}
}

// ManagementType identifies the kind of a management buffer's attribute set.
type ManagementType string

const (
	ManagementRequestOpenSession           ManagementType = "RequestOpenSession"
	ManagementRequestCloseSession          ManagementType = "RequestCloseSession"
	ManagementSessionRequestAcceptedResponse ManagementType = "SessionRequestAcceptedResponse"
	ManagementNoteSessionTerminated         ManagementType = "NoteSessionTerminated"
	ManagementStatus                       ManagementType = "Status"
	ManagementKeepAlive                    ManagementType = "KeepAlive"
)
