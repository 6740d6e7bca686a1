package manager

import (
	"github.com/duplexmux/duplexmux/session"
	"github.com/duplexmux/duplexmux/wire"
)

// openRequestIdentity looks for a RequestOpenSession management buffer at
// the front of buffers and, if found, returns the client identity it
// carries (spec.md §4.2 step 2). Per spec, the open request must be "the
// first remaining buffer after skipping leading Acks" with a non-empty
// ClientUUID and non-zero ClientInstanceNum; anything else (wrong
// position, unparseable payload, or an empty/zero identity) is logged and
// dropped rather than routed. The session itself re-decodes and validates
// the full handshake (including the buffer-size check) once
// HandleInboundBuffers runs, so this is only a routing decision.
func openRequestIdentity(buffers []*wire.Buffer) (session.Identity, *wire.AttributeSet, bool) {
	i := 0
	for i < len(buffers) && buffers[i].Header.Purpose == wire.PurposeAck && len(buffers[i].Payload) == 0 {
		i++
	}
	if i >= len(buffers) {
		return session.Identity{}, nil, false
	}

	b := buffers[i]
	if b.Header.Purpose != wire.PurposeManagement {
		return session.Identity{}, nil, false
	}

	codec := wire.JSONManagementCodec{}
	attrs, err := codec.Decode(b.Payload)
	if err != nil {
		log.Debug("dropping unparseable leading management buffer", "error", err)
		return session.Identity{}, nil, false
	}
	if attrs.Type != wire.ManagementRequestOpenSession {
		return session.Identity{}, nil, false
	}
	if attrs.ClientUUID == "" || attrs.ClientInstanceNum == 0 {
		log.Debug("dropping open request with empty client identity", "client_uuid", attrs.ClientUUID, "client_instance_num", attrs.ClientInstanceNum)
		return session.Identity{}, nil, false
	}

	return session.Identity{
		SessionName:       attrs.Name,
		ClientUUID:        attrs.ClientUUID,
		ClientInstanceNum: attrs.ClientInstanceNum,
	}, attrs, true
}
