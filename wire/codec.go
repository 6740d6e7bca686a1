package wire

import "github.com/duplexmux/duplexmux/internal/wirejson"

// ManagementCodec serializes and parses management buffer payloads. It is
// the pluggable boundary named in spec.md §4.3: any self-describing format
// that preserves the reserved key types may implement it.
type ManagementCodec interface {
	Encode(*AttributeSet) ([]byte, error)
	Decode([]byte) (*AttributeSet, error)
}

// JSONManagementCodec is the default ManagementCodec, encoding attribute
// sets as JSON via the session wire format (internal/wirejson, backed by
// github.com/segmentio/encoding/json).
type JSONManagementCodec struct{}

var _ ManagementCodec = JSONManagementCodec{}

// Encode implements ManagementCodec.
func (JSONManagementCodec) Encode(a *AttributeSet) ([]byte, error) {
	return wirejson.Marshal(a)
}

// Decode implements ManagementCodec. Decode is strict: unknown fields or
// case-variant duplicate keys are rejected, since a malformed management
// payload from a peer must surface as a protocol violation (spec.md §7)
// rather than be silently tolerated.
func (JSONManagementCodec) Decode(data []byte) (*AttributeSet, error) {
	var a AttributeSet
	if err := wirejson.StrictUnmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
