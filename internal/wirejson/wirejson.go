// Package wirejson provides the JSON codec used for management buffer
// payloads. It exists as a single indirection point so the wire format can
// be swapped without touching callers.
package wirejson

import (
	"bytes"
	"fmt"

	json "github.com/segmentio/encoding/json"
)

// Marshal encodes v using the session wire format.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes data into v using the session wire format.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// StrictUnmarshal decodes data into v, rejecting unknown fields and
// case-variant duplicate keys. Management payloads come from a remote peer
// and a malformed or adversarial payload must fail cleanly as a protocol
// violation rather than silently dropping or merging fields.
func StrictUnmarshal(data []byte, v any) error {
	if err := rejectDuplicateKeys(data); err != nil {
		return fmt.Errorf("wirejson: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wirejson: %w", err)
	}
	return nil
}

func rejectDuplicateKeys(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Not an object; nothing to check here, let the caller's decode fail.
		return nil
	}
	seen := make(map[string]string, len(raw))
	for key := range raw {
		lower := lowerASCII(key)
		if orig, ok := seen[lower]; ok && orig != key {
			return fmt.Errorf("duplicate key with different case: %q and %q", orig, key)
		}
		seen[lower] = key
	}
	return nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
