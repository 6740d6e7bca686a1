// Package sessionstate persists session *identity* across process
// restarts, for an external reconnect policy to consult after a session
// reaches Terminated (spec.md §9 Open Questions: reconnection is
// deliberately kept out of the core state machine). It never stores
// unacknowledged traffic or buffers — those do not survive a process
// restart by design.
package sessionstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/duplexmux/duplexmux/internal/wirejson"
	"github.com/duplexmux/duplexmux/wire"
)

// Record is the durable identity snapshot of one session: enough for an
// external controller to decide whether, and how, to attempt a fresh
// connection under the same ClientUUID.
type Record struct {
	ClientUUID        string                    `json:"clientUuid"`
	ClientInstanceNum uint64                    `json:"clientInstanceNum"`
	SessionName       string                    `json:"sessionName,omitempty"`
	LastState         wire.StateCode            `json:"lastState"`
	LastTermination   wire.TerminationReasonCode `json:"lastTermination,omitempty"`
}

// Store persists and retrieves Records, keyed by ClientUUID. Implementations
// must be safe for concurrent use (spec.md §5).
type Store interface {
	Load(ctx context.Context, clientUUID string) (*Record, error)
	Save(ctx context.Context, clientUUID string, rec *Record) error
	Delete(ctx context.Context, clientUUID string) error
}

// MemoryStore is an in-memory Store, grounded on the teacher's
// MemoryServerSessionStateStore (mcp/session_store.go): round-trip records
// through JSON even in memory, so a bug in the wire shape surfaces in tests
// that exercise only MemoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Load implements Store. A nil result with a nil error means no record is
// stored for clientUUID.
func (s *MemoryStore) Load(ctx context.Context, clientUUID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.records[clientUUID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := wirejson.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sessionstate: decode record for %s: %w", clientUUID, err)
	}
	return &rec, nil
}

// Save implements Store. Passing a nil rec is equivalent to Delete.
func (s *MemoryStore) Save(ctx context.Context, clientUUID string, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return s.Delete(ctx, clientUUID)
	}
	data, err := wirejson.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sessionstate: encode record for %s: %w", clientUUID, err)
	}
	s.mu.Lock()
	s.records[clientUUID] = data
	s.mu.Unlock()
	return nil
}

// Delete implements Store. Deleting an absent record is not an error.
func (s *MemoryStore) Delete(ctx context.Context, clientUUID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, clientUUID)
	s.mu.Unlock()
	return nil
}
