// Package manager implements SessionManager, the server-side demultiplexer
// that routes inbound transport traffic from many remote endpoints into the
// right ConnectionSession, and accepts the open-session handshake for new
// ones (spec.md §4.2). The locking shape is grounded directly on the
// teacher's StreamableHTTPHandler session table (mcp/streamable.go):
// a single mutex guarding plain maps, held only for the map operation
// itself.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/duplexmux/duplexmux/internal/xlog"
	"github.com/duplexmux/duplexmux/metrics"
	"github.com/duplexmux/duplexmux/session"
	"github.com/duplexmux/duplexmux/sessionstate"
	"github.com/duplexmux/duplexmux/transport"
	"github.com/duplexmux/duplexmux/wire"
)

var log = xlog.For("manager")

// clientKey identifies a session by its stable client identity, used as the
// ClientUUID->session table's key (spec.md §4.2).
type clientKey struct {
	clientUUID        string
	clientInstanceNum uint64
}

// NewSessionFunc constructs a fresh server-role session for a newly seen
// client, letting the caller supply per-session Options (outbound delegate
// bound to the specific endpoint, buffer pool, feature set, etc).
type NewSessionFunc func(id session.Identity, now time.Time, endpoint transport.EndpointID) *session.ConnectionSession

// Manager demultiplexes inbound buffers across server-role sessions (spec.md
// §4.2). All exported methods must be serialized by the host the same way a
// single ConnectionSession's methods must be (spec.md §5); Manager performs
// no internal locking of its own beyond what its three tables need, since it
// is driven by the same single-threaded ServiceLoop as the sessions it owns.
type Manager struct {
	newSession NewSessionFunc
	metrics    *metrics.Collector
	stateStore sessionstate.Store // optional; nil disables identity persistence

	mu sync.Mutex

	byClient   map[clientKey]*session.ConnectionSession
	byEndpoint map[transport.EndpointID]*session.ConnectionSession
	byAddress  map[transport.IPAddress][]*session.ConnectionSession
}

// New returns an empty Manager. newSession is called to construct a session
// for every accepted open handshake from an endpoint with no bound session.
// metricsCollector may be nil to disable instrumentation.
func New(newSession NewSessionFunc, metricsCollector *metrics.Collector) *Manager {
	return &Manager{
		newSession: newSession,
		metrics:    metricsCollector,
		byClient:   make(map[clientKey]*session.ConnectionSession),
		byEndpoint: make(map[transport.EndpointID]*session.ConnectionSession),
		byAddress:  make(map[transport.IPAddress][]*session.ConnectionSession),
	}
}

// WithStateStore attaches a sessionstate.Store that records each session's
// identity as it reaches Terminated, for an external reconnect policy to
// consult (spec.md §9 Open Questions, SPEC_FULL.md §12). Returns m for
// chaining with New.
func (m *Manager) WithStateStore(store sessionstate.Store) *Manager {
	m.stateStore = store
	return m
}

// ProcessSessionLevelInboundBuffers routes one inbound batch from endpoint
// (spec.md §4.2 steps 1-6):
//  1. look up an existing session by endpoint;
//  2. if none, and the batch opens with a RequestOpenSession management
//     buffer, create a fresh session for its (ClientUUID, ClientInstanceNum)
//     and bind it to this endpoint; a session already registered under that
//     identity or endpoint is stranded (see resolveOrCreate), not reused;
//  3. otherwise the batch is addressed to no session: drop it;
//  4. hand the batch to the resolved session's HandleInboundBuffers;
//  5. record the endpoint's source address against the session for stranded-
//     session cleanup;
//  6. sweep Terminated sessions from all three tables.
func (m *Manager) ProcessSessionLevelInboundBuffers(now time.Time, endpoint transport.EndpointID, addr transport.IPAddress, buffers []*wire.Buffer) {
	m.mu.Lock()
	s := m.byEndpoint[endpoint]
	m.mu.Unlock()

	if s == nil {
		id, _, ok := openRequestIdentity(buffers)
		if !ok {
			log.Debug("dropping inbound batch from unknown endpoint with no open request", "endpoint", endpoint)
			return
		}
		// Buffer-size validation happens inside the session itself, once
		// HandleInboundBuffers below re-decodes the same buffer.
		s = m.resolveOrCreate(now, endpoint, id)
	}

	s.HandleInboundBuffers(now, buffers)
	m.recordAddress(addr, s)
	m.sweepTerminated(now)
}

// resolveOrCreate handles a RequestOpenSession handshake addressed to an
// endpoint with no existing binding. A fresh session is always constructed
// for the handshake; any session already registered under the same
// ClientUUID/ClientInstanceNum or already bound to this endpoint is
// superseded and marked for termination rather than left stranded in the
// tables (spec.md §4.2 step 3).
func (m *Manager) resolveOrCreate(now time.Time, endpoint transport.EndpointID, id session.Identity) *session.ConnectionSession {
	key := clientKey{clientUUID: id.ClientUUID, clientInstanceNum: id.ClientInstanceNum}

	m.mu.Lock()
	strandedByClient := m.byClient[key]
	strandedByEndpoint := m.byEndpoint[endpoint]
	m.mu.Unlock()

	if m.stateStore != nil {
		if rec, err := m.stateStore.Load(context.Background(), id.ClientUUID); err != nil {
			log.Warn("failed to load prior session identity", "client_uuid", id.ClientUUID, "error", err)
		} else if rec != nil {
			log.Debug("new session resumes a previously persisted identity", "client_uuid", id.ClientUUID, "last_state", rec.LastState, "last_termination", rec.LastTermination)
		}
	}

	s := m.newSession(id, now, endpoint)

	if strandedByClient != nil && strandedByClient != s {
		m.strand(now, strandedByClient, "superseded by a new open handshake for the same client identity")
	}
	if strandedByEndpoint != nil && strandedByEndpoint != strandedByClient {
		m.strand(now, strandedByEndpoint, "superseded by a new open handshake on its endpoint")
	}

	m.mu.Lock()
	m.byClient[key] = s
	m.byEndpoint[endpoint] = s
	m.mu.Unlock()
	return s
}

// strand begins an orderly close of a session displaced by a superseding
// open handshake (spec.md §4.2 step 3 "marked for termination"). It is a
// no-op if the session has already reached a terminal or closing state.
func (m *Manager) strand(now time.Time, s *session.ConnectionSession, reason string) {
	if cur, _ := s.State(); cur.Code == wire.StateTerminated || cur.Code == wire.StateCloseRequested {
		return
	}
	log.Debug("stranding session displaced by new open handshake", "reason", reason)
	s.Close(now, reason)
}

func (m *Manager) recordAddress(addr transport.IPAddress, s *session.ConnectionSession) {
	if addr == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byAddress[addr]
	for _, existing := range list {
		if existing == s {
			return
		}
	}
	m.byAddress[addr] = append(list, s)
}

// sweepTerminated removes Terminated sessions from all three tables (spec.md
// §4.2 "stranded-session cleanup"). Since terminal state is absorbing
// (spec.md §3), a session found Terminated here can never become un-Terminated.
func (m *Manager) sweepTerminated(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, s := range m.byClient {
		if st, _ := s.State(); st.Code == wire.StateTerminated {
			if err := s.Err(); err != nil {
				log.Warn("sweeping session terminated by protocol violation", "client_uuid", k, "cause", err)
			}
			m.saveTerminatedIdentity(k, s)
			delete(m.byClient, k)
		}
	}
	for k, s := range m.byEndpoint {
		if st, _ := s.State(); st.Code == wire.StateTerminated {
			delete(m.byEndpoint, k)
		}
	}
	for addr, list := range m.byAddress {
		kept := list[:0]
		for _, s := range list {
			if st, _ := s.State(); st.Code != wire.StateTerminated {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(m.byAddress, addr)
		} else {
			m.byAddress[addr] = kept
		}
	}
}

// saveTerminatedIdentity persists s's identity to the state store (if one is
// attached) as it leaves the manager's tables, best-effort: a store failure
// only costs an external reconnect policy some context, never the session
// itself, so it is logged and otherwise ignored.
func (m *Manager) saveTerminatedIdentity(k clientKey, s *session.ConnectionSession) {
	if m.stateStore == nil {
		return
	}
	st, _ := s.State()
	rec := &sessionstate.Record{
		ClientUUID:        k.clientUUID,
		ClientInstanceNum: k.clientInstanceNum,
		SessionName:       s.SessionName,
		LastState:         st.Code,
		LastTermination:   st.TerminationReason,
	}
	if err := m.stateStore.Save(context.Background(), k.clientUUID, rec); err != nil {
		log.Warn("failed to persist terminated session identity", "client_uuid", k.clientUUID, "error", err)
	}
}

// Service runs Service(now) on every tracked session once, returning the
// total work performed (spec.md §4.2, §4.4 "the manager sweeps its tables").
func (m *Manager) Service(now time.Time) int {
	m.mu.Lock()
	sessions := make([]*session.ConnectionSession, 0, len(m.byClient))
	for _, s := range m.byClient {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	work := 0
	for _, s := range sessions {
		work += s.Service(now)
	}
	m.sweepTerminated(now)
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(m.SessionCount()))
	}
	return work
}

// SessionCount reports the number of sessions currently tracked by client
// identity (mainly for tests and diagnostics).
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byClient)
}
