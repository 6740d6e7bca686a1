package manager

import (
	"context"
	"testing"
	"time"

	"github.com/duplexmux/duplexmux/session"
	"github.com/duplexmux/duplexmux/sessionstate"
	"github.com/duplexmux/duplexmux/transport"
	"github.com/duplexmux/duplexmux/wire"
)

// newTestManager builds a Manager whose sessions record every outbound
// batch under their owning endpoint, so a test can drive the handshake from
// the client side and inspect what the manager's server-role session sent
// back without a real transport.
func newTestManager(t *testing.T, sent map[transport.EndpointID][][]*wire.Buffer) *Manager {
	t.Helper()
	cfg := session.DefaultConfig(4096)
	return New(func(id session.Identity, now time.Time, endpoint transport.EndpointID) *session.ConnectionSession {
		return session.NewServerSession(id, now, session.Options{
			Config: cfg,
			Outbound: func(b []*wire.Buffer) error {
				sent[endpoint] = append(sent[endpoint], b)
				return nil
			},
			Features: transport.Features{Reliable: true},
		})
	}, nil)
}

func TestManagerCreatesSessionOnOpenRequest(t *testing.T) {
	sent := make(map[transport.EndpointID][][]*wire.Buffer)
	m := newTestManager(t, sent)

	now := time.Now()
	var clientBatches [][]*wire.Buffer
	client := session.NewClientSession(session.Identity{SessionName: "c", ClientUUID: "client-1", ClientInstanceNum: 1}, now, session.Options{
		Config:   session.DefaultConfig(4096),
		Outbound: func(b []*wire.Buffer) error { clientBatches = append(clientBatches, b); return nil },
		Features: transport.Features{Reliable: true},
	})
	client.SetState(now, wire.StateRequestTransportConnect, "", wire.TerminationReasonNone)
	client.NoteTransportIsConnected(now, "endpoint-1")
	client.Service(now)
	if len(clientBatches) != 1 {
		t.Fatalf("expected client to produce one outbound batch, got %d", len(clientBatches))
	}

	m.ProcessSessionLevelInboundBuffers(now, "endpoint-1", "10.0.0.1", clientBatches[0])

	if m.SessionCount() != 1 {
		t.Fatalf("expected manager to track 1 session, got %d", m.SessionCount())
	}
	m.mu.Lock()
	s, ok := m.byEndpoint["endpoint-1"]
	m.mu.Unlock()
	if !ok {
		t.Fatal("expected session bound to endpoint-1")
	}
	if cur, _ := s.State(); cur.Code != wire.StateActive {
		t.Fatalf("expected server session to be Active after open request, got %s", cur.Code)
	}
}

func TestManagerDropsBatchFromUnknownEndpointWithNoOpenRequest(t *testing.T) {
	sent := make(map[transport.EndpointID][][]*wire.Buffer)
	m := newTestManager(t, sent)

	bogus := []*wire.Buffer{{Header: wire.Header{Purpose: wire.PurposeAck}}}
	m.ProcessSessionLevelInboundBuffers(time.Now(), "ghost-endpoint", "10.0.0.2", bogus)

	if m.SessionCount() != 0 {
		t.Fatalf("expected no session to be created for an unsolicited batch, got %d", m.SessionCount())
	}
}

func TestManagerSweepsTerminatedSessions(t *testing.T) {
	sent := make(map[transport.EndpointID][][]*wire.Buffer)
	m := newTestManager(t, sent)

	cfg := session.DefaultConfig(4096)
	s := session.NewServerSession(session.Identity{ClientUUID: "stale"}, time.Now(), session.Options{
		Config:   cfg,
		Outbound: func(b []*wire.Buffer) error { return nil },
		Features: transport.Features{Reliable: true},
	})

	m.mu.Lock()
	m.byClient[clientKey{clientUUID: "stale"}] = s
	m.byEndpoint["stale-endpoint"] = s
	m.byAddress["10.0.0.9"] = []*session.ConnectionSession{s}
	m.mu.Unlock()

	s.SetState(time.Now(), wire.StateTerminated, "forced for test", wire.TerminationProtocolViolation)

	m.sweepTerminated(time.Now())

	if m.SessionCount() != 0 {
		t.Fatalf("expected terminated session to be swept from byClient, got %d", m.SessionCount())
	}
	m.mu.Lock()
	_, stillByEndpoint := m.byEndpoint["stale-endpoint"]
	_, stillByAddress := m.byAddress["10.0.0.9"]
	m.mu.Unlock()
	if stillByEndpoint {
		t.Error("expected terminated session to be swept from byEndpoint")
	}
	if stillByAddress {
		t.Error("expected terminated session to be swept from byAddress")
	}
}

func TestManagerStrandsSessionSupersededBySameClientIdentity(t *testing.T) {
	sent := make(map[transport.EndpointID][][]*wire.Buffer)
	m := newTestManager(t, sent)

	old := session.NewServerSession(session.Identity{ClientUUID: "dup", ClientInstanceNum: 1}, time.Now(), session.Options{
		Config:   session.DefaultConfig(4096),
		Outbound: func(b []*wire.Buffer) error { return nil },
		Features: transport.Features{Reliable: true},
	})
	old.SetState(time.Now(), wire.StateActive, "", wire.TerminationReasonNone)

	m.mu.Lock()
	m.byClient[clientKey{clientUUID: "dup", clientInstanceNum: 1}] = old
	m.byEndpoint["old-endpoint"] = old
	m.mu.Unlock()

	now := time.Now()
	m.resolveOrCreate(now, "new-endpoint", session.Identity{ClientUUID: "dup", ClientInstanceNum: 1})

	if cur, _ := old.State(); cur.Code != wire.StateCloseRequested {
		t.Fatalf("expected superseded session to begin closing, got state %s", cur.Code)
	}

	m.mu.Lock()
	replacement := m.byClient[clientKey{clientUUID: "dup", clientInstanceNum: 1}]
	m.mu.Unlock()
	if replacement == old {
		t.Fatal("expected a fresh session to replace the superseded one in byClient")
	}
}

func TestManagerStrandsSessionSupersededBySameEndpoint(t *testing.T) {
	sent := make(map[transport.EndpointID][][]*wire.Buffer)
	m := newTestManager(t, sent)

	old := session.NewServerSession(session.Identity{ClientUUID: "previous-tenant"}, time.Now(), session.Options{
		Config:   session.DefaultConfig(4096),
		Outbound: func(b []*wire.Buffer) error { return nil },
		Features: transport.Features{Reliable: true},
	})
	old.SetState(time.Now(), wire.StateActive, "", wire.TerminationReasonNone)

	m.mu.Lock()
	m.byClient[clientKey{clientUUID: "previous-tenant"}] = old
	m.byEndpoint["shared-endpoint"] = old
	m.mu.Unlock()

	now := time.Now()
	m.resolveOrCreate(now, "shared-endpoint", session.Identity{ClientUUID: "new-tenant", ClientInstanceNum: 1})

	if cur, _ := old.State(); cur.Code != wire.StateCloseRequested {
		t.Fatalf("expected session stranded off its endpoint to begin closing, got state %s", cur.Code)
	}

	m.mu.Lock()
	bound := m.byEndpoint["shared-endpoint"]
	m.mu.Unlock()
	if bound == old {
		t.Fatal("expected the endpoint to now point at the new session")
	}
}

func TestManagerPersistsIdentityOnSweep(t *testing.T) {
	sent := make(map[transport.EndpointID][][]*wire.Buffer)
	m := newTestManager(t, sent)
	store := sessionstate.NewMemoryStore()
	m.WithStateStore(store)

	s := session.NewServerSession(session.Identity{ClientUUID: "persisted"}, time.Now(), session.Options{
		Config:   session.DefaultConfig(4096),
		Outbound: func(b []*wire.Buffer) error { return nil },
		Features: transport.Features{Reliable: true},
	})

	m.mu.Lock()
	m.byClient[clientKey{clientUUID: "persisted"}] = s
	m.mu.Unlock()

	s.SetState(time.Now(), wire.StateTerminated, "forced for test", wire.TerminationConnectWaitTimeLimitReached)
	m.sweepTerminated(time.Now())

	rec, err := store.Load(context.Background(), "persisted")
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a persisted Record for the swept session, got nil")
	}
	if rec.LastState != wire.StateTerminated || rec.LastTermination != wire.TerminationConnectWaitTimeLimitReached {
		t.Fatalf("unexpected persisted record: %+v", rec)
	}
}
