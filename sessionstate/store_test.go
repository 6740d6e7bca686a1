package sessionstate

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/duplexmux/duplexmux/wire"
)

func TestMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	want := &Record{
		ClientUUID:        "client-1",
		ClientInstanceNum: 7,
		SessionName:       "demo",
		LastState:         wire.StateTerminated,
		LastTermination:   wire.TerminationClosedByRequest,
	}
	if err := s.Save(ctx, "client-1", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "client-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStoreLoadMissingReturnsNilNil(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for unknown ClientUUID, got %+v", rec)
	}
}

func TestMemoryStoreSaveNilDeletes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Save(ctx, "client-1", &Record{ClientUUID: "client-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "client-1", nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	rec, err := s.Load(ctx, "client-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected record to be deleted, got %+v", rec)
	}
}

func TestMemoryStoreDeleteAbsentIsNotAnError(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Delete of an absent record should not error: %v", err)
	}
}

func TestMemoryStoreRejectsCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Load(ctx, "client-1"); err == nil {
		t.Error("expected Load to reject a cancelled context")
	}
	if err := s.Save(ctx, "client-1", &Record{}); err == nil {
		t.Error("expected Save to reject a cancelled context")
	}
	if err := s.Delete(ctx, "client-1"); err == nil {
		t.Error("expected Delete to reject a cancelled context")
	}
}
