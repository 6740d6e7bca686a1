package xlog

import "testing"

func TestForReturnsInfoEnabledLogger(t *testing.T) {
	l := For("session")
	if l == nil {
		t.Fatal("For returned a nil logger")
	}
	if !l.Enabled(nil, 0) {
		t.Error("expected the default level (Info) to be enabled")
	}
}

func TestBaseHandlerIsASingleton(t *testing.T) {
	if base() != base() {
		t.Error("expected base() to return the same handler on every call")
	}
}
