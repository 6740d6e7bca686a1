package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Purpose:    PurposeMessageStart,
		Flags:      FlagBufferIsBeingResent,
		Stream:     7,
		SeqNum:     123456789,
		AckSeqNum:  42,
		PayloadLen: 1000,
	}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("header round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error decoding zeroed buffer")
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestRunHeaderRoundTrip(t *testing.T) {
	lengths := []int32{100, 200, 0, 400}
	buf := make([]byte, RunHeaderSize)
	if err := EncodeRunHeader(buf, lengths); err != nil {
		t.Fatalf("EncodeRunHeader: %v", err)
	}
	got, err := DecodeRunHeader(buf, 1000)
	if err != nil {
		t.Fatalf("DecodeRunHeader: %v", err)
	}
	want := []int32{100, 200, 400}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("run header round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRunHeaderTooManySlots(t *testing.T) {
	lengths := make([]int32, RunHeaderSlots+1)
	buf := make([]byte, RunHeaderSize)
	if err := EncodeRunHeader(buf, lengths); err == nil {
		t.Fatal("expected error for too many slots")
	}
}

func TestRunHeaderLengthExceedsPoolSize(t *testing.T) {
	buf := make([]byte, RunHeaderSize)
	if err := EncodeRunHeader(buf, []int32{5000}); err != nil {
		t.Fatalf("EncodeRunHeader: %v", err)
	}
	if _, err := DecodeRunHeader(buf, 1024); err == nil {
		t.Fatal("expected protocol violation for oversized run slot")
	}
}
