package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed, on-wire size of a Header in bytes:
// magic(4) + purpose(1) + flags(1) + stream(2) + seq(8) + ackSeq(8) + payloadLen(4).
const HeaderSize = 28

// headerMagic tags the start of a buffer header so a reliable byte-stream
// reader can resynchronize after a short read.
const headerMagic uint32 = 0x6d757865 // "muxe"

// Header is the fixed-size header carried by every Buffer (spec.md §6).
type Header struct {
	Purpose     PurposeCode
	Flags       Flags
	Stream      uint16
	SeqNum      uint64
	AckSeqNum   uint64
	PayloadLen  uint32
}

// Encode writes the header's wire representation to buf, which must be at
// least HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	if len(buf) < HeaderSize {
		panic("wire: buffer too small for header")
	}
	binary.BigEndian.PutUint32(buf[0:4], headerMagic)
	buf[4] = byte(h.Purpose)
	buf[5] = byte(h.Flags)
	binary.BigEndian.PutUint16(buf[6:8], h.Stream)
	binary.BigEndian.PutUint64(buf[8:16], h.SeqNum)
	binary.BigEndian.PutUint64(buf[16:24], h.AckSeqNum)
	binary.BigEndian.PutUint32(buf[24:28], h.PayloadLen)
}

// DecodeHeader parses a Header from buf. Reserved/unused bytes are ignored,
// per spec.md §6.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header: %d bytes", len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != headerMagic {
		return Header{}, fmt.Errorf("wire: bad header magic %#x", magic)
	}
	return Header{
		Purpose:    PurposeCode(buf[4]),
		Flags:      Flags(buf[5]),
		Stream:     binary.BigEndian.Uint16(buf[6:8]),
		SeqNum:     binary.BigEndian.Uint64(buf[8:16]),
		AckSeqNum:  binary.BigEndian.Uint64(buf[16:24]),
		PayloadLen: binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

// RunHeaderMagic is the 32-bit magic prefixing a byte-stream run, per
// spec.md §6: "0x6a231f00 + 16".
const RunHeaderMagic uint32 = 0x6a231f00 + 16

// RunHeaderSlots is the maximum number of buffers packed into one run.
const RunHeaderSlots = 16

// RunHeaderSize is the fixed size of a run header: a magic word followed by
// RunHeaderSlots signed 32-bit lengths (4 + 16*4 = 68 bytes).
const RunHeaderSize = 4 + RunHeaderSlots*4

// EncodeRunHeader writes the run header for the given buffer lengths (at
// most RunHeaderSlots of them; unused slots encode as zero) into buf, which
// must be at least RunHeaderSize bytes.
func EncodeRunHeader(buf []byte, lengths []int32) error {
	if len(lengths) > RunHeaderSlots {
		return fmt.Errorf("wire: run has %d buffers, max is %d", len(lengths), RunHeaderSlots)
	}
	if len(buf) < RunHeaderSize {
		return fmt.Errorf("wire: buffer too small for run header")
	}
	binary.BigEndian.PutUint32(buf[0:4], RunHeaderMagic)
	for i := 0; i < RunHeaderSlots; i++ {
		var v int32
		if i < len(lengths) {
			v = lengths[i]
		}
		binary.BigEndian.PutUint32(buf[4+i*4:8+i*4], uint32(v))
	}
	return nil
}

// DecodeRunHeader parses a run header, returning the non-zero buffer lengths
// in slot order. maxBufferSize bounds each length against the receiver's
// buffer-pool element size; any length exceeding it is a fatal protocol
// violation per spec.md §6.
func DecodeRunHeader(buf []byte, maxBufferSize int32) ([]int32, error) {
	if len(buf) < RunHeaderSize {
		return nil, fmt.Errorf("wire: short run header: %d bytes", len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != RunHeaderMagic {
		return nil, fmt.Errorf("wire: bad run header magic %#x", magic)
	}
	var lengths []int32
	for i := 0; i < RunHeaderSlots; i++ {
		v := int32(binary.BigEndian.Uint32(buf[4+i*4 : 8+i*4]))
		if v == 0 {
			continue
		}
		if v < 0 || v > maxBufferSize {
			return nil, fmt.Errorf("wire: run slot %d length %d exceeds buffer pool size %d", i, v, maxBufferSize)
		}
		lengths = append(lengths, v)
	}
	return lengths, nil
}
