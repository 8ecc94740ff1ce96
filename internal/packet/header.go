package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
)

const (
	// LongHeaderInitial is the first byte of a long header Initial packet.
	LongHeaderInitial = 0xC0
	// ShortHeaderFlags is the first byte of a short header packet (fixed bit only).
	ShortHeaderFlags = 0x40

	longHeaderBit = 0x80
	fixedBit      = 0x40

	// Long header offsets up to the first variable-length field.
	FlagsOffset         = 0x00
	VersionOffset       = 0x01
	DestConnIDLenOffset = 0x05

	DefaultConnIDLen = 8
	MaxConnIDLen     = 20
	SourceConnIDLen  = 8
	ShortConnIDLen   = 16

	// ShortHeaderLen is the flags byte plus the destination connection ID.
	ShortHeaderLen = 1 + ShortConnIDLen
)

var (
	ErrTruncated      = errors.New("packet truncated")
	ErrNotLongHeader  = errors.New("not a long header packet")
	ErrNotShortHeader = errors.New("not a short header packet")
)

// LongHeaderLen is the size of everything before the payload of a ShapeInitial
// packet carrying a destination connection ID of dcidLen bytes.
func LongHeaderLen(dcidLen int) int {
	// flags + version + dcid len + dcid + scid len + scid + token len + length
	return 1 + 4 + 1 + dcidLen + 1 + SourceConnIDLen + 1 + 2
}

// LongHeader is a decoded ShapeInitial packet. Slices alias the input buffer.
type LongHeader struct {
	Flags      byte
	Version    uint32
	DestConnID []byte
	SrcConnID  []byte
	TokenLen   uint8
	PayloadLen uint16
	Payload    []byte
}

// DecodeLongHeader parses the fixed-layout long header written by Generator.Initial.
func DecodeLongHeader(b []byte) (*LongHeader, error) {
	if len(b) < DestConnIDLenOffset+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	if b[FlagsOffset]&longHeaderBit == 0 {
		return nil, ErrNotLongHeader
	}

	h := &LongHeader{
		Flags:   b[FlagsOffset],
		Version: binary.BigEndian.Uint32(b[VersionOffset:]),
	}
	rest := b[DestConnIDLenOffset:]

	var err error
	if h.DestConnID, rest, err = readPrefixed8(rest); err != nil {
		return nil, fmt.Errorf("destination connection ID: %w", err)
	}
	if h.SrcConnID, rest, err = readPrefixed8(rest); err != nil {
		return nil, fmt.Errorf("source connection ID: %w", err)
	}
	var token []byte
	if token, rest, err = readPrefixed8(rest); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	h.TokenLen = uint8(len(token))

	if len(rest) < 2 {
		return nil, fmt.Errorf("%w: missing payload length", ErrTruncated)
	}
	h.PayloadLen = binary.BigEndian.Uint16(rest)
	rest = rest[2:]
	if len(rest) < int(h.PayloadLen) {
		return nil, fmt.Errorf("%w: payload length %d, have %d", ErrTruncated, h.PayloadLen, len(rest))
	}
	h.Payload = rest[:h.PayloadLen]
	return h, nil
}

// ShortHeader is a decoded ShapeShort packet. Slices alias the input buffer.
type ShortHeader struct {
	Flags      byte
	DestConnID []byte
	Payload    []byte
}

// DecodeShortHeader parses the flags byte and 16-byte destination connection ID
// written by Generator.Short.
func DecodeShortHeader(b []byte) (*ShortHeader, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrTruncated)
	}
	if b[0]&longHeaderBit != 0 || b[0]&fixedBit == 0 {
		return nil, ErrNotShortHeader
	}
	if len(b) < ShortHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	return &ShortHeader{
		Flags:      b[0],
		DestConnID: b[1:ShortHeaderLen],
		Payload:    b[ShortHeaderLen:],
	}, nil
}

// Classify reports which shape most plausibly produced b. It is a best-effort
// guess: random garbage can occasionally look like one of the other shapes.
func Classify(b []byte) Shape {
	if len(b) >= MinNullSize && len(b) <= MaxNullSize && allZero(b) {
		return ShapeNull
	}
	if len(b) > 0 && b[0] == LongHeaderInitial {
		h, err := DecodeLongHeader(b)
		if err == nil && h.Version == uint32(quic.Version1) && len(h.Payload) == len(b)-LongHeaderLen(len(h.DestConnID)) {
			return ShapeInitial
		}
	}
	if len(b) > 0 && b[0] == ShortHeaderFlags {
		if n := len(b) - ShortHeaderLen; n >= MinShortPayload && n <= MaxShortPayload {
			return ShapeShort
		}
	}
	return ShapeGarbage
}

func readPrefixed8(b []byte) (field, rest []byte, err error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("%w: missing length byte", ErrTruncated)
	}
	n := int(b[0])
	if len(b)-1 < n {
		return nil, nil, fmt.Errorf("%w: field length %d, have %d", ErrTruncated, n, len(b)-1)
	}
	return b[1 : 1+n], b[1+n:], nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
