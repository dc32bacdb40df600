package rlc

import "fmt"

// Segment indicator values carried in the second header byte.
const (
	SIComplete uint8 = 0
	SIFirst    uint8 = 1
	SIMiddle   uint8 = 2
	SILast     uint8 = 3
)

const (
	shortHeaderSize = 2
	longHeaderSize  = 4
	// MaxSDUSize is the largest buffer UM can segment; the SO field is 16 bits.
	MaxSDUSize = 0xFFFF
)

// Header is a UM data PDU header. SO is present only for middle and last segments.
type Header struct {
	SN uint8
	SI uint8
	SO uint16
}

// Len returns the encoded header length.
func (h Header) Len() int {
	if h.SI == SIComplete || h.SI == SIFirst {
		return shortHeaderSize
	}
	return longHeaderSize
}

// Put writes the header into b, which must hold Len() bytes.
func (h Header) Put(b []byte) {
	b[0] = h.SN
	b[1] = h.SI
	if h.Len() == longHeaderSize {
		b[2] = byte(h.SO >> 8)
		b[3] = byte(h.SO)
	}
}

// ParseHeader decodes the header at the front of pdu.
func ParseHeader(pdu []byte) (Header, error) {
	if len(pdu) < shortHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedUnit, len(pdu), shortHeaderSize)
	}
	h := Header{SN: pdu[0], SI: pdu[1]}
	if h.SI > SILast {
		return Header{}, fmt.Errorf("%w: unknown segment indicator %d", ErrMalformedUnit, h.SI)
	}
	if len(pdu) < h.Len() {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedUnit, len(pdu), h.Len())
	}
	if h.Len() == longHeaderSize {
		h.SO = uint16(pdu[2])<<8 | uint16(pdu[3])
	}
	return h, nil
}
