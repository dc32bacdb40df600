package mac

import (
	"errors"
	"fmt"
)

// SubHeaderSize is the per-channel header: id, then a little-endian 16-bit length.
const SubHeaderSize = 3

// MaxSubPDUSize is the largest payload one sub-PDU can carry.
const MaxSubPDUSize = 0xFFFF

var (
	ErrMalformedPDU = errors.New("mac: malformed pdu")
	ErrPDUTooLarge  = errors.New("mac: channel buffer exceeds sub-pdu length field")
)

// SubPDU is one logical channel's data inside a MAC PDU.
type SubPDU struct {
	LCID uint8
	Data []byte
}

// Multiplex concatenates every channel with pending data, in slice order.
// It returns nil when no channel has data.
func Multiplex(channels []LogicalChannel) ([]byte, error) {
	total := 0
	for _, ch := range channels {
		if len(ch.Buffer) == 0 {
			continue
		}
		if len(ch.Buffer) > MaxSubPDUSize {
			return nil, fmt.Errorf("%w: channel %d has %d bytes", ErrPDUTooLarge, ch.ID, len(ch.Buffer))
		}
		total += SubHeaderSize + len(ch.Buffer)
	}
	if total == 0 {
		return nil, nil
	}

	pdu := make([]byte, 0, total)
	for _, ch := range channels {
		n := len(ch.Buffer)
		if n == 0 {
			continue
		}
		pdu = append(pdu, ch.ID, byte(n), byte(n>>8))
		pdu = append(pdu, ch.Buffer...)
	}
	return pdu, nil
}

// Demultiplex splits a MAC PDU into its sub-PDUs. Data slices alias pdu.
// On a length that runs past the end, the sub-PDUs parsed so far are returned
// together with ErrMalformedPDU. Fewer than SubHeaderSize trailing bytes are
// ignored as padding.
func Demultiplex(pdu []byte) ([]SubPDU, error) {
	var subs []SubPDU
	off := 0
	for off+SubHeaderSize <= len(pdu) {
		id := pdu[off]
		n := int(pdu[off+1]) | int(pdu[off+2])<<8
		off += SubHeaderSize
		if off+n > len(pdu) {
			return subs, fmt.Errorf("%w: channel %d length %d exceeds remaining %d bytes", ErrMalformedPDU, id, n, len(pdu)-off)
		}
		subs = append(subs, SubPDU{LCID: id, Data: pdu[off : off+n]})
		off += n
	}
	return subs, nil
}
