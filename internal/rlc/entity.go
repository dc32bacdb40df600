// Package rlc implements the RLC framing layer in transparent and
// unacknowledged mode.
//
// UM reassembly appends segments in arrival order and keys only on the SN.
// The SO field is parsed and checked against the accumulated length but never
// used to place data, so segments that arrive out of order are concatenated
// in the wrong order. A mismatch is reported as a reassembly_offset_mismatch
// event.
package rlc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"l2sim/internal/buffer"
	"l2sim/internal/event"
)

// DefaultSegmentSize is the reference UM segment payload size.
const DefaultSegmentSize = 20

var (
	ErrMalformedUnit       = errors.New("rlc: malformed unit")
	ErrUnsupportedMode     = errors.New("rlc: mode not supported")
	ErrUnitTooLarge        = errors.New("rlc: unit too large to segment")
	ErrMissingCollaborator = errors.New("rlc: missing collaborator")
	ErrReleased            = errors.New("rlc: entity released")
)

// Mode is the RLC operating mode.
type Mode int

const (
	TransparentMode Mode = iota
	UnacknowledgedMode
	AcknowledgedMode
)

func (m Mode) String() string {
	switch m {
	case TransparentMode:
		return "TM"
	case UnacknowledgedMode:
		return "UM"
	case AcknowledgedMode:
		return "AM"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "tm", "um" or "am" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "tm":
		return TransparentMode, nil
	case "um":
		return UnacknowledgedMode, nil
	case "am":
		return AcknowledgedMode, nil
	default:
		return 0, fmt.Errorf("unknown RLC mode %q", s)
	}
}

// Lower is the MAC side of an entity.
type Lower interface {
	TransmitPDU(pdu []byte)
}

// LowerFunc adapts a function to a Lower.
type LowerFunc func(pdu []byte)

func (f LowerFunc) TransmitPDU(pdu []byte) { f(pdu) }

// Upper is the PDCP side of an entity.
type Upper interface {
	ReceivePDU(pdu []byte)
}

// UpperFunc adapts a function to an Upper.
type UpperFunc func(pdu []byte)

func (f UpperFunc) ReceivePDU(pdu []byte) { f(pdu) }

// Config configures an entity.
type Config struct {
	Mode        Mode
	SegmentSize int
}

type reassembly struct {
	sn   uint8
	data []byte
}

// Entity is one RLC entity.
type Entity struct {
	mu       sync.Mutex
	cfg      Config
	txNext   uint8
	rxNext   uint8
	reasm    *reassembly
	released bool

	lower Lower
	upper Upper
	alloc buffer.Allocator
	ev    event.Emitter
}

// Option configures an Entity.
type Option func(*Entity)

// WithAllocator sets the allocator for framed units and the reassembly buffer.
func WithAllocator(a buffer.Allocator) Option {
	return func(e *Entity) { e.alloc = a }
}

// WithSink sets the event sink.
func WithSink(s event.Sink) Option {
	return func(e *Entity) { e.ev = event.NewEmitter(event.LayerRLC, s) }
}

// NewEntity creates and establishes an entity.
func NewEntity(cfg Config, lower Lower, upper Upper, opts ...Option) (*Entity, error) {
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if cfg.SegmentSize < 0 {
		return nil, fmt.Errorf("invalid RLC segment size %d", cfg.SegmentSize)
	}
	e := &Entity{
		lower: lower,
		upper: upper,
		alloc: buffer.Default,
		ev:    event.NewEmitter(event.LayerRLC, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = cfg
	e.reset()
	e.ev.Info("established", event.Fields{"mode": cfg.Mode.String()})
	return e, nil
}

func (e *Entity) reset() {
	e.txNext = 0
	e.rxNext = 0
	e.reasm = nil
}

// Establish resets the entity into mode.
func (e *Entity) Establish(mode Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.cfg.Mode = mode
	e.reset()
	e.ev.Info("established", event.Fields{"mode": mode.String()})
	return nil
}

// Reestablish zeroes the counters and drops any open reassembly.
func (e *Entity) Reestablish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.reset()
	e.ev.Info("reestablished", nil)
	return nil
}

// Release drops the reassembly buffer and ends the entity.
func (e *Entity) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.reset()
	e.released = true
	e.ev.Info("released", nil)
	return nil
}

// Mode returns the operating mode.
func (e *Entity) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Mode
}

// TxNext returns the SN the next UM buffer will carry.
func (e *Entity) TxNext() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txNext
}

// RxNext returns one past the SN of the last delivered UM buffer.
func (e *Entity) RxNext() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rxNext
}

// Reassembling reports the SN of the open reassembly, if any.
func (e *Entity) Reassembling() (sn uint8, size int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reasm == nil {
		return 0, 0, false
	}
	return e.reasm.sn, len(e.reasm.data), true
}

// Transmit frames sdu for the lower layer according to the entity mode.
func (e *Entity) Transmit(sdu []byte) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	if e.lower == nil {
		e.mu.Unlock()
		e.ev.Warn("missing_collaborator", event.Fields{"direction": "tx"})
		return fmt.Errorf("%w: no lower layer", ErrMissingCollaborator)
	}

	var units [][]byte
	switch e.cfg.Mode {
	case TransparentMode:
		units = [][]byte{sdu}
		e.ev.Debug("tm_tx", event.Fields{"size": len(sdu)})
	case UnacknowledgedMode:
		var err error
		units, err = e.segment(sdu)
		if err != nil {
			e.mu.Unlock()
			return err
		}
	default:
		mode := e.cfg.Mode
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	lower := e.lower
	e.mu.Unlock()

	for _, u := range units {
		lower.TransmitPDU(u)
	}
	return nil
}

// segment builds every UM unit for sdu and advances txNext once. All units are
// acquired before txNext moves. Called with e.mu held.
func (e *Entity) segment(sdu []byte) ([][]byte, error) {
	if len(sdu) > MaxSDUSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnitTooLarge, len(sdu))
	}
	sn := e.txNext
	size := e.cfg.SegmentSize

	if len(sdu) <= size {
		h := Header{SN: sn, SI: SIComplete}
		unit, err := e.alloc.Alloc(h.Len() + len(sdu))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate UM unit: %w", err)
		}
		h.Put(unit)
		copy(unit[h.Len():], sdu)
		e.txNext++
		e.ev.Debug("um_tx", event.Fields{"sn": sn, "si": h.SI, "size": len(sdu)})
		return [][]byte{unit}, nil
	}

	units := make([][]byte, 0, (len(sdu)+size-1)/size)
	for off := 0; off < len(sdu); off += size {
		end := off + size
		if end > len(sdu) {
			end = len(sdu)
		}
		h := Header{SN: sn, SI: SIMiddle, SO: uint16(off)}
		switch {
		case off == 0:
			h.SI = SIFirst
		case end == len(sdu):
			h.SI = SILast
		}
		unit, err := e.alloc.Alloc(h.Len() + end - off)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate UM segment: %w", err)
		}
		h.Put(unit)
		copy(unit[h.Len():], sdu[off:end])
		units = append(units, unit)
		e.ev.Debug("um_tx_segment", event.Fields{"sn": sn, "si": h.SI, "so": off, "size": end - off})
	}
	e.txNext++
	return units, nil
}

// Receive processes one unit from the lower layer. Malformed units are
// reported and dropped without touching entity state.
func (e *Entity) Receive(pdu []byte) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	if e.upper == nil {
		e.mu.Unlock()
		e.ev.Warn("missing_collaborator", event.Fields{"direction": "rx"})
		return fmt.Errorf("%w: no upper layer", ErrMissingCollaborator)
	}

	switch e.cfg.Mode {
	case TransparentMode:
		upper := e.upper
		e.mu.Unlock()
		e.ev.Debug("tm_rx", event.Fields{"size": len(pdu)})
		upper.ReceivePDU(pdu)
		return nil
	case UnacknowledgedMode:
		return e.receiveUM(pdu)
	default:
		mode := e.cfg.Mode
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
}

// receiveUM is entered with e.mu held and releases it.
func (e *Entity) receiveUM(pdu []byte) error {
	h, err := ParseHeader(pdu)
	if err != nil {
		e.mu.Unlock()
		e.ev.Warn("malformed_unit", event.Fields{"size": len(pdu), "error": err.Error()})
		return err
	}
	payload := pdu[h.Len():]
	upper := e.upper

	if h.SI == SIComplete {
		sdu, err := buffer.Clone(e.alloc, payload)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to allocate UM SDU: %w", err)
		}
		e.rxNext = h.SN + 1
		e.mu.Unlock()
		e.ev.Debug("um_rx", event.Fields{"sn": h.SN, "size": len(sdu)})
		upper.ReceivePDU(sdu)
		return nil
	}

	var acc []byte
	stale := e.reasm != nil && e.reasm.sn != h.SN
	if e.reasm != nil && !stale {
		acc = e.reasm.data
	}
	if int(h.SO) != len(acc) {
		e.ev.Warn("reassembly_offset_mismatch", event.Fields{
			"sn":       h.SN,
			"si":       h.SI,
			"so":       h.SO,
			"expected": len(acc),
		})
	}

	grown, err := e.alloc.Alloc(len(acc) + len(payload))
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to grow reassembly buffer: %w", err)
	}
	copy(grown, acc)
	copy(grown[len(acc):], payload)

	if stale {
		e.ev.Warn("reassembly_discarded", event.Fields{
			"sn":   e.reasm.sn,
			"size": len(e.reasm.data),
			"by":   h.SN,
		})
	}

	if h.SI != SILast {
		e.reasm = &reassembly{sn: h.SN, data: grown}
		e.mu.Unlock()
		e.ev.Debug("um_rx_segment", event.Fields{"sn": h.SN, "si": h.SI, "so": h.SO, "size": len(payload)})
		return nil
	}

	e.reasm = nil
	e.rxNext = h.SN + 1
	e.mu.Unlock()
	e.ev.Debug("um_reassembled", event.Fields{"sn": h.SN, "size": len(grown)})
	upper.ReceivePDU(grown)
	return nil
}
