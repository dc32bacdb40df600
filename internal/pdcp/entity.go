// Package pdcp implements the sequencing, compression and ciphering layer.
package pdcp

import (
	"errors"
	"fmt"
	"sync"

	"l2sim/internal/buffer"
	"l2sim/internal/codec"
	"l2sim/internal/event"
)

const (
	// HeaderSize is the length of the data PDU header carrying the SN.
	HeaderSize = 2
	// SNBits is the width of the sequence number field.
	SNBits = 12
	snMask = 1<<SNBits - 1
)

var (
	ErrMalformedUnit       = errors.New("pdcp: malformed unit")
	ErrReleased            = errors.New("pdcp: entity released")
	ErrMissingCollaborator = errors.New("pdcp: no upper layer configured")
)

// Deliverer receives SDUs recovered by the receive path.
type Deliverer interface {
	DeliverSDU(sdu []byte)
}

// DelivererFunc adapts a function to a Deliverer.
type DelivererFunc func(sdu []byte)

func (f DelivererFunc) DeliverSDU(sdu []byte) { f(sdu) }

// Config is the security and compression configuration of an entity.
type Config struct {
	Compression bool
	Ciphering   bool
	Key         byte
}

// DefaultConfig is installed by Establish.
func DefaultConfig() Config {
	return Config{Compression: true, Ciphering: true, Key: codec.DefaultKey}
}

// Entity is one PDCP entity. TxNext advances once per prepared unit; RxNext
// follows the last parsed SN and is informational only.
type Entity struct {
	mu       sync.Mutex
	txNext   uint32
	rxNext   uint32
	cfg      Config
	released bool

	upper      Deliverer
	alloc      buffer.Allocator
	compressor codec.Compressor
	newCipher  func(key byte) codec.Cipher
	ev         event.Emitter
}

// Option configures an Entity.
type Option func(*Entity)

// WithAllocator sets the allocator used for every owned buffer.
func WithAllocator(a buffer.Allocator) Option {
	return func(e *Entity) { e.alloc = a }
}

// WithSink sets the event sink.
func WithSink(s event.Sink) Option {
	return func(e *Entity) { e.ev = event.NewEmitter(event.LayerPDCP, s) }
}

// WithCompressor replaces the marker compressor.
func WithCompressor(c codec.Compressor) Option {
	return func(e *Entity) { e.compressor = c }
}

// WithCipher replaces the XOR cipher; fn is called with the configured key.
func WithCipher(fn func(key byte) codec.Cipher) Option {
	return func(e *Entity) { e.newCipher = fn }
}

// NewEntity creates and establishes an entity delivering to upper.
func NewEntity(upper Deliverer, opts ...Option) *Entity {
	e := &Entity{
		upper:      upper,
		alloc:      buffer.Default,
		compressor: codec.MarkerCompressor{},
		newCipher:  func(key byte) codec.Cipher { return codec.XORCipher{Key: key} },
		ev:         event.NewEmitter(event.LayerPDCP, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.establish()
	return e
}

func (e *Entity) establish() {
	e.txNext = 0
	e.rxNext = 0
	e.cfg = DefaultConfig()
	e.ev.Info("established", event.Fields{
		"compression": e.cfg.Compression,
		"ciphering":   e.cfg.Ciphering,
	})
}

// Establish resets both counters and installs the default configuration.
// Calling it again simply resets the entity.
func (e *Entity) Establish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.establish()
	return nil
}

// Reestablish zeroes both counters and keeps the configuration.
func (e *Entity) Reestablish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.txNext = 0
	e.rxNext = 0
	e.ev.Info("reestablished", nil)
	return nil
}

// Release ends the entity. Every later call fails with ErrReleased.
func (e *Entity) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.released = true
	e.ev.Info("released", nil)
	return nil
}

// Configure replaces the compression and ciphering settings.
func (e *Entity) Configure(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.cfg = cfg
	return nil
}

// Config returns the current configuration.
func (e *Entity) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// TxNext returns the count the next prepared unit will carry.
func (e *Entity) TxNext() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txNext
}

// RxNext returns one past the SN of the last parsed unit.
func (e *Entity) RxNext() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rxNext
}

// PutHeader writes the low 12 bits of sn into b[0:2].
func PutHeader(b []byte, sn uint32) {
	sn &= snMask
	b[0] = byte(sn >> 4)
	b[1] = byte(sn&0x0F) << 4
}

// ParseSN reads the 12-bit SN from b[0:2].
func ParseSN(b []byte) uint16 {
	return uint16(b[0])<<4 | uint16(b[1]>>4)
}

// PrepareTransmitUnit frames sdu with the SN header, then compresses and
// ciphers it as configured. The unit is acquired at its final size before any
// state changes, so an allocation failure leaves TxNext untouched.
func (e *Entity) PrepareTransmitUnit(sdu []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil, ErrReleased
	}

	size := HeaderSize + len(sdu)
	if e.cfg.Compression {
		size += e.compressor.Overhead()
	}
	pdu, err := e.alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate PDCP unit: %w", err)
	}

	sn := e.txNext & snMask
	if e.cfg.Compression {
		raw := make([]byte, HeaderSize+len(sdu))
		PutHeader(raw, sn)
		copy(raw[HeaderSize:], sdu)
		e.compressor.Compress(pdu, raw)
	} else {
		PutHeader(pdu, sn)
		copy(pdu[HeaderSize:], sdu)
	}
	e.txNext++

	if e.cfg.Ciphering {
		e.newCipher(e.cfg.Key).XORKeyStream(pdu, pdu)
	}

	e.ev.Debug("tx_unit", event.Fields{"sn": sn, "sdu_size": len(sdu), "pdu_size": len(pdu)})
	return pdu, nil
}

// ReceiveUnit inverts ciphering and compression, parses the SN and hands the
// SDU to the upper layer. Malformed units are reported and dropped.
func (e *Entity) ReceiveUnit(pdu []byte) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	if e.upper == nil {
		e.mu.Unlock()
		e.ev.Warn("missing_collaborator", event.Fields{"size": len(pdu)})
		return ErrMissingCollaborator
	}

	data := pdu
	if e.cfg.Ciphering {
		plain, err := e.alloc.Alloc(len(pdu))
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to allocate deciphered unit: %w", err)
		}
		e.newCipher(e.cfg.Key).XORKeyStream(plain, pdu)
		data = plain
	}
	if e.cfg.Compression {
		data, _ = e.compressor.Decompress(data)
	}

	if len(data) < HeaderSize {
		e.mu.Unlock()
		e.ev.Warn("malformed_unit", event.Fields{"size": len(pdu), "remaining": len(data)})
		return fmt.Errorf("%w: %d bytes after inversion", ErrMalformedUnit, len(data))
	}

	sn := ParseSN(data)
	sdu, err := buffer.Clone(e.alloc, data[HeaderSize:])
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to allocate SDU: %w", err)
	}
	e.rxNext = uint32(sn) + 1
	upper := e.upper
	e.mu.Unlock()

	e.ev.Debug("rx_unit", event.Fields{"sn": sn, "sdu_size": len(sdu)})
	upper.DeliverSDU(sdu)
	return nil
}
