// Package link composes one PDCP entity, a transmit and a receive RLC entity,
// a MAC entity and the PHY loopback into a single send/receive path.
package link

import (
	"errors"
	"fmt"
	"sync"

	"l2sim/internal/buffer"
	"l2sim/internal/event"
	"l2sim/internal/harq"
	"l2sim/internal/mac"
	"l2sim/internal/pdcp"
	"l2sim/internal/phy"
	"l2sim/internal/rlc"
)

var (
	ErrNotDelivered = errors.New("link: sdu was not delivered")
	ErrReleased     = errors.New("link: released")
)

// Config configures every layer of the link.
type Config struct {
	PDCP        pdcp.Config
	RLC         rlc.Config
	MAC         mac.Config
	LCID        uint8
	NackFirst   int
	MaxAttempts int
}

// DefaultConfig returns an unacknowledged-mode link on channel 4 with a clean radio.
func DefaultConfig() Config {
	return Config{
		PDCP:        pdcp.DefaultConfig(),
		RLC:         rlc.Config{Mode: rlc.UnacknowledgedMode, SegmentSize: rlc.DefaultSegmentSize},
		MAC:         mac.DefaultConfig(),
		LCID:        4,
		MaxAttempts: phy.DefaultMaxAttempts,
	}
}

type options struct {
	alloc   buffer.Allocator
	tap     phy.Tap
	tracker harq.Tracker
	nack    phy.NackPattern
}

// Option configures a Link.
type Option func(*options)

func WithAllocator(a buffer.Allocator) Option { return func(o *options) { o.alloc = a } }

// WithTap observes every transport block on the simulated air interface.
func WithTap(t phy.Tap) Option { return func(o *options) { o.tap = t } }

// WithTracker attaches an uplink feedback tracker such as harq.RetxTimer.
func WithTracker(t harq.Tracker) Option { return func(o *options) { o.tracker = t } }

// WithNackPattern overrides Config.NackFirst.
func WithNackPattern(p phy.NackPattern) Option { return func(o *options) { o.nack = p } }

// Link runs SDUs through the whole stack. Send calls are serialised.
type Link struct {
	mu       sync.Mutex
	released bool

	pdcp  *pdcp.Entity
	rlcTx *rlc.Entity
	rlcRx *rlc.Entity
	mac   *mac.Entity
	phy   *phy.Loopback
	lcid  uint8
	ev    event.Emitter

	// Per-cycle state, only touched from within Send.
	delivered [][]byte
	errs      []error
}

// New builds and wires the layers.
func New(cfg Config, sink event.Sink, opts ...Option) (*Link, error) {
	o := options{alloc: buffer.Default, nack: phy.NackFirst(cfg.NackFirst)}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Link{lcid: cfg.LCID, ev: event.NewEmitter(event.LayerLink, sink)}

	l.pdcp = pdcp.NewEntity(pdcp.DelivererFunc(l.deliverSDU),
		pdcp.WithAllocator(o.alloc), pdcp.WithSink(sink))
	if err := l.pdcp.Configure(cfg.PDCP); err != nil {
		return nil, fmt.Errorf("failed to configure pdcp: %w", err)
	}

	phyOpts := []phy.Option{
		phy.WithNackPattern(o.nack),
		phy.WithMaxAttempts(cfg.MaxAttempts),
		phy.WithSink(sink),
	}
	if o.tap != nil {
		phyOpts = append(phyOpts, phy.WithTap(o.tap))
	}
	l.phy = phy.NewLoopback(phyOpts...)

	macOpts := []mac.Option{mac.WithAllocator(o.alloc), mac.WithSink(sink)}
	if o.tracker != nil {
		macOpts = append(macOpts, mac.WithTracker(o.tracker))
	}
	var err error
	if l.mac, err = mac.NewEntity(cfg.MAC, l.phy, macOpts...); err != nil {
		return nil, err
	}
	l.phy.Attach(l.mac)

	rlcOpts := []rlc.Option{rlc.WithAllocator(o.alloc), rlc.WithSink(sink)}
	if l.rlcTx, err = rlc.NewEntity(cfg.RLC, rlc.LowerFunc(l.transmitPDU), nil, rlcOpts...); err != nil {
		return nil, fmt.Errorf("failed to create transmit rlc entity: %w", err)
	}
	if l.rlcRx, err = rlc.NewEntity(cfg.RLC, nil, rlc.UpperFunc(l.receivePDU), rlcOpts...); err != nil {
		return nil, fmt.Errorf("failed to create receive rlc entity: %w", err)
	}
	l.mac.Register(l.lcid, l.rlcRx)

	l.ev.Info("established", event.Fields{"mode": cfg.RLC.Mode.String(), "lcid": cfg.LCID, "processes": cfg.MAC.Processes})
	return l, nil
}

// MAC returns the MAC entity.
func (l *Link) MAC() *mac.Entity { return l.mac }

// PDCP returns the PDCP entity.
func (l *Link) PDCP() *pdcp.Entity { return l.pdcp }

// Send runs sdu down the transmit path and up the receive path and returns
// the SDU delivered at the top, or ErrNotDelivered if nothing arrived.
func (l *Link) Send(sdu []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, ErrReleased
	}
	l.delivered = nil
	l.errs = nil

	pdu, err := l.pdcp.PrepareTransmitUnit(sdu)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare pdcp unit: %w", err)
	}
	if err := l.rlcTx.Transmit(pdu); err != nil {
		return nil, fmt.Errorf("failed to transmit rlc sdu: %w", err)
	}
	if err := l.phy.Drain(); err != nil {
		l.errs = append(l.errs, err)
	}

	if len(l.delivered) == 0 {
		err := errors.Join(append([]error{ErrNotDelivered}, l.errs...)...)
		l.ev.Warn("sdu_lost", event.Fields{"size": len(sdu), "error": err.Error()})
		return nil, err
	}
	if len(l.delivered) > 1 {
		l.ev.Warn("multiple_deliveries", event.Fields{"count": len(l.delivered)})
	}
	l.ev.Debug("sdu_delivered", event.Fields{"size": len(sdu)})
	return l.delivered[0], errors.Join(l.errs...)
}

// Reestablish resets every entity and flushes all HARQ processes.
func (l *Link) Reestablish() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrReleased
	}
	l.mac.Flush()
	if err := l.phy.Drain(); err != nil {
		l.ev.Warn("drain_failed", event.Fields{"error": err.Error()})
	}
	return errors.Join(l.pdcp.Reestablish(), l.rlcTx.Reestablish(), l.rlcRx.Reestablish())
}

// Release ends the link. Later calls return ErrReleased.
func (l *Link) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrReleased
	}
	l.released = true
	l.mac.Flush()
	l.mac.Unregister(l.lcid)
	l.ev.Info("released", nil)
	return errors.Join(l.pdcp.Release(), l.rlcTx.Release(), l.rlcRx.Release())
}

func (l *Link) transmitPDU(pdu []byte) {
	if _, err := l.mac.ULSCHDataTransfer(l.lcid, pdu); err != nil {
		l.errs = append(l.errs, err)
		return
	}
	// Each unit completes its round trip before the next is multiplexed, so a
	// segmented SDU never needs more than one uplink process.
	if err := l.phy.Drain(); err != nil {
		l.errs = append(l.errs, err)
	}
}

func (l *Link) receivePDU(pdu []byte) {
	if err := l.pdcp.ReceiveUnit(pdu); err != nil {
		l.errs = append(l.errs, err)
	}
}

func (l *Link) deliverSDU(sdu []byte) {
	l.delivered = append(l.delivered, sdu)
}
