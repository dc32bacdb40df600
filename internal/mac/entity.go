// Package mac maps logical channels onto transport channels, multiplexes
// them into MAC PDUs and drives the uplink and downlink HARQ process pools.
package mac

import (
	"errors"
	"fmt"
	"sync"

	"l2sim/internal/buffer"
	"l2sim/internal/event"
	"l2sim/internal/harq"
	"l2sim/pkg/types"
)

var ErrMissingCollaborator = errors.New("mac: no receiver for logical channel")

// Receiver consumes the data of one logical channel on the downlink.
// *rlc.Entity satisfies it.
type Receiver interface {
	Receive(pdu []byte) error
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(pdu []byte) error

func (f ReceiverFunc) Receive(pdu []byte) error { return f(pdu) }

// Config sizes the HARQ pools.
type Config struct {
	Processes          int
	MaxRetransmissions int
}

// DefaultConfig returns an eight-process configuration without a retransmission limit.
func DefaultConfig() Config {
	return Config{Processes: 8}
}

// Entity owns one uplink and one downlink HARQ pool and routes acknowledged
// downlink transport blocks to the registered receivers.
type Entity struct {
	mu        sync.Mutex
	receivers map[uint8]Receiver

	ul *harq.Pool
	dl *harq.Pool
	ev event.Emitter
}

type options struct {
	alloc   buffer.Allocator
	sink    event.Sink
	tracker harq.Tracker
	comb    harq.Combiner
}

// Option configures an Entity.
type Option func(*options)

func WithAllocator(a buffer.Allocator) Option { return func(o *options) { o.alloc = a } }

func WithSink(s event.Sink) Option { return func(o *options) { o.sink = s } }

// WithTracker attaches a feedback tracker to the uplink processes.
func WithTracker(t harq.Tracker) Option { return func(o *options) { o.tracker = t } }

// WithCombiner replaces the downlink soft combiner.
func WithCombiner(c harq.Combiner) Option { return func(o *options) { o.comb = c } }

// NewEntity creates both pools, wiring phy as their transmit hook.
func NewEntity(cfg Config, phy harq.PHY, opts ...Option) (*Entity, error) {
	o := options{alloc: buffer.Default}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Entity{
		receivers: make(map[uint8]Receiver),
		ev:        event.NewEmitter(event.LayerMAC, o.sink),
	}

	common := []harq.Option{
		harq.WithPHY(phy),
		harq.WithAllocator(o.alloc),
		harq.WithSink(o.sink),
	}
	ulOpts := append(append([]harq.Option{}, common...), harq.WithMaxRetransmissions(cfg.MaxRetransmissions))
	if o.tracker != nil {
		ulOpts = append(ulOpts, harq.WithTracker(o.tracker))
	}
	dlOpts := append(append([]harq.Option{}, common...), harq.WithDeliverer(harq.DelivererFunc(e.deliverTB)))
	if o.comb != nil {
		dlOpts = append(dlOpts, harq.WithCombiner(o.comb))
	}

	var err error
	if e.ul, err = harq.NewPool(cfg.Processes, ulOpts...); err != nil {
		return nil, fmt.Errorf("failed to create uplink harq pool: %w", err)
	}
	if e.dl, err = harq.NewPool(cfg.Processes, dlOpts...); err != nil {
		return nil, fmt.Errorf("failed to create downlink harq pool: %w", err)
	}
	return e, nil
}

// Register routes downlink data for lcid to r, replacing any previous receiver.
func (e *Entity) Register(lcid uint8, r Receiver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receivers[lcid] = r
}

// Unregister removes the receiver for lcid.
func (e *Entity) Unregister(lcid uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.receivers, lcid)
}

func (e *Entity) receiver(lcid uint8) Receiver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receivers[lcid]
}

// Uplink returns the uplink process pool.
func (e *Entity) Uplink() *harq.Pool { return e.ul }

// Downlink returns the downlink process pool.
func (e *Entity) Downlink() *harq.Pool { return e.dl }

// ULSCHDataTransfer multiplexes pdu for lcid into a MAC PDU and starts an
// uplink transmission on the next idle process. It returns the process id.
func (e *Entity) ULSCHDataTransfer(lcid uint8, pdu []byte) (int, error) {
	macPDU, err := Multiplex([]LogicalChannel{{ID: lcid, Type: DTCH, Buffer: pdu}})
	if err != nil {
		return -1, err
	}
	if macPDU == nil {
		return -1, fmt.Errorf("%w: empty pdu for channel %d", ErrMalformedPDU, lcid)
	}

	proc, err := e.ul.Acquire()
	if err != nil {
		e.ev.Warn("ul_no_process", event.Fields{"lcid": lcid, "busy": e.ul.Busy()})
		return -1, err
	}
	e.ev.Debug("ul_sch_transfer", event.Fields{"lcid": lcid, "process": proc.ID(), "size": len(macPDU)})
	if err := proc.StartUplinkTransmission(macPDU); err != nil {
		return -1, fmt.Errorf("failed to start uplink transmission: %w", err)
	}
	return proc.ID(), nil
}

// DLSCHDataTransfer hands a received transport block to downlink process pid.
func (e *Entity) DLSCHDataTransfer(pid int, ndi, rv uint8, tb []byte) error {
	proc, err := e.dl.Process(pid)
	if err != nil {
		return err
	}
	e.ev.Debug("dl_sch_transfer", event.Fields{"process": pid, "ndi": ndi, "rv": rv, "size": len(tb)})
	return proc.HandleDownlinkAssignment(ndi, rv, tb)
}

// DownlinkFeedback applies the decode outcome to downlink process pid.
func (e *Entity) DownlinkFeedback(pid int, ack bool) error {
	proc, err := e.dl.Process(pid)
	if err != nil {
		return err
	}
	proc.ProcessDownlinkFeedback(ack)
	return nil
}

// UplinkFeedback applies received feedback to uplink process pid.
func (e *Entity) UplinkFeedback(pid int, ack bool) error {
	proc, err := e.ul.Process(pid)
	if err != nil {
		return err
	}
	proc.ProcessUplinkFeedback(ack)
	return nil
}

// UplinkSnapshot returns the current state of uplink process pid.
func (e *Entity) UplinkSnapshot(pid int) (harq.Snapshot, error) {
	proc, err := e.ul.Process(pid)
	if err != nil {
		return harq.Snapshot{}, err
	}
	return proc.Snapshot(), nil
}

// FlushProcess returns one process of the given direction to Idle.
func (e *Entity) FlushProcess(dir types.Direction, pid int) error {
	pool := e.ul
	if dir == types.Downlink {
		pool = e.dl
	}
	proc, err := pool.Process(pid)
	if err != nil {
		return err
	}
	proc.Flush()
	return nil
}

// Flush returns every process in both pools to Idle.
func (e *Entity) Flush() {
	e.ul.Flush()
	e.dl.Flush()
}

func (e *Entity) deliverTB(pid int, tb []byte) {
	subs, err := Demultiplex(tb)
	if err != nil {
		e.ev.Warn("malformed_pdu", event.Fields{"process": pid, "size": len(tb), "error": err.Error()})
	}
	for _, sub := range subs {
		r := e.receiver(sub.LCID)
		if r == nil {
			e.ev.Error("missing_collaborator", event.Fields{"process": pid, "lcid": sub.LCID, "error": ErrMissingCollaborator.Error()})
			continue
		}
		e.ev.Debug("dl_deliver", event.Fields{"process": pid, "lcid": sub.LCID, "size": len(sub.Data)})
		if err := r.Receive(sub.Data); err != nil {
			e.ev.Warn("receiver_error", event.Fields{"process": pid, "lcid": sub.LCID, "error": err.Error()})
		}
	}
}
