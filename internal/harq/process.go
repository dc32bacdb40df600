// Package harq implements per-process hybrid ARQ state: new transmission vs.
// retransmission decisions, soft combining and feedback handling.
package harq

import (
	"fmt"
	"sync"

	"l2sim/internal/buffer"
	"l2sim/internal/event"
)

// State is the state of a HARQ process.
type State int

const (
	Idle State = iota
	WaitingForAck
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingForAck:
		return "WaitingForAck"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Initial values set by StartUplinkTransmission.
const (
	NewDataIndicator uint8 = 1
	InitialRV        uint8 = 0
)

// Buffers holds the retained transport block and its soft-combining buffer.
// They are created and released together; a process either owns both or neither.
type Buffers struct {
	TB   []byte
	Soft []byte
}

func newBuffers(a buffer.Allocator, data []byte) (*Buffers, error) {
	tb, err := buffer.Clone(a, data)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate transport block: %w", err)
	}
	soft, err := buffer.Clone(a, data)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate soft buffer: %w", err)
	}
	return &Buffers{TB: tb, Soft: soft}, nil
}

// Snapshot is a copy of process state handed to hooks. TB is the retained
// transport block; it is never modified after creation and must not be
// modified by the receiver.
type Snapshot struct {
	ID    int
	State State
	NDI   uint8
	RV    uint8
	Retx  int
	TB    []byte
}

// PHY is the lower-layer transmit hook.
type PHY interface {
	TransmitDownlink(s Snapshot)
	TransmitUplink(s Snapshot)
}

// Deliverer receives transport blocks acknowledged on the downlink.
type Deliverer interface {
	DeliverTB(pid int, tb []byte)
}

// DelivererFunc adapts a function to a Deliverer.
type DelivererFunc func(pid int, tb []byte)

func (f DelivererFunc) DeliverTB(pid int, tb []byte) { f(pid, tb) }

// Tracker is told when an uplink process starts and stops waiting for feedback.
type Tracker interface {
	Track(p *Process)
	Cancel(pid int)
}

// Process is one HARQ process. Hooks are always invoked without the process
// lock held, except the Combiner which works on the soft buffer in place.
type Process struct {
	mu    sync.Mutex
	id    int
	state State
	ndi   uint8
	rv    uint8
	buf   *Buffers
	retx  int

	maxRetx  int
	phy      PHY
	combiner Combiner
	deliver  Deliverer
	tracker  Tracker
	alloc    buffer.Allocator
	ev       event.Emitter
}

// Option configures a Process.
type Option func(*Process)

func WithPHY(phy PHY) Option { return func(p *Process) { p.phy = phy } }

func WithCombiner(c Combiner) Option { return func(p *Process) { p.combiner = c } }

func WithDeliverer(d Deliverer) Option { return func(p *Process) { p.deliver = d } }

func WithTracker(t Tracker) Option { return func(p *Process) { p.tracker = t } }

func WithAllocator(a buffer.Allocator) Option { return func(p *Process) { p.alloc = a } }

func WithSink(s event.Sink) Option {
	return func(p *Process) { p.ev = event.NewEmitter(event.LayerHARQ, s) }
}

// WithMaxRetransmissions flushes an uplink process once n retransmissions
// have been NACKed. Zero means no limit.
func WithMaxRetransmissions(n int) Option { return func(p *Process) { p.maxRetx = n } }

// NewProcess creates an initialised process.
func NewProcess(id int, opts ...Option) *Process {
	p := &Process{
		combiner: AverageCombiner{},
		alloc:    buffer.Default,
		ev:       event.NewEmitter(event.LayerHARQ, nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Init(id)
	return p
}

// Init resets the process to Idle with zero counters and no buffers.
func (p *Process) Init(id int) {
	p.mu.Lock()
	p.id = id
	p.state = Idle
	p.ndi = 0
	p.rv = 0
	p.retx = 0
	p.buf = nil
	tracker := p.tracker
	p.mu.Unlock()

	if tracker != nil {
		tracker.Cancel(id)
	}
}

// ID returns the process id.
func (p *Process) ID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// State returns the current state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Buffers returns copies of the owned buffers, or nil when none are held.
func (p *Process) Buffers() *Buffers {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil {
		return nil
	}
	return &Buffers{
		TB:   append([]byte(nil), p.buf.TB...),
		Soft: append([]byte(nil), p.buf.Soft...),
	}
}

// Snapshot returns the current state.
func (p *Process) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Process) snapshot() Snapshot {
	s := Snapshot{ID: p.id, State: p.state, NDI: p.ndi, RV: p.rv, Retx: p.retx}
	if p.buf != nil {
		s.TB = p.buf.TB
	}
	return s
}

// HandleDownlinkAssignment processes a received transport block. A block on an
// Idle process or with a toggled NDI starts a new transmission; otherwise it
// is soft-combined into the existing buffer as a retransmission.
func (p *Process) HandleDownlinkAssignment(ndi, rv uint8, data []byte) error {
	p.mu.Lock()
	if p.state == Idle || p.ndi != ndi {
		buf, err := newBuffers(p.alloc, data)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.buf = buf
		p.ndi = ndi
		p.rv = rv
		p.retx = 0
		p.state = WaitingForAck
		id := p.id
		p.mu.Unlock()

		p.ev.Debug("dl_new_transmission", event.Fields{"process": id, "ndi": ndi, "rv": rv, "size": len(data)})
		return nil
	}

	// The combiner is the one hook run under the lock: it mutates the soft buffer.
	p.combiner.Combine(p.buf.Soft, data)
	p.rv = rv
	p.retx++
	id, retx := p.id, p.retx
	p.mu.Unlock()

	p.ev.Debug("dl_retransmission", event.Fields{"process": id, "rv": rv, "retx": retx})
	return nil
}

// ProcessDownlinkFeedback applies the decode outcome. ACK delivers the
// transport block and releases the buffers; NACK asks the PHY to retransmit.
func (p *Process) ProcessDownlinkFeedback(ack bool) {
	p.mu.Lock()
	if p.state != WaitingForAck {
		id := p.id
		p.mu.Unlock()
		p.ev.Warn("feedback_ignored", event.Fields{"process": id, "direction": "downlink", "ack": ack})
		return
	}

	if ack {
		tb := p.buf.TB
		id := p.id
		p.state = Idle
		p.buf = nil
		deliver := p.deliver
		p.mu.Unlock()

		p.ev.Debug("dl_ack", event.Fields{"process": id, "size": len(tb)})
		if deliver != nil {
			deliver.DeliverTB(id, tb)
		}
		return
	}

	s := p.snapshot()
	phy := p.phy
	p.mu.Unlock()

	p.ev.Debug("dl_nack", event.Fields{"process": s.ID, "rv": s.RV, "retx": s.Retx})
	if phy != nil {
		phy.TransmitDownlink(s)
	}
}

// StartUplinkTransmission stores pdu and hands it to the PHY.
func (p *Process) StartUplinkTransmission(pdu []byte) error {
	p.mu.Lock()
	buf, err := newBuffers(p.alloc, pdu)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.buf = buf
	p.ndi = NewDataIndicator
	p.rv = InitialRV
	p.retx = 0
	p.state = WaitingForAck
	s := p.snapshot()
	phy, tracker := p.phy, p.tracker
	p.mu.Unlock()

	p.ev.Debug("ul_new_transmission", event.Fields{"process": s.ID, "size": len(pdu)})
	if tracker != nil {
		tracker.Track(p)
	}
	if phy != nil {
		phy.TransmitUplink(s)
	}
	return nil
}

// ProcessUplinkFeedback applies feedback for an uplink transmission. ACK
// releases the buffers; NACK retransmits the stored block.
func (p *Process) ProcessUplinkFeedback(ack bool) {
	p.mu.Lock()
	if p.state != WaitingForAck {
		id := p.id
		p.mu.Unlock()
		p.ev.Warn("feedback_ignored", event.Fields{"process": id, "direction": "uplink", "ack": ack})
		return
	}

	if ack {
		id := p.id
		p.state = Idle
		p.buf = nil
		tracker := p.tracker
		p.mu.Unlock()

		p.ev.Debug("ul_ack", event.Fields{"process": id})
		if tracker != nil {
			tracker.Cancel(id)
		}
		return
	}

	if p.maxRetx > 0 && p.retx >= p.maxRetx {
		id, retx := p.id, p.retx
		p.state = Idle
		p.buf = nil
		tracker := p.tracker
		p.mu.Unlock()

		p.ev.Warn("max_retransmissions", event.Fields{"process": id, "retx": retx})
		if tracker != nil {
			tracker.Cancel(id)
		}
		return
	}

	p.retx++
	s := p.snapshot()
	phy := p.phy
	p.mu.Unlock()

	p.ev.Debug("ul_retransmission", event.Fields{"process": s.ID, "retx": s.Retx})
	if phy != nil {
		phy.TransmitUplink(s)
	}
}

// Flush drops any transmission in progress and returns the process to Idle.
func (p *Process) Flush() {
	p.mu.Lock()
	id := p.id
	busy := p.state != Idle
	p.state = Idle
	p.buf = nil
	tracker := p.tracker
	p.mu.Unlock()

	if busy {
		p.ev.Info("flushed", event.Fields{"process": id})
	}
	if tracker != nil {
		tracker.Cancel(id)
	}
}
