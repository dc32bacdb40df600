// Package phy simulates the radio link by looping every uplink transport
// block back as a downlink assignment on the same HARQ process id.
package phy

import (
	"errors"
	"fmt"
	"sync"

	"l2sim/internal/event"
	"l2sim/internal/harq"
	"l2sim/pkg/types"
)

// DefaultMaxAttempts bounds the decode attempts for one transport block.
const DefaultMaxAttempts = 4

// ErrNotAttached is returned by Drain when no MAC has been attached.
var ErrNotAttached = errors.New("phy: no mac attached")

// MAC is the part of the MAC entity the loopback drives.
type MAC interface {
	DLSCHDataTransfer(pid int, ndi, rv uint8, tb []byte) error
	DownlinkFeedback(pid int, ack bool) error
	UplinkFeedback(pid int, ack bool) error
	FlushProcess(dir types.Direction, pid int) error
	UplinkSnapshot(pid int) (harq.Snapshot, error)
}

// NackPattern decides whether the attempt-th decode (starting at 1) of a
// transport block on process pid fails.
type NackPattern func(pid, attempt int) bool

// NackFirst fails the first n decode attempts of every transport block.
func NackFirst(n int) NackPattern {
	return func(_, attempt int) bool { return attempt <= n }
}

// Tap observes every transport block put on the air.
type Tap func(dir types.Direction, pid int, tb []byte)

type job func() error

// Loopback implements harq.PHY. Its hooks only queue work; Drain runs it.
type Loopback struct {
	mu       sync.Mutex
	queue    []job
	attempts map[int]int
	ndi      map[int]uint8

	mac         MAC
	nack        NackPattern
	maxAttempts int
	tap         Tap
	ev          event.Emitter
}

// Option configures a Loopback.
type Option func(*Loopback)

func WithNackPattern(p NackPattern) Option { return func(l *Loopback) { l.nack = p } }

// WithMaxAttempts sets how many decode attempts a block gets before both
// processes carrying it are flushed.
func WithMaxAttempts(n int) Option { return func(l *Loopback) { l.maxAttempts = n } }

func WithTap(t Tap) Option { return func(l *Loopback) { l.tap = t } }

func WithSink(s event.Sink) Option {
	return func(l *Loopback) { l.ev = event.NewEmitter(event.LayerPHY, s) }
}

// NewLoopback creates a loopback that acknowledges every first attempt
// unless a NackPattern says otherwise.
func NewLoopback(opts ...Option) *Loopback {
	l := &Loopback{
		attempts:    make(map[int]int),
		ndi:         make(map[int]uint8),
		nack:        NackFirst(0),
		maxAttempts: DefaultMaxAttempts,
		ev:          event.NewEmitter(event.LayerPHY, nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = DefaultMaxAttempts
	}
	return l
}

// Attach sets the MAC entity fed by the loopback.
func (l *Loopback) Attach(mac MAC) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mac = mac
}

// Pending returns the number of queued jobs.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loopback) enqueue(j job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, j)
}

func (l *Loopback) pop() job {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	j := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return j
}

// TransmitUplink queues delivery of an uplink block on the downlink.
// A first transmission toggles the downlink NDI for the process. A block whose
// uplink process has since been acknowledged, flushed or retransmitted again
// is dropped when its turn comes.
func (l *Loopback) TransmitUplink(s harq.Snapshot) {
	l.enqueue(func() error {
		l.mu.Lock()
		mac := l.mac
		l.mu.Unlock()
		if mac == nil {
			return ErrNotAttached
		}
		cur, err := mac.UplinkSnapshot(s.ID)
		if err != nil {
			return err
		}
		if cur.State != harq.WaitingForAck || cur.Retx != s.Retx || !sameBlock(cur.TB, s.TB) {
			l.ev.Debug("ul_stale_dropped", event.Fields{"process": s.ID, "retx": s.Retx, "current_retx": cur.Retx, "state": cur.State.String()})
			return nil
		}

		l.mu.Lock()
		if s.Retx == 0 {
			l.ndi[s.ID] ^= 1
		}
		ndi := l.ndi[s.ID]
		l.attempts[s.ID] = 0
		l.mu.Unlock()

		l.ev.Debug("ul_on_air", event.Fields{"process": s.ID, "retx": s.Retx, "size": len(s.TB)})
		l.observe(types.Uplink, s.ID, s.TB)
		return l.assign(s.ID, ndi, s.RV, s.TB)
	})
}

// TransmitDownlink queues a downlink retransmission with the next redundancy version.
func (l *Loopback) TransmitDownlink(s harq.Snapshot) {
	l.enqueue(func() error {
		rv := (s.RV + 1) % 4
		l.ev.Debug("dl_retransmit", event.Fields{"process": s.ID, "rv": rv, "retx": s.Retx})
		return l.assign(s.ID, s.NDI, rv, s.TB)
	})
}

func (l *Loopback) assign(pid int, ndi, rv uint8, tb []byte) error {
	l.mu.Lock()
	mac := l.mac
	l.attempts[pid]++
	attempt := l.attempts[pid]
	l.mu.Unlock()
	if mac == nil {
		return ErrNotAttached
	}

	l.observe(types.Downlink, pid, tb)
	if err := mac.DLSCHDataTransfer(pid, ndi, rv, tb); err != nil {
		return fmt.Errorf("failed to deliver downlink block on process %d: %w", pid, err)
	}

	if l.nack(pid, attempt) {
		if attempt >= l.maxAttempts {
			l.ev.Warn("max_attempts", event.Fields{"process": pid, "attempts": attempt})
			if err := mac.FlushProcess(types.Downlink, pid); err != nil {
				return err
			}
			return mac.FlushProcess(types.Uplink, pid)
		}
		l.ev.Debug("decode_failed", event.Fields{"process": pid, "attempt": attempt})
		return mac.DownlinkFeedback(pid, false)
	}

	l.ev.Debug("decode_ok", event.Fields{"process": pid, "attempt": attempt})
	if err := mac.DownlinkFeedback(pid, true); err != nil {
		return err
	}
	return mac.UplinkFeedback(pid, true)
}

// sameBlock reports whether a and b are the same retained transport block.
// A new transmission on a process always allocates a new block.
func sameBlock(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return len(a) == len(b) && &a[0] == &b[0]
}

func (l *Loopback) observe(dir types.Direction, pid int, tb []byte) {
	if l.tap != nil {
		l.tap(dir, pid, tb)
	}
}

// Drain runs queued jobs, including those queued while draining, until the
// queue is empty. Every job runs; their errors are joined.
func (l *Loopback) Drain() error {
	var errs []error
	for {
		j := l.pop()
		if j == nil {
			break
		}
		if err := j(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
