package harq

import (
	"context"
	"sync"
	"time"

	"l2sim/internal/event"
)

type pendingTx struct {
	proc    *Process
	sentAt  time.Time
	retries int
}

// RetxTimer retransmits uplink blocks whose feedback does not arrive in time.
// An expired wait is treated as a NACK until maxRetries is reached, then the
// process is flushed.
type RetxTimer struct {
	pending    map[int]*pendingTx
	mu         sync.Mutex
	timeout    time.Duration
	maxRetries int
	ev         event.Emitter
	now        func() time.Time
}

// NewRetxTimer creates a timer. It does nothing until StartMonitor is called.
func NewRetxTimer(timeout time.Duration, maxRetries int, sink event.Sink) *RetxTimer {
	return &RetxTimer{
		pending:    make(map[int]*pendingTx),
		timeout:    timeout,
		maxRetries: maxRetries,
		ev:         event.NewEmitter(event.LayerHARQ, sink),
		now:        time.Now,
	}
}

// Track starts (or restarts) the wait for p.
func (t *RetxTimer) Track(p *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[p.ID()] = &pendingTx{proc: p, sentAt: t.now()}
}

// Cancel stops waiting for the process.
func (t *RetxTimer) Cancel(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, pid)
}

// PendingCount returns the number of processes being timed.
func (t *RetxTimer) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// StartMonitor checks for expired waits until ctx is done.
func (t *RetxTimer) StartMonitor(ctx context.Context, interval time.Duration) {
	if t.timeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = t.timeout / 4
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.CheckTimeouts()
			}
		}
	}()
}

// CheckTimeouts handles every wait older than the timeout.
func (t *RetxTimer) CheckTimeouts() {
	t.mu.Lock()
	var expired []int
	now := t.now()
	for pid, tx := range t.pending {
		if now.Sub(tx.sentAt) > t.timeout {
			expired = append(expired, pid)
		}
	}
	t.mu.Unlock()

	for _, pid := range expired {
		t.handleTimeout(pid)
	}
}

func (t *RetxTimer) handleTimeout(pid int) {
	t.mu.Lock()
	// Feedback may have arrived between the scan and now.
	tx, ok := t.pending[pid]
	if !ok {
		t.mu.Unlock()
		return
	}

	if tx.retries < t.maxRetries {
		tx.retries++
		tx.sentAt = t.now()
		attempt := tx.retries
		t.mu.Unlock()

		t.ev.Warn("feedback_timeout", event.Fields{"process": pid, "attempt": attempt, "max": t.maxRetries})
		tx.proc.ProcessUplinkFeedback(false)
		return
	}

	delete(t.pending, pid)
	t.mu.Unlock()

	t.ev.Error("feedback_timeout_exhausted", event.Fields{"process": pid, "retries": t.maxRetries})
	tx.proc.Flush()
}
