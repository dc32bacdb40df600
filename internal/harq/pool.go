package harq

import (
	"errors"
	"fmt"
	"sync"
)

// MaxProcesses is the largest pool a MAC entity may configure.
const MaxProcesses = 16

var (
	ErrUnknownProcess = errors.New("harq: unknown process id")
	ErrNoIdleProcess  = errors.New("harq: no idle process")
)

// Pool is a fixed set of processes indexed by id.
type Pool struct {
	mu    sync.Mutex
	procs []*Process
	next  int
}

// NewPool creates n processes with ids 0..n-1, all built with opts.
func NewPool(n int, opts ...Option) (*Pool, error) {
	if n <= 0 || n > MaxProcesses {
		return nil, fmt.Errorf("harq pool size must be between 1 and %d, got %d", MaxProcesses, n)
	}
	procs := make([]*Process, n)
	for i := range procs {
		procs[i] = NewProcess(i, opts...)
	}
	return &Pool{procs: procs}, nil
}

// Size returns the number of processes.
func (p *Pool) Size() int {
	return len(p.procs)
}

// Process returns the process with the given id.
func (p *Pool) Process(id int) (*Process, error) {
	if id < 0 || id >= len(p.procs) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProcess, id)
	}
	return p.procs[id], nil
}

// Acquire returns the next Idle process in round-robin order.
func (p *Pool) Acquire() (*Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.procs); i++ {
		proc := p.procs[(p.next+i)%len(p.procs)]
		if proc.State() == Idle {
			p.next = (proc.ID() + 1) % len(p.procs)
			return proc, nil
		}
	}
	return nil, ErrNoIdleProcess
}

// Busy returns how many processes are waiting for feedback.
func (p *Pool) Busy() int {
	n := 0
	for _, proc := range p.procs {
		if proc.State() != Idle {
			n++
		}
	}
	return n
}

// Flush returns every process to Idle.
func (p *Pool) Flush() {
	for _, proc := range p.procs {
		proc.Flush()
	}
}
