package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"l2sim/internal/event"
	"l2sim/internal/mac"
	"l2sim/internal/source"
	"l2sim/internal/stats"
	"l2sim/pkg/types"
)

// Sender runs one SDU through the stack and returns what came out the other end.
type Sender interface {
	Send(sdu []byte) ([]byte, error)
}

// Config controls the cycle loop.
type Config struct {
	Interval    time.Duration
	Cycles      int // 0 runs until the context is cancelled
	LCID        uint8
	SRThreshold int
}

// Manager drives send/receive cycles from a payload source through a Sender.
type Manager struct {
	cfg    Config
	link   Sender
	src    source.Source
	stats  *stats.Collector
	mac    event.Emitter
	cycles *CycleCounter
}

// CycleCounter hands out cycle numbers.
type CycleCounter struct {
	current uint64
	mu      sync.Mutex
}

// Next returns the next cycle number, starting at 1.
func (c *CycleCounter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current
}

// Current returns the last number handed out.
func (c *CycleCounter) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewManager creates a new cycle manager. sink receives the buffer status
// events raised before each transmission.
func NewManager(cfg Config, link Sender, src source.Source, collector *stats.Collector, sink event.Sink) (*Manager, error) {
	if link == nil || src == nil {
		return nil, errors.New("session needs a link and a payload source")
	}
	if collector == nil {
		collector = stats.NewCollector()
	}
	return &Manager{
		cfg:    cfg,
		link:   link,
		src:    src,
		stats:  collector,
		mac:    event.NewEmitter(event.LayerMAC, sink),
		cycles: &CycleCounter{},
	}, nil
}

// Cycles returns the number of cycles run so far.
func (m *Manager) Cycles() uint64 {
	return m.cycles.Current()
}

// Run executes cycles until the configured count is reached, the source is
// exhausted or ctx is cancelled. Cancellation is not an error.
func (m *Manager) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if m.cfg.Interval > 0 {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.WithField("cycles", m.cycles.Current()).Info("Cycle loop cancelled")
			return nil
		default:
		}

		if _, err := m.RunCycle(); err != nil {
			if errors.Is(err, source.ErrEmpty) {
				log.Warn("Payload source is empty, stopping")
				return nil
			}
			return err
		}

		if m.cfg.Cycles > 0 && m.cycles.Current() >= uint64(m.cfg.Cycles) {
			log.WithField("cycles", m.cycles.Current()).Info("Configured cycle count reached")
			return nil
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				log.WithField("cycles", m.cycles.Current()).Info("Cycle loop cancelled")
				return nil
			case <-tick:
			}
		}
	}
}

// RunCycle pulls one payload, sends it and records the outcome. Only a
// source failure is returned; link failures are part of the result.
func (m *Manager) RunCycle() (types.CycleResult, error) {
	payload, err := m.src.Next()
	if err != nil {
		return types.CycleResult{}, fmt.Errorf("failed to get next payload: %w", err)
	}
	defer m.src.Done(payload)

	n := m.cycles.Next()
	m.reportBuffer(payload.Data)

	start := time.Now()
	delivered, err := m.link.Send(payload.Data)
	result := types.CycleResult{
		Cycle:     n,
		Sent:      len(payload.Data),
		Delivered: delivered,
		Latency:   time.Since(start),
		Error:     err,
	}
	m.stats.RecordCycle(result, payload.Data)

	entry := log.WithFields(log.Fields{
		"cycle":   n,
		"size":    len(payload.Data),
		"src":     payload.SrcIP,
		"dst":     payload.DstIP,
		"latency": result.Latency,
	})
	switch {
	case delivered == nil:
		entry.WithError(err).Warn("SDU lost")
	case !result.Intact(payload.Data):
		entry.WithError(err).Error("Delivered SDU differs from sent SDU")
	default:
		entry.Debug("SDU delivered intact")
	}
	return result, nil
}

// reportBuffer raises a scheduling request when the pending payload exceeds
// the threshold and always reports the buffer status.
func (m *Manager) reportBuffer(data []byte) {
	channels := []mac.LogicalChannel{{ID: m.cfg.LCID, Type: mac.DTCH, Buffer: data}}
	if ids := mac.SchedulingRequest(channels, m.cfg.SRThreshold); len(ids) > 0 {
		m.mac.Debug("scheduling_request", event.Fields{"lcids": ids})
	}
	for _, bs := range mac.BufferStatusReport(channels) {
		m.mac.Debug("buffer_status", event.Fields{"lcid": bs.LCID, "size": bs.Size})
	}
}
