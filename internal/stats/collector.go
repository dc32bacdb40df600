package stats

import (
	"sort"
	"sync"
	"time"

	"l2sim/internal/event"
	"l2sim/pkg/types"
)

// MaxLatencySamples is how many recent latencies are kept for the percentile.
const MaxLatencySamples = 4096

// LayerStats holds per-layer event counts.
type LayerStats struct {
	Events   map[string]uint64
	Warnings uint64
	Errors   uint64
}

// Collector aggregates stack events and cycle outcomes. It is an event.Sink.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	Layers map[string]*LayerStats

	Cycles         uint64
	Delivered      uint64
	Lost           uint64
	Corrupted      uint64
	BytesSent      uint64
	BytesDelivered uint64

	// Latencies is a ring of the most recent MaxLatencySamples delivered-SDU
	// latencies. Min, max and average cover every delivered SDU.
	Latencies []time.Duration
	latNext   int
	latMin    time.Duration
	latMax    time.Duration
	latTotal  time.Duration

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime: time.Now(),
		Layers:    make(map[string]*LayerStats),
	}
}

func (c *Collector) getOrCreate(layer string) *LayerStats {
	if _, ok := c.Layers[layer]; !ok {
		c.Layers[layer] = &LayerStats{Events: make(map[string]uint64)}
	}
	return c.Layers[layer]
}

// Emit counts an event by layer and kind.
func (c *Collector) Emit(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.getOrCreate(e.Layer)
	ls.Events[e.Kind]++
	switch e.Level {
	case event.Warn:
		ls.Warnings++
	case event.Error:
		ls.Errors++
	}
}

// RecordCycle records the outcome of sending sent through the stack.
func (c *Collector) RecordCycle(r types.CycleResult, sent []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cycles++
	c.BytesSent += uint64(len(sent))
	switch {
	case r.Delivered == nil:
		c.Lost++
	case !r.Intact(sent):
		c.Corrupted++
	default:
		c.Delivered++
		c.BytesDelivered += uint64(len(r.Delivered))
		c.recordLatency(r.Latency)
	}
}

// recordLatency is called with c.mu held after Delivered was incremented.
func (c *Collector) recordLatency(d time.Duration) {
	if c.Delivered == 1 || d < c.latMin {
		c.latMin = d
	}
	if d > c.latMax {
		c.latMax = d
	}
	c.latTotal += d

	if len(c.Latencies) < MaxLatencySamples {
		c.Latencies = append(c.Latencies, d)
		return
	}
	c.Latencies[c.latNext] = d
	c.latNext = (c.latNext + 1) % MaxLatencySamples
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// EventCount returns how many events of kind the layer emitted.
func (c *Collector) EventCount(layer, kind string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ls, ok := c.Layers[layer]; ok {
		return ls.Events[kind]
	}
	return 0
}

// LatencyStats returns min, avg, max, and p99 cycle latency of delivered SDUs.
// The p99 is taken over the most recent MaxLatencySamples deliveries.
func (c *Collector) LatencyStats() (min, avg, max, p99 time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Delivered == 0 || len(c.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	min = c.latMin
	max = c.latMax
	avg = c.latTotal / time.Duration(c.Delivered)

	sorted := make([]time.Duration, len(c.Latencies))
	copy(sorted, c.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}
	p99 = sorted[p99Idx]

	return
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:      c.StartTime,
		EndTime:        c.EndTime,
		Layers:         make(map[string]*LayerStats, len(c.Layers)),
		Cycles:         c.Cycles,
		Delivered:      c.Delivered,
		Lost:           c.Lost,
		Corrupted:      c.Corrupted,
		BytesSent:      c.BytesSent,
		BytesDelivered: c.BytesDelivered,
		Latencies:      make([]time.Duration, len(c.Latencies)),
		latNext:        c.latNext,
		latMin:         c.latMin,
		latMax:         c.latMax,
		latTotal:       c.latTotal,
	}
	copy(snap.Latencies, c.Latencies)

	for name, ls := range c.Layers {
		cp := &LayerStats{
			Events:   make(map[string]uint64, len(ls.Events)),
			Warnings: ls.Warnings,
			Errors:   ls.Errors,
		}
		for k, v := range ls.Events {
			cp.Events[k] = v
		}
		snap.Layers[name] = cp
	}

	return snap
}
