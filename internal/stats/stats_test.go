package stats

import (
	"encoding/json"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"l2sim/internal/event"
	"l2sim/pkg/types"
)

func TestCollector_CountsEvents(t *testing.T) {
	c := NewCollector()
	em := event.NewEmitter(event.LayerHARQ, c)
	em.Debug("dl_ack", nil)
	em.Debug("dl_ack", nil)
	em.Warn("feedback_ignored", nil)
	event.NewEmitter(event.LayerRLC, c).Error("missing_collaborator", nil)

	assert.Equal(t, uint64(2), c.EventCount(event.LayerHARQ, "dl_ack"))
	assert.Equal(t, uint64(1), c.EventCount(event.LayerHARQ, "feedback_ignored"))
	assert.Equal(t, uint64(0), c.EventCount(event.LayerPDCP, "tx_unit"))

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Layers[event.LayerHARQ].Warnings)
	assert.Equal(t, uint64(1), snap.Layers[event.LayerRLC].Errors)
}

func TestCollector_RecordCycle(t *testing.T) {
	c := NewCollector()
	sent := []byte("payload")

	c.RecordCycle(types.CycleResult{Delivered: []byte("payload"), Latency: 2 * time.Millisecond}, sent)
	c.RecordCycle(types.CycleResult{Error: errors.New("lost")}, sent)
	c.RecordCycle(types.CycleResult{Delivered: []byte("paylaod")}, sent)

	snap := c.Snapshot()
	assert.Equal(t, uint64(3), snap.Cycles)
	assert.Equal(t, uint64(1), snap.Delivered)
	assert.Equal(t, uint64(1), snap.Lost)
	assert.Equal(t, uint64(1), snap.Corrupted)
	assert.Equal(t, uint64(21), snap.BytesSent)
	assert.Equal(t, uint64(7), snap.BytesDelivered)
}

func TestCollector_LatencyStats(t *testing.T) {
	c := NewCollector()
	min, avg, max, p99 := c.LatencyStats()
	assert.Zero(t, min+avg+max+p99)

	for _, ms := range []int{3, 1, 2} {
		c.RecordCycle(types.CycleResult{Delivered: []byte{1}, Latency: time.Duration(ms) * time.Millisecond}, []byte{1})
	}
	min, avg, max, p99 = c.LatencyStats()
	assert.Equal(t, time.Millisecond, min)
	assert.Equal(t, 2*time.Millisecond, avg)
	assert.Equal(t, 3*time.Millisecond, max)
	assert.Equal(t, 3*time.Millisecond, p99)
}

func TestCollector_LatencyWindowIsBounded(t *testing.T) {
	c := NewCollector()
	total := MaxLatencySamples + 500
	for i := 1; i <= total; i++ {
		c.RecordCycle(types.CycleResult{Delivered: []byte{1}, Latency: time.Duration(i) * time.Microsecond}, []byte{1})
	}

	assert.Len(t, c.Latencies, MaxLatencySamples)
	min, avg, max, p99 := c.LatencyStats()
	assert.Equal(t, time.Microsecond, min, "min covers samples evicted from the window")
	assert.Equal(t, time.Duration(total)*time.Microsecond, max)
	assert.Equal(t, time.Duration(total+1)*time.Microsecond/2, avg)
	assert.Greater(t, p99, time.Duration(500)*time.Microsecond)

	snap := c.Snapshot()
	smin, savg, smax, sp99 := snap.LatencyStats()
	assert.Equal(t, []time.Duration{min, avg, max, p99}, []time.Duration{smin, savg, smax, sp99})
}

func TestCollector_SnapshotIsIndependent(t *testing.T) {
	c := NewCollector()
	c.Emit(event.Event{Layer: event.LayerMAC, Kind: "dl_deliver"})
	snap := c.Snapshot()
	c.Emit(event.Event{Layer: event.LayerMAC, Kind: "dl_deliver"})

	assert.Equal(t, uint64(1), snap.Layers[event.LayerMAC].Events["dl_deliver"])
	assert.Equal(t, uint64(2), c.EventCount(event.LayerMAC, "dl_deliver"))
}

func TestCollector_ConcurrentEmit(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				c.Emit(event.Event{Layer: event.LayerPHY, Kind: "decode_ok"})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(2000), c.EventCount(event.LayerPHY, "decode_ok"))
}

func TestCollector_Duration(t *testing.T) {
	c := NewCollector()
	c.StartTime = time.Now().Add(-time.Minute)
	c.Finish()
	assert.GreaterOrEqual(t, c.Duration(), time.Minute)
}

func populated() *Collector {
	c := NewCollector()
	c.Emit(event.Event{Layer: event.LayerHARQ, Kind: "dl_ack"})
	c.Emit(event.Event{Layer: event.LayerRLC, Kind: "um_reassembled"})
	c.RecordCycle(types.CycleResult{Delivered: []byte("ab"), Latency: time.Millisecond}, []byte("ab"))
	c.Finish()
	return c
}

func TestReporter_RunStopsOnCancel(t *testing.T) {
	r := NewReporter(NewCollector(), 1, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReporter_FormatReport(t *testing.T) {
	out := NewReporter(populated(), 0, "").FormatReport()
	assert.Contains(t, out, "L2 Simulator Statistics")
	assert.Contains(t, out, "Delivered: 1")
	assert.Contains(t, out, "dl_ack=1")
	assert.Contains(t, out, "um_reassembled=1")
	assert.Contains(t, out, "Latency:")
}

func TestReporter_ExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, NewReporter(populated(), 0, path).Export())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))

	cycles := out["cycles"].(map[string]interface{})
	assert.Equal(t, float64(1), cycles["delivered"])
	layers := out["layers"].(map[string]interface{})
	assert.Contains(t, layers, event.LayerHARQ)
}

func TestReporter_ExportYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yaml")
	require.NoError(t, NewReporter(populated(), 0, path).Export())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &out))

	cycles := out["cycles"].(map[string]interface{})
	assert.Equal(t, 1, cycles["delivered"])
}

func TestReporter_ExportDisabled(t *testing.T) {
	assert.NoError(t, NewReporter(populated(), 0, "").Export())
}
