package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Reporter outputs statistics to console and/or file.
type Reporter struct {
	collector   *Collector
	intervalSec int
	exportFile  string
}

// NewReporter creates a new statistics reporter. The export format follows
// the file extension: .yaml/.yml for YAML, anything else for JSON.
func NewReporter(collector *Collector, intervalSec int, exportFile string) *Reporter {
	return &Reporter{
		collector:   collector,
		intervalSec: intervalSec,
		exportFile:  exportFile,
	}
}

// Run prints a report every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	if r.intervalSec <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Println(r.FormatReport())
		}
	}
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (r *Reporter) exportData() map[string]interface{} {
	snap := r.collector.Snapshot()
	min, avg, max, p99 := snap.LatencyStats()

	export := map[string]interface{}{
		"start_time":   snap.StartTime.Format(time.RFC3339),
		"end_time":     snap.EndTime.Format(time.RFC3339),
		"duration_sec": snap.Duration().Seconds(),
		"cycles": map[string]interface{}{
			"total":     snap.Cycles,
			"delivered": snap.Delivered,
			"lost":      snap.Lost,
			"corrupted": snap.Corrupted,
		},
		"bytes": map[string]interface{}{
			"sent":      snap.BytesSent,
			"delivered": snap.BytesDelivered,
		},
		"latency_ms": map[string]interface{}{
			"min": toMillis(min),
			"avg": toMillis(avg),
			"max": toMillis(max),
			"p99": toMillis(p99),
		},
	}

	if duration := snap.Duration().Seconds(); duration > 0 {
		export["throughput_sdu_per_sec"] = float64(snap.Delivered) / duration
	}

	layers := map[string]interface{}{}
	for name, ls := range snap.Layers {
		events := map[string]interface{}{}
		for kind, n := range ls.Events {
			events[kind] = n
		}
		layers[name] = map[string]interface{}{
			"events":   events,
			"warnings": ls.Warnings,
			"errors":   ls.Errors,
		}
	}
	export["layers"] = layers
	return export
}

// Export writes the statistics to the export file, if one is configured.
func (r *Reporter) Export() error {
	if r.exportFile == "" {
		return nil
	}

	var (
		data   []byte
		err    error
		format string
	)
	switch strings.ToLower(filepath.Ext(r.exportFile)) {
	case ".yaml", ".yml":
		format = "YAML"
		data, err = yaml.Marshal(r.exportData())
	default:
		format = "JSON"
		data, err = json.MarshalIndent(r.exportData(), "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal stats %s: %w", format, err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithFields(log.Fields{"file": r.exportFile, "format": format}).Info("Statistics exported")
	return nil
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	elapsed := snap.Duration()
	min, avg, max, p99 := snap.LatencyStats()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== L2 Simulator Statistics (elapsed: %s) ===\n", elapsed.Round(time.Second)))
	sb.WriteString("Cycles:\n")
	sb.WriteString(fmt.Sprintf("  Total: %d  |  Delivered: %d  |  Lost: %d  |  Corrupted: %d\n",
		snap.Cycles, snap.Delivered, snap.Lost, snap.Corrupted))
	sb.WriteString(fmt.Sprintf("  Bytes sent: %d  |  Bytes delivered: %d\n", snap.BytesSent, snap.BytesDelivered))

	sb.WriteString("Layers:\n")
	names := make([]string, 0, len(snap.Layers))
	for name := range snap.Layers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ls := snap.Layers[name]
		kinds := make([]string, 0, len(ls.Events))
		for kind := range ls.Events {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		parts := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, ls.Events[kind]))
		}
		sb.WriteString(fmt.Sprintf("  %-6s warn=%-4d err=%-4d %s\n", name+":", ls.Warnings, ls.Errors, strings.Join(parts, " ")))
	}

	if len(snap.Latencies) > 0 {
		sb.WriteString("Latency:\n")
		sb.WriteString(fmt.Sprintf("  Min: %s  |  Avg: %s  |  Max: %s  |  P99: %s\n",
			min.Round(time.Microsecond), avg.Round(time.Microsecond),
			max.Round(time.Microsecond), p99.Round(time.Microsecond)))
	}

	if elapsed.Seconds() > 0 {
		sb.WriteString("Throughput:\n")
		sb.WriteString(fmt.Sprintf("  %.1f SDU/s\n", float64(snap.Delivered)/elapsed.Seconds()))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
