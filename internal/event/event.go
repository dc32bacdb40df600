// Package event carries structured status reports out of the protocol engines.
// Engines never print; they emit an Event to a Sink and callers decide whether
// it becomes a log line, a counter, or an assertion in a test.
package event

import (
	"sync"
	"time"
)

// Level is the severity of an event.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Layer names used by the engines.
const (
	LayerHARQ = "harq"
	LayerRLC  = "rlc"
	LayerPDCP = "pdcp"
	LayerMAC  = "mac"
	LayerPHY  = "phy"
	LayerLink = "link"
)

// Fields are the key/value details of an event.
type Fields map[string]interface{}

// Event is a single status report.
type Event struct {
	Time   time.Time
	Layer  string
	Kind   string
	Level  Level
	Fields Fields
}

// Sink receives events. Emit may run while the emitting entity holds its
// lock, so implementations must not call back into the emitter.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type nop struct{}

func (nop) Emit(Event) {}

// Nop discards every event.
var Nop Sink = nop{}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Emitter stamps and forwards events for one layer.
type Emitter struct {
	Layer string
	Sink  Sink
}

// NewEmitter returns an emitter for layer; a nil sink discards.
func NewEmitter(layer string, sink Sink) Emitter {
	if sink == nil {
		sink = Nop
	}
	return Emitter{Layer: layer, Sink: sink}
}

func (em Emitter) emit(level Level, kind string, fields Fields) {
	if em.Sink == nil {
		return
	}
	em.Sink.Emit(Event{
		Time:   time.Now(),
		Layer:  em.Layer,
		Kind:   kind,
		Level:  level,
		Fields: fields,
	})
}

func (em Emitter) Debug(kind string, fields Fields) { em.emit(Debug, kind, fields) }
func (em Emitter) Info(kind string, fields Fields)  { em.emit(Info, kind, fields) }
func (em Emitter) Warn(kind string, fields Fields)  { em.emit(Warn, kind, fields) }
func (em Emitter) Error(kind string, fields Fields) { em.emit(Error, kind, fields) }

// Recorder keeps every event it receives. Used by tests and the harness.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds for layer, in order. An empty layer matches all.
func (r *Recorder) Kinds(layer string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []string
	for _, e := range r.events {
		if layer == "" || e.Layer == layer {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Count returns how many events of the given layer and kind were recorded.
func (r *Recorder) Count(layer, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Layer == layer && e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
