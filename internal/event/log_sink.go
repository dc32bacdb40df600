package event

import (
	log "github.com/sirupsen/logrus"
)

// LogSink writes events as structured logrus entries.
type LogSink struct {
	Logger *log.Logger
}

// NewLogSink creates a sink on the given logger, or the standard logger when nil.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Emit(e Event) {
	fields := log.Fields{"layer": e.Layer}
	for k, v := range e.Fields {
		fields[k] = v
	}
	entry := s.Logger.WithFields(fields).WithTime(e.Time)

	switch e.Level {
	case Debug:
		entry.Debug(e.Kind)
	case Warn:
		entry.Warn(e.Kind)
	case Error:
		entry.Error(e.Kind)
	default:
		entry.Info(e.Kind)
	}
}
