package event

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestEmitter_StampsLayerAndLevel(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(LayerRLC, rec)

	em.Warn("malformed_unit", Fields{"size": 1})

	events := rec.Events()
	if assert.Len(t, events, 1) {
		assert.Equal(t, LayerRLC, events[0].Layer)
		assert.Equal(t, "malformed_unit", events[0].Kind)
		assert.Equal(t, Warn, events[0].Level)
		assert.Equal(t, 1, events[0].Fields["size"])
		assert.False(t, events[0].Time.IsZero())
	}
}

func TestEmitter_NilSinkDiscards(t *testing.T) {
	em := NewEmitter(LayerPDCP, nil)
	assert.NotPanics(t, func() { em.Info("established", nil) })
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	NewEmitter(LayerMAC, Multi{a, nil, b}).Debug("multiplexed", nil)

	assert.Equal(t, 1, a.Count(LayerMAC, "multiplexed"))
	assert.Equal(t, 1, b.Count(LayerMAC, "multiplexed"))
}

func TestRecorder_KindsAndReset(t *testing.T) {
	rec := &Recorder{}
	NewEmitter(LayerHARQ, rec).Info("new_transmission", nil)
	NewEmitter(LayerPDCP, rec).Info("delivered", nil)

	assert.Equal(t, []string{"new_transmission"}, rec.Kinds(LayerHARQ))
	assert.Equal(t, []string{"new_transmission", "delivered"}, rec.Kinds(""))

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestLogSink_WritesFields(t *testing.T) {
	var out bytes.Buffer
	logger := log.New()
	logger.SetOutput(&out)
	logger.SetLevel(log.DebugLevel)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	NewEmitter(LayerHARQ, NewLogSink(logger)).Warn("feedback_ignored", Fields{"process": 3})

	line := out.String()
	assert.Contains(t, line, "feedback_ignored")
	assert.Contains(t, line, "layer=harq")
	assert.Contains(t, line, "process=3")
	assert.Contains(t, line, "level=warning")
}
