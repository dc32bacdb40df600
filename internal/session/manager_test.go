package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2sim/internal/event"
	"l2sim/internal/link"
	"l2sim/internal/source"
	"l2sim/internal/stats"
	"l2sim/pkg/types"
)

type senderFunc func([]byte) ([]byte, error)

func (f senderFunc) Send(sdu []byte) ([]byte, error) { return f(sdu) }

type fixedSource struct {
	payloads []types.RawPayload
	next     int
	done     int
}

func (s *fixedSource) Next() (types.RawPayload, error) {
	if s.next >= len(s.payloads) {
		return types.RawPayload{}, source.ErrEmpty
	}
	p := s.payloads[s.next]
	s.next++
	return p, nil
}

func (s *fixedSource) Done(types.RawPayload) { s.done++ }

func payloads(n int) []types.RawPayload {
	out := make([]types.RawPayload, n)
	for i := range out {
		out[i] = types.RawPayload{Data: []byte("payload number " + string(rune('a'+i)))}
	}
	return out
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Config{}, nil, &fixedSource{}, nil, nil)
	assert.Error(t, err)
	_, err = NewManager(Config{}, senderFunc(nil), nil, nil, nil)
	assert.Error(t, err)
}

func TestManager_RunStopsAtCycleCount(t *testing.T) {
	src := &fixedSource{payloads: payloads(5)}
	collector := stats.NewCollector()
	echo := senderFunc(func(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil })

	m, err := NewManager(Config{Cycles: 3}, echo, src, collector, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, uint64(3), m.Cycles())
	assert.Equal(t, uint64(3), collector.Cycles)
	assert.Equal(t, uint64(3), collector.Delivered)
	assert.Equal(t, 3, src.done)
}

func TestManager_RunStopsWhenSourceEmpty(t *testing.T) {
	src := &fixedSource{payloads: payloads(2)}
	echo := senderFunc(func(b []byte) ([]byte, error) { return b, nil })

	m, err := NewManager(Config{}, echo, src, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, m.Run(context.Background()))
	assert.Equal(t, uint64(2), m.Cycles())
}

func TestManager_RunHonoursCancel(t *testing.T) {
	src := &fixedSource{payloads: payloads(20)}
	echo := senderFunc(func(b []byte) ([]byte, error) { return b, nil })

	m, err := NewManager(Config{Interval: time.Hour}, echo, src, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return m.Cycles() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, uint64(1), m.Cycles())
}

func TestManager_RunCycleRecordsOutcomes(t *testing.T) {
	src := &fixedSource{payloads: payloads(3)}
	collector := stats.NewCollector()
	calls := 0
	flaky := senderFunc(func(b []byte) ([]byte, error) {
		calls++
		switch calls {
		case 1:
			return nil, link.ErrNotDelivered
		case 2:
			return []byte("garbled"), nil
		default:
			return b, nil
		}
	})

	m, err := NewManager(Config{}, flaky, src, collector, nil)
	require.NoError(t, err)

	r, err := m.RunCycle()
	require.NoError(t, err)
	assert.Nil(t, r.Delivered)
	assert.ErrorIs(t, r.Error, link.ErrNotDelivered)

	_, err = m.RunCycle()
	require.NoError(t, err)
	r, err = m.RunCycle()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r.Cycle)

	assert.Equal(t, uint64(1), collector.Lost)
	assert.Equal(t, uint64(1), collector.Corrupted)
	assert.Equal(t, uint64(1), collector.Delivered)
}

func TestManager_RunCycleSourceError(t *testing.T) {
	m, err := NewManager(Config{}, senderFunc(nil), &fixedSource{}, nil, nil)
	require.NoError(t, err)

	_, err = m.RunCycle()
	assert.True(t, errors.Is(err, source.ErrEmpty))
	assert.Equal(t, uint64(0), m.Cycles())
}

func TestManager_ReportsBufferStatus(t *testing.T) {
	rec := &event.Recorder{}
	big := types.RawPayload{Data: make([]byte, 80)}
	small := types.RawPayload{Data: make([]byte, 10)}
	src := &fixedSource{payloads: []types.RawPayload{big, small}}
	echo := senderFunc(func(b []byte) ([]byte, error) { return b, nil })

	m, err := NewManager(Config{LCID: 4, SRThreshold: 50}, echo, src, nil, rec)
	require.NoError(t, err)
	_, err = m.RunCycle()
	require.NoError(t, err)
	_, err = m.RunCycle()
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Count(event.LayerMAC, "scheduling_request"))
	assert.Equal(t, 2, rec.Count(event.LayerMAC, "buffer_status"))
}

func TestManager_EndToEndOverLink(t *testing.T) {
	collector := stats.NewCollector()
	l, err := link.New(link.DefaultConfig(), collector)
	require.NoError(t, err)

	pool, err := source.NewAddressPool(source.DefaultAddrPool)
	require.NoError(t, err)
	src := source.NewDummyIP(pool, "")

	m, err := NewManager(Config{Cycles: 4, LCID: 4, SRThreshold: 50}, l, src, collector, collector)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, uint64(4), collector.Delivered)
	assert.Zero(t, collector.Lost)
	assert.Zero(t, collector.Corrupted)
	assert.Zero(t, pool.AllocatedCount())
}

func TestCycleCounter_Next(t *testing.T) {
	c := &CycleCounter{}
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(2), c.Current())
}
