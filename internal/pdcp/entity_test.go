package pdcp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2sim/internal/buffer"
	"l2sim/internal/codec"
	"l2sim/internal/event"
)

type sduSink struct {
	sdus [][]byte
}

func (s *sduSink) DeliverSDU(sdu []byte) { s.sdus = append(s.sdus, sdu) }

func TestEntity_EstablishDefaults(t *testing.T) {
	e := NewEntity(&sduSink{})
	assert.Equal(t, uint32(0), e.TxNext())
	assert.Equal(t, uint32(0), e.RxNext())
	assert.Equal(t, Config{Compression: true, Ciphering: true, Key: 0x5A}, e.Config())
}

func TestHeader_PacksTwelveBits(t *testing.T) {
	b := make([]byte, 2)
	PutHeader(b, 0x123)
	assert.Equal(t, []byte{0x12, 0x30}, b)
	assert.Equal(t, uint16(0x123), ParseSN(b))

	PutHeader(b, 0x1FFF)
	assert.Equal(t, uint16(0xFFF), ParseSN(b), "only the low 12 bits are carried")
}

func TestEntity_RoundTrip_AllConfigurations(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("x"),
		[]byte("0123456789"),
		{0xAA, 0xAA, 0x00},
		make([]byte, 300),
	}

	for _, compression := range []bool{false, true} {
		for _, ciphering := range []bool{false, true} {
			name := fmt.Sprintf("compression=%v/ciphering=%v", compression, ciphering)
			t.Run(name, func(t *testing.T) {
				sink := &sduSink{}
				e := NewEntity(sink)
				require.NoError(t, e.Configure(Config{Compression: compression, Ciphering: ciphering, Key: 0x5A}))

				for _, p := range payloads {
					pdu, err := e.PrepareTransmitUnit(p)
					require.NoError(t, err)
					require.NoError(t, e.ReceiveUnit(pdu))
				}

				require.Len(t, sink.sdus, len(payloads))
				for i, p := range payloads {
					assert.Equal(t, len(p), len(sink.sdus[i]))
					if len(p) > 0 {
						assert.Equal(t, p, sink.sdus[i])
					}
				}
			})
		}
	}
}

func TestEntity_PrepareTransmitUnit_SNZeroScenario(t *testing.T) {
	sink := &sduSink{}
	e := NewEntity(sink)

	pdu, err := e.PrepareTransmitUnit([]byte("0123456789"))
	require.NoError(t, err)
	assert.Len(t, pdu, 13)

	plain := make([]byte, len(pdu))
	codec.XORCipher{Key: 0x5A}.XORKeyStream(plain, pdu)
	inner, ok := codec.MarkerCompressor{}.Decompress(plain)
	require.True(t, ok)
	assert.Equal(t, append([]byte{0x00, 0x00}, []byte("0123456789")...), inner)

	require.NoError(t, e.ReceiveUnit(pdu))
	require.Len(t, sink.sdus, 1)
	assert.Equal(t, []byte("0123456789"), sink.sdus[0])
	assert.Equal(t, uint32(1), e.RxNext())
}

func TestEntity_TxNextIncrementsPerUnit(t *testing.T) {
	e := NewEntity(&sduSink{})
	require.NoError(t, e.Configure(Config{}))

	for i := 0; i < 5; i++ {
		pdu, err := e.PrepareTransmitUnit([]byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, uint16(i), ParseSN(pdu))
	}
	assert.Equal(t, uint32(5), e.TxNext())
}

func TestEntity_SNWrapsInHeaderOnly(t *testing.T) {
	e := NewEntity(&sduSink{})
	require.NoError(t, e.Configure(Config{}))
	e.txNext = 4096

	pdu, err := e.PrepareTransmitUnit([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), ParseSN(pdu))
	assert.Equal(t, uint32(4097), e.TxNext())
}

func TestEntity_RxNextTracksLastSN(t *testing.T) {
	tx := NewEntity(&sduSink{})
	rx := NewEntity(&sduSink{})

	var last []byte
	for i := 0; i < 3; i++ {
		pdu, err := tx.PrepareTransmitUnit([]byte("abc"))
		require.NoError(t, err)
		last = pdu
	}
	require.NoError(t, rx.ReceiveUnit(last))
	assert.Equal(t, uint32(3), rx.RxNext(), "receive-next follows the parsed SN, gaps are not enforced")
}

func TestEntity_ReceiveUnit_TreatsUnmarkedAsUncompressed(t *testing.T) {
	tx := NewEntity(&sduSink{})
	require.NoError(t, tx.Configure(Config{Compression: false, Ciphering: true, Key: 0x5A}))
	sink := &sduSink{}
	rx := NewEntity(sink)

	pdu, err := tx.PrepareTransmitUnit([]byte("plain"))
	require.NoError(t, err)
	require.NoError(t, rx.ReceiveUnit(pdu))
	require.Len(t, sink.sdus, 1)
	assert.Equal(t, []byte("plain"), sink.sdus[0])
}

func TestEntity_ReceiveUnit_Malformed(t *testing.T) {
	rec := &event.Recorder{}
	sink := &sduSink{}
	e := NewEntity(sink, WithSink(rec))

	// A lone marker byte deciphers and decompresses to nothing.
	err := e.ReceiveUnit([]byte{codec.CompressionMarker ^ 0x5A})
	assert.ErrorIs(t, err, ErrMalformedUnit)

	err = e.ReceiveUnit([]byte{0x00})
	assert.ErrorIs(t, err, ErrMalformedUnit)

	err = e.ReceiveUnit(nil)
	assert.ErrorIs(t, err, ErrMalformedUnit)

	assert.Empty(t, sink.sdus)
	assert.Equal(t, uint32(0), e.RxNext())
	assert.Equal(t, 3, rec.Count(event.LayerPDCP, "malformed_unit"))

	// The entity keeps working after a malformed unit.
	pdu, err := e.PrepareTransmitUnit([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, e.ReceiveUnit(pdu))
	assert.Len(t, sink.sdus, 1)
}

func TestEntity_ReceiveUnit_MissingUpper(t *testing.T) {
	e := NewEntity(nil)
	pdu, err := e.PrepareTransmitUnit([]byte("a"))
	require.NoError(t, err)
	assert.ErrorIs(t, e.ReceiveUnit(pdu), ErrMissingCollaborator)
	assert.Equal(t, uint32(0), e.RxNext())
}

func TestEntity_AllocationFailureLeavesStateUnchanged(t *testing.T) {
	e := NewEntity(&sduSink{}, WithAllocator(buffer.NewLimited(8)))

	_, err := e.PrepareTransmitUnit(make([]byte, 16))
	assert.ErrorIs(t, err, buffer.ErrAllocation)
	assert.Equal(t, uint32(0), e.TxNext())

	_, err = e.PrepareTransmitUnit([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), e.TxNext())
}

func TestEntity_ReestablishKeepsConfiguration(t *testing.T) {
	e := NewEntity(&sduSink{})
	cfg := Config{Compression: false, Ciphering: true, Key: 0x11}
	require.NoError(t, e.Configure(cfg))
	_, err := e.PrepareTransmitUnit([]byte("a"))
	require.NoError(t, err)

	require.NoError(t, e.Reestablish())
	assert.Equal(t, uint32(0), e.TxNext())
	assert.Equal(t, uint32(0), e.RxNext())
	assert.Equal(t, cfg, e.Config())
}

func TestEntity_EstablishRestoresDefaults(t *testing.T) {
	e := NewEntity(&sduSink{})
	require.NoError(t, e.Configure(Config{Key: 0x01}))
	require.NoError(t, e.Establish())
	assert.Equal(t, DefaultConfig(), e.Config())
}

func TestEntity_ReleaseIsTerminal(t *testing.T) {
	e := NewEntity(&sduSink{})
	require.NoError(t, e.Release())

	_, err := e.PrepareTransmitUnit([]byte("a"))
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, e.ReceiveUnit([]byte{0, 0}), ErrReleased)
	assert.ErrorIs(t, e.Reestablish(), ErrReleased)
	assert.ErrorIs(t, e.Establish(), ErrReleased)
	assert.ErrorIs(t, e.Release(), ErrReleased)
}
