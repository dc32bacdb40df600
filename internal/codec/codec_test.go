package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerCompressor_Compress(t *testing.T) {
	c := MarkerCompressor{}
	src := []byte{0x00, 0x10, 'a'}
	dst := make([]byte, len(src)+c.Overhead())

	n := c.Compress(dst, src)

	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0xAA, 0x00, 0x10, 'a'}, dst)
}

func TestMarkerCompressor_Decompress(t *testing.T) {
	c := MarkerCompressor{}

	out, ok := c.Decompress([]byte{0xAA, 1, 2})
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2}, out)

	out, ok = c.Decompress([]byte{1, 2})
	assert.False(t, ok)
	assert.Equal(t, []byte{1, 2}, out)

	out, ok = c.Decompress(nil)
	assert.False(t, ok)
	assert.Empty(t, out)
}

func TestXORCipher_IsSelfInverse(t *testing.T) {
	c := XORCipher{Key: DefaultKey}
	plain := []byte("0123456789")

	sealed := make([]byte, len(plain))
	c.XORKeyStream(sealed, plain)
	assert.NotEqual(t, plain, sealed)
	assert.Equal(t, byte('0')^0x5A, sealed[0])

	opened := make([]byte, len(sealed))
	c.XORKeyStream(opened, sealed)
	assert.Equal(t, plain, opened)
}

func TestXORCipher_InPlace(t *testing.T) {
	c := XORCipher{Key: 0xFF}
	buf := []byte{0x00, 0x0F}
	c.XORKeyStream(buf, buf)
	assert.Equal(t, []byte{0xFF, 0xF0}, buf)
}
