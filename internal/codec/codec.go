// Package codec holds the PDCP byte transforms. Both are stand-ins: the
// compressor only tags the unit with a marker byte and the cipher is a
// single-byte XOR. Real ROHC or NEA algorithms can replace them behind the
// same interfaces as long as the receive path recognises the new marker.
package codec

// CompressionMarker is the first byte of a compressed unit.
const CompressionMarker byte = 0xAA

// DefaultKey is the cipher key installed when a PDCP entity is established.
const DefaultKey byte = 0x5A

// Compressor transforms a whole PDCP unit.
type Compressor interface {
	// Overhead is the number of bytes Compress adds.
	Overhead() int
	// Compress writes the compressed form of src into dst and returns the
	// number of bytes written. dst must hold len(src)+Overhead() bytes.
	Compress(dst, src []byte) int
	// Decompress returns the decompressed view of src. ok is false when src
	// was not produced by this compressor; src is then returned unchanged.
	Decompress(src []byte) (out []byte, ok bool)
}

// Cipher transforms bytes in place or from src into dst.
type Cipher interface {
	XORKeyStream(dst, src []byte)
}

// MarkerCompressor prepends CompressionMarker.
type MarkerCompressor struct{}

func (MarkerCompressor) Overhead() int { return 1 }

func (MarkerCompressor) Compress(dst, src []byte) int {
	dst[0] = CompressionMarker
	return 1 + copy(dst[1:], src)
}

func (MarkerCompressor) Decompress(src []byte) ([]byte, bool) {
	if len(src) == 0 || src[0] != CompressionMarker {
		return src, false
	}
	return src[1:], true
}

// XORCipher XORs every byte with Key. It is its own inverse.
type XORCipher struct {
	Key byte
}

// XORKeyStream XORs src into dst. dst and src may overlap exactly.
func (c XORCipher) XORKeyStream(dst, src []byte) {
	for i, b := range src {
		dst[i] = b ^ c.Key
	}
}
