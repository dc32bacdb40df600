package buffer

import (
	"errors"
	"fmt"
)

// ErrAllocation is returned when a buffer cannot be acquired.
var ErrAllocation = errors.New("buffer allocation failed")

// DefaultMaxSize bounds a single owned buffer when no limit is configured.
const DefaultMaxSize = 64 * 1024

// Allocator hands out owned byte buffers. Engines acquire every buffer they keep
// through an Allocator before touching their own state, so a failed acquisition
// leaves the entity exactly as it was.
type Allocator interface {
	Alloc(n int) ([]byte, error)
}

// Limited allocates from the heap and refuses requests above Max bytes.
type Limited struct {
	Max int
}

// NewLimited creates an allocator bounded at limit bytes per buffer.
func NewLimited(limit int) *Limited {
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	return &Limited{Max: limit}
}

// Alloc returns a zeroed buffer of length n.
func (l *Limited) Alloc(n int) ([]byte, error) {
	if n < 0 || n > l.Max {
		return nil, fmt.Errorf("%w: requested %d bytes, limit %d", ErrAllocation, n, l.Max)
	}
	return make([]byte, n), nil
}

// Clone copies src into a freshly acquired buffer.
func Clone(a Allocator, src []byte) ([]byte, error) {
	b, err := a.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	copy(b, src)
	return b, nil
}

// Default is the allocator used when a component is not given one.
var Default Allocator = NewLimited(DefaultMaxSize)
