// Package source produces the network-layer packets fed into the stack.
package source

import (
	"errors"

	"l2sim/pkg/types"
)

// ErrEmpty is returned by a source that has nothing to replay.
var ErrEmpty = errors.New("source: no packets")

// Source yields one packet per call. Done is called once the stack has
// finished with the packet.
type Source interface {
	Next() (types.RawPayload, error)
	Done(p types.RawPayload)
}
