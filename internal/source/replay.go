package source

import (
	"fmt"
	"sync"

	"l2sim/internal/pcap"
	"l2sim/pkg/types"
)

// Replay cycles through the IP packets of a capture file.
type Replay struct {
	mu      sync.Mutex
	packets []types.RawPayload
	next    int
}

// NewReplay loads every IP packet from filename.
func NewReplay(filename string) (*Replay, error) {
	packets, err := pcap.NewReader().ReadPayloads(filename)
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: %s holds no IP packets", ErrEmpty, filename)
	}
	return &Replay{packets: packets}, nil
}

// Len returns the number of loaded packets.
func (r *Replay) Len() int {
	return len(r.packets)
}

// Next returns the next packet, wrapping to the first after the last.
func (r *Replay) Next() (types.RawPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.packets[r.next]
	r.next = (r.next + 1) % len(r.packets)
	p.Data = append([]byte(nil), p.Data...)
	return p, nil
}

// Done is a no-op; replayed packets hold no resources.
func (r *Replay) Done(types.RawPayload) {}
