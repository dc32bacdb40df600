package types

import (
	"bytes"
	"net"
	"time"
)

// Direction is the link direction a channel or transport block belongs to.
type Direction int

const (
	Downlink Direction = iota
	Uplink
)

func (d Direction) String() string {
	switch d {
	case Downlink:
		return "downlink"
	case Uplink:
		return "uplink"
	default:
		return "unknown"
	}
}

// RawPayload is one network-layer packet handed to the stack by a payload source.
type RawPayload struct {
	Data      []byte
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
}

// CycleResult holds the outcome of one send/receive cycle through the stack.
type CycleResult struct {
	Cycle     uint64
	Sent      int
	Delivered []byte
	Latency   time.Duration
	Error     error
}

// Intact reports whether the delivered bytes match what was sent.
func (r CycleResult) Intact(sent []byte) bool {
	return r.Error == nil && bytes.Equal(r.Delivered, sent)
}
