package mac

import (
	"fmt"

	"l2sim/pkg/types"
)

// LogicalChannelType identifies the kind of information a logical channel carries.
type LogicalChannelType int

const (
	BCCH LogicalChannelType = iota
	PCCH
	CCCH
	DCCH
	DTCH
)

func (t LogicalChannelType) String() string {
	switch t {
	case BCCH:
		return "BCCH"
	case PCCH:
		return "PCCH"
	case CCCH:
		return "CCCH"
	case DCCH:
		return "DCCH"
	case DTCH:
		return "DTCH"
	default:
		return fmt.Sprintf("LogicalChannelType(%d)", int(t))
	}
}

// TransportChannel is the transport channel a logical channel maps onto.
type TransportChannel int

const (
	BCH TransportChannel = iota
	PCH
	DLSCH
	RACH
	ULSCH
	InvalidTransport
)

func (c TransportChannel) String() string {
	switch c {
	case BCH:
		return "BCH"
	case PCH:
		return "PCH"
	case DLSCH:
		return "DL-SCH"
	case RACH:
		return "RACH"
	case ULSCH:
		return "UL-SCH"
	default:
		return "INVALID"
	}
}

// LogicalChannel is a channel with data waiting to be multiplexed.
// Priority is carried but not used for ordering.
type LogicalChannel struct {
	ID       uint8
	Type     LogicalChannelType
	Priority int
	Buffer   []byte
}

// MapLogicalChannel returns the transport channel for a logical channel type
// in the given direction. Broadcast and paging channels have no uplink mapping.
func MapLogicalChannel(t LogicalChannelType, dir types.Direction) TransportChannel {
	switch dir {
	case types.Downlink:
		switch t {
		case BCCH:
			return BCH
		case PCCH:
			return PCH
		case CCCH, DCCH, DTCH:
			return DLSCH
		}
	case types.Uplink:
		switch t {
		case CCCH, DCCH, DTCH:
			return ULSCH
		}
	}
	return InvalidTransport
}
