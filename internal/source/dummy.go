package source

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"l2sim/pkg/types"
)

// Defaults for the generated packets.
const (
	DefaultPayload  = "Dummy IP Packet: Hello from the Network Layer!"
	DefaultAddrPool = "192.168.1.96/28"
	DefaultDstIP    = "192.168.1.200"
	DefaultPort     = 5000
	packetID        = 0x1234
	packetTTL       = 64
)

// DummyIP builds IPv4/UDP packets carrying a fixed text payload. Each packet
// takes its source address from the pool; Done gives it back.
type DummyIP struct {
	mu      sync.Mutex
	pool    *AddressPool
	dst     net.IP
	payload []byte
	now     func() time.Time
}

// NewDummyIP creates a generator. An empty payload uses DefaultPayload.
func NewDummyIP(pool *AddressPool, payload string) *DummyIP {
	if payload == "" {
		payload = DefaultPayload
	}
	return &DummyIP{
		pool:    pool,
		dst:     net.ParseIP(DefaultDstIP).To4(),
		payload: []byte(payload),
		now:     time.Now,
	}
}

// Next serializes a new packet with a valid header checksum.
func (d *DummyIP) Next() (types.RawPayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, err := d.pool.Allocate()
	if err != nil {
		return types.RawPayload{}, fmt.Errorf("failed to allocate source address: %w", err)
	}

	ip := &layers.IPv4{
		Version:  4,
		Id:       packetID,
		Flags:    layers.IPv4DontFragment,
		TTL:      packetTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    d.dst,
	}
	udp := &layers.UDP{
		SrcPort: DefaultPort,
		DstPort: DefaultPort,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		d.pool.Release(src)
		return types.RawPayload{}, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(d.payload)); err != nil {
		d.pool.Release(src)
		return types.RawPayload{}, fmt.Errorf("failed to serialize packet: %w", err)
	}

	data := make([]byte, len(buf.Bytes()))
	copy(data, buf.Bytes())
	return types.RawPayload{
		Data:      data,
		Timestamp: d.now(),
		SrcIP:     src,
		DstIP:     d.dst,
		SrcPort:   DefaultPort,
		DstPort:   DefaultPort,
	}, nil
}

// Done releases the packet's source address.
func (d *DummyIP) Done(p types.RawPayload) {
	if p.SrcIP != nil {
		d.pool.Release(p.SrcIP)
	}
}
