package source

import (
	"fmt"
	"net"
	"sync"
)

// AddressPool hands out UE addresses from a CIDR range in order, wrapping
// around and skipping addresses that are still in use.
type AddressPool struct {
	cidr      *net.IPNet
	nextIP    net.IP
	allocated map[string]bool
	mu        sync.Mutex
}

// NewAddressPool creates a pool from a CIDR string such as "192.168.1.96/28".
func NewAddressPool(cidr string) (*AddressPool, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if ip4 := ipnet.IP.To4(); ip4 != nil {
		ipnet.IP = ip4
	}

	return &AddressPool{
		cidr:      ipnet,
		nextIP:    firstHost(ipnet),
		allocated: make(map[string]bool),
	}, nil
}

func firstHost(n *net.IPNet) net.IP {
	ip := make(net.IP, len(n.IP))
	copy(ip, n.IP)
	incrementIP(ip)
	return ip
}

// Allocate returns the next free address.
func (p *AddressPool) Allocate() (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ones, bits := p.cidr.Mask.Size()
	total := 1 << (bits - ones)

	for checked := 0; checked < total-1; checked++ {
		if !p.cidr.Contains(p.nextIP) {
			p.nextIP = firstHost(p.cidr)
		}
		candidate := make(net.IP, len(p.nextIP))
		copy(candidate, p.nextIP)
		incrementIP(p.nextIP)

		if !p.allocated[candidate.String()] {
			p.allocated[candidate.String()] = true
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("address pool %s exhausted (all %d addresses allocated)", p.cidr, len(p.allocated))
}

// Release returns ip to the pool. Unknown addresses are ignored.
func (p *AddressPool) Release(ip net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, ip.String())
}

// AllocatedCount returns the number of addresses in use.
func (p *AddressPool) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

// Available returns the number of free host addresses, excluding the
// network and broadcast addresses.
func (p *AddressPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ones, bits := p.cidr.Mask.Size()
	avail := 1<<(bits-ones) - len(p.allocated) - 2
	if avail < 0 {
		return 0
	}
	return avail
}

func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}
