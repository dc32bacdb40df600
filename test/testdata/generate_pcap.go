//go:build ignore

// This program generates a sample user-plane pcap file for the replay source.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func main() {
	filename := "test/testdata/sample.pcap"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		panic(err)
	}

	ueMAC, _ := net.ParseMAC("00:11:22:33:44:55")
	gwMAC, _ := net.ParseMAC("66:77:88:99:aa:bb")
	ts := time.Now()

	write := func(network gopacket.SerializableLayer, ethType layers.EthernetType, udp *layers.UDP, data []byte) {
		eth := &layers.Ethernet{SrcMAC: ueMAC, DstMAC: gwMAC, EthernetType: ethType}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(data)); err != nil {
			panic(fmt.Sprintf("failed to serialize: %v", err))
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			panic(fmt.Sprintf("failed to write packet: %v", err))
		}
		ts = ts.Add(10 * time.Millisecond)
	}

	// IPv4 datagrams of growing size so RLC UM has to segment most of them.
	// Some payloads carry runs of 0xAA to exercise the compression marker.
	for i, size := range []int{8, 32, 64, 170, 300, 1200} {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Flags:    layers.IPv4DontFragment,
			Id:       uint16(0x1234 + i),
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, byte(97+i)),
			DstIP:    net.IPv4(192, 168, 1, 200),
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(5000 + i), DstPort: 5000}
		udp.SetNetworkLayerForChecksum(ip)

		data := []byte(strings.Repeat(fmt.Sprintf("packet %d ", i), size/9+1)[:size])
		if i%2 == 1 {
			for j := 0; j < len(data); j += 7 {
				data[j] = 0xAA
			}
		}
		write(ip, layers.EthernetTypeIPv4, udp, data)
	}

	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::10"),
		DstIP:      net.ParseIP("2001:db8::200"),
	}
	udp := &layers.UDP{SrcPort: 6000, DstPort: 5000}
	udp.SetNetworkLayerForChecksum(ip6)
	write(ip6, layers.EthernetTypeIPv6, udp, []byte("IPv6 payload through the L2 simulator"))

	fmt.Printf("Generated %s\n", filename)
}
