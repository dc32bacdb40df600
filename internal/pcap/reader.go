// Package pcap reads network-layer packets from capture files for replay and
// writes simulated transport blocks to a capture for offline inspection.
package pcap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"l2sim/pkg/types"
)

var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader extracts IP packets from classic pcap and pcapng files.
type Reader struct{}

// NewReader creates a new Reader.
func NewReader() *Reader {
	return &Reader{}
}

func open(filename string) (packetReader, io.Closer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read pcap header from %s: %w", filename, err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to parse pcap file %s: %w", filename, err)
	}
	return r, f, nil
}

// ReadPayloads returns every IPv4 and IPv6 packet in filename, in capture
// order. Link-layer framing is stripped; other packets are skipped.
func (r *Reader) ReadPayloads(filename string) ([]types.RawPayload, error) {
	src, closer, err := open(filename)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	linkType := src.LinkType()
	log.WithField("link_type", linkType.String()).Debug("PCAP link type detected")

	packetSource := gopacket.NewPacketSource(src, linkType)
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	var payloads []types.RawPayload
	total := 0
	for packet := range packetSource.Packets() {
		total++

		nl := packet.NetworkLayer()
		if nl == nil {
			continue
		}
		p := types.RawPayload{Timestamp: packet.Metadata().Timestamp}
		switch ip := nl.(type) {
		case *layers.IPv4:
			p.SrcIP, p.DstIP = ip.SrcIP, ip.DstIP
		case *layers.IPv6:
			p.SrcIP, p.DstIP = ip.SrcIP, ip.DstIP
		default:
			continue
		}
		if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
			p.SrcPort, p.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		} else if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
			p.SrcPort, p.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		}

		// Copy since the source reuses its buffer with NoCopy.
		contents, payload := nl.LayerContents(), nl.LayerPayload()
		p.Data = make([]byte, 0, len(contents)+len(payload))
		p.Data = append(p.Data, contents...)
		p.Data = append(p.Data, payload...)
		payloads = append(payloads, p)
	}

	log.WithFields(log.Fields{
		"total_packets": total,
		"ip_packets":    len(payloads),
	}).Info("PCAP parsing complete")

	return payloads, nil
}

// CountPackets returns how many packets of each network layer type filename holds.
func (r *Reader) CountPackets(filename string) (map[string]int, error) {
	src, closer, err := open(filename)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	packetSource := gopacket.NewPacketSource(src, src.LinkType())
	counts := make(map[string]int)
	for packet := range packetSource.Packets() {
		if nl := packet.NetworkLayer(); nl != nil {
			counts[nl.LayerType().String()]++
		} else {
			counts["Other"]++
		}
	}
	return counts, nil
}

// ReadFrames returns the raw data of every packet in filename.
func (r *Reader) ReadFrames(filename string) ([][]byte, layers.LinkType, error) {
	src, closer, err := open(filename)
	if err != nil {
		return nil, 0, err
	}
	defer closer.Close()

	var frames [][]byte
	for {
		data, _, err := src.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return frames, src.LinkType(), fmt.Errorf("failed to read packet %d: %w", len(frames)+1, err)
		}
		frames = append(frames, append([]byte(nil), data...))
	}
	return frames, src.LinkType(), nil
}
