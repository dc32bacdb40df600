package pcap

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"l2sim/pkg/types"
)

// LinkTypeTransportBlock is DLT_USER0, used for simulated transport blocks.
const LinkTypeTransportBlock layers.LinkType = 147

// FrameHeaderSize is the direction and process id prefix on every frame.
const FrameHeaderSize = 2

const snapLen = 65536

// Writer records transport blocks as USER0 frames of [direction, pid] + block.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	w   *pcapgo.Writer
	n   int
	now func() time.Time
}

// NewWriter creates filename and writes the file header.
func NewWriter(filename string) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", filename, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, LinkTypeTransportBlock); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Writer{f: f, w: w, now: time.Now}, nil
}

// WriteBlock appends one transport block.
func (w *Writer) WriteBlock(dir types.Direction, pid int, tb []byte) error {
	frame := make([]byte, FrameHeaderSize+len(tb))
	frame[0] = byte(dir)
	frame[1] = byte(pid)
	copy(frame[FrameHeaderSize:], tb)
	if len(frame) > snapLen {
		frame = frame[:snapLen]
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(frame),
		Length:        FrameHeaderSize + len(tb),
	}
	if err := w.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("failed to write transport block: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of blocks written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close closes the capture file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
