package pcap

import (
	"TCPScope/internal/engine/protocol"
	"TCPScope/internal/model"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// ErrEmptyCapture is returned when a capture file is missing or holds no packets.
var ErrEmptyCapture = errors.New("no packets were captured")

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// liveReadTimeout bounds how long a live read blocks, so Interrupt is
// noticed on an idle interface.
const liveReadTimeout = 500 * time.Millisecond

// Reader reads packets from an offline capture file or a live interface.
type Reader struct {
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	closer   func()
	name     string
	stopped  atomic.Bool
}

// NewReader opens a pcap or pcapng file without libpcap.
func NewReader(filePath string) (*Reader, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyCapture, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrEmptyCapture, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r, err := NewReaderFrom(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header of '%s': %w", filePath, err)
	}
	r.closer = func() { file.Close() }
	r.name = filePath
	return r, nil
}

// NewReaderFrom reads a pcap or pcapng stream, detected by its magic number.
func NewReaderFrom(in io.Reader) (*Reader, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyCapture, err)
	}

	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return &Reader{source: ng, linkType: ng.LinkType(), closer: func() {}, name: "pcapng"}, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	return &Reader{source: pr, linkType: pr.LinkType(), closer: func() {}, name: "pcap"}, nil
}

// NewLibpcapReader opens a capture file through libpcap.
func NewLibpcapReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{source: handle, linkType: handle.LinkType(), closer: handle.Close, name: filePath}, nil
}

// OpenLive starts a live capture on iface with an optional BPF filter.
func OpenLive(iface string, snapshotLen int32, promiscuous bool, bpfFilter string) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, liveReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", iface, err)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid BPF filter %q: %w", bpfFilter, err)
		}
	}
	return &Reader{source: handle, linkType: handle.LinkType(), closer: handle.Close, name: iface}, nil
}

// Close releases the underlying file or handle.
func (r *Reader) Close() {
	r.closer()
}

// Interrupt makes running Frames and Packets loops return after the read in
// progress. Safe to call from another goroutine.
func (r *Reader) Interrupt() {
	r.stopped.Store(true)
}

// LinkType returns the link layer type of the capture.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Frames yields every captured frame in capture order. The sequence can be
// consumed only once.
func (r *Reader) Frames() iter.Seq[model.Frame] {
	return func(yield func(model.Frame) bool) {
		for !r.stopped.Load() {
			data, ci, err := r.source.ReadPacketData()
			if err != nil {
				if err == pcap.NextErrorTimeoutExpired {
					continue
				}
				if err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
					log.Warnf("Stopped reading from '%s': %v", r.name, err)
				}
				return
			}

			frame := model.Frame{
				Timestamp:     ci.Timestamp,
				CaptureLength: ci.CaptureLength,
				Length:        ci.Length,
				Data:          data,
			}
			info, err := protocol.ParseData(data, r.linkType, ci)
			if err != nil {
				// Unsupported packet types or corrupt data; the frame still counts.
				log.Debugf("Skipping packet at %s: %v", ci.Timestamp.Format("15:04:05.000000"), err)
			} else {
				frame.Info = info
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Packets yields the parsed IP packets in capture order, skipping frames
// that could not be parsed.
func (r *Reader) Packets() iter.Seq[*model.PacketInfo] {
	return func(yield func(*model.PacketInfo) bool) {
		for frame := range r.Frames() {
			if frame.Info == nil {
				continue
			}
			if !yield(frame.Info) {
				return
			}
		}
	}
}

// ReadPackets sends every parsed packet to out and closes it when done.
func (r *Reader) ReadPackets(out chan<- *model.PacketInfo) {
	defer close(out)
	for info := range r.Packets() {
		out <- info
	}
}
