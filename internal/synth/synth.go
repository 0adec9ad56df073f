// Package synth builds Ethernet/IP/TCP frames and pcap files for fixtures
// and scenario generation.
package synth

import (
	"TCPScope/internal/model"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapshotLen = 65536

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Segment describes one TCP segment to synthesize.
type Segment struct {
	Time    time.Time
	Src     netip.AddrPort
	Dst     netip.AddrPort
	Flags   model.TCPFlags
	Seq     uint32
	Ack     uint32
	Payload []byte
}

// Reply returns a segment travelling the opposite direction at t.
func (s Segment) Reply(t time.Time, flags model.TCPFlags) Segment {
	return Segment{Time: t, Src: s.Dst, Dst: s.Src, Flags: flags}
}

// TCPFrame serializes seg as an Ethernet frame.
func TCPFrame(seg Segment) ([]byte, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(seg.Src.Port()),
		DstPort: layers.TCPPort(seg.Dst.Port()),
		Seq:     seg.Seq,
		Ack:     seg.Ack,
		FIN:     seg.Flags.Has(model.FlagFIN),
		SYN:     seg.Flags.Has(model.FlagSYN),
		RST:     seg.Flags.Has(model.FlagRST),
		PSH:     seg.Flags.Has(model.FlagPSH),
		ACK:     seg.Flags.Has(model.FlagACK),
		URG:     seg.Flags.Has(model.FlagURG),
		ECE:     seg.Flags.Has(model.FlagECE),
		CWR:     seg.Flags.Has(model.FlagCWR),
		Window:  14600,
	}
	eth, ip, err := ipLayers(seg.Src.Addr(), seg.Dst.Addr(), layers.IPProtocolTCP)
	if err != nil {
		return nil, err
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}
	return serialize(eth, ip.(gopacket.SerializableLayer), tcp, gopacket.Payload(seg.Payload))
}

// UDPFrame serializes a UDP datagram as an Ethernet frame.
func UDPFrame(src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	eth, ip, err := ipLayers(src.Addr(), dst.Addr(), layers.IPProtocolUDP)
	if err != nil {
		return nil, err
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}
	return serialize(eth, ip.(gopacket.SerializableLayer), udp, gopacket.Payload(payload))
}

// ARPFrame serializes a minimal ARP request, a frame with no IP layer.
func ARPFrame() ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	return serialize(eth, arp)
}

func ipLayers(src, dst netip.Addr, proto layers.IPProtocol) (*layers.Ethernet, gopacket.NetworkLayer, error) {
	if src.Is4() != dst.Is4() {
		return nil, nil, fmt.Errorf("address family mismatch: %s -> %s", src, dst)
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	if src.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		return eth, &layers.IPv4{
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
			Version:  4,
			TTL:      64,
			Protocol: proto,
		}, nil
	}
	eth.EthernetType = layers.EthernetTypeIPv6
	return eth, &layers.IPv6{
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
		Version:    6,
		HopLimit:   64,
		NextHeader: proto,
	}, nil
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}

// Writer writes synthesized frames into a classic pcap stream.
type Writer struct {
	w     *pcapgo.Writer
	count int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapshotLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// WriteFrame appends a raw frame captured at ts.
func (w *Writer) WriteFrame(ts time.Time, data []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.count++
	return nil
}

// WriteSegment serializes and appends seg.
func (w *Writer) WriteSegment(seg Segment) error {
	data, err := TCPFrame(seg)
	if err != nil {
		return err
	}
	return w.WriteFrame(seg.Time, data)
}

// WriteSegments appends every segment in order.
func (w *Writer) WriteSegments(segs []Segment) error {
	for _, seg := range segs {
		if err := w.WriteSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of frames written so far.
func (w *Writer) Count() int {
	return w.count
}
