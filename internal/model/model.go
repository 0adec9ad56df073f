package model

import (
	"net"
	"strings"
	"time"
)

// IP protocol numbers carried in FiveTuple.Protocol.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// TCPFlags is the TCP control bit field as it appears on the wire.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 0x01
	FlagSYN TCPFlags = 0x02
	FlagRST TCPFlags = 0x04
	FlagPSH TCPFlags = 0x08
	FlagACK TCPFlags = 0x10
	FlagURG TCPFlags = 0x20
	FlagECE TCPFlags = 0x40
	FlagCWR TCPFlags = 0x80
)

var flagNames = []struct {
	flag TCPFlags
	name string
}{
	{FlagFIN, "FIN"},
	{FlagSYN, "SYN"},
	{FlagRST, "RST"},
	{FlagPSH, "PSH"},
	{FlagACK, "ACK"},
	{FlagURG, "URG"},
	{FlagECE, "ECE"},
	{FlagCWR, "CWR"},
}

// Has reports whether every bit in f is set.
func (t TCPFlags) Has(f TCPFlags) bool {
	return t&f == f
}

// String renders the set bits as e.g. "SYN|ACK".
func (t TCPFlags) String() string {
	if t == 0 {
		return "-"
	}
	var parts []string
	for _, fn := range flagNames {
		if t.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// TCPInfo holds the transport fields of a TCP segment.
type TCPInfo struct {
	Flags      TCPFlags
	Seq        uint32
	Ack        uint32
	PayloadLen int
}

// PacketInfo holds the metadata extracted from a single packet.
// TCP is nil for non-TCP packets.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
	TCP       *TCPInfo
}

// IsTCP reports whether the packet carried a decoded TCP header.
func (p *PacketInfo) IsTCP() bool {
	return p != nil && p.TCP != nil && p.FiveTuple.Protocol == ProtocolTCP
}

// Frame is one captured frame. Info is nil when the frame carried no
// IP/TCP/UDP packet that could be parsed.
type Frame struct {
	Timestamp     time.Time
	CaptureLength int
	Length        int
	Data          []byte // raw bytes from the link layer up
	Info          *PacketInfo
}
