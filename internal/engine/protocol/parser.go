package protocol

import (
	"TCPScope/internal/model"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotIP is returned for packets without an IPv4 or IPv6 layer.
	ErrNotIP = errors.New("not an IP packet")
	// ErrNotTransport is returned for IP packets carrying neither TCP nor UDP.
	ErrNotTransport = errors.New("not a TCP or UDP packet")
)

// ParsePacket extracts the 5-tuple, capture timestamp and, for TCP, the
// control flags and sequence fields from a decoded packet.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // Overwritten by capture metadata when present
		Length:    len(packet.Data()),
	}

	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var fiveTuple model.FiveTuple

	switch l := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		fiveTuple.SrcIP = l.SrcIP
		fiveTuple.DstIP = l.DstIP
		fiveTuple.Protocol = uint8(l.Protocol)
	case *layers.IPv6:
		fiveTuple.SrcIP = l.SrcIP
		fiveTuple.DstIP = l.DstIP
		fiveTuple.Protocol = uint8(l.NextHeader)
	default:
		return nil, ErrNotIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		fiveTuple.SrcPort = uint16(tcp.SrcPort)
		fiveTuple.DstPort = uint16(tcp.DstPort)
		fiveTuple.Protocol = model.ProtocolTCP
		info.TCP = &model.TCPInfo{
			Flags:      tcpFlags(tcp),
			Seq:        tcp.Seq,
			Ack:        tcp.Ack,
			PayloadLen: len(tcp.Payload),
		}
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		fiveTuple.SrcPort = uint16(udp.SrcPort)
		fiveTuple.DstPort = uint16(udp.DstPort)
		fiveTuple.Protocol = model.ProtocolUDP
	} else {
		return nil, ErrNotTransport
	}

	info.FiveTuple = fiveTuple

	return info, nil
}

// ParseData decodes raw frame bytes of the given link type and parses them.
func ParseData(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	md := packet.Metadata()
	md.CaptureInfo = ci
	return ParsePacket(packet)
}

func tcpFlags(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	if tcp.FIN {
		f |= model.FlagFIN
	}
	if tcp.SYN {
		f |= model.FlagSYN
	}
	if tcp.RST {
		f |= model.FlagRST
	}
	if tcp.PSH {
		f |= model.FlagPSH
	}
	if tcp.ACK {
		f |= model.FlagACK
	}
	if tcp.URG {
		f |= model.FlagURG
	}
	if tcp.ECE {
		f |= model.FlagECE
	}
	if tcp.CWR {
		f |= model.FlagCWR
	}
	return f
}
