package lifecycle

import (
	"TCPScope/internal/model"
	"fmt"
	"net"
	"net/netip"
)

// ConnectionKey is the directional 4-tuple of one observed half of a TCP
// connection. Records are stored under the initiator -> responder key.
type ConnectionKey struct {
	SrcAddr netip.Addr
	DstAddr netip.Addr
	SrcPort uint16
	DstPort uint16
}

// KeyOf builds the key for a packet in its observed direction.
func KeyOf(ft model.FiveTuple) (ConnectionKey, bool) {
	src, ok := addrOf(ft.SrcIP)
	if !ok {
		return ConnectionKey{}, false
	}
	dst, ok := addrOf(ft.DstIP)
	if !ok {
		return ConnectionKey{}, false
	}
	return ConnectionKey{SrcAddr: src, DstAddr: dst, SrcPort: ft.SrcPort, DstPort: ft.DstPort}, true
}

// Reverse returns the key as seen from the other endpoint.
func (k ConnectionKey) Reverse() ConnectionKey {
	return ConnectionKey{SrcAddr: k.DstAddr, DstAddr: k.SrcAddr, SrcPort: k.DstPort, DstPort: k.SrcPort}
}

// Src returns the initiator endpoint.
func (k ConnectionKey) Src() netip.AddrPort {
	return netip.AddrPortFrom(k.SrcAddr, k.SrcPort)
}

// Dst returns the responder endpoint.
func (k ConnectionKey) Dst() netip.AddrPort {
	return netip.AddrPortFrom(k.DstAddr, k.DstPort)
}

func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s->%s", k.Src(), k.Dst())
}

func addrOf(ip net.IP) (netip.Addr, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
