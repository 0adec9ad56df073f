package synth

import (
	"TCPScope/internal/model"
	"math/rand/v2"
	"net/netip"
	"sort"
	"time"
)

// FloodScenario describes a server receiving steady legitimate connections
// while a spoofed SYN flood runs between FloodStart and FloodEnd.
type FloodScenario struct {
	Start         time.Time
	Server        netip.AddrPort
	Span          time.Duration // total capture length
	LegitInterval time.Duration // spacing between legitimate connection starts
	LegitLifetime time.Duration
	FloodStart    time.Duration
	FloodEnd      time.Duration
	FloodRate     int // spoofed SYNs per second
	Seed          uint64
}

// DefaultFloodScenario mirrors the lab setup: a 140s capture with the
// attack running from 20s to 120s.
func DefaultFloodScenario() FloodScenario {
	return FloodScenario{
		Start:         time.Unix(1700000000, 0).UTC(),
		Server:        netip.MustParseAddrPort("10.0.0.2:80"),
		Span:          140 * time.Second,
		LegitInterval: 500 * time.Millisecond,
		LegitLifetime: 2 * time.Second,
		FloodStart:    20 * time.Second,
		FloodEnd:      120 * time.Second,
		FloodRate:     50,
		Seed:          1,
	}
}

// Segments generates the scenario ordered by capture time.
func (s FloodScenario) Segments() []Segment {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	var segs []Segment

	client := netip.MustParseAddr("10.0.0.1")
	port := uint16(40000)
	if s.LegitInterval > 0 {
		for off := time.Duration(0); off < s.Span; off += s.LegitInterval {
			src := netip.AddrPortFrom(client, port)
			port++
			if port == 0 {
				port = 40000
			}
			lifetime := s.LegitLifetime
			// Connections opened during the attack struggle to finish.
			if off >= s.FloodStart && off < s.FloodEnd && rng.IntN(2) == 0 {
				lifetime = -1
			}
			segs = append(segs, legitConnection(s.Start.Add(off), src, s.Server, lifetime, rng.Uint32())...)
		}
	}

	if s.FloodRate > 0 && s.FloodEnd > s.FloodStart {
		gap := time.Second / time.Duration(s.FloodRate)
		for off := s.FloodStart; off < s.FloodEnd; off += gap {
			spoofed := netip.AddrFrom4([4]byte{192, 168, byte(rng.IntN(256)), byte(1 + rng.IntN(254))})
			src := netip.AddrPortFrom(spoofed, uint16(1024+rng.IntN(65535-1024)))
			t := s.Start.Add(off)
			syn := Segment{Time: t, Src: src, Dst: s.Server, Flags: model.FlagSYN, Seq: rng.Uint32()}
			synAck := syn.Reply(t.Add(time.Millisecond), model.FlagSYN|model.FlagACK)
			synAck.Seq = rng.Uint32()
			synAck.Ack = syn.Seq + 1
			segs = append(segs, syn, synAck)
		}
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Time.Before(segs[j].Time) })
	return segs
}

// legitConnection emits a handshake, one request and, when lifetime is
// positive, a server-initiated close.
func legitConnection(t time.Time, client, server netip.AddrPort, lifetime time.Duration, isn uint32) []Segment {
	const rtt = 2 * time.Millisecond
	payload := []byte("GET / HTTP/1.1\r\n\r\n")
	serverISN := ^isn

	syn := Segment{Time: t, Src: client, Dst: server, Flags: model.FlagSYN, Seq: isn}
	synAck := Segment{Time: t.Add(rtt / 2), Src: server, Dst: client, Flags: model.FlagSYN | model.FlagACK, Seq: serverISN, Ack: isn + 1}
	ack := Segment{Time: t.Add(rtt), Src: client, Dst: server, Flags: model.FlagACK, Seq: isn + 1, Ack: serverISN + 1}
	data := Segment{Time: t.Add(rtt + time.Millisecond), Src: client, Dst: server, Flags: model.FlagPSH | model.FlagACK, Seq: isn + 1, Ack: serverISN + 1, Payload: payload}
	segs := []Segment{syn, synAck, ack, data}
	if lifetime <= 0 {
		return segs
	}

	clientNext := isn + 1 + uint32(len(payload))
	end := t.Add(lifetime)
	fin := Segment{Time: end, Src: server, Dst: client, Flags: model.FlagFIN | model.FlagACK, Seq: serverISN + 1, Ack: clientNext}
	finAck := Segment{Time: end.Add(rtt / 2), Src: client, Dst: server, Flags: model.FlagFIN | model.FlagACK, Seq: clientNext, Ack: serverISN + 2}
	last := Segment{Time: end.Add(rtt), Src: server, Dst: client, Flags: model.FlagACK, Seq: serverISN + 2, Ack: clientNext + 1}
	return append(segs, fin, finAck, last)
}
