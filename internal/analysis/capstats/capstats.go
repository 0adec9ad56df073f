// Package capstats computes throughput, goodput and loss figures for a
// capture, the numbers the congestion-control experiments report.
package capstats

import (
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/model"
	"errors"
	"iter"
	"maps"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultInterval is the throughput bin width.
const DefaultInterval = 10 * time.Second

// ErrNoFrames is returned when the frame sequence is empty.
var ErrNoFrames = errors.New("no packets were captured")

// Interval is one throughput bin, in seconds relative to the first frame.
// Reports list only bins that saw frames.
type Interval struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Frames        uint64  `json:"frames"`
	Bytes         uint64  `json:"bytes"`
	BitsPerSecond float64 `json:"bits_per_second"`
}

// Report holds the capture-wide figures.
type Report struct {
	Frames         uint64     `json:"frames"`
	Bytes          uint64     `json:"bytes"`
	First          time.Time  `json:"first"`
	Last           time.Time  `json:"last"`
	Duration       float64    `json:"duration_seconds"`
	Throughput     float64    `json:"throughput_bits_per_second"`
	Intervals      []Interval `json:"intervals"`
	PeakBps        float64    `json:"peak_interval_bits_per_second"`
	MeanBps        float64    `json:"mean_interval_bits_per_second"`
	TCPPackets     uint64     `json:"tcp_packets"`
	DataPackets    uint64     `json:"data_packets"`
	PayloadBytes   uint64     `json:"payload_bytes"`
	GoodputPercent float64    `json:"goodput_percent"`
	GoodputBps     float64    `json:"goodput_bits_per_second"`
	LostSegments   uint64     `json:"lost_segments"`
	LossRate       float64    `json:"loss_rate_percent"`
	MaxFrameLength int        `json:"max_frame_length"`
}

type seqState struct {
	next  uint32
	known bool
}

// Compute consumes frames once and builds the report.
func Compute(frames iter.Seq[model.Frame], interval time.Duration) (*Report, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Report{}
	flows := make(map[lifecycle.ConnectionKey]*seqState)
	bins := make(map[int64]*Interval)
	lastBin := int64(0)

	for f := range frames {
		if r.Frames == 0 {
			r.First, r.Last = f.Timestamp, f.Timestamp
		}
		if f.Timestamp.Before(r.First) {
			r.First = f.Timestamp
		}
		if f.Timestamp.After(r.Last) {
			r.Last = f.Timestamp
		}
		r.Frames++
		r.Bytes += uint64(f.Length)
		if f.Length > r.MaxFrameLength {
			r.MaxFrameLength = f.Length
		}
		if idx := addToBin(bins, f, r.First, interval); idx > lastBin {
			lastBin = idx
		}

		if !f.Info.IsTCP() {
			continue
		}
		r.TCPPackets++
		if f.Info.TCP.PayloadLen > 0 {
			r.DataPackets++
			r.PayloadBytes += uint64(f.Info.TCP.PayloadLen)
		}
		if key, ok := lifecycle.KeyOf(f.Info.FiveTuple); ok {
			if lostSegment(flows, key, f.Info.TCP) {
				r.LostSegments++
			}
		}
	}

	if r.Frames == 0 {
		return nil, ErrNoFrames
	}

	r.Duration = r.Last.Sub(r.First).Seconds()
	if r.Duration > 0 {
		r.Throughput = float64(r.Bytes*8) / r.Duration
		r.GoodputBps = float64(r.PayloadBytes*8) / r.Duration
	}
	r.Intervals = make([]Interval, 0, len(bins))
	for _, idx := range slices.Sorted(maps.Keys(bins)) {
		r.Intervals = append(r.Intervals, *bins[idx])
	}
	rates := make([]float64, len(r.Intervals))
	for i, iv := range r.Intervals {
		rates[i] = iv.BitsPerSecond
	}
	r.PeakBps = floats.Max(rates)
	// empty bins between the first and last count as zero
	r.MeanBps = stat.Mean(rates, nil) * float64(len(rates)) / float64(lastBin+1)

	if r.TCPPackets > 0 {
		r.GoodputPercent = float64(r.DataPackets) / float64(r.TCPPackets) * 100
		r.LossRate = float64(r.LostSegments) / float64(r.TCPPackets) * 100
	}
	return r, nil
}

// addToBin adds f to its bin relative to first and returns the bin index.
// Frames stamped earlier than first land in the first bin. Only bins that
// receive frames are allocated.
func addToBin(bins map[int64]*Interval, f model.Frame, first time.Time, interval time.Duration) int64 {
	offset := f.Timestamp.Sub(first)
	idx := int64(0)
	if offset > 0 {
		idx = int64(offset / interval)
	}
	bin, ok := bins[idx]
	if !ok {
		bin = &Interval{
			Start: (time.Duration(idx) * interval).Seconds(),
			End:   (time.Duration(idx+1) * interval).Seconds(),
		}
		bins[idx] = bin
	}
	bin.Frames++
	bin.Bytes += uint64(f.Length)
	bin.BitsPerSecond = float64(bin.Bytes*8) / interval.Seconds()
	return idx
}

// lostSegment reports whether the segment starts beyond the next expected
// sequence number of its direction, i.e. a previous segment was not seen.
func lostSegment(flows map[lifecycle.ConnectionKey]*seqState, key lifecycle.ConnectionKey, tcp *model.TCPInfo) bool {
	if tcp.Flags.Has(model.FlagRST) {
		return false
	}
	st, ok := flows[key]
	if !ok {
		st = &seqState{}
		flows[key] = st
	}

	seqLen := uint32(tcp.PayloadLen)
	if tcp.Flags.Has(model.FlagSYN) {
		seqLen++
	}
	if tcp.Flags.Has(model.FlagFIN) {
		seqLen++
	}
	end := tcp.Seq + seqLen

	if tcp.Flags.Has(model.FlagSYN) || !st.known {
		st.next, st.known = end, true
		return false
	}

	lost := seqAfter(tcp.Seq, st.next)
	if seqAfter(end, st.next) {
		st.next = end
	}
	return lost
}

// seqAfter compares sequence numbers modulo 2^32.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
