// Package duration turns tracked connections into (start offset, duration)
// points and summary statistics.
package duration

import (
	"TCPScope/internal/engine/lifecycle"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSentinel is the duration reported for connections that never closed.
const DefaultSentinel = 100 * time.Second

// Options controls the analysis.
type Options struct {
	// Sentinel replaces the duration of connections still open at capture end.
	Sentinel time.Duration
}

// Point is one connection on the (offset, duration) plane.
type Point struct {
	Connection string  `json:"connection"`
	Offset     float64 `json:"start_offset_seconds"`
	Duration   float64 `json:"duration_seconds"`
	Closed     bool    `json:"closed"`
}

// Summary aggregates the points. Duration statistics cover closed
// connections only.
type Summary struct {
	Connections int     `json:"connections"`
	Closed      int     `json:"closed"`
	Open        int     `json:"open"`
	Mean        float64 `json:"mean_duration_seconds"`
	StdDev      float64 `json:"stddev_duration_seconds"`
	Min         float64 `json:"min_duration_seconds"`
	Max         float64 `json:"max_duration_seconds"`
}

// Result is the output of Analyze.
type Result struct {
	Reference time.Time `json:"reference"`
	Sentinel  float64   `json:"sentinel_seconds"`
	Points    []Point   `json:"points"`
	Summary   Summary   `json:"summary"`
}

// Analyze normalises start times against the first-seen connection and
// substitutes the sentinel for connections without an observed end.
func Analyze(conns []lifecycle.Connection, opts Options) Result {
	if opts.Sentinel <= 0 {
		opts.Sentinel = DefaultSentinel
	}
	res := Result{Sentinel: opts.Sentinel.Seconds(), Points: make([]Point, 0, len(conns))}
	if len(conns) == 0 {
		return res
	}
	res.Reference = conns[0].Record.StartTime

	closed := make([]float64, 0, len(conns))
	for _, c := range conns {
		p := Point{
			Connection: c.Key.String(),
			Offset:     c.Record.StartTime.Sub(res.Reference).Seconds(),
			Duration:   res.Sentinel,
		}
		if d, ok := c.Record.Duration(); ok {
			p.Duration = d.Seconds()
			p.Closed = true
			closed = append(closed, p.Duration)
		}
		res.Points = append(res.Points, p)
	}

	res.Summary = summarize(closed)
	res.Summary.Connections = len(conns)
	res.Summary.Open = len(conns) - len(closed)
	return res
}

func summarize(durations []float64) Summary {
	s := Summary{Closed: len(durations)}
	if len(durations) == 0 {
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(durations, nil)
	if len(durations) == 1 {
		s.StdDev = 0
	}
	s.Min = floats.Min(durations)
	s.Max = floats.Max(durations)
	return s
}

// Window is a span of start offsets, e.g. the period an attack was running.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Phase summarises the connections whose start offset falls in one span
// relative to a Window.
type Phase struct {
	Name    string  `json:"name"`
	Summary Summary `json:"summary"`
}

// Phases splits the points into before, during and after the window.
func Phases(res Result, w Window) []Phase {
	start, end := w.Start.Seconds(), w.End.Seconds()
	buckets := [3][]Point{}
	for _, p := range res.Points {
		switch {
		case p.Offset < start:
			buckets[0] = append(buckets[0], p)
		case p.Offset < end:
			buckets[1] = append(buckets[1], p)
		default:
			buckets[2] = append(buckets[2], p)
		}
	}

	names := [3]string{"before", "during", "after"}
	phases := make([]Phase, 0, 3)
	for i, pts := range buckets {
		var closed []float64
		for _, p := range pts {
			if p.Closed {
				closed = append(closed, p.Duration)
			}
		}
		s := summarize(closed)
		s.Connections = len(pts)
		s.Open = len(pts) - len(closed)
		phases = append(phases, Phase{Name: names[i], Summary: s})
	}
	return phases
}
