package duration

import (
	"fmt"
	"image/color"
	"io"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotOptions controls the scatter rendering.
type PlotOptions struct {
	Title  string
	Width  vg.Length
	Height vg.Length
	// Markers are drawn as dashed vertical lines when End > Start.
	Window Window
}

// DefaultPlotOptions matches the SYN flood lab figure: 12x6 inches with the
// attack running from 20s to 120s.
func DefaultPlotOptions() PlotOptions {
	return PlotOptions{
		Title:  "SYN Flood Attack: Connection Duration vs. Start Time",
		Width:  12 * vg.Inch,
		Height: 6 * vg.Inch,
		Window: Window{Start: 20 * time.Second, End: 120 * time.Second},
	}
}

var (
	pointColor = color.NRGBA{R: 31, G: 119, B: 180, A: 128}
	startColor = color.NRGBA{R: 214, G: 39, B: 40, A: 255}
	endColor   = color.NRGBA{R: 44, G: 160, B: 44, A: 255}
)

// NewPlot builds the scatter of start offset against duration.
func NewPlot(res Result, opts PlotOptions) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "Connection Start Time (seconds)"
	p.Y.Label.Text = "Connection Duration (seconds)"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	xys := make(plotter.XYs, len(res.Points))
	yMax := 1.0
	for i, pt := range res.Points {
		xys[i].X = pt.Offset
		xys[i].Y = pt.Duration
		if pt.Duration > yMax {
			yMax = pt.Duration
		}
	}

	if len(xys) > 0 {
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("failed to build scatter: %w", err)
		}
		scatter.GlyphStyle.Color = pointColor
		scatter.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(scatter)
		p.Legend.Add("Connection Duration", scatter)
	}

	if opts.Window.End > opts.Window.Start {
		yTop := yMax * 1.05
		markers := []struct {
			at    time.Duration
			label string
			c     color.Color
		}{
			{opts.Window.Start, fmt.Sprintf("Attack Start (%gs)", opts.Window.Start.Seconds()), startColor},
			{opts.Window.End, fmt.Sprintf("Attack End (%gs)", opts.Window.End.Seconds()), endColor},
		}
		for _, m := range markers {
			x := m.at.Seconds()
			line, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: yTop}})
			if err != nil {
				return nil, fmt.Errorf("failed to build marker: %w", err)
			}
			line.LineStyle.Color = m.c
			line.LineStyle.Width = vg.Points(1.5)
			line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
			p.Add(line)
			p.Legend.Add(m.label, line)
		}
	}

	return p, nil
}

// Render saves the plot to path. The format follows the file extension.
func Render(res Result, opts PlotOptions, path string) error {
	p, err := NewPlot(res, opts)
	if err != nil {
		return err
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return fmt.Errorf("failed to save plot to '%s': %w", path, err)
	}
	return nil
}

// WritePNG streams the rendered plot as PNG.
func WritePNG(res Result, opts PlotOptions, w io.Writer) error {
	p, err := NewPlot(res, opts)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
