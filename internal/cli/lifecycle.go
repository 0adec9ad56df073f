package cli

import (
	"TCPScope/internal/analysis/duration"
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/pkg/pcap"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type lifecycleFlags struct {
	plot        string
	noPlot      bool
	sentinel    time.Duration
	attackStart time.Duration
	attackEnd   time.Duration
	jsonOut     string
	list        bool
	libpcap     bool
}

func newLifecycleCommand(a *app) *cobra.Command {
	f := &lifecycleFlags{}
	cmd := &cobra.Command{
		Use:   "lifecycle <pcap>",
		Short: "Infer connection lifetimes from a capture and plot durations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLifecycle(cmd, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.plot, "plot", "p", "", "plot output path (default lifecycle.plot_output)")
	cmd.Flags().BoolVar(&f.noPlot, "no-plot", false, "skip rendering the plot")
	cmd.Flags().DurationVar(&f.sentinel, "sentinel", 0, "duration used for connections never closed (default lifecycle.open_sentinel)")
	cmd.Flags().DurationVar(&f.attackStart, "attack-start", 0, "attack start marker (default lifecycle.attack_start)")
	cmd.Flags().DurationVar(&f.attackEnd, "attack-end", 0, "attack end marker (default lifecycle.attack_end)")
	cmd.Flags().StringVar(&f.jsonOut, "json", "", "write connections and analysis as JSON to this file")
	cmd.Flags().BoolVarP(&f.list, "list", "l", false, "print every connection")
	cmd.Flags().BoolVar(&f.libpcap, "libpcap", false, "read the capture through libpcap")
	return cmd
}

type lifecycleReport struct {
	Stats       lifecycle.Stats        `json:"stats"`
	Connections []lifecycle.Connection `json:"connections"`
	Analysis    duration.Result        `json:"analysis"`
	Phases      []duration.Phase       `json:"phases"`
}

func (a *app) runLifecycle(cmd *cobra.Command, f *lifecycleFlags, path string) error {
	analysisOpts, plotOpts := a.analysisOptions()
	if cmd.Flags().Changed("sentinel") {
		analysisOpts.Sentinel = f.sentinel
	}
	if cmd.Flags().Changed("attack-start") {
		plotOpts.Window.Start = f.attackStart
	}
	if cmd.Flags().Changed("attack-end") {
		plotOpts.Window.End = f.attackEnd
	}

	reader, err := openCapture(path, f.libpcap)
	if err != nil {
		return err
	}
	defer reader.Close()
	log.Printf("Reading packets from '%s'...", path)

	tracker := lifecycle.NewTracker()
	frames := 0
	for frame := range reader.Frames() {
		frames++
		if frame.Info != nil {
			tracker.ProcessPacket(frame.Info)
		}
	}
	if frames == 0 {
		return fmt.Errorf("%s: %w", path, pcap.ErrEmptyCapture)
	}
	stats := tracker.Stats()

	conns := tracker.Connections()
	res := duration.Analyze(conns, analysisOpts)
	phases := duration.Phases(res, plotOpts.Window)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Frames: %d (%d non-IP)\n", frames, frames-int(stats.Packets))
	printLifecycle(out, stats, res, phases)
	if len(conns) == 0 {
		fmt.Fprintln(out, "No TCP connections found.")
	}
	if f.list {
		printConnections(out, conns)
	}

	if f.jsonOut != "" {
		if err := writeJSONFile(f.jsonOut, lifecycleReport{Stats: stats, Connections: conns, Analysis: res, Phases: phases}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", f.jsonOut)
	}

	if !f.noPlot {
		plotPath := f.plot
		if plotPath == "" {
			plotPath = a.cfg.Lifecycle.PlotOutput
		}
		if err := duration.Render(res, plotOpts, plotPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "Plot saved to %s\n", plotPath)
	}
	return nil
}

func openCapture(path string, libpcap bool) (*pcap.Reader, error) {
	if libpcap {
		return pcap.NewLibpcapReader(path)
	}
	return pcap.NewReader(path)
}

func printLifecycle(w io.Writer, stats lifecycle.Stats, res duration.Result, phases []duration.Phase) {
	s := res.Summary
	fmt.Fprintf(w, "TCP packets: %d (skipped %d non-TCP)\n", stats.Packets-stats.Skipped, stats.Skipped)
	fmt.Fprintf(w, "Connections: %d (closed %d, open %d)\n", s.Connections, s.Closed, s.Open)
	fmt.Fprintf(w, "Retransmitted SYNs: %d, unmatched FIN/RST: %d\n", stats.RetransmitSYNs, stats.Unmatched)
	if s.Closed > 0 {
		fmt.Fprintf(w, "Closed duration: mean %.3fs, stddev %.3fs, min %.3fs, max %.3fs\n", s.Mean, s.StdDev, s.Min, s.Max)
	}
	if s.Open > 0 {
		fmt.Fprintf(w, "Open connections plotted at %.0fs\n", res.Sentinel)
	}
	for _, p := range phases {
		fmt.Fprintf(w, "  %-7s %5d connections, %5d open, mean closed duration %.3fs\n",
			p.Name+":", p.Summary.Connections, p.Summary.Open, p.Summary.Mean)
	}
}

func printConnections(w io.Writer, conns []lifecycle.Connection) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tDESTINATION\tSTATE\tSTART\tDURATION")
	for _, c := range conns {
		dur := "-"
		if d, ok := c.Record.Duration(); ok {
			dur = d.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.Key.Src(), c.Key.Dst(), c.Record.State, c.Record.StartTime.Format("15:04:05.000000"), dur)
	}
	tw.Flush()
}

func writeJSONFile(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
