package cli

import (
	"TCPScope/internal/analysis/capstats"
	"TCPScope/internal/config"
	"TCPScope/pkg/pcap"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newCapStatsCommand(a *app) *cobra.Command {
	var (
		interval time.Duration
		jsonOut  string
		libpcap  bool
	)
	cmd := &cobra.Command{
		Use:   "capstats <pcap>",
		Short: "Report throughput, goodput, loss and maximum frame size of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = config.Duration(a.cfg.CapStats.Interval, capstats.DefaultInterval)
			}

			reader, err := openCapture(args[0], libpcap)
			if err != nil {
				return err
			}
			defer reader.Close()

			report, err := capstats.Compute(reader.Frames(), interval)
			if errors.Is(err, capstats.ErrNoFrames) {
				return fmt.Errorf("%s: %w", args[0], pcap.ErrEmptyCapture)
			}
			if err != nil {
				return err
			}

			printCapStats(cmd.OutOrStdout(), report)
			if jsonOut != "" {
				return writeJSONFile(jsonOut, report)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", capstats.DefaultInterval, "throughput interval (default capstats.interval)")
	cmd.Flags().StringVar(&jsonOut, "json", "", "write the report as JSON to this file")
	cmd.Flags().BoolVar(&libpcap, "libpcap", false, "read the capture through libpcap")
	return cmd
}

func printCapStats(w io.Writer, r *capstats.Report) {
	fmt.Fprintf(w, "Frames: %d, bytes: %d, duration: %.3fs\n", r.Frames, r.Bytes, r.Duration)
	fmt.Fprintln(w, "Throughput:")
	for _, iv := range r.Intervals {
		fmt.Fprintf(w, "  %6.0f <> %-6.0f %8d frames %12d bytes %14.0f bits/s\n", iv.Start, iv.End, iv.Frames, iv.Bytes, iv.BitsPerSecond)
	}
	fmt.Fprintf(w, "  overall %.0f bits/s, interval mean %.0f bits/s, peak %.0f bits/s\n", r.Throughput, r.MeanBps, r.PeakBps)
	fmt.Fprintf(w, "Goodput (data packets / TCP packets): %.2f%% (%d / %d), %.0f bits/s of payload\n",
		r.GoodputPercent, r.DataPackets, r.TCPPackets, r.GoodputBps)
	fmt.Fprintf(w, "Packet loss rate: %.2f%% (%d lost segments)\n", r.LossRate, r.LostSegments)
	fmt.Fprintf(w, "Maximum packet size achieved: %d\n", r.MaxFrameLength)
}
