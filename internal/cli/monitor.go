package cli

import (
	"TCPScope/internal/api"
	"TCPScope/internal/engine/monitor"
	"TCPScope/internal/probe/persistent"
	"TCPScope/pkg/pcap"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type monitorFlags struct {
	iface   string
	bpf     string
	replay  string
	record  bool
	apiAddr string
}

func newMonitorCommand(a *app) *cobra.Command {
	f := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Track connection lifecycles on a live interface or a replayed capture",
		Long: `monitor feeds packets into the lifecycle tracker, writes periodic snapshots,
publishes transitions, evaluates alert rules and serves the HTTP API, as
configured. With --pcap the capture is replayed and the API keeps serving
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMonitor(cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.iface, "interface", "i", "", "capture interface (default capture.interface)")
	cmd.Flags().StringVar(&f.bpf, "bpf", "", "BPF filter (default capture.bpf_filter)")
	cmd.Flags().StringVar(&f.replay, "pcap", "", "replay this capture file instead of capturing live")
	cmd.Flags().BoolVar(&f.record, "record", false, "record traffic to capture.record.path")
	cmd.Flags().StringVar(&f.apiAddr, "api-addr", "", "serve the HTTP API on this address (enables the API)")
	return cmd
}

func (a *app) runMonitor(cmd *cobra.Command, f *monitorFlags) error {
	cfg := a.cfg
	if f.iface != "" {
		cfg.Capture.Interface = f.iface
	}
	if cmd.Flags().Changed("bpf") {
		cfg.Capture.BPFFilter = f.bpf
	}
	if f.record {
		cfg.Capture.Record.Enabled = true
	}
	if f.apiAddr != "" {
		cfg.API.Enabled = true
		cfg.API.ListenAddr = f.apiAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reader *pcap.Reader
	var err error
	if f.replay != "" {
		reader, err = pcap.NewReader(f.replay)
	} else {
		if cfg.Capture.Interface == "" {
			return fmt.Errorf("no capture interface: set capture.interface or --interface")
		}
		reader, err = pcap.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.BPFFilter)
	}
	if err != nil {
		return err
	}
	defer reader.Close()

	m, err := monitor.NewMonitor(cfg)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	var recorder *persistent.Worker
	if cfg.Capture.Record.Enabled {
		recorder, err = persistent.NewWorker(cfg.Capture.Record, reader.LinkType(), cfg.Capture.SnapshotLen)
		if err != nil {
			return err
		}
	}

	var server *api.Server
	if cfg.API.Enabled {
		analysisOpts, plotOpts := a.analysisOptions()
		server = api.NewServer(cfg.API.ListenAddr, m, api.Options{
			Analysis: analysisOpts,
			Plot:     plotOpts,
			Metrics:  m.Metrics().Handler(),
		})
		server.Start()
	}

	m.Start()
	go func() {
		<-ctx.Done()
		reader.Interrupt()
	}()

	log.Printf("Monitoring %s...", sourceName(f, cfg.Capture.Interface))
	for frame := range reader.Frames() {
		if recorder != nil {
			recorder.Enqueue(frame)
		}
		if frame.Info != nil {
			m.Input() <- frame.Info
		}
	}

	m.Stop()
	if recorder != nil {
		recorder.Stop()
	}

	if server == nil {
		return nil
	}
	if f.replay != "" && ctx.Err() == nil {
		log.Printf("Replay of '%s' finished, serving API until interrupted.", f.replay)
		<-ctx.Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func sourceName(f *monitorFlags, iface string) string {
	if f.replay != "" {
		return "capture " + f.replay
	}
	return "interface " + iface
}
