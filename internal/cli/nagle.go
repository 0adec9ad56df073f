package cli

import (
	"TCPScope/internal/config"
	"TCPScope/internal/nagle"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type nagleFlags struct {
	nagle      bool
	delayedAck bool
	host       string
	port       int
	name       string

	readBuffer int

	dataSize  int
	chunkSize int
	interval  time.Duration
	duration  time.Duration
}

func newNagleCommand(a *app) *cobra.Command {
	f := &nagleFlags{}
	defaults := config.Default().Nagle

	cmd := &cobra.Command{
		Use:   "nagle",
		Short: "Measure a transfer with Nagle's algorithm and delayed ACK on or off",
	}
	pf := cmd.PersistentFlags()
	pf.BoolVar(&f.nagle, "nagle", false, "enable Nagle's algorithm")
	pf.BoolVar(&f.delayedAck, "delayed-ack", false, "enable delayed ACK")
	pf.StringVar(&f.host, "host", defaults.Host, "address to listen on or connect to (default nagle.host)")
	pf.IntVar(&f.port, "port", defaults.Port, "TCP port (default nagle.port)")
	pf.StringVar(&f.name, "config-name", "", "label printed with the results")

	server := &cobra.Command{
		Use:   "server",
		Short: "Accept one connection and report throughput and goodput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := a.nagleConfig(cmd, f)
			srv, err := nagle.Listen(nagle.ServerConfig{
				Addr:       net.JoinHostPort(n.Host, strconv.Itoa(n.Port)),
				Options:    nagle.Options{Nagle: f.nagle, DelayedAck: f.delayedAck},
				ReadBuffer: n.ReadBuffer,
			})
			if err != nil {
				return err
			}
			log.Printf("Waiting for a connection on %s", srv.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := srv.Serve(ctx)
			if res != nil {
				res.Print(cmd.OutOrStdout(), label(f.name, "Server Test"))
			}
			return err
		},
	}
	server.Flags().IntVar(&f.readBuffer, "read-buffer", defaults.ReadBuffer, "receive buffer size (default nagle.read_buffer)")

	client := &cobra.Command{
		Use:   "client",
		Short: "Send data in small chunks at a fixed interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := a.nagleConfig(cmd, f)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := nagle.RunClient(ctx, nagle.ClientConfig{
				Addr:      net.JoinHostPort(n.Host, strconv.Itoa(n.Port)),
				Options:   nagle.Options{Nagle: f.nagle, DelayedAck: f.delayedAck},
				DataSize:  n.DataSize,
				ChunkSize: n.ChunkSize,
				Interval:  config.Duration(n.Interval, time.Second),
				Duration:  config.Duration(n.Duration, 120*time.Second),
			})
			if res != nil {
				res.Print(cmd.OutOrStdout(), label(f.name, "Client Test"))
			}
			return err
		},
	}
	cf := client.Flags()
	cf.IntVar(&f.dataSize, "data-size", defaults.DataSize, "bytes to send (default nagle.data_size)")
	cf.IntVar(&f.chunkSize, "chunk-size", defaults.ChunkSize, "bytes per send (default nagle.chunk_size)")
	cf.DurationVar(&f.interval, "interval", time.Second, "pause between sends (default nagle.interval)")
	cf.DurationVar(&f.duration, "duration", 120*time.Second, "maximum run time (default nagle.duration)")

	cmd.AddCommand(server, client)
	return cmd
}

// nagleConfig overlays explicitly set flags on the nagle config section.
func (a *app) nagleConfig(cmd *cobra.Command, f *nagleFlags) config.NagleConfig {
	n := a.cfg.Nagle
	flags := cmd.Flags()
	if flags.Changed("host") {
		n.Host = f.host
	}
	if flags.Changed("port") {
		n.Port = f.port
	}
	if flags.Changed("read-buffer") {
		n.ReadBuffer = f.readBuffer
	}
	if flags.Changed("data-size") {
		n.DataSize = f.dataSize
	}
	if flags.Changed("chunk-size") {
		n.ChunkSize = f.chunkSize
	}
	if flags.Changed("interval") {
		n.Interval = f.interval.String()
	}
	if flags.Changed("duration") {
		n.Duration = f.duration.String()
	}
	return n
}

func label(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
