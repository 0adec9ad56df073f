package nagle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// ClientConfig describes one transfer.
type ClientConfig struct {
	Addr      string
	Options   Options
	DataSize  int
	ChunkSize int
	Interval  time.Duration
	Duration  time.Duration
}

// DefaultClientConfig sends 4000 bytes in 40-byte chunks once a second,
// for at most two minutes.
func DefaultClientConfig(addr string) ClientConfig {
	return ClientConfig{
		Addr:      addr,
		DataSize:  4000,
		ChunkSize: 40,
		Interval:  time.Second,
		Duration:  120 * time.Second,
	}
}

// ClientResult summarises a transfer.
type ClientResult struct {
	Options      Options
	BytesSent    int
	PacketsSent  int
	MaxChunkSize int
	// Resets counts connection resets. They end the run and are treated
	// as losses.
	Resets      int
	SentTimes   []time.Time
	Elapsed     time.Duration
	Interrupted bool
}

// RunClient connects and sends cfg.DataSize bytes in chunks until all are
// sent, cfg.Duration elapses or ctx is cancelled.
func RunClient(ctx context.Context, cfg ClientConfig) (*ClientResult, error) {
	if cfg.DataSize <= 0 || cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("data size and chunk size must be positive")
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}
	conn := c.(*net.TCPConn)
	defer conn.Close()

	if err := Configure(conn, cfg.Options); err != nil {
		return nil, err
	}
	log.Debugf("Connected to %s with %s", cfg.Addr, cfg.Options)

	res := &ClientResult{Options: cfg.Options}
	payload := make([]byte, cfg.DataSize)
	for i := range payload {
		payload[i] = 'A'
	}

	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	timer := time.NewTimer(cfg.Interval)
	timer.Stop()
	defer timer.Stop()

	for res.BytesSent < cfg.DataSize && (cfg.Duration <= 0 || time.Since(start) < cfg.Duration) {
		n := min(cfg.ChunkSize, cfg.DataSize-res.BytesSent)
		if _, err := conn.Write(payload[res.BytesSent : res.BytesSent+n]); err != nil {
			if isReset(err) {
				res.Resets++
				log.Warnf("Connection to %s reset after %d bytes", cfg.Addr, res.BytesSent)
				return res, nil
			}
			return res, fmt.Errorf("failed to send chunk: %w", err)
		}
		res.BytesSent += n
		res.PacketsSent++
		res.MaxChunkSize = max(res.MaxChunkSize, n)
		res.SentTimes = append(res.SentTimes, time.Now())

		if res.BytesSent >= cfg.DataSize {
			break
		}
		timer.Reset(cfg.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			res.Interrupted = true
			return res, nil
		}
	}
	return res, nil
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// Print writes the result in the report format of the experiment.
func (r *ClientResult) Print(w io.Writer, name string) {
	fmt.Fprintf(w, "Results for %s (%s):\n", name, r.Options)
	fmt.Fprintf(w, "  Max packet size sent: %d bytes\n", r.MaxChunkSize)
	fmt.Fprintf(w, "  Packets sent: %d\n", r.PacketsSent)
	fmt.Fprintf(w, "  Bytes sent: %d\n", r.BytesSent)
	fmt.Fprintf(w, "  Packet loss count: %d\n", r.Resets)
	fmt.Fprintf(w, "  Elapsed: %s\n", r.Elapsed.Round(time.Millisecond))
	if r.Interrupted {
		fmt.Fprintln(w, "  (interrupted)")
	}
	fmt.Fprintln(w, "------------------------------")
}
