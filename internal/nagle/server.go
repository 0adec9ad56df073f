package nagle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// ServerConfig describes the receiving side.
type ServerConfig struct {
	Addr       string
	Options    Options
	ReadBuffer int
}

// ServerResult summarises one received transfer.
type ServerResult struct {
	Options       Options
	BytesReceived int
	Reads         int
	MaxReadSize   int
	Resets        int
	ReceivedTimes []time.Time
	Elapsed       time.Duration
	// Throughput and Goodput are in bytes per second. The payload carries
	// no application framing, so both are equal.
	Throughput float64
	Goodput    float64
}

// LossRate reports resets per connection, as the experiment does.
func (r *ServerResult) LossRate() float64 {
	return float64(r.Resets)
}

// Server accepts a single connection and receives until EOF.
type Server struct {
	ln  net.Listener
	cfg ServerConfig
}

// Listen binds cfg.Addr.
func Listen(cfg ServerConfig) (*Server, error) {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 1024
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	return &Server{ln: ln, cfg: cfg}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close releases the listener.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve accepts one connection and reads it to the end. Cancelling ctx
// closes the listener and the connection.
func (s *Server) Serve(ctx context.Context) (*ServerResult, error) {
	defer s.ln.Close()

	stopAccept := context.AfterFunc(ctx, func() { s.ln.Close() })
	c, err := s.ln.Accept()
	stopAccept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept: %w", err)
	}
	conn := c.(*net.TCPConn)
	defer conn.Close()
	log.Printf("Accepted connection from %s", conn.RemoteAddr())

	res := &ServerResult{Options: s.cfg.Options}
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		if secs := res.Elapsed.Seconds(); secs > 0 {
			res.Throughput = float64(res.BytesReceived) / secs
		}
		res.Goodput = res.Throughput
	}()

	if err := Configure(conn, s.cfg.Options); err != nil {
		return res, err
	}

	stopRead := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopRead()

	buf := make([]byte, s.cfg.ReadBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			res.BytesReceived += n
			res.Reads++
			res.MaxReadSize = max(res.MaxReadSize, n)
			res.ReceivedTimes = append(res.ReceivedTimes, time.Now())
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			return res, nil
		case isReset(err):
			res.Resets++
			log.Warnf("Connection from %s reset after %d bytes", conn.RemoteAddr(), res.BytesReceived)
			return res, nil
		case ctx.Err() != nil:
			return res, nil
		default:
			return res, fmt.Errorf("failed to receive: %w", err)
		}
	}
}

// Print writes the result in the report format of the experiment.
func (r *ServerResult) Print(w io.Writer, name string) {
	fmt.Fprintf(w, "Results for %s (%s):\n", name, r.Options)
	fmt.Fprintf(w, "  Throughput: %.2f bytes/second\n", r.Throughput)
	fmt.Fprintf(w, "  Goodput: %.2f bytes/second\n", r.Goodput)
	fmt.Fprintf(w, "  Packet loss rate: %.4f\n", r.LossRate())
	fmt.Fprintf(w, "  Max packet size received: %d bytes\n", r.MaxReadSize)
	fmt.Fprintf(w, "  Packets received: %d\n", r.Reads)
	fmt.Fprintf(w, "  Packet loss count: %d\n", r.Resets)
	fmt.Fprintln(w, "------------------------------")
}
