// Package persistent keeps a copy of live traffic on disk while it is
// being tracked.
package persistent

import (
	"TCPScope/internal/config"
	"TCPScope/internal/model"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// Worker writes frames to a timestamped file on a single goroutine so the
// output keeps capture order.
type Worker struct {
	frameChan chan model.Frame
	done      chan struct{}
	dropped   uint64
	mu        sync.Mutex
	path      string
}

// NewWorker creates the output file and starts writing.
func NewWorker(cfg config.RecordConfig, linkType layers.LinkType, snapshotLen int32) (*Worker, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}

	file, err := createOutputFile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}

	var write func(io.Writer, model.Frame) error
	out := bufio.NewWriter(file)
	switch cfg.Encoding {
	case "", "pcap":
		pw := pcapgo.NewWriter(out)
		if snapshotLen <= 0 {
			snapshotLen = 65536
		}
		if err := pw.WriteFileHeader(uint32(snapshotLen), linkType); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
		write = func(_ io.Writer, f model.Frame) error {
			ci := gopacket.CaptureInfo{Timestamp: f.Timestamp, CaptureLength: len(f.Data), Length: f.Length}
			return pw.WritePacket(ci, f.Data)
		}
	case "text":
		write = writeText
	default:
		file.Close()
		return nil, fmt.Errorf("unknown record encoding '%s'", cfg.Encoding)
	}

	w := &Worker{
		frameChan: make(chan model.Frame, bufferSize),
		done:      make(chan struct{}),
		path:      file.Name(),
	}

	go func() {
		defer close(w.done)
		for frame := range w.frameChan {
			if err := write(out, frame); err != nil {
				log.Warnf("Recorder: error writing frame: %v", err)
			}
		}
		if err := out.Flush(); err != nil {
			log.Warnf("Recorder: error flushing %s: %v", w.path, err)
		}
		if err := file.Close(); err != nil {
			log.Warnf("Recorder: error closing %s: %v", w.path, err)
		}
	}()

	log.Printf("Recording %s traffic to %s", orPcap(cfg.Encoding), w.path)
	return w, nil
}

func orPcap(encoding string) string {
	if encoding == "" {
		return "pcap"
	}
	return encoding
}

func createOutputFile(cfg config.RecordConfig) (*os.File, error) {
	ext := ".pcap"
	if cfg.Encoding == "text" {
		ext = ".log"
	}
	fileName := time.Now().Format("2006-01-02_15-04-05") + ext
	return os.OpenFile(filepath.Join(cfg.Path, fileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func writeText(out io.Writer, f model.Frame) error {
	if f.Info == nil {
		_, err := fmt.Fprintf(out, "%s - non-IP frame, Len: %d\n", f.Timestamp.Format("2006-01-02 15:04:05.000000"), f.Length)
		return err
	}
	p := f.Info
	flags := ""
	if p.TCP != nil {
		flags = ", Flags: " + p.TCP.Flags.String()
	}
	_, err := fmt.Fprintf(out, "%s - %s:%d -> %s:%d, Proto: %d, Len: %d%s\n",
		p.Timestamp.Format("2006-01-02 15:04:05.000000"),
		p.FiveTuple.SrcIP,
		p.FiveTuple.SrcPort,
		p.FiveTuple.DstIP,
		p.FiveTuple.DstPort,
		p.FiveTuple.Protocol,
		p.Length,
		flags,
	)
	return err
}

// Path returns the file being written.
func (w *Worker) Path() string {
	return w.path
}

// Enqueue queues a frame, dropping it when the buffer is full.
func (w *Worker) Enqueue(frame model.Frame) {
	select {
	case w.frameChan <- frame:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

// Dropped returns the number of frames lost to a full buffer.
func (w *Worker) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Stop flushes queued frames and closes the file. Enqueue must not be
// called afterwards.
func (w *Worker) Stop() {
	close(w.frameChan)
	<-w.done
	if d := w.Dropped(); d > 0 {
		log.Warnf("Recorder: %d frames dropped, buffer was full", d)
	}
	log.Printf("Recorder stopped, file %s closed.", w.path)
}
