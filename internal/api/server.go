// Package api serves the live connection table over HTTP.
package api

import (
	"TCPScope/internal/analysis/duration"
	"TCPScope/internal/engine/lifecycle"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Source provides the connection table to serve.
type Source interface {
	Snapshot() lifecycle.Snapshot
}

// Options configures the analysis endpoints.
type Options struct {
	Analysis duration.Options
	Plot     duration.PlotOptions
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP API of a running monitor.
type Server struct {
	server    *http.Server
	accessLog io.Closer
}

// NewServer builds the router for src and wraps it in an access log.
func NewServer(addr string, src Source, opts Options) *Server {
	accessLog := log.StandardLogger().WriterLevel(log.InfoLevel)
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handlers.LoggingHandler(accessLog, NewRouter(src, opts)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		accessLog: accessLog,
	}
}

// NewRouter registers every route on a gorilla/mux router.
func NewRouter(src Source, opts Options) *mux.Router {
	if opts.Plot.Width <= 0 || opts.Plot.Height <= 0 {
		opts.Plot = duration.DefaultPlotOptions()
	}
	h := &APIHandler{source: src, opts: opts}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/connections", h.connectionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/durations", h.durationsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/plot.png", h.plotHandler).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.statsHandler).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return r
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("API server starting on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server on %s failed: %v", s.server.Addr, err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("API server shutting down...")
	defer s.accessLog.Close()
	return s.server.Shutdown(ctx)
}
