package api

import (
	"TCPScope/internal/analysis/duration"
	"TCPScope/internal/engine/lifecycle"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	source Source
	opts   Options
}

type connectionsResponse struct {
	TakenAt     time.Time              `json:"taken_at"`
	Count       int                    `json:"count"`
	Connections []lifecycle.Connection `json:"connections"`
}

type durationsResponse struct {
	duration.Result
	Phases []duration.Phase `json:"phases,omitempty"`
}

// connectionsHandler lists tracked connections, optionally filtered by state.
func (h *APIHandler) connectionsHandler(w http.ResponseWriter, r *http.Request) {
	var want lifecycle.State
	switch state := r.URL.Query().Get("state"); state {
	case "":
	case "open":
		want = lifecycle.StateOpen
	case "closed":
		want = lifecycle.StateClosed
	default:
		http.Error(w, fmt.Sprintf("invalid state %q: must be open or closed", state), http.StatusBadRequest)
		return
	}

	snap := h.source.Snapshot()
	conns := make([]lifecycle.Connection, 0, len(snap.Connections))
	for _, c := range snap.Connections {
		if want == 0 || c.Record.State == want {
			conns = append(conns, c)
		}
	}
	writeJSON(w, connectionsResponse{TakenAt: snap.TakenAt, Count: len(conns), Connections: conns})
}

// durationsHandler returns the duration analysis of the current table.
func (h *APIHandler) durationsHandler(w http.ResponseWriter, r *http.Request) {
	res := duration.Analyze(h.source.Snapshot().Connections, h.opts.Analysis)
	resp := durationsResponse{Result: res}
	if len(res.Points) > 0 {
		resp.Phases = duration.Phases(res, h.opts.Plot.Window)
	}
	writeJSON(w, resp)
}

// plotHandler renders the duration scatter plot as PNG.
func (h *APIHandler) plotHandler(w http.ResponseWriter, r *http.Request) {
	res := duration.Analyze(h.source.Snapshot().Connections, h.opts.Analysis)

	var buf bytes.Buffer
	if err := duration.WritePNG(res, h.opts.Plot, &buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Debugf("Failed to write plot response: %v", err)
	}
}

// statsHandler reports the packet classification counters.
func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.source.Snapshot().Stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
