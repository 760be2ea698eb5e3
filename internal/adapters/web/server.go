// Package web serves the read-only query surface: dataset status,
// live records, diff logs, metrics and the diff event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/seccorpus/certmap/internal/core/ports"
)

// Server hosts the HTTP API over one or more datasets.
type Server struct {
	store      ports.SnapshotStore
	datasets   []string
	broadcast  *WSBroadcaster
	httpServer *http.Server
}

// NewServer builds the server. broadcast may be shared with the
// pipeline as its diff notifier.
func NewServer(addr string, store ports.SnapshotStore, datasets []string, broadcast *WSBroadcaster) *Server {
	s := &Server{store: store, datasets: datasets, broadcast: broadcast}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/{dataset}/certs/{dgst}", s.handleLiveGet).Methods(http.MethodGet)
	r.HandleFunc("/api/{dataset}/diffs/{dgst}", s.handleDiffs).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/ws/diffs", broadcast.HandleWebSocket)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "certmap-web"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("web server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type datasetStatus struct {
	Dataset string `json:"dataset"`
	Count   int    `json:"count"`
	LastRun any    `json:"last_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := make([]datasetStatus, 0, len(s.datasets))
	for _, dataset := range s.datasets {
		live, err := s.store.LiveAll(r.Context(), dataset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		st := datasetStatus{Dataset: dataset, Count: len(live)}
		if run, err := s.store.LastRun(r.Context(), dataset); err == nil && run != nil {
			st.LastRun = run
		}
		out = append(out, st)
	}
	writeJSON(w, out)
}

func (s *Server) handleLiveGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	record, err := s.store.LiveGet(r.Context(), vars["dataset"], vars["dgst"])
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		httpError(w, http.StatusNotFound, errors.New("unknown digest"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(record)
}

func (s *Server) handleDiffs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	diffs, err := s.store.DiffsFor(r.Context(), vars["dataset"], vars["dgst"])
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, diffs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, err error) {
	http.Error(w, err.Error(), code)
}
