// Package server exposes the agent's local HTTP surface: liveness probes,
// the device status document and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// StatusProvider supplies the live state rendered on /status.
type StatusProvider interface {
	Phase() updater.Phase
	Current() (updater.Target, error)
	Pending() (updater.Target, bool, error)
}

// statusDocument is the JSON body of /status.
type statusDocument struct {
	DeviceID string          `json:"deviceId"`
	Phase    updater.Phase   `json:"phase"`
	Current  *updater.Target `json:"current,omitempty"`
	Pending  *updater.Target `json:"pending,omitempty"`
	Time     time.Time       `json:"time"`
}

type Server struct {
	server   *http.Server
	deviceID string
	provider StatusProvider
	log      log.Logger
}

func NewServer(opts *options.HttpOptions, deviceID string, provider StatusProvider) *Server {
	s := &Server{
		deviceID: deviceID,
		provider: provider,
		log:      log.WithName("http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc := statusDocument{
		DeviceID: s.deviceID,
		Phase:    s.provider.Phase(),
		Time:     time.Now().UTC(),
	}

	if current, err := s.provider.Current(); err != nil {
		s.log.Error(err, "Reading current version failed")
		http.Error(w, "version store unavailable", http.StatusInternalServerError)
		return
	} else if !current.Unknown() {
		doc.Current = &current
	}

	if pending, ok, err := s.provider.Pending(); err != nil {
		s.log.Error(err, "Reading pending version failed")
		http.Error(w, "version store unavailable", http.StatusInternalServerError)
		return
	} else if ok {
		doc.Pending = &pending
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log.Error(err, "Encoding status document failed")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
