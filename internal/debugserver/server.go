// Package debugserver exposes a connection's status and Prometheus
// metrics over HTTP, for operators running cmd/pgconn-cli against a
// long-lived connection. It carries none of the teacher's tenant CRUD
// or pool administration surface — there is exactly one connection to
// report on here, not a fleet to manage.
package debugserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/php-pg/pgconn/internal/metrics"
)

// StatusSource is the subset of *pgconn.Conn the debug server reports
// on. Defined as an interface, rather than importing pgconn directly,
// so cmd/pgconn-cli can wire a live *pgconn.Conn in without this
// package depending on it.
type StatusSource interface {
	PID() uint32
	TxStatus() byte
	ParameterStatus(name string) string
	IsClosed() bool
}

// Server is the debug/status HTTP server.
type Server struct {
	source     StatusSource
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a debug server reporting on source.
func NewServer(source StatusSource, m *metrics.Collector) *Server {
	return &Server{
		source:    source,
		metrics:   m,
		startTime: time.Now(),
	}
}

// Start starts the HTTP debug server listening on addr (e.g. "127.0.0.1:8080").
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[debugserver] listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[debugserver] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the debug server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"backend_pid":    s.source.PID(),
		"tx_status":      string(rune(s.source.TxStatus())),
		"server_version": s.source.ParameterStatus("server_version"),
		"in_hot_standby": s.source.ParameterStatus("in_hot_standby"),
		"closed":         s.source.IsClosed(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.source.IsClosed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "closed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
