// SPDX-License-Identifier: GPL-3.0-or-later

// Package web serves the read-only HTTP surface of the supervisor.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpkimon/rpkimon/agent"
	"github.com/rpkimon/rpkimon/logger"
)

const indexPage = `<html>
<head><title>rpki-client supervisor</title></head>
<body>
    <h1>rpki-client supervisor</h1>
    <p><a href="/cache">Cache directory</a></p>
    <p><a href="/config">Configuration</a></p>
    <p><a href="/metrics">Metrics</a></p>
    <p><a href="/objects/validated">Validated objects</a></p>
    <p><a href="/result">Result</a></p>
</body>
</html>`

// Server exposes configuration, the last run result, the validated
// objects file, and the metrics scrape. All endpoints are read-only and
// available before the first validator run completes.
type Server struct {
	*logger.Logger

	addr  string
	agent *agent.Agent
}

// NewServer creates a Server for the given agent.
func NewServer(ag *agent.Agent) *Server {
	cfg := ag.Config()

	return &Server{
		Logger: logger.New().With("component", "web"),
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		agent:  ag,
	}
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Infof("listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", s.addr, err)
	}
}

func (s *Server) handler() http.Handler {
	cfg := s.agent.Config()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.index)
	mux.HandleFunc("/config", s.config)
	mux.HandleFunc("/result", s.result)
	mux.HandleFunc("/objects/validated", s.validatedObjects)
	mux.Handle("/metrics", promhttp.HandlerFor(s.agent.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/cache/", http.StripPrefix("/cache/", http.FileServer(http.Dir(cfg.CacheDir))))

	return mux
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

func (s *Server) config(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.agent.Config())
}

// result reports the last run, or a distinct "not yet available"
// condition before the first run has completed.
func (s *Server) result(w http.ResponseWriter, _ *http.Request) {
	res := s.agent.LastResult()
	if res == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no result available yet",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) validatedObjects(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.agent.Config().OutputDir, "json")
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Warningf("writing response: %v", err)
	}
}
