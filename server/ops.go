// File: server/ops.go
// Package server — the operational HTTP endpoint.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The ops listener runs on its own goroutine with net/http; it never
// touches connection state, only the metric registry.

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// opsServer serves /metrics and /healthz when cfg.OpsAddr is set.
type opsServer struct {
	httpSrv *http.Server
	addr    string
}

// startOps launches the ops endpoint, or returns an inert handle when
// it is disabled.
func (s *Server) startOps() *opsServer {
	if s.cfg.OpsAddr == "" {
		return &opsServer{}
	}

	ln, err := net.Listen("tcp", s.cfg.OpsAddr)
	if err != nil {
		s.log.Error("ops endpoint failed", "addr", s.cfg.OpsAddr, "err", err)
		return &opsServer{}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("ops endpoint listening", "addr", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops endpoint failed", "err", err)
		}
	}()
	return &opsServer{httpSrv: srv, addr: ln.Addr().String()}
}

// stop shuts the ops listener down, waiting briefly for in-flight
// scrapes.
func (o *opsServer) stop() {
	if o.httpSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = o.httpSrv.Shutdown(ctx)
}
