// File: server/options.go
// Package server — functional options for Server construction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/epoll-ws/protocol"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHandler replaces the default echo handler.
func WithHandler(h protocol.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithRegistry registers the metric set with reg instead of a fresh
// private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}
