// File: server/config.go
// Package server wires the reactor, the protocol engine, and the
// client table into a single-threaded WebSocket echo server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "fmt"

// Defaults for Config fields.
const (
	DefaultListenAddr     = ":8000"
	DefaultBufferSize     = 1 << 20 // 1 MiB receive buffer per connection
	MinBufferSize         = 64 << 10
	DefaultMaxMessageSize = 8 << 20 // fragmented-message accumulator cap
	DefaultPollBatch      = 128
	DefaultPollTimeoutMs  = 100
	DefaultBacklog        = 128
)

// Config holds server tunables. normalize fills zero values of
// ListenAddr, BufferSize, PollBatch, PollTimeoutMs and Backlog from
// defaults; a zero MaxMessageSize or OpsAddr stays zero and disables
// that feature.
type Config struct {
	// ListenAddr is the host:port for the WebSocket listener.
	ListenAddr string

	// BufferSize is the per-connection receive buffer capacity. A
	// single frame can never exceed it. Minimum 64 KiB.
	BufferSize int

	// MaxMessageSize caps the fragmented-message accumulator; zero
	// disables the cap.
	MaxMessageSize int

	// OpsAddr, when non-empty, serves /metrics and /healthz on a side
	// HTTP listener.
	OpsAddr string

	// PollBatch is the number of readiness events drained per wait.
	PollBatch int

	// PollTimeoutMs bounds each readiness wait so shutdown is noticed.
	PollTimeoutMs int

	// Backlog is the listen(2) queue depth.
	Backlog int
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     DefaultListenAddr,
		BufferSize:     DefaultBufferSize,
		MaxMessageSize: DefaultMaxMessageSize,
		PollBatch:      DefaultPollBatch,
		PollTimeoutMs:  DefaultPollTimeoutMs,
		Backlog:        DefaultBacklog,
	}
}

func (cfg *Config) normalize() error {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize < MinBufferSize {
		return fmt.Errorf("buffer size %d below minimum %d", cfg.BufferSize, MinBufferSize)
	}
	if cfg.MaxMessageSize < 0 {
		return fmt.Errorf("max message size must not be negative")
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = DefaultPollBatch
	}
	if cfg.PollTimeoutMs <= 0 {
		cfg.PollTimeoutMs = DefaultPollTimeoutMs
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	return nil
}
