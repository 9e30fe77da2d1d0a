// File: reactor/reactor.go
// Package reactor provides the edge-triggered readiness facility that
// drives the event loop. Platform implementations live behind build
// tags; Linux uses epoll(7).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "errors"

// ErrUnsupported is returned by New on platforms without a readiness
// facility implementation.
var ErrUnsupported = errors.New("reactor: unsupported platform")

// EventType is a bit set of readiness conditions.
type EventType uint32

const (
	// EventRead: the descriptor has bytes to read (or pending accepts).
	EventRead EventType = 1 << iota
	// EventWrite: the descriptor accepts writes again.
	EventWrite
	// EventError: error or hangup; the descriptor must be torn down.
	EventError
)

// Event reports readiness for one descriptor.
type Event struct {
	FD     int
	Events EventType
}

// Reactor registers descriptors for edge-triggered readiness
// notifications. Registered descriptors appear ready only on state
// transitions, so callers must drain until EAGAIN.
type Reactor interface {
	// Add registers fd for the given events.
	Add(fd int, events EventType) error
	// Modify replaces the event set of an already registered fd.
	Modify(fd int, events EventType) error
	// Delete removes fd from the watch set.
	Delete(fd int) error
	// Wait blocks up to timeoutMs (-1 blocks indefinitely) and fills
	// events with ready descriptors, returning the count. A signal
	// interruption yields (0, nil).
	Wait(events []Event, timeoutMs int) (int, error)
	// Close releases the facility.
	Close() error
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	return newReactor()
}
