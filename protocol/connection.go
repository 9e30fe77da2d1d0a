// File: protocol/connection.go
// Package protocol — per-client connection state.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"log/slog"

	"github.com/momentics/epoll-ws/core/buffer"
)

// ConnState is the lifecycle phase of a client connection.
type ConnState uint8

const (
	// StateTCPConnected: accepted, no bytes seen yet.
	StateTCPConnected ConnState = iota
	// StateHTTPUpgrade: accumulating the upgrade request.
	StateHTTPUpgrade
	// StateWebSocket: upgrade complete, exchanging frames.
	StateWebSocket
	// StateWebSocketClosing: a Close frame was sent or received; only
	// already-buffered frames are drained, no new data frames go out.
	StateWebSocketClosing
)

func (s ConnState) String() string {
	switch s {
	case StateTCPConnected:
		return "tcp-connected"
	case StateHTTPUpgrade:
		return "http-upgrade"
	case StateWebSocket:
		return "websocket"
	case StateWebSocketClosing:
		return "websocket-closing"
	}
	return "unknown"
}

// Conn holds everything the engine needs to drive one client: the
// socket descriptor, the receive buffer, the lifecycle state, and the
// accumulator for fragmented messages.
//
// A Conn is owned by a single event loop; nothing here is synchronized.
type Conn struct {
	FD         int
	RemoteIP   string
	RemotePort uint16

	State ConnState
	Buf   *buffer.Buffer

	// fragmentation accumulator
	assembling bool
	msgOpcode  Opcode
	assembled  []byte

	closeSent bool

	log *slog.Logger
}

// NewConn builds a connection in StateTCPConnected with a receive
// buffer of bufSize bytes.
func NewConn(fd int, ip string, port uint16, bufSize int, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		FD:         fd,
		RemoteIP:   ip,
		RemotePort: port,
		State:      StateTCPConnected,
		Buf:        buffer.New(bufSize),
		log:        log.With("fd", fd, "remote", ip),
	}
}

// Log returns the connection-scoped logger.
func (c *Conn) Log() *slog.Logger { return c.log }

// Assembling reports whether a fragmented message is in flight.
func (c *Conn) Assembling() bool { return c.assembling }

// beginMessage starts accumulating a fragmented message.
func (c *Conn) beginMessage(op Opcode, payload []byte) {
	c.assembling = true
	c.msgOpcode = op
	c.assembled = append(c.assembled, payload...)
}

// appendFragment extends the in-flight message.
func (c *Conn) appendFragment(payload []byte) {
	c.assembled = append(c.assembled, payload...)
}

// finishMessage returns the complete message and resets the
// accumulator. Invariant: the accumulator is empty whenever assembling
// is false.
func (c *Conn) finishMessage(payload []byte) (Opcode, []byte) {
	op := c.msgOpcode
	msg := append(c.assembled, payload...)
	c.resetAssembly()
	return op, msg
}

func (c *Conn) resetAssembly() {
	c.assembling = false
	c.assembled = nil
}
