// File: server/echo.go
// Package server — the default message handler.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"

	"github.com/momentics/epoll-ws/protocol"
)

// EchoHandler returns a handler that reflects every complete message
// back to its sender with the same opcode.
func EchoHandler(s *Server) protocol.Handler {
	return protocol.HandlerFunc(func(ctx context.Context, c *protocol.Conn, op protocol.Opcode, payload []byte) error {
		return s.engine.SendMessage(c, op, payload)
	})
}
