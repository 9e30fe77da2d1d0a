//go:build !linux

// File: server/socket_stub.go
// Package server — stub socket layer for non-Linux platforms.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/epoll-ws/reactor"

func listenTCP(string, int) (int, error)            { return -1, reactor.ErrUnsupported }
func localPort(int) (uint16, error)                 { return 0, reactor.ErrUnsupported }
func acceptClient(int) (int, string, uint16, error) { return -1, "", 0, reactor.ErrUnsupported }
func readFD(int, []byte) (int, error)               { return 0, reactor.ErrUnsupported }
func writeFD(int, []byte) (int, error)              { return 0, reactor.ErrUnsupported }
func closeFD(int) error                             { return reactor.ErrUnsupported }
func isWouldBlock(error) bool                       { return false }
