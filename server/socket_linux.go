//go:build linux

// File: server/socket_linux.go
// Package server — raw nonblocking socket plumbing.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every descriptor is created nonblocking and close-on-exec. The
// listener carries SO_REUSEADDR and SO_REUSEPORT; accepted sockets get
// TCP_NODELAY so echo responses are not delayed by Nagle.

package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP opens a nonblocking IPv4 listening socket on addr
// (host:port, empty host means wildcard).
func listenTCP(addr string, backlog int) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return -1, fmt.Errorf("listen address %q: invalid port", addr)
	}

	var ip4 [4]byte
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return -1, fmt.Errorf("listen address %q: not an IPv4 host", addr)
		}
		copy(ip4[:], ip.To4())
	}

	fd, err := unix.Socket(unix.AF_INET,
		unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: ip4}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

// localPort reports the bound port of a listening socket, which is the
// chosen port when the caller asked for :0.
func localPort(fd int) (uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return uint16(sa4.Port), nil
	}
	return 0, errors.New("getsockname: unexpected address family")
}

// acceptClient accepts one pending connection, returning its
// descriptor and printable peer address. A drained backlog surfaces as
// a would-block error.
func acceptClient(listenFD int) (int, string, uint16, error) {
	fd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", 0, err
	}

	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	var ip string
	var port uint16
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		ip = net.IP(sa4.Addr[:]).String()
		port = uint16(sa4.Port)
	}
	return fd, ip, port, nil
}

func readFD(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func writeFD(fd int, p []byte) (int, error) { return unix.Write(fd, p) }
func closeFD(fd int) error                  { return unix.Close(fd) }

// isWouldBlock reports whether err is the nonblocking "try again"
// condition.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
