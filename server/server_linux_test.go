//go:build linux

// File: server/server_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests over real sockets. The gorilla client exercises the
// well-behaved path; the raw-socket tests drive fragmentation and
// protocol violations that a conforming client library will not emit.

package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/epoll-ws/protocol"
)

func startTestServer(t *testing.T) uint16 {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PollTimeoutMs = 10

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, WithLogger(log))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("serve: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server never became ready")
	}

	port, err := srv.Port()
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	t.Cleanup(func() {
		srv.Shutdown()
		if err := <-errCh; err != nil {
			t.Errorf("serve returned: %v", err)
		}
	})
	return port
}

func dialWS(t *testing.T, port uint16) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/", port)
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	return c
}

func TestEchoTextAndBinary(t *testing.T) {
	port := startTestServer(t)
	c := dialWS(t, port)

	if err := c.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage || string(msg) != "hello" {
		t.Fatalf("echo %d %q", mt, msg)
	}

	blob := bytes.Repeat([]byte{0xA5}, 4096)
	if err := c.WriteMessage(websocket.BinaryMessage, blob); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	mt, msg, err = c.ReadMessage()
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(msg, blob) {
		t.Fatalf("binary echo mt=%d len=%d", mt, len(msg))
	}
}

func TestLargeMessageEcho(t *testing.T) {
	port := startTestServer(t)
	c := dialWS(t, port)

	// Crosses the 64-bit length encoding threshold.
	big := make([]byte, 70000)
	for i := range big {
		big[i] = byte(i)
	}
	if err := c.WriteMessage(websocket.BinaryMessage, big); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(msg, big) {
		t.Fatalf("large echo corrupted, len=%d", len(msg))
	}
}

func TestPingPong(t *testing.T) {
	port := startTestServer(t)
	c := dialWS(t, port)

	pong := make(chan string, 1)
	c.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	if err := c.WriteControl(websocket.PingMessage, []byte("heartbeat"), deadline); err != nil {
		t.Fatalf("ping: %v", err)
	}
	// Pongs are surfaced while a read is in flight.
	if err := c.WriteMessage(websocket.TextMessage, []byte("after ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := c.ReadMessage(); err != nil {
		t.Fatalf("read: %v", err)
	}

	select {
	case data := <-pong:
		if data != "heartbeat" {
			t.Fatalf("pong payload %q", data)
		}
	default:
		t.Fatalf("no pong received")
	}
}

func TestCloseHandshake(t *testing.T) {
	port := startTestServer(t)
	c := dialWS(t, port)

	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("err %v, want close 1000", err)
	}
}

func TestConcurrentClients(t *testing.T) {
	port := startTestServer(t)

	const n = 8
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(id int) {
			url := fmt.Sprintf("ws://127.0.0.1:%d/", port)
			c, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				done <- fmt.Errorf("client %d dial: %w", id, err)
				return
			}
			defer c.Close()
			_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

			want := fmt.Sprintf("client-%d", id)
			for round := 0; round < 20; round++ {
				if err := c.WriteMessage(websocket.TextMessage, []byte(want)); err != nil {
					done <- fmt.Errorf("client %d write: %w", id, err)
					return
				}
				_, msg, err := c.ReadMessage()
				if err != nil {
					done <- fmt.Errorf("client %d read: %w", id, err)
					return
				}
				if string(msg) != want {
					done <- fmt.Errorf("client %d got %q", id, msg)
					return
				}
			}
			done <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
}

// rawClient performs the upgrade by hand so tests can emit arbitrary
// frame sequences.
type rawClient struct {
	conn net.Conn
	rd   *bufio.Reader
	buf  []byte
}

func dialRaw(t *testing.T, port uint16) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := "GET / HTTP/1.1\r\n" +
		"Host: 127.0.0.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("handshake write: %v", err)
	}

	rd := bufio.NewReader(conn)
	status, err := rd.ReadString('\n')
	if err != nil || !strings.Contains(status, "101") {
		t.Fatalf("status %q err %v", status, err)
	}
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("header read: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
	return &rawClient{conn: conn, rd: rd}
}

func (rc *rawClient) write(t *testing.T, frame []byte) {
	t.Helper()
	if _, err := rc.conn.Write(frame); err != nil {
		t.Fatalf("frame write: %v", err)
	}
}

// readFrame accumulates bytes until one complete frame parses.
func (rc *rawClient) readFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	chunk := make([]byte, 4096)
	for {
		if f, res := protocol.Parse(rc.buf); res == protocol.Success {
			rc.buf = rc.buf[f.TotalSize():]
			return f
		} else if res == protocol.InvalidFrame {
			t.Fatalf("server sent invalid frame: %x", rc.buf)
		}
		n, err := rc.rd.Read(chunk)
		if err != nil {
			t.Fatalf("frame read: %v", err)
		}
		rc.buf = append(rc.buf, chunk[:n]...)
	}
}

func TestFragmentationWithInterleavedPing(t *testing.T) {
	port := startTestServer(t)
	rc := dialRaw(t, port)

	rc.write(t, protocol.Text([]byte("Hel"), false, true))
	rc.write(t, protocol.Ping([]byte("mid"), true))
	rc.write(t, protocol.Continuation([]byte("lo"), true, true))

	pong := rc.readFrame(t)
	if pong.Opcode != protocol.OpcodePong || string(pong.Payload) != "mid" {
		t.Fatalf("first reply %s %q, want pong", pong.Opcode, pong.Payload)
	}
	echo := rc.readFrame(t)
	if echo.Opcode != protocol.OpcodeText || string(echo.Payload) != "Hello" {
		t.Fatalf("echo %s %q", echo.Opcode, echo.Payload)
	}
}

func TestProtocolViolationDropsConnection(t *testing.T) {
	port := startTestServer(t)
	rc := dialRaw(t, port)

	// RSV1 set on a text frame.
	rc.write(t, []byte{0xC1, 0x81, 0x00, 0x00, 0x00, 0x00, 'x'})

	// The socket closes without a close frame.
	one := make([]byte, 1)
	if _, err := rc.rd.Read(one); err != io.EOF {
		t.Fatalf("read after violation: %v, want EOF", err)
	}
}

func TestOrphanContinuationDropsConnection(t *testing.T) {
	port := startTestServer(t)
	rc := dialRaw(t, port)

	rc.write(t, protocol.Continuation([]byte("orphan"), true, true))

	one := make([]byte, 1)
	if _, err := rc.rd.Read(one); err != io.EOF {
		t.Fatalf("read after violation: %v, want EOF", err)
	}
}
