// File: protocol/handshake_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"strings"
	"testing"
)

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

// Key and accept value from RFC 6455 §1.3.
func TestAcceptKeyRFCVector(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("accept key %q, want %q", got, want)
	}
}

func TestParseHandshakeValid(t *testing.T) {
	hs, err := ParseHandshake([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hs.URI != "/chat" {
		t.Errorf("uri %q", hs.URI)
	}
	if hs.Key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("key %q", hs.Key)
	}
	if hs.Version != "13" {
		t.Errorf("version %q", hs.Version)
	}
	if hs.Header("Host") != "server.example.com" {
		t.Errorf("host %q", hs.Header("Host"))
	}
}

func TestParseHandshakeHeaderCaseFolding(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" +
		"UPGRADE: WebSocket\r\n" +
		"connection: keep-alive, Upgrade\r\n" +
		"SEC-WEBSOCKET-KEY: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"sec-websocket-version: 13\r\n\r\n"
	if _, err := ParseHandshake([]byte(req)); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestParseHandshakeRejections(t *testing.T) {
	drop := func(header string) string {
		var out []string
		for _, line := range strings.Split(sampleRequest, "\r\n") {
			if !strings.HasPrefix(strings.ToLower(line), header) {
				out = append(out, line)
			}
		}
		return strings.Join(out, "\r\n")
	}

	cases := []struct {
		name string
		req  string
		want error
	}{
		{"post method", strings.Replace(sampleRequest, "GET", "POST", 1), ErrUnsupportedMethod},
		{"lowercase method", strings.Replace(sampleRequest, "GET", "get", 1), ErrUnsupportedMethod},
		{"http 1.0", strings.Replace(sampleRequest, "HTTP/1.1", "HTTP/1.0", 1), ErrUnsupportedVersion},
		{"bad request line", "GET /chat\r\n\r\n", ErrMalformedRequest},
		{"missing upgrade", drop("upgrade:"), ErrInvalidUpgradeHeaders},
		{"missing connection", drop("connection:"), ErrInvalidUpgradeHeaders},
		{"missing version", drop("sec-websocket-version:"), ErrInvalidUpgradeHeaders},
		{"missing key", drop("sec-websocket-key:"), ErrMissingWebSocketKey},
		{"upgrade not websocket", strings.Replace(sampleRequest, "websocket", "h2c", 1), ErrInvalidUpgradeHeaders},
		{"connection without token", strings.Replace(sampleRequest, "Connection: Upgrade", "Connection: keep-alive", 1), ErrInvalidUpgradeHeaders},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseHandshake([]byte(tc.req))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseHandshakeTooLarge(t *testing.T) {
	req := []byte(strings.Replace(sampleRequest, "Host: server.example.com",
		"Host: "+strings.Repeat("a", MaxHandshakeSize), 1))
	if _, err := ParseHandshake(req); !errors.Is(err, ErrHandshakeTooLarge) {
		t.Fatalf("err %v, want %v", err, ErrHandshakeTooLarge)
	}
}

func TestHandshakeComplete(t *testing.T) {
	full := []byte(sampleRequest)
	if !HandshakeComplete(full) {
		t.Fatalf("complete request not recognized")
	}
	if HandshakeComplete(full[:len(full)-1]) {
		t.Fatalf("truncated request reported complete")
	}
}

func TestUpgradeResponse(t *testing.T) {
	hs, err := ParseHandshake([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	resp := string(hs.UpgradeResponse())
	if !strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("status line: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("accept header missing: %q", resp)
	}
	if !strings.HasSuffix(resp, "\r\n\r\n") {
		t.Errorf("missing terminator: %q", resp)
	}
}
