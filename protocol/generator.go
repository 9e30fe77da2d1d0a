// File: protocol/generator.go
// Package protocol — RFC 6455 frame serialization.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Builders for every supported frame type. Each call returns a freshly
// allocated wire image with a minimally encoded header. Masking keys
// come from math/rand/v2; they exist for protocol conformance, not
// secrecy.

package protocol

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// DefaultCloseCode is the normal-closure status code.
const DefaultCloseCode uint16 = 1000

// Text builds a text frame. Server-to-client frames must not set mask.
func Text(payload []byte, fin, mask bool) []byte {
	return buildFrame(OpcodeText, payload, fin, mask)
}

// Binary builds a binary frame.
func Binary(payload []byte, fin, mask bool) []byte {
	return buildFrame(OpcodeBinary, payload, fin, mask)
}

// Continuation builds a continuation frame for a fragmented message.
func Continuation(payload []byte, fin, mask bool) []byte {
	return buildFrame(OpcodeContinuation, payload, fin, mask)
}

// Ping builds a ping frame. Payloads above 125 bytes are a programming
// error and panic.
func Ping(payload []byte, mask bool) []byte {
	if len(payload) > MaxControlPayload {
		panic(fmt.Sprintf("protocol: ping payload %d exceeds %d bytes",
			len(payload), MaxControlPayload))
	}
	return buildFrame(OpcodePing, payload, true, mask)
}

// Pong builds a pong frame, normally echoing a ping payload.
func Pong(payload []byte, mask bool) []byte {
	if len(payload) > MaxControlPayload {
		panic(fmt.Sprintf("protocol: pong payload %d exceeds %d bytes",
			len(payload), MaxControlPayload))
	}
	return buildFrame(OpcodePong, payload, true, mask)
}

// Close builds a close frame whose payload is the big-endian status
// code followed by the reason text. Code 0 means DefaultCloseCode.
// Code plus reason must fit in a control payload.
func Close(code uint16, reason string, mask bool) []byte {
	if code == 0 {
		code = DefaultCloseCode
	}
	if 2+len(reason) > MaxControlPayload {
		panic(fmt.Sprintf("protocol: close payload %d exceeds %d bytes",
			2+len(reason), MaxControlPayload))
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return buildFrame(OpcodeClose, payload, true, mask)
}

func buildFrame(op Opcode, payload []byte, fin, mask bool) []byte {
	payloadLen := uint64(len(payload))

	headerSize := 2
	switch {
	case payloadLen >= 65536:
		headerSize += 8
	case payloadLen >= 126:
		headerSize += 2
	}
	if mask {
		headerSize += 4
	}

	out := make([]byte, headerSize, uint64(headerSize)+payloadLen)

	var b0 byte
	if fin {
		b0 = finBit
	}
	out[0] = b0 | byte(op)

	var mbit byte
	if mask {
		mbit = maskBit
	}
	pos := 1
	switch {
	case payloadLen < 126:
		out[pos] = mbit | byte(payloadLen)
		pos++
	case payloadLen < 65536:
		out[pos] = mbit | payloadLen16Bit
		pos++
		binary.BigEndian.PutUint16(out[pos:], uint16(payloadLen))
		pos += 2
	default:
		out[pos] = mbit | payloadLen64Bit
		pos++
		binary.BigEndian.PutUint64(out[pos:], payloadLen)
		pos += 8
	}

	if !mask {
		return append(out, payload...)
	}

	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], rand.Uint32())
	copy(out[pos:], key[:])

	out = append(out, payload...)
	body := out[headerSize:]
	for i := range body {
		body[i] ^= key[i%4]
	}
	return out
}
