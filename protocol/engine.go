// File: protocol/engine.go
// Package protocol — the per-connection state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The engine interprets committed receive-buffer bytes according to the
// connection state: upgrade request accumulation, then the frame loop
// with fragmentation handling and inline control frames. It performs no
// socket I/O itself; outgoing bytes go through the WriteFunc supplied
// by the owner.

package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrProtocolViolation means the peer broke RFC 6455; the owner
	// closes the socket without a Close frame.
	ErrProtocolViolation = errors.New("websocket protocol violation")
	// ErrClosedByPeer means the close exchange finished and the socket
	// should be torn down cleanly.
	ErrClosedByPeer = errors.New("connection closed by peer")
	// ErrMessageTooLarge means a fragmented message outgrew the
	// configured accumulator cap.
	ErrMessageTooLarge = errors.New("fragmented message exceeds maximum size")
)

// WriteFunc sends wire bytes to the peer, preserving call order.
type WriteFunc func(c *Conn, data []byte) error

// Handler receives complete messages (text or binary).
type Handler interface {
	HandleMessage(ctx context.Context, c *Conn, op Opcode, payload []byte) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, c *Conn, op Opcode, payload []byte) error

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, c *Conn, op Opcode, payload []byte) error {
	return f(ctx, c, op, payload)
}

// Observer is notified of protocol-level events; NewEngine substitutes
// a no-op observer when given nil. The server layer plugs its metric
// set in here.
type Observer interface {
	FrameReceived(op Opcode, payloadLen int)
	FrameSent(op Opcode, wireLen int)
	MessageDelivered(op Opcode, payloadLen int)
	Upgraded()
	ProtocolError()
}

type nopObserver struct{}

func (nopObserver) FrameReceived(Opcode, int)    {}
func (nopObserver) FrameSent(Opcode, int)        {}
func (nopObserver) MessageDelivered(Opcode, int) {}
func (nopObserver) Upgraded()                    {}
func (nopObserver) ProtocolError()               {}

// Engine drives connections through the upgrade and frame phases. One
// engine serves every connection of a server; all per-client state
// lives in Conn.
type Engine struct {
	write      WriteFunc
	handler    Handler
	maxMessage int
	obs        Observer
	tracer     trace.Tracer
}

// NewEngine builds an engine. maxMessage caps the fragmentation
// accumulator; zero disables the cap.
func NewEngine(write WriteFunc, handler Handler, maxMessage int, obs Observer) *Engine {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		write:      write,
		handler:    handler,
		maxMessage: maxMessage,
		obs:        obs,
		tracer:     otel.Tracer("epoll-ws/protocol"),
	}
}

// Process consumes whatever complete units are available in the
// connection's receive buffer. It returns nil when more bytes are
// needed, or an error when the owner must close the socket.
func (e *Engine) Process(ctx context.Context, c *Conn) error {
	if c.State == StateTCPConnected {
		// First readable byte: treat the stream as HTTP from here on.
		c.State = StateHTTPUpgrade
	}

	if c.State == StateHTTPUpgrade {
		done, err := e.processUpgrade(ctx, c)
		if err != nil || !done {
			return err
		}
	}

	return e.frameLoop(ctx, c)
}

// processUpgrade accumulates and validates the HTTP upgrade request.
// It reports done=true once the 101 response has been sent.
func (e *Engine) processUpgrade(ctx context.Context, c *Conn) (bool, error) {
	region := c.Buf.ReadRegion()
	if !HandshakeComplete(region) {
		if len(region) > MaxHandshakeSize {
			return false, ErrHandshakeTooLarge
		}
		return false, nil
	}

	_, span := e.tracer.Start(ctx, "websocket.upgrade",
		trace.WithAttributes(attribute.String("client.address", c.RemoteIP)))
	defer span.End()

	end := strings.Index(string(region), "\r\n\r\n") + 4
	hs, err := ParseHandshake(region[:end])
	if err != nil {
		span.RecordError(err)
		c.Log().Warn("upgrade rejected", "err", err)
		return false, fmt.Errorf("upgrade: %w", err)
	}
	// Bytes past the terminator may already belong to the first frame.
	c.Buf.Consume(end)

	if err := e.write(c, hs.UpgradeResponse()); err != nil {
		return false, fmt.Errorf("upgrade response: %w", err)
	}
	c.State = StateWebSocket
	e.obs.Upgraded()
	c.Log().Info("websocket upgrade complete", "uri", hs.URI)
	return true, nil
}

// frameLoop parses and dispatches frames until the buffer runs dry.
func (e *Engine) frameLoop(ctx context.Context, c *Conn) error {
	for {
		frame, res := Parse(c.Buf.ReadRegion())
		switch res {
		case NeedMoreData:
			if c.State == StateWebSocketClosing {
				// Every frame buffered behind the Close has been drained.
				return ErrClosedByPeer
			}
			return nil
		case InvalidFrame:
			e.obs.ProtocolError()
			c.Log().Warn("invalid frame, dropping connection")
			return ErrProtocolViolation
		}

		c.Buf.Consume(int(frame.TotalSize()))
		e.obs.FrameReceived(frame.Opcode, len(frame.Payload))

		if err := e.dispatch(ctx, c, frame); err != nil {
			return err
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, c *Conn, frame *Frame) error {
	switch frame.Opcode {
	case OpcodeClose:
		c.State = StateWebSocketClosing
		if !c.closeSent {
			c.closeSent = true
			if err := e.send(c, OpcodeClose, Close(DefaultCloseCode, "", false)); err != nil {
				return err
			}
		}
		c.Log().Info("close frame received")
		return nil

	case OpcodePing:
		return e.send(c, OpcodePong, Pong(frame.Payload, false))

	case OpcodePong:
		c.Log().Debug("pong received", "len", len(frame.Payload))
		return nil

	default:
		return e.dispatchData(ctx, c, frame)
	}
}

// dispatchData enforces the fragmentation rules and delivers complete
// messages. Interleaved control frames never reach here and therefore
// never disturb the accumulator.
func (e *Engine) dispatchData(ctx context.Context, c *Conn, frame *Frame) error {
	switch {
	case frame.Opcode == OpcodeContinuation && !c.Assembling():
		e.obs.ProtocolError()
		return fmt.Errorf("%w: continuation without a message in progress", ErrProtocolViolation)

	case frame.Opcode != OpcodeContinuation && c.Assembling():
		e.obs.ProtocolError()
		return fmt.Errorf("%w: new %s frame while assembling", ErrProtocolViolation, frame.Opcode)
	}

	if e.maxMessage > 0 && len(c.assembled)+len(frame.Payload) > e.maxMessage {
		e.obs.ProtocolError()
		return ErrMessageTooLarge
	}

	if !frame.Fin {
		if frame.Opcode == OpcodeContinuation {
			c.appendFragment(frame.Payload)
		} else {
			c.beginMessage(frame.Opcode, frame.Payload)
		}
		return nil
	}

	var op Opcode
	var msg []byte
	if frame.Opcode == OpcodeContinuation {
		op, msg = c.finishMessage(frame.Payload)
	} else {
		op, msg = frame.Opcode, frame.Payload
	}

	// Already-buffered frames are drained in the closing state, but no
	// new data frames are generated.
	if c.State == StateWebSocketClosing || e.handler == nil || len(msg) == 0 {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "websocket.message",
		trace.WithAttributes(
			attribute.String("websocket.opcode", op.String()),
			attribute.Int("websocket.payload_size", len(msg)),
		))
	defer span.End()

	e.obs.MessageDelivered(op, len(msg))
	if err := e.handler.HandleMessage(ctx, c, op, msg); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// send writes a generated frame and notifies the observer.
func (e *Engine) send(c *Conn, op Opcode, data []byte) error {
	if err := e.write(c, data); err != nil {
		return err
	}
	e.obs.FrameSent(op, len(data))
	return nil
}

// SendMessage emits one unfragmented, unmasked data frame. Handlers use
// it to respond to a delivered message.
func (e *Engine) SendMessage(c *Conn, op Opcode, payload []byte) error {
	if c.State != StateWebSocket {
		return fmt.Errorf("cannot send in state %s", c.State)
	}
	var data []byte
	switch op {
	case OpcodeText:
		data = Text(payload, true, false)
	case OpcodeBinary:
		data = Binary(payload, true, false)
	default:
		return fmt.Errorf("opcode %s is not a message type", op)
	}
	return e.send(c, op, data)
}
