// File: server/server.go
// Package server — the single-threaded event loop and client table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One goroutine owns the reactor, the listening socket, and every
// client connection. All protocol work happens synchronously inside
// the readiness callbacks, so no connection state is ever shared.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/epoll-ws/control"
	"github.com/momentics/epoll-ws/protocol"
	"github.com/momentics/epoll-ws/reactor"
)

// ErrAlreadyRunning is returned by Serve when the loop is active.
var ErrAlreadyRunning = errors.New("server already running")

// Server multiplexes many WebSocket connections on one event loop.
type Server struct {
	cfg      *Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *control.Metrics
	handler  protocol.Handler
	engine   *protocol.Engine

	reactor  reactor.Reactor
	listenFD int
	clients  map[int]*client

	mu       sync.Mutex
	running  bool
	ready    chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// client pairs a connection with its outbound queue.
type client struct {
	conn *protocol.Conn
	out  *sendQueue
}

// New builds a Server. The reactor is created eagerly so unsupported
// platforms fail fast.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	r, err := reactor.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      slog.Default(),
		registry: prometheus.NewRegistry(),
		reactor:  r,
		listenFD: -1,
		clients:  make(map[int]*client),
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.metrics = control.NewMetrics(s.registry)
	if s.handler == nil {
		s.handler = EchoHandler(s)
	}
	s.engine = protocol.NewEngine(s.writeFrame, s.handler, cfg.MaxMessageSize, s.metrics)
	return s, nil
}

// Engine exposes the protocol engine so custom handlers can respond.
func (s *Server) Engine() *protocol.Engine { return s.engine }

// Ready is closed once the listening socket is bound and registered.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Port reports the bound listening port. Valid only after Ready.
func (s *Server) Port() (uint16, error) { return localPort(s.listenFD) }

// Serve runs the event loop until ctx is cancelled or Shutdown is
// called. It returns nil on a clean stop; only a failure of the
// readiness facility or the listening socket is fatal.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.done)

	fd, err := listenTCP(s.cfg.ListenAddr, s.cfg.Backlog)
	if err != nil {
		return err
	}
	s.listenFD = fd

	if err := s.reactor.Add(fd, reactor.EventRead); err != nil {
		closeFD(fd)
		return err
	}

	port, _ := localPort(fd)
	s.log.Info("listening", "addr", s.cfg.ListenAddr, "port", port)
	close(s.ready)

	ops := s.startOps()

	err = s.loop(ctx)

	s.teardown(ops)
	return err
}

func (s *Server) loop(ctx context.Context) error {
	events := make([]reactor.Event, s.cfg.PollBatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		default:
		}

		n, err := s.reactor.Wait(events, s.cfg.PollTimeoutMs)
		if err != nil {
			return fmt.Errorf("readiness wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]

			if ev.FD == s.listenFD {
				if ev.Events&reactor.EventError != 0 {
					return errors.New("listening socket failed")
				}
				s.acceptLoop()
				continue
			}

			cl, ok := s.clients[ev.FD]
			if !ok {
				// Raced with a teardown earlier in this batch.
				continue
			}
			if ev.Events&reactor.EventError != 0 {
				s.dropClient(cl, "socket error or hangup")
				continue
			}
			if ev.Events&reactor.EventWrite != 0 {
				if err := cl.out.flush(); err != nil {
					s.dropClient(cl, "flush failed")
					continue
				}
			}
			if ev.Events&reactor.EventRead != 0 {
				s.onReadable(ctx, cl)
			}
		}
	}
}

// acceptLoop drains the backlog until accept would block
// (edge-triggered listener).
func (s *Server) acceptLoop() {
	for {
		fd, ip, port, err := acceptClient(s.listenFD)
		if err != nil {
			if !isWouldBlock(err) {
				s.log.Error("accept failed", "err", err)
			}
			return
		}

		conn := protocol.NewConn(fd, ip, port, s.cfg.BufferSize, s.log)
		cl := &client{conn: conn}
		cl.out = newSendQueue(s, cl)

		if err := s.reactor.Add(fd, reactor.EventRead); err != nil {
			s.log.Error("register client failed", "fd", fd, "err", err)
			closeFD(fd)
			continue
		}

		s.clients[fd] = cl
		s.metrics.ConnectionsAccepted.Inc()
		s.metrics.ConnectionsActive.Inc()
		conn.Log().Info("client connected", "port", port)
	}
}

// onReadable drains the socket until EAGAIN, feeding the engine after
// every committed chunk.
func (s *Server) onReadable(ctx context.Context, cl *client) {
	c := cl.conn
	for {
		// Compact early so slowly arriving frames do not starve the
		// tail; mandatory once the tail is exhausted.
		if c.Buf.FreeTail() < c.Buf.Capacity()/4 {
			c.Buf.Shift()
		}
		if c.Buf.FreeTail() == 0 {
			// Even fully compacted there is no room: a single frame
			// larger than the buffer can never complete.
			s.dropClient(cl, "frame exceeds receive buffer")
			return
		}

		n, err := readFD(c.FD, c.Buf.WriteRegion())
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			c.Log().Warn("read failed", "err", err)
			s.dropClient(cl, "read error")
			return
		}
		if n == 0 {
			c.Log().Info("client disconnected")
			s.dropClient(cl, "")
			return
		}
		c.Buf.Committed(n)

		if err := s.engine.Process(ctx, c); err != nil {
			switch {
			case errors.Is(err, protocol.ErrClosedByPeer):
				s.dropClient(cl, "")
			default:
				c.Log().Warn("dropping connection", "err", err)
				s.dropClient(cl, "")
			}
			return
		}
	}
}

// writeFrame is the engine's WriteFunc: frames go straight to the
// socket unless earlier bytes are still queued, which preserves
// per-connection ordering.
func (s *Server) writeFrame(c *protocol.Conn, data []byte) error {
	cl, ok := s.clients[c.FD]
	if !ok {
		return fmt.Errorf("write on closed connection fd=%d", c.FD)
	}
	return cl.out.write(data)
}

// dropClient deregisters, closes, and forgets one connection. reason
// is empty for clean teardown.
func (s *Server) dropClient(cl *client, reason string) {
	fd := cl.conn.FD
	if _, ok := s.clients[fd]; !ok {
		return
	}
	delete(s.clients, fd)

	if err := s.reactor.Delete(fd); err != nil {
		s.log.Debug("deregister failed", "fd", fd, "err", err)
	}
	if err := closeFD(fd); err != nil {
		s.log.Debug("close failed", "fd", fd, "err", err)
	}
	s.metrics.ConnectionsActive.Dec()
	s.metrics.SendQueueDepth.Sub(float64(cl.out.pending.Length()))
	if reason != "" {
		cl.conn.Log().Warn("connection dropped", "reason", reason)
	}
}

func (s *Server) teardown(ops *opsServer) {
	for _, cl := range s.clients {
		s.dropClient(cl, "")
	}
	if s.listenFD >= 0 {
		closeFD(s.listenFD)
		s.listenFD = -1
	}
	if err := s.reactor.Close(); err != nil {
		s.log.Warn("reactor close failed", "err", err)
	}
	ops.stop()
	s.log.Info("server stopped")
}

// Shutdown stops the event loop and blocks until Serve has released
// every resource. Safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	running := s.running
	s.mu.Unlock()
	if running {
		<-s.done
	}
}
