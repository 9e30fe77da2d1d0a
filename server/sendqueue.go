// File: server/sendqueue.go
// Package server — per-connection outbound buffering.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frames are written straight to the socket when nothing is queued.
// Once the kernel buffer fills, the remainder and every later frame
// are queued in FIFO order and drained on write readiness.

package server

import (
	"github.com/eapache/queue"

	"github.com/momentics/epoll-ws/reactor"
)

// sendQueue holds bytes the socket would not accept yet. A non-empty
// queue implies the fd is registered for write readiness.
type sendQueue struct {
	srv     *Server
	cl      *client
	pending *queue.Queue
}

func newSendQueue(s *Server, cl *client) *sendQueue {
	return &sendQueue{srv: s, cl: cl, pending: queue.New()}
}

// write sends data to the socket, queueing whatever does not fit.
// Ordering is preserved: while anything is queued, new frames go to
// the back of the queue rather than the socket.
func (q *sendQueue) write(data []byte) error {
	if q.pending.Length() > 0 {
		q.enqueue(data)
		return nil
	}

	sent := 0
	for sent < len(data) {
		n, err := writeFD(q.cl.conn.FD, data[sent:])
		if err != nil {
			if isWouldBlock(err) {
				q.enqueue(append([]byte(nil), data[sent:]...))
				return q.armWrite()
			}
			return err
		}
		sent += n
	}
	return nil
}

// flush drains the queue after a write-readiness event. When the queue
// empties the fd goes back to read-only interest.
func (q *sendQueue) flush() error {
	for q.pending.Length() > 0 {
		data := q.pending.Peek().([]byte)
		sent := 0
		for sent < len(data) {
			n, err := writeFD(q.cl.conn.FD, data[sent:])
			if err != nil {
				if isWouldBlock(err) {
					// Keep the unsent tail at the front of the queue.
					q.pending.Remove()
					q.requeueFront(data[sent:])
					return nil
				}
				return err
			}
			sent += n
		}
		q.pending.Remove()
		q.srv.metrics.SendQueueDepth.Dec()
	}
	return q.srv.reactor.Modify(q.cl.conn.FD, reactor.EventRead)
}

func (q *sendQueue) enqueue(data []byte) {
	q.pending.Add(data)
	q.srv.metrics.SendQueueDepth.Inc()
}

// requeueFront rebuilds the queue with tail as the first element.
// Partial flushes are rare enough that the copy does not matter. The
// depth gauge is unchanged: one element was removed, one comes back.
func (q *sendQueue) requeueFront(tail []byte) {
	rest := queue.New()
	rest.Add(append([]byte(nil), tail...))
	for q.pending.Length() > 0 {
		rest.Add(q.pending.Remove())
	}
	q.pending = rest
}

func (q *sendQueue) armWrite() error {
	return q.srv.reactor.Modify(q.cl.conn.FD, reactor.EventRead|reactor.EventWrite)
}
