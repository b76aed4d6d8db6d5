// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"sync"
	"time"
)

// pipeDepth is the number of in-flight chunks a pipe direction buffers
const pipeDepth = 64

// chunkReader assembles Receive calls from a channel of byte chunks
type chunkReader struct {
	chunks  <-chan []byte
	done    <-chan struct{}
	pending []byte
	err     func() error // reason the chunk channel closed
}

func (r *chunkReader) receive(p []byte, timeout time.Duration) error {
	if len(r.pending) >= len(p) {
		r.take(p)
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(r.pending) < len(p) {
		select {
		case chunk, ok := <-r.chunks:
			if !ok {
				if r.err != nil {
					if err := r.err(); err != nil {
						return hardwareFault("receive", err)
					}
				}
				return ErrClosed
			}
			r.pending = append(r.pending, chunk...)
		case <-r.done:
			return ErrClosed
		case <-timer.C:
			return timeoutError("receive", len(r.pending), len(p), timeout)
		}
	}
	r.take(p)
	return nil
}

func (r *chunkReader) take(p []byte) {
	copy(p, r.pending)
	r.pending = append(r.pending[:0], r.pending[len(p):]...)
}

// PipeEnd is one end of an in-memory link created by Pipe
type PipeEnd struct {
	reader chunkReader
	out    chan<- []byte
	done   chan struct{}
	once   *sync.Once
}

// Pipe creates a connected pair of in-memory transports. Bytes sent on one
// end are received on the other. Closing either end closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &PipeEnd{reader: chunkReader{chunks: ba, done: done}, out: ab, done: done, once: once}
	b := &PipeEnd{reader: chunkReader{chunks: ab, done: done}, out: ba, done: done, once: once}
	return a, b
}

// Send queues a copy of p for the other end
func (e *PipeEnd) Send(p []byte, timeout time.Duration) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.out <- chunk:
		return nil
	case <-e.done:
		return ErrClosed
	case <-timer.C:
		return timeoutError("pipe send", 0, len(p), timeout)
	}
}

// Receive fills p from bytes sent by the other end
func (e *PipeEnd) Receive(p []byte, timeout time.Duration) error {
	return e.reader.receive(p, timeout)
}

// Close closes both ends of the pipe
func (e *PipeEnd) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}
