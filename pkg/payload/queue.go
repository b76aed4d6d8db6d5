// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package payload

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/triad/pkg/frame"
)

// Queue errors
var (
	ErrQueueFull       = errors.New("payload: command queue full")
	ErrEmptyQueue      = errors.New("payload: command queue empty")
	ErrPayloadTooLarge = errors.New("payload: command payload too large")
)

// DefaultQueueCapacity is the queue bound used when none is configured
const DefaultQueueCapacity = 64

// Queue is a bounded FIFO of commands backed by a ring buffer
type Queue struct {
	items   []Command
	head    int
	count   int
	nextSeq uint32
}

// NewQueue creates a queue holding at most capacity commands
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:   make([]Command, capacity),
		nextSeq: 1,
	}
}

// Enqueue appends cmd at the tail and returns it with its sequence number.
// The payload is copied.
func (q *Queue) Enqueue(cmd Command) (Command, error) {
	if len(cmd.Payload) > frame.MaxPayloadSize {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(cmd.Payload))
	}
	if q.count == len(q.items) {
		return Command{}, fmt.Errorf("%w: capacity %d", ErrQueueFull, len(q.items))
	}

	stored := Command{Code: cmd.Code, Sequence: q.nextSeq}
	if len(cmd.Payload) > 0 {
		stored.Payload = append([]byte(nil), cmd.Payload...)
	}
	q.nextSeq++

	q.items[(q.head+q.count)%len(q.items)] = stored
	q.count++
	return stored, nil
}

// Peek returns the head without removing it. ok is false on an empty queue.
func (q *Queue) Peek() (Command, bool) {
	if q.count == 0 {
		return Command{}, false
	}
	return q.items[q.head], true
}

// Dequeue removes and returns the head
func (q *Queue) Dequeue() (Command, error) {
	if q.count == 0 {
		return Command{}, ErrEmptyQueue
	}
	cmd := q.items[q.head]
	q.items[q.head] = Command{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return cmd, nil
}

// Len returns the number of queued commands
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return len(q.items)
}
