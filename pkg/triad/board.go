// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package triad

import (
	"errors"
	"fmt"
)

// DefaultBufferSize is the size of a board's state buffer
const DefaultBufferSize = 64

// Coordinator errors
var (
	ErrRangeOutOfBounds = errors.New("triad: range out of bounds")
	ErrHalted           = errors.New("triad: board halted")
)

// BoardState is the state owned by one board process. Only that board's
// coordinator mutates it.
type BoardState struct {
	role   Role
	id     byte
	buffer []byte
}

// NewBoardState creates a zeroed board of the given size
func NewBoardState(role Role, size int) *BoardState {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BoardState{
		role:   role,
		id:     role.Letter(),
		buffer: make([]byte, size),
	}
}

// Role returns the board's role
func (b *BoardState) Role() Role {
	return b.role
}

// ID returns the board letter
func (b *BoardState) ID() byte {
	return b.id
}

// Size returns the buffer size
func (b *BoardState) Size() int {
	return len(b.buffer)
}

// Snapshot returns a copy of the whole buffer
func (b *BoardState) Snapshot() []byte {
	return append([]byte(nil), b.buffer...)
}

// Range returns a copy of buffer[base:base+count]
func (b *BoardState) Range(base, count int) ([]byte, error) {
	if err := checkRange(base, count, len(b.buffer)); err != nil {
		return nil, err
	}
	return append([]byte(nil), b.buffer[base:base+count]...), nil
}

// Write copies data into the buffer at base
func (b *BoardState) Write(base int, data []byte) error {
	if err := checkRange(base, len(data), len(b.buffer)); err != nil {
		return err
	}
	copy(b.buffer[base:], data)
	return nil
}

// Equal reports whether buffer[base:base+len(other)] equals other
func (b *BoardState) Equal(base int, other []byte) (bool, error) {
	if err := checkRange(base, len(other), len(b.buffer)); err != nil {
		return false, err
	}
	for i, v := range other {
		if b.buffer[base+i] != v {
			return false, nil
		}
	}
	return true, nil
}

func checkRange(base, count, size int) error {
	if base < 0 || count < 0 || base+count > size {
		return fmt.Errorf("%w: [%d, %d) in buffer of %d", ErrRangeOutOfBounds, base, base+count, size)
	}
	return nil
}
