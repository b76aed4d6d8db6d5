// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"time"
)

// Decoder assembles frames from a byte stream one byte at a time.
// Bytes that cannot start a frame are skipped until a start marker is seen.
type Decoder struct {
	state     int
	header0   byte
	frame     *Frame
	skipped   int
	rawBuffer []byte // Raw bytes of the frame in progress
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset drops any partial frame and returns to hunting for a start marker
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.header0 = 0
	d.frame = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the raw bytes of the frame in progress
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// Skipped returns the number of bytes discarded while hunting for a start
// marker since the last completed frame, and clears the counter.
func (d *Decoder) Skipped() int {
	n := d.skipped
	d.skipped = 0
	return n
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns ErrBadStartMarker for each byte skipped while idle.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle:
		if !HasStartMarker(b) {
			d.skipped++
			return nil, fmt.Errorf("%w: skipped 0x%02X", ErrBadStartMarker, b)
		}
		d.rawBuffer = append(d.rawBuffer[:0], b)
		d.header0 = b
		d.state = stateControl
		return nil, nil

	case stateControl:
		d.rawBuffer = append(d.rawBuffer, b)
		d.frame = &Frame{
			address: AddressOf(d.header0),
			data:    IsDataHeader(d.header0),
			control: b,
		}
		if !d.frame.data || b == 0 {
			if d.frame.data {
				d.frame.payload = []byte{}
			}
			return d.complete(), nil
		}
		d.frame.payload = make([]byte, 0, b)
		d.state = statePayload
		return nil, nil

	case statePayload:
		d.rawBuffer = append(d.rawBuffer, b)
		d.frame.payload = append(d.frame.payload, b)
		if len(d.frame.payload) >= int(d.frame.control) {
			return d.complete(), nil
		}
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}

// Write feeds p through the decoder and returns every completed frame
func (d *Decoder) Write(p []byte) []*Frame {
	var frames []*Frame
	for _, b := range p {
		if f, _ := d.DecodeByte(b); f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

func (d *Decoder) complete() *Frame {
	f := d.frame
	f.timestamp = time.Now()
	d.state = stateIdle
	d.frame = nil
	return f
}
