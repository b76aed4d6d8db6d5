// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"time"
)

// Frame represents a decoded triad frame
type Frame struct {
	address   uint8
	data      bool
	control   uint8 // command id (command frame) or payload length (data frame)
	payload   []byte
	timestamp time.Time
}

// NewCommand creates a command frame carrying the given command id
func NewCommand(address, id uint8) *Frame {
	return &Frame{address: address & addressMask, control: id, timestamp: time.Now()}
}

// NewData creates a data frame. The payload is not copied.
func NewData(address uint8, payload []byte) *Frame {
	return &Frame{
		address:   address & addressMask,
		data:      true,
		control:   uint8(len(payload)),
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Address returns the 3-bit frame address
func (f *Frame) Address() uint8 {
	return f.address
}

// IsData reports whether the flag bit marks a data frame
func (f *Frame) IsData() bool {
	return f.data
}

// IsCommand reports whether the flag bit marks a command frame
func (f *Frame) IsCommand() bool {
	return !f.data
}

// CommandID returns header1 of a command frame (0 for data frames)
func (f *Frame) CommandID() uint8 {
	if f.data {
		return 0
	}
	return f.control
}

// Length returns the declared payload length (0 for command frames)
func (f *Frame) Length() uint8 {
	if !f.data {
		return 0
	}
	return f.control
}

// Control returns header1 as it appears on the wire
func (f *Frame) Control() uint8 {
	return f.control
}

// Payload returns the payload bytes (empty for command frames)
func (f *Frame) Payload() []byte {
	return f.payload
}

// Timestamp returns the creation or decode time of the frame
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Bytes encodes the frame to wire format
func (f *Frame) Bytes() ([]byte, error) {
	return Encode(f.address, f.data, f.control, f.payload)
}

// Marker extracts the start marker (bits 7-4) from header0
func Marker(b byte) uint8 {
	return b >> markerShift
}

// AddressOf extracts the address (bits 3-1) from header0
func AddressOf(b byte) uint8 {
	return (b >> addressShift) & addressMask
}

// IsDataHeader extracts the flag (bit 0) from header0
func IsDataHeader(b byte) bool {
	return b&flagMask == 1
}

// HasStartMarker reports whether b can begin a frame
func HasStartMarker(b byte) bool {
	return Marker(b) == StartMarker
}

// Header0 packs the start marker, address and flag into the first header byte.
// The address is truncated to 3 bits; callers validate it first.
func Header0(address uint8, data bool) byte {
	b := byte(StartMarker<<markerShift) | (address&addressMask)<<addressShift
	if data {
		b |= flagMask
	}
	return b
}

// FrameLen returns the total wire length of the frame starting with header.
// header must hold at least HeaderSize bytes.
func FrameLen(header []byte) int {
	if IsDataHeader(header[0]) {
		return HeaderSize + int(header[1])
	}
	return HeaderSize
}

// Encode builds a wire frame.
// For command frames (data=false) controlOrLength is the command id and the
// payload must be empty. For data frames it is the payload length and must
// equal len(payload).
func Encode(address uint8, data bool, controlOrLength uint8, payload []byte) ([]byte, error) {
	if address > MaxAddress {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidAddress, address, MaxAddress)
	}

	if !data {
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: command frame carries %d payload bytes", ErrLengthMismatch, len(payload))
		}
		return []byte{Header0(address, false), controlOrLength}, nil
	}

	if len(payload) != int(controlOrLength) {
		return nil, fmt.Errorf("%w: declared %d, payload has %d bytes", ErrLengthMismatch, controlOrLength, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = Header0(address, true)
	buf[1] = controlOrLength
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeCommand encodes a command frame
func EncodeCommand(address, id uint8) ([]byte, error) {
	return Encode(address, false, id, nil)
}

// EncodeData encodes a data frame carrying payload
func EncodeData(address uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes (max %d)", ErrLengthMismatch, len(payload), MaxPayloadSize)
	}
	return Encode(address, true, uint8(len(payload)), payload)
}

// Decode parses the frame at the start of buf. Bytes after the frame are
// ignored. The returned payload is a copy; buf may be reused.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d header bytes (need %d)", ErrTruncated, len(buf), HeaderSize)
	}

	h0 := buf[0]
	if !HasStartMarker(h0) {
		return nil, fmt.Errorf("%w: 0x%X", ErrBadStartMarker, Marker(h0))
	}

	f := &Frame{
		address:   AddressOf(h0),
		data:      IsDataHeader(h0),
		control:   buf[1],
		timestamp: time.Now(),
	}
	if !f.data {
		return f, nil
	}

	declared := int(buf[1])
	available := len(buf) - HeaderSize
	if available < declared {
		return nil, fmt.Errorf("%w: declared %d payload bytes, %d available", ErrTruncated, declared, available)
	}

	f.payload = make([]byte, declared)
	copy(f.payload, buf[HeaderSize:HeaderSize+declared])
	return f, nil
}

// DecodeExact parses buf as exactly one frame. Trailing bytes are a length
// mismatch.
func DecodeExact(buf []byte) (*Frame, error) {
	f, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	if want := HeaderSize + int(f.Length()); len(buf) != want {
		return nil, fmt.Errorf("%w: frame is %d bytes, buffer holds %d", ErrLengthMismatch, want, len(buf))
	}
	return f, nil
}
