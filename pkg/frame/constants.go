// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame implements the triad wire frame: a two byte header followed by
// an optional payload.
//
//	byte 0, bits 7-4  start marker, always 0110
//	byte 0, bits 3-1  address (0-7)
//	byte 0, bit 0     flag: 0 = command, 1 = data
//	byte 1            command id (flag 0) or payload length (flag 1)
//	byte 2..          payload (flag 1 only)
//
// Encoding and decoding are pure functions and safe for concurrent use.
package frame

// Header layout
const (
	StartMarker = 0x6 // 0b0110
	HeaderSize  = 2

	markerShift  = 4
	addressShift = 1
	addressMask  = 0x07
	flagMask     = 0x01
)

// Size limits
const (
	MaxAddress     = 7
	MaxPayloadSize = 255
	MaxFrameSize   = HeaderSize + MaxPayloadSize
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateControl
	statePayload
)
