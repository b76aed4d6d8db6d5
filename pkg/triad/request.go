// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package triad

import (
	"fmt"

	"github.com/Thermoquad/triad/pkg/frame"
)

// Triad command ids
const (
	CmdRangeRequest = 0xA0

	VerdictEqual  = '1'
	VerdictDiffer = '0'
)

// Range limits
const (
	rangeHeaderSize = 3 // base_lo, base_hi, count

	// MaxRangeCount is the largest range one reply frame can carry
	MaxRangeCount = frame.MaxPayloadSize - rangeHeaderSize

	// MaxLegacyValue bounds both fields of a legacy ASCII request
	MaxLegacyValue = 9
)

// RangeRequest asks a board for buffer[Base:Base+Count]
type RangeRequest struct {
	Base   int
	Count  int
	Legacy bool // two ASCII digits, answered with raw bytes
}

func (r RangeRequest) String() string {
	if r.Legacy {
		return fmt.Sprintf("[%d,+%d) legacy", r.Base, r.Count)
	}
	return fmt.Sprintf("[%d,+%d)", r.Base, r.Count)
}

func (r RangeRequest) validate() error {
	limit := MaxRangeCount
	baseLimit := 0xFFFF
	if r.Legacy {
		limit, baseLimit = MaxLegacyValue, MaxLegacyValue
	}
	if r.Base < 0 || r.Base > baseLimit || r.Count < 0 || r.Count > limit {
		return fmt.Errorf("%w: request %v exceeds wire limits", ErrRangeOutOfBounds, r)
	}
	return nil
}

// Encode returns the request's wire form. from is the sender's address.
// A binary request is a CmdRangeRequest command frame followed by a data
// frame [base_lo, base_hi, count].
func (r RangeRequest) Encode(from uint8) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if r.Legacy {
		return []byte{'0' + byte(r.Base), '0' + byte(r.Count)}, nil
	}

	cmd, err := frame.EncodeCommand(from, CmdRangeRequest)
	if err != nil {
		return nil, err
	}
	params, err := frame.EncodeData(from, []byte{byte(r.Base), byte(r.Base >> 8), byte(r.Count)})
	if err != nil {
		return nil, err
	}
	return append(cmd, params...), nil
}

// ParseLegacyRequest parses the two ASCII digits of a legacy request
func ParseLegacyRequest(b []byte) (RangeRequest, error) {
	if len(b) != 2 || !isDigit(b[0]) || !isDigit(b[1]) {
		return RangeRequest{}, fmt.Errorf("invalid legacy range request %q", b)
	}
	return RangeRequest{Base: int(b[0] - '0'), Count: int(b[1] - '0'), Legacy: true}, nil
}

// parseRangeParams parses the data frame following CmdRangeRequest
func parseRangeParams(p []byte) (RangeRequest, error) {
	if len(p) != rangeHeaderSize {
		return RangeRequest{}, fmt.Errorf("range request carries %d bytes (want %d)", len(p), rangeHeaderSize)
	}
	return RangeRequest{Base: int(p[0]) | int(p[1])<<8, Count: int(p[2])}, nil
}

// EncodeRangeReply builds the data frame answering a binary request
func EncodeRangeReply(from uint8, base int, data []byte) ([]byte, error) {
	if base < 0 || base > 0xFFFF || len(data) > MaxRangeCount {
		return nil, fmt.Errorf("%w: reply [%d,+%d)", ErrRangeOutOfBounds, base, len(data))
	}
	payload := make([]byte, 0, rangeHeaderSize+len(data))
	payload = append(payload, byte(base), byte(base>>8), byte(len(data)))
	payload = append(payload, data...)
	return frame.EncodeData(from, payload)
}

// parseRangeReply splits a reply payload into base and data
func parseRangeReply(p []byte) (int, []byte, error) {
	if len(p) < rangeHeaderSize {
		return 0, nil, fmt.Errorf("range reply carries %d bytes", len(p))
	}
	count := int(p[2])
	if len(p)-rangeHeaderSize != count {
		return 0, nil, fmt.Errorf("range reply declares %d bytes, carries %d", count, len(p)-rangeHeaderSize)
	}
	return int(p[0]) | int(p[1])<<8, p[rangeHeaderSize:], nil
}

// EncodeVerdict builds the command frame carrying a compare result
func EncodeVerdict(from uint8, equal bool) ([]byte, error) {
	id := uint8(VerdictDiffer)
	if equal {
		id = VerdictEqual
	}
	return frame.EncodeCommand(from, id)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
