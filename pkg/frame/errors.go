// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "errors"

// Frame errors are local to one encode or decode call and never fatal.
var (
	ErrBadStartMarker = errors.New("frame: bad start marker")
	ErrTruncated      = errors.New("frame: truncated")
	ErrLengthMismatch = errors.New("frame: length mismatch")
	ErrInvalidAddress = errors.New("frame: invalid address")
)
