// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link provides the byte transports the triad protocol runs over.
//
// Every physical link (board to board, board to payload, board to ground) is a
// distinct Transport. Transports move raw bytes with a bounded timeout; framing
// is the caller's concern.
package link

import (
	"errors"
	"fmt"
	"time"
)

// Transport errors
var (
	ErrTimeout       = errors.New("link: timeout")
	ErrHardwareFault = errors.New("link: hardware fault")
	ErrClosed        = fmt.Errorf("%w: link closed", ErrHardwareFault)
)

// DefaultTimeout is the transport timeout shared by all operations unless
// configured otherwise.
const DefaultTimeout = 250 * time.Millisecond

// Transport is a point-to-point byte link.
type Transport interface {
	// Send transmits all of p within timeout.
	Send(p []byte, timeout time.Duration) error

	// Receive fills all of p within timeout. On ErrTimeout no bytes are
	// consumed: a later Receive sees the bytes that had already arrived.
	Receive(p []byte, timeout time.Duration) error

	// Close releases the link. Pending and later calls fail with ErrClosed.
	Close() error
}

// IsTimeout reports whether err is a transport timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsHardwareFault reports whether err is a transport hardware fault
func IsHardwareFault(err error) bool {
	return errors.Is(err, ErrHardwareFault)
}

// hardwareFault wraps a low-level error as a hardware fault
func hardwareFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHardwareFault) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrHardwareFault, op, err)
}

// timeoutError reports a timeout waiting for n bytes of which got arrived
func timeoutError(op string, got, n int, timeout time.Duration) error {
	return fmt.Errorf("%w: %s %d/%d bytes after %v", ErrTimeout, op, got, n, timeout)
}
