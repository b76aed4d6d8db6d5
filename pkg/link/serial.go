// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialPort is the subset of serial.Port the link uses
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Serial is a Transport over a UART
type Serial struct {
	port    serialPort
	name    string
	buf     []byte
	pending []byte
	closed  bool
}

// OpenSerial opens a serial port at 8N1 with the given baud rate
func OpenSerial(portName string, baudRate int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return newSerial(port, portName), nil
}

func newSerial(port serialPort, name string) *Serial {
	return &Serial{
		port: port,
		name: name,
		buf:  make([]byte, 256),
	}
}

// Name returns the device name the link was opened on
func (s *Serial) Name() string {
	return s.name
}

// Send writes all of p. The UART driver has no write deadline; the timeout
// is checked once the write returns.
func (s *Serial) Send(p []byte, timeout time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	for written := 0; written < len(p); {
		n, err := s.port.Write(p[written:])
		if err != nil {
			return hardwareFault("serial write", err)
		}
		written += n
		if written < len(p) && time.Since(start) > timeout {
			return timeoutError("serial write", written, len(p), timeout)
		}
	}
	return nil
}

// Receive reads exactly len(p) bytes, keeping partial data across timeouts
func (s *Serial) Receive(p []byte, timeout time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	deadline := time.Now().Add(timeout)
	for len(s.pending) < len(p) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError("serial read", len(s.pending), len(p), timeout)
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return hardwareFault("serial set timeout", err)
		}
		n, err := s.port.Read(s.buf)
		if err != nil {
			return hardwareFault("serial read", err)
		}
		// n == 0 is the driver's read timeout
		s.pending = append(s.pending, s.buf[:n]...)
	}
	copy(p, s.pending)
	s.pending = append(s.pending[:0], s.pending[len(p):]...)
	return nil
}

// Close closes the serial port
func (s *Serial) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
