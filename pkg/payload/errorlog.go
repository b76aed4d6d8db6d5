// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package payload

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrorEntry records one failed command/reply exchange
type ErrorEntry struct {
	Code      CommandCode `cbor:"1,keyasint"`
	ErrorByte uint8       `cbor:"2,keyasint"`
	Sequence  uint32      `cbor:"3,keyasint"`
	Time      time.Time   `cbor:"4,keyasint"`
}

// Cause describes the error byte
func (e ErrorEntry) Cause() string {
	switch e.ErrorByte {
	case ErrorByteTransport:
		return "transport fault"
	case ErrorByteProtocol:
		return "protocol error"
	case ErrorByteHandler:
		return "handler failure"
	default:
		return fmt.Sprintf("payload error 0x%02X", e.ErrorByte)
	}
}

func (e ErrorEntry) String() string {
	return fmt.Sprintf("%s #%d %s: %s",
		e.Time.Format(time.RFC3339), e.Sequence, e.Code, e.Cause())
}

// ErrorLog is an append-only record of failed exchanges
type ErrorLog struct {
	entries []ErrorEntry
}

// NewErrorLog creates an empty log
func NewErrorLog() *ErrorLog {
	return &ErrorLog{}
}

// Append records an entry
func (l *ErrorLog) Append(e ErrorEntry) {
	l.entries = append(l.entries, e)
}

// Len returns the number of entries
func (l *ErrorLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the recorded entries in append order
func (l *ErrorLog) Entries() []ErrorEntry {
	out := make([]ErrorEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// String renders one entry per line
func (l *ErrorLog) String() string {
	var sb strings.Builder
	for _, e := range l.entries {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// MarshalCBOR encodes the log as a CBOR array of entries
func (l *ErrorLog) MarshalCBOR() ([]byte, error) {
	entries := l.entries
	if entries == nil {
		entries = []ErrorEntry{}
	}
	return cbor.Marshal(entries)
}

// UnmarshalCBOR replaces the log contents with a decoded CBOR array
func (l *ErrorLog) UnmarshalCBOR(data []byte) error {
	var entries []ErrorEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}

// Save writes the log to path
func (l *ErrorLog) Save(path string) error {
	data, err := l.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("failed to encode error log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return nil
}

// LoadErrorLog reads a log written by Save
func LoadErrorLog(path string) (*ErrorLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read error log: %w", err)
	}
	l := NewErrorLog()
	if err := l.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("failed to decode error log %s: %w", path, err)
	}
	return l, nil
}
