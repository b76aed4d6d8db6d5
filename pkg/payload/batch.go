// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package payload

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// batchEntry is the on-disk form of a ground command
type batchEntry struct {
	Code    uint8  `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint,omitempty"`
}

// EncodeBatch encodes commands as a CBOR array of {1: code, 2: payload}
func EncodeBatch(cmds []Command) ([]byte, error) {
	entries := make([]batchEntry, len(cmds))
	for i, c := range cmds {
		entries[i] = batchEntry{Code: uint8(c.Code), Payload: c.Payload}
	}
	return cbor.Marshal(entries)
}

// DecodeBatch decodes a command batch. Sequence numbers are left zero.
func DecodeBatch(data []byte) ([]Command, error) {
	var entries []batchEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	cmds := make([]Command, len(entries))
	for i, e := range entries {
		cmds[i] = Command{Code: CommandCode(e.Code), Payload: e.Payload}
	}
	return cmds, nil
}

// SaveBatch writes a command batch file
func SaveBatch(path string, cmds []Command) error {
	data, err := EncodeBatch(cmds)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadBatch reads a command batch file
func LoadBatch(path string) ([]Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	cmds, err := DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cmds, nil
}

// EnqueueAll adds cmds to q in order, stopping at the first failure.
// It returns the number of commands enqueued.
func EnqueueAll(q *Queue, cmds []Command) (int, error) {
	for i, c := range cmds {
		if _, err := q.Enqueue(c); err != nil {
			return i, fmt.Errorf("command %d (%s): %w", i, c.Code, err)
		}
	}
	return len(cmds), nil
}
