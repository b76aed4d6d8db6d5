// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

// CommandNamer maps a command id to a display name. It returns "" for ids it
// does not know.
type CommandNamer func(id uint8) string

// FormatCommandID formats a command id with its name when known
func FormatCommandID(id uint8, name CommandNamer) string {
	if name != nil {
		if s := name(id); s != "" {
			return fmt.Sprintf("%s (0x%02X)", s, id)
		}
	}
	return fmt.Sprintf("UNKNOWN (0x%02X)", id)
}

// FormatFrame formats a frame in human-readable form
func FormatFrame(f *Frame, name CommandNamer) string {
	timestamp := f.Timestamp().Format("15:04:05.000")

	if f.IsCommand() {
		return fmt.Sprintf("[%s] CMD  addr=%d %s\n", timestamp, f.Address(), FormatCommandID(f.CommandID(), name))
	}

	result := fmt.Sprintf("[%s] DATA addr=%d len=%d\n", timestamp, f.Address(), f.Length())
	if len(f.Payload()) > 0 {
		result += FormatPayload(f.Payload())
	}
	return result
}

// FormatPayload returns a hex dump of payload, 16 bytes per row
func FormatPayload(payload []byte) string {
	var sb strings.Builder
	sb.WriteString("  Payload: ")
	for i, b := range payload {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n           ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}

// FormatHex formats raw bytes as space separated hex
func FormatHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
