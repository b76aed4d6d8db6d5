// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package payload drives the payload controller: a bounded queue of ground
// commands, the dispatcher that forwards them over a link and interprets the
// replies, and the log of failed exchanges.
package payload

import "fmt"

// CommandCode identifies a payload command on the wire
type CommandCode uint8

// Payload command codes
const (
	StartDownload  CommandCode = 0x01
	StartUpload    CommandCode = 0x02
	RequestPacket  CommandCode = 0x03
	SendPacket     CommandCode = 0x04
	CancelUpload   CommandCode = 0x05
	FinalizeUpload CommandCode = 0x06
	TakePhoto      CommandCode = 0x07
	ExecuteCommand CommandCode = 0x08
)

// Reply bytes
const (
	ReplyOK = 0x00

	// Markers recorded in place of a payload error byte when the exchange
	// failed on the board side.
	ErrorByteTransport = 0xFF
	ErrorByteProtocol  = 0xFE
	ErrorByteHandler   = 0xFD
)

// ChecksumSize is the length of the checksum sent after START_DOWNLOAD
const ChecksumSize = 32

var commandNames = map[CommandCode]string{
	StartDownload:  "START_DOWNLOAD",
	StartUpload:    "START_UPLOAD",
	RequestPacket:  "REQUEST_PACKET",
	SendPacket:     "SEND_PACKET",
	CancelUpload:   "CANCEL_UPLOAD",
	FinalizeUpload: "FINALIZE_UPLOAD",
	TakePhoto:      "TAKE_PHOTO",
	ExecuteCommand: "EXECUTE_COMMAND",
}

// String returns the command name, or UNKNOWN(0xNN)
func (c CommandCode) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
}

// Known reports whether c is one of the defined command codes
func (c CommandCode) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// ParseCommandCode looks up a code by name
func ParseCommandCode(name string) (CommandCode, error) {
	for code, n := range commandNames {
		if n == name {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

// CommandName returns the name of a raw command id, or "" if unknown.
// It satisfies frame.CommandNamer.
func CommandName(id uint8) string {
	return commandNames[CommandCode(id)]
}

// Command is one queued ground command. Sequence is assigned on enqueue.
type Command struct {
	Code     CommandCode
	Payload  []byte
	Sequence uint32
}

// Length returns the payload length
func (c Command) Length() int {
	return len(c.Payload)
}

func (c Command) String() string {
	return fmt.Sprintf("#%d %s len=%d", c.Sequence, c.Code, len(c.Payload))
}
