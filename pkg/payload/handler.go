// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package payload

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Outcome is the result of one command exchange as seen by a CommandHandler
type Outcome struct {
	Command Command
	Reply   uint8 // reply byte from the payload
	OK      bool  // Reply == ReplyOK

	Checksum []byte // START_DOWNLOAD: checksum of the file being downloaded
	Data     []byte // REQUEST_PACKET: packet bytes
	Cursor   int    // upload cursor after the command
}

// CommandHandler acts on the outcome of each exchange that received a reply.
// A returned error is recorded in the ErrorLog with ErrorByteHandler.
type CommandHandler interface {
	HandleOutcome(o Outcome) error
}

// HandlerFunc adapts a function to CommandHandler
type HandlerFunc func(o Outcome) error

// HandleOutcome calls f(o)
func (f HandlerFunc) HandleOutcome(o Outcome) error {
	return f(o)
}

// NopHandler ignores every outcome
type NopHandler struct{}

// HandleOutcome does nothing
func (NopHandler) HandleOutcome(Outcome) error { return nil }

// File names written by FileStore
const (
	DownloadFile = "download.bin"
	ChecksumFile = "download.sha256"
)

// FileStore persists downloaded data to a directory. A successful
// START_DOWNLOAD truncates the download file and records its checksum;
// each successful REQUEST_PACKET appends the packet bytes.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed and returns a store writing into it
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// HandleOutcome persists download state
func (s *FileStore) HandleOutcome(o Outcome) error {
	if !o.OK {
		return nil
	}

	switch o.Command.Code {
	case StartDownload:
		sum := hex.EncodeToString(o.Checksum) + "\n"
		if err := os.WriteFile(filepath.Join(s.Dir, ChecksumFile), []byte(sum), 0o644); err != nil {
			return fmt.Errorf("write checksum: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.Dir, DownloadFile), nil, 0o644); err != nil {
			return fmt.Errorf("truncate download: %w", err)
		}
	case RequestPacket:
		f, err := os.OpenFile(filepath.Join(s.Dir, DownloadFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open download: %w", err)
		}
		if _, err := f.Write(o.Data); err != nil {
			f.Close()
			return fmt.Errorf("append packet: %w", err)
		}
		return f.Close()
	}
	return nil
}
