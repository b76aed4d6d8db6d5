// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
)

// isWebSocketURL reports whether endpoint names a WebSocket bridge
func isWebSocketURL(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("TRIAD_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenLink opens a serial or WebSocket transport for endpoint and returns a
// description of it for display.
func OpenLink(endpoint string) (link.Transport, string, error) {
	if endpoint == "" {
		return nil, "", errors.New("no link endpoint configured")
	}

	if isWebSocketURL(endpoint) {
		password := ""
		if cfg.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		ws, err := link.DialWebSocket(endpoint, cfg.Username, password, cfg.SkipSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return ws, fmt.Sprintf("WebSocket: %s", endpoint), nil
	}

	s, err := link.OpenSerial(endpoint, cfg.Baud)
	if err != nil {
		return nil, "", err
	}
	return s, fmt.Sprintf("Serial: %s @ %d baud", endpoint, cfg.Baud), nil
}

// inspectEndpoint returns the link inspected by the monitoring commands
func inspectEndpoint() string {
	if portName != "" {
		return portName
	}
	return cfg.PayloadLink
}

// streamFrames decodes frames arriving on tr until ctx is done or the link
// fails. skipped is called with the number of bytes discarded before each
// frame. A closed link ends the stream without error.
func streamFrames(ctx context.Context, tr link.Transport, onFrame func(f *frame.Frame, skipped int)) error {
	decoder := frame.NewDecoder()
	buf := make([]byte, 1)

	for ctx.Err() == nil {
		err := tr.Receive(buf, cfg.Timeout)
		switch {
		case err == nil:
		case link.IsTimeout(err):
			continue
		case errors.Is(err, link.ErrClosed):
			return nil
		default:
			return err
		}

		f, _ := decoder.DecodeByte(buf[0])
		if f != nil {
			onFrame(f, decoder.Skipped())
		}
	}
	return nil
}
