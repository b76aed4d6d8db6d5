// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
	"github.com/Thermoquad/triad/pkg/payload"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test a link by waiting for a valid frame",
	Long: `Wait for a valid frame on a link until timeout.

This command connects to a serial port or WebSocket and waits for any complete
frame. Bytes without a start marker are skipped and counted.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a frame
  2 - Connection error

Useful for checking the wiring between boards or to the payload.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "wait", 10, "Seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	tr, connInfo, err := OpenLink(inspectEndpoint())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer tr.Close()

	fmt.Printf("Triad - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for a valid frame...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	f, skipped, err := waitForFrame(ctx, tr)
	switch {
	case f != nil:
		if skipped > 0 {
			fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Print(frame.FormatFrame(f, payload.CommandName))
		raw, _ := f.Bytes()
		fmt.Printf("  Raw: %s\n", frame.FormatHex(raw))
		os.Exit(0)

	case err != nil:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}

// waitForFrame returns the first frame on tr, or nil when ctx ends first
func waitForFrame(ctx context.Context, tr link.Transport) (*frame.Frame, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var got *frame.Frame
	var skipped int
	err := streamFrames(ctx, tr, func(f *frame.Frame, n int) {
		if got == nil {
			got, skipped = f, n
			cancel()
		}
	})
	return got, skipped, err
}
