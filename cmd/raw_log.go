// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/payload"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display frames as they arrive on a link.

Each frame is shown with its timestamp and address. Command frames show the
command name, data frames a hex dump of the payload. Bytes skipped while
hunting for a start marker are reported before the next frame.

Supports both serial and WebSocket links.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	tr, connInfo, err := OpenLink(inspectEndpoint())
	if err != nil {
		return err
	}
	defer tr.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Triad - Raw Frame Log\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return streamFrames(ctx, tr, func(f *frame.Frame, skipped int) {
		if skipped > 0 {
			fmt.Fprintf(out, "[SKIP] %d bytes without start marker\n", skipped)
		}
		fmt.Fprint(out, frame.FormatFrame(f, payload.CommandName))
	})
}
