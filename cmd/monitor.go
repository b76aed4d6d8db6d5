// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
	"github.com/Thermoquad/triad/pkg/payload"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor frame traffic and statistics on a link",
	Long: `Track frame traffic on a link with live statistics.

The monitor shows:
  - Command and data frame counts and payload volume
  - Bytes skipped while hunting for a start marker
  - Traffic and last command per address

By default only skipped bytes and link errors are logged. Use --show-all to
log every frame too.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Log all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics summary interval in text mode (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	tr, connInfo, err := OpenLink(inspectEndpoint())
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if !useTUI {
		return runTextMonitor(ctx, cmd, tr, connInfo)
	}

	p := tea.NewProgram(initialMonitorModel(connInfo, showAll))

	go func() {
		err := streamFrames(ctx, tr, func(f *frame.Frame, skipped int) {
			p.Send(frameMsg{frame: f, skipped: skipped})
		})
		if ctx.Err() == nil {
			p.Send(linkLostMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMonitor prints frames and periodic statistics summaries
func runTextMonitor(ctx context.Context, cmd *cobra.Command, tr link.Transport, connInfo string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Triad - Link Monitor\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Statistics interval: %d seconds\n", statsInterval)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	stats := frame.NewStatistics()
	frames := make(chan frameMsg, 16)
	done := make(chan error, 1)

	go func() {
		done <- streamFrames(ctx, tr, func(f *frame.Frame, skipped int) {
			frames <- frameMsg{frame: f, skipped: skipped}
		})
	}()

	ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer ticker.Stop()

	synchronized := false
	for {
		select {
		case msg := <-frames:
			if synchronized && msg.skipped > 0 {
				stats.Skip(msg.skipped)
				fmt.Fprintf(out, "[SKIP] %d bytes without start marker\n", msg.skipped)
			}
			synchronized = true
			stats.Update(msg.frame)
			if showAll {
				fmt.Fprint(out, frame.FormatFrame(msg.frame, payload.CommandName))
			}
		case <-ticker.C:
			fmt.Fprintln(out, stats.String())
		case err := <-done:
			fmt.Fprintln(out, stats.String())
			return err
		}
	}
}
