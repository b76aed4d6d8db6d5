// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/pkg/payload"
)

var errlogCmd = &cobra.Command{
	Use:   "errlog [path]",
	Short: "Print a saved payload error log",
	Long: `Print the failed exchanges recorded by dispatch, oldest first, followed by
a count per command. The default path is data-dir/errors.cbor.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runErrlog,
}

func init() {
	rootCmd.AddCommand(errlogCmd)
}

func runErrlog(cmd *cobra.Command, args []string) error {
	path := errorLogPath(&cfg)
	if len(args) == 1 {
		path = args[0]
	}

	l, err := payload.LoadErrorLog(path)
	if err != nil {
		return err
	}
	printErrorLog(cmd.OutOrStdout(), l)
	return nil
}

func printErrorLog(w io.Writer, l *payload.ErrorLog) {
	if l.Len() == 0 {
		fmt.Fprintln(w, "No errors recorded")
		return
	}

	fmt.Fprint(w, l.String())

	counts := map[payload.CommandCode]int{}
	for _, e := range l.Entries() {
		counts[e.Code]++
	}
	codes := make([]payload.CommandCode, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	fmt.Fprintf(w, "\n=== %d errors ===\n", l.Len())
	for _, c := range codes {
		fmt.Fprintf(w, "%-18s %6d\n", c.String()+":", counts[c])
	}
}
