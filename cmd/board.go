// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/internal/config"
	"github.com/Thermoquad/triad/pkg/telemetry"
	"github.com/Thermoquad/triad/pkg/triad"
)

var powerCycleCmd string

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Run one board of the triad",
	Long: `Run the redundancy coordinator for one board.

The board serves range requests from its peers. The Primary compares a window
of the Secondary's buffer every compare interval and sends the verdict to the
Tertiary. The Tertiary power-cycles the Secondary on a mismatch, by running
--power-cycle-cmd with TRIAD_BOARD set to the board letter, or by logging the
request when no command is given.

With --reset the board first copies its buffer from its donor: the Secondary
for the Primary, the Primary for the others.`,
	Example: `  triad board --role A --link-secondary /dev/ttyUSB0 --link-tertiary /dev/ttyUSB1
  triad board --role B --reset --link-primary ws://bridge.local/ab`,
	Args: cobra.NoArgs,
	RunE: runBoard,
}

func init() {
	rootCmd.AddCommand(boardCmd)
	f := boardCmd.Flags()
	f.BoolVar(&cfg.Reset, "reset", cfg.Reset, "Resync the buffer from the donor before serving")
	f.DurationVar(&cfg.CompareInterval, "compare-interval", cfg.CompareInterval, "Interval between compares (Primary)")
	f.IntVar(&cfg.CompareWindow, "compare-window", cfg.CompareWindow, "Bytes compared per round (Primary)")
	f.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "Timeout when polling an idle link")
	f.StringVar(&powerCycleCmd, "power-cycle-cmd", "", "Shell command that power-cycles a board (Tertiary)")
}

// newBoardState builds the board's buffer from the configured seed
func newBoardState(c *config.Config) (*triad.BoardState, error) {
	b := triad.NewBoardState(c.BoardRole(), c.BufferSize)
	if c.Seed != "" {
		if err := b.Write(0, []byte(c.Seed)); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return b, nil
}

// openPeerLinks opens every configured link to another board. Missing links
// are left out; the coordinator halts if it needs one.
func openPeerLinks(c *config.Config) (triad.Links, func(), error) {
	links := triad.Links{}
	closeAll := func() {
		for _, tr := range links {
			tr.Close()
		}
	}

	self := c.BoardRole()
	for _, r := range triad.Roles {
		endpoint := c.LinkFor(r)
		if r == self || endpoint == "" {
			continue
		}
		tr, connInfo, err := OpenLink(endpoint)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("link to %s: %w", r, err)
		}
		log.Info().Stringer("peer", r).Str("link", connInfo).Msg("link open")
		links[r] = tr
	}
	return links, closeAll, nil
}

// shellCycler power-cycles a board by running a shell command
type shellCycler struct {
	command string
}

func (s shellCycler) PowerCycle(ctx context.Context, board triad.Role) error {
	c := exec.CommandContext(ctx, "sh", "-c", s.command)
	c.Env = append(os.Environ(), "TRIAD_BOARD="+string(board.Letter()))
	out, err := c.CombinedOutput()
	if err != nil {
		return fmt.Errorf("power cycle %s: %w: %s", board, err, out)
	}
	log.Info().Stringer("board", board).Msg("power cycled")
	return nil
}

func coordinatorOptions(c *config.Config) []triad.Option {
	opts := []triad.Option{
		triad.WithTimeout(c.Timeout),
		triad.WithPollTimeout(c.PollTimeout),
		triad.WithCompareInterval(c.CompareInterval),
		triad.WithCompareWindow(c.CompareWindow),
		triad.WithLegacyRequests(c.LegacyASCII),
		triad.WithLogger(log.With().Str("component", "triad").Logger()),
	}
	if powerCycleCmd != "" {
		opts = append(opts, triad.WithPowerCycler(shellCycler{command: powerCycleCmd}))
	}
	return opts
}

func runBoard(cmd *cobra.Command, args []string) error {
	board, err := newBoardState(&cfg)
	if err != nil {
		return err
	}

	links, closeLinks, err := openPeerLinks(&cfg)
	if err != nil {
		return err
	}
	defer closeLinks()

	opts := coordinatorOptions(&cfg)
	if cfg.MQTTBroker != "" {
		pub, err := telemetry.Dial(cfg.MQTTBroker, string(board.ID()), log)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, triad.WithReporter(pub))
	}

	coord := triad.New(board, links, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Stringer("role", board.Role()).
		Int("size", board.Size()).
		Bool("reset", cfg.Reset).
		Msg("starting board")

	if err := coord.Start(ctx, cfg.Reset); err != nil {
		return err
	}

	err = coord.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("board stopped")
		return nil
	}
	return err
}
