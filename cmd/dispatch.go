// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/internal/config"
	"github.com/Thermoquad/triad/pkg/link"
	"github.com/Thermoquad/triad/pkg/payload"
	"github.com/Thermoquad/triad/pkg/telemetry"
)

const errorLogFile = "errors.cbor"

var (
	dispatchWatch  bool
	dispatchErrLog string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [batch.cbor]...",
	Short: "Forward ground command batches to the payload",
	Long: `Queue ground commands and exchange them with the payload one at a time.

Each batch file is a CBOR array of {1: code, 2: payload} maps. Commands are
framed to the payload address, replies are checked per command kind, and
failed exchanges are appended to the error log (data-dir/errors.cbor unless
--errlog is given). Downloaded packets are stored in data-dir.

With --watch, batch files dropped into the spool directory are dispatched as
they arrive and renamed to *.done afterwards.`,
	Example: `  triad dispatch --payload-link /dev/ttyUSB1 uplink.cbor
  triad dispatch --watch --spool-dir /var/spool/triad --data-dir /var/lib/triad`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	f := dispatchCmd.Flags()
	f.IntVar(&cfg.PayloadAddress, "payload-address", cfg.PayloadAddress, "Payload frame address (0-7)")
	f.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "Command queue capacity")
	f.DurationVar(&cfg.CommandDelay, "command-delay", cfg.CommandDelay, "Delay between commands")
	f.StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "Directory watched for batch files")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for downloads and the error log")
	f.BoolVar(&dispatchWatch, "watch", false, "Watch the spool directory for new batches")
	f.StringVar(&dispatchErrLog, "errlog", "", "Error log path")
}

// dispatchSession owns the dispatcher and the files it writes
type dispatchSession struct {
	queue      *payload.Queue
	dispatcher *payload.Dispatcher
	errLogPath string
}

func errorLogPath(c *config.Config) string {
	if dispatchErrLog != "" {
		return dispatchErrLog
	}
	return filepath.Join(c.DataDir, errorLogFile)
}

// loadOrCreateErrorLog continues an existing log so failures accumulate
// across runs
func loadOrCreateErrorLog(path string) (*payload.ErrorLog, error) {
	if !config.FileExists(path) {
		return payload.NewErrorLog(), nil
	}
	return payload.LoadErrorLog(path)
}

func newDispatchSession(tr link.Transport, capacity int, errLogPath string, opts ...payload.Option) *dispatchSession {
	q := payload.NewQueue(capacity)
	return &dispatchSession{
		queue:      q,
		dispatcher: payload.NewDispatcher(tr, q, opts...),
		errLogPath: errLogPath,
	}
}

func runDispatch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !dispatchWatch {
		return errors.New("no batch files given (or use --watch)")
	}
	if dispatchWatch && cfg.SpoolDir == "" {
		return errors.New("--watch needs --spool-dir")
	}

	tr, connInfo, err := OpenLink(cfg.PayloadLink)
	if err != nil {
		return fmt.Errorf("payload link: %w", err)
	}
	defer tr.Close()
	log.Info().Str("link", connInfo).Int("address", cfg.PayloadAddress).Msg("payload link open")

	errLogPath := errorLogPath(&cfg)
	errLog, err := loadOrCreateErrorLog(errLogPath)
	if err != nil {
		return err
	}

	opts := []payload.Option{
		payload.WithAddress(uint8(cfg.PayloadAddress)),
		payload.WithTimeout(cfg.Timeout),
		payload.WithCommandDelay(cfg.CommandDelay),
		payload.WithErrorLog(errLog),
		payload.WithLogger(log.With().Str("component", "dispatcher").Logger()),
	}

	if cfg.DataDir != "" {
		store, err := payload.NewFileStore(cfg.DataDir)
		if err != nil {
			return err
		}
		opts = append(opts, payload.WithHandler(store))
	}

	if cfg.MQTTBroker != "" {
		pub, err := telemetry.Dial(cfg.MQTTBroker, string(cfg.BoardRole().Letter()), log)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, payload.WithNotifier(pub))
	}

	s := newDispatchSession(tr, cfg.QueueCapacity, errLogPath, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, path := range args {
		if err := s.dispatchFile(ctx, path); err != nil {
			return err
		}
	}

	if dispatchWatch {
		w := &spoolWatcher{
			dir:     cfg.SpoolDir,
			process: s.dispatchSpooled,
			log:     log.With().Str("component", "spool").Logger(),
		}
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// dispatchFile loads a batch file and dispatches it
func (s *dispatchSession) dispatchFile(ctx context.Context, path string) error {
	cmds, err := payload.LoadBatch(path)
	if err != nil {
		return err
	}
	log.Info().Str("batch", path).Int("commands", len(cmds)).Msg("dispatching batch")

	before := s.dispatcher.ErrorLog().Len()
	err = s.dispatch(ctx, cmds)
	if saveErr := s.dispatcher.ErrorLog().Save(s.errLogPath); saveErr != nil {
		log.Error().Err(saveErr).Str("path", s.errLogPath).Msg("save error log")
	}
	log.Info().
		Str("batch", path).
		Int("failed", s.dispatcher.ErrorLog().Len()-before).
		Msg("batch done")
	return err
}

// dispatchSpooled dispatches a spooled batch and marks it done
func (s *dispatchSession) dispatchSpooled(ctx context.Context, path string) error {
	if err := s.dispatchFile(ctx, path); err != nil {
		return err
	}
	return os.Rename(path, path+".done")
}

// dispatch feeds cmds through the bounded queue, running the dispatcher
// whenever the queue fills. Commands the queue rejects are logged and skipped.
func (s *dispatchSession) dispatch(ctx context.Context, cmds []payload.Command) error {
	for len(cmds) > 0 {
		room := s.queue.Cap() - s.queue.Len()
		if room > len(cmds) {
			room = len(cmds)
		}
		n, err := payload.EnqueueAll(s.queue, cmds[:room])
		if err != nil {
			log.Warn().Err(err).Msg("command rejected")
			n++
		}
		cmds = cmds[n:]

		if err := s.dispatcher.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}
