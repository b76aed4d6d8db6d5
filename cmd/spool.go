// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// batchSuffix marks files the spool watcher dispatches
const batchSuffix = ".cbor"

// spoolWatcher hands batch files appearing in dir to process, oldest name
// first. Writes are debounced so a batch is only read once its writer has
// gone quiet.
type spoolWatcher struct {
	dir      string
	process  func(ctx context.Context, path string) error
	log      zerolog.Logger
	debounce time.Duration
}

func isBatchFile(name string) bool {
	return strings.HasSuffix(name, batchSuffix) && !strings.HasPrefix(filepath.Base(name), ".")
}

// pending lists batch files already in the spool directory
func (w *spoolWatcher) pending() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isBatchFile(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run processes the batches already spooled, then new ones until ctx ends.
// A batch that fails to process is logged and left in place.
func (w *spoolWatcher) Run(ctx context.Context) error {
	if w.debounce <= 0 {
		w.debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool watcher: watch %s: %w", w.dir, err)
	}

	existing, err := w.pending()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	for _, path := range existing {
		w.handle(ctx, path)
	}
	w.log.Info().Str("dir", w.dir).Msg("watching spool")

	ready := map[string]bool{}
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isBatchFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			ready[event.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(ready))
			for p := range ready {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			ready = map[string]bool{}
			for _, p := range paths {
				w.handle(ctx, p)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("spool watcher error")
		}
	}
}

func (w *spoolWatcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Already consumed
		return
	}
	if err := w.process(ctx, path); err != nil {
		w.log.Error().Err(err).Str("batch", path).Msg("batch failed")
	}
}
