// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-validates a catalog file whenever it changes and reports
// the selection the current capability snapshot would make.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename keep triggering reloads.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/selector"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Event is one evaluation of the catalog file.
type Event struct {
	Path string
	Time time.Time

	// Catalog is nil when Err is set.
	Catalog   *catalog.Catalog
	Selection selector.Result

	// Err is the load or validation failure. An invalid edit is never
	// applied; the previous catalog stays in effect.
	Err error
}

// Handler receives every evaluation, valid or not.
type Handler func(Event)

// Options configure a Watcher.
type Options struct {
	Debounce time.Duration
}

// Watcher evaluates a catalog file on each change.
type Watcher struct {
	path     string
	caps     probe.Capabilities
	handler  Handler
	debounce time.Duration

	mu      sync.Mutex
	current *catalog.Catalog
}

// New prepares a watcher for path. caps is the snapshot every selection
// is evaluated against.
func New(path string, caps probe.Capabilities, handler Handler, opts Options) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch: path is required")
	}
	if handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{path: abs, caps: caps, handler: handler, debounce: opts.Debounce}, nil
}

// Current returns the last catalog that validated, or nil.
func (w *Watcher) Current() *catalog.Catalog {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run evaluates the file once, then again after every settled change,
// until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Info("Watching catalog", "path", w.path, "debounce", w.debounce)

	w.evaluate()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			slog.Debug("Catalog changed", "op", ev.Op.String())
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			w.evaluate()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) evaluate() {
	ev := Event{Path: w.path, Time: time.Now()}

	c, err := catalog.Load(w.path)
	if err != nil {
		ev.Err = err
		slog.Warn("Catalog rejected", "path", w.path, "error", err)
		w.handler(ev)
		return
	}

	w.mu.Lock()
	w.current = c
	w.mu.Unlock()
	ev.Catalog = c
	ev.Selection = selector.Select(c, w.caps)
	if ev.Selection.Ok() {
		slog.Info("Catalog valid",
			"entries", c.Len(),
			"selected", ev.Selection.Selected.Name,
			"available_ram_gib", w.caps.AvailableRAMGiB)
	} else {
		slog.Info("Catalog valid but nothing fits",
			"entries", c.Len(),
			"constraint", ev.Selection.NoCandidate.Constraint,
			"reason", ev.Selection.NoCandidate.Message())
	}
	w.handler(ev)
}
