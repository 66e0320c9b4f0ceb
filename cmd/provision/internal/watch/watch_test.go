// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
)

const validCatalog = `version: 1
models:
  - name: small:1b
    min_ram_gib: 1
  - name: mid:3b
    min_ram_gib: 3
`

const biggerCatalog = `version: 1
models:
  - name: small:1b
    min_ram_gib: 1
  - name: mid:4b
    min_ram_gib: 3.5
`

func TestNew_Validation(t *testing.T) {
	_, err := New("", probe.Capabilities{}, func(Event) {}, Options{})
	assert.Error(t, err)
	_, err = New("catalog.yaml", probe.Capabilities{}, nil, Options{})
	assert.Error(t, err)
}

func TestRun_ReevaluatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validCatalog), 0o644))

	events := make(chan Event, 16)
	w, err := New(path, probe.Capabilities{AvailableRAMGiB: 4}, func(ev Event) { events <- ev }, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	first := next(t, events)
	require.NoError(t, first.Err)
	assert.Equal(t, "mid:3b", first.Selection.Selected.Name)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\nmodels: []\n"), 0o644))
	bad := next(t, events)
	assert.Error(t, bad.Err)
	assert.Nil(t, bad.Catalog)
	require.NotNil(t, w.Current())
	assert.Equal(t, 2, w.Current().Len())

	require.NoError(t, os.WriteFile(path, []byte(biggerCatalog), 0o644))
	good := waitFor(t, events, func(ev Event) bool { return ev.Err == nil })
	assert.Equal(t, "mid:4b", good.Selection.Selected.Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRun_MissingFileIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	events := make(chan Event, 4)
	w, err := New(path, probe.Capabilities{AvailableRAMGiB: 4}, func(ev Event) { events <- ev }, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	ev := next(t, events)
	assert.ErrorIs(t, ev.Err, os.ErrNotExist)
	assert.Nil(t, w.Current())
}

func next(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no catalog event")
		return Event{}
	}
}

func waitFor(t *testing.T, events <-chan Event, ok func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ok(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected catalog event not seen")
			return Event{}
		}
	}
}
