// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

const (
	// DefaultListAttempts bounds read-only listing retries in EnsurePresent.
	DefaultListAttempts = 3

	// DefaultListBackoff is the pause between failed listing attempts.
	DefaultListBackoff = 500 * time.Millisecond

	// DefaultArtifactMode is the permission of written Modelfiles.
	DefaultArtifactMode = 0o644
)

// Options configures a Provisioner.
type Options struct {
	// ModelfilePath is where MaterializeConfig writes the artifact. Required.
	ModelfilePath string

	// ListAttempts bounds listing retries (default DefaultListAttempts).
	ListAttempts int

	// ListBackoff is the pause between listing retries (default DefaultListBackoff).
	ListBackoff time.Duration

	// Progress receives pull progress. May be nil.
	Progress registry.PullProgressCallback
}

// Provisioner owns ProvisionState for the base models of a run.
//
// # Description
//
// A Provisioner is created fresh per run. It remembers which models it has
// pulled and which derived models it has created, so repeated calls inside
// one run never repeat a mutation.
//
// # Thread Safety
//
// Safe for concurrent use; operations on the same model are serialized.
type Provisioner struct {
	reg    registry.Registry
	opts   Options
	writer atomicWriter
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	machines map[string]*stateMachine
	pullErrs map[string]error
	created  map[string]bool
	opLocks  map[string]*sync.Mutex
}

// New creates a Provisioner backed by reg.
func New(reg registry.Registry, opts Options) *Provisioner {
	if opts.ListAttempts <= 0 {
		opts.ListAttempts = DefaultListAttempts
	}
	if opts.ListBackoff <= 0 {
		opts.ListBackoff = DefaultListBackoff
	}
	return &Provisioner{
		reg:      reg,
		opts:     opts,
		writer:   newAtomicWriter(),
		sleep:    sleepContext,
		machines: make(map[string]*stateMachine),
		pullErrs: make(map[string]error),
		created:  make(map[string]bool),
		opLocks:  make(map[string]*sync.Mutex),
	}
}

// State returns the current state for a model name.
func (p *Provisioner) State(name string) ProvisionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.machines[registry.CanonicalName(name)]; ok {
		return m.state
	}
	return NotPresent
}

func (p *Provisioner) lockFor(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.opLocks[key]
	if !ok {
		l = &sync.Mutex{}
		p.opLocks[key] = l
	}
	return l
}

func (p *Provisioner) machine(key string) *stateMachine {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.machines[key]
	if !ok {
		m = &stateMachine{state: NotPresent}
		p.machines[key] = m
	}
	return m
}

func (p *Provisioner) advance(m *stateMachine, to ProvisionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return m.advance(to)
}

// EnsurePresent makes d's model available in the engine.
//
// # Description
//
// Queries the listing (exact, case-sensitive name match). A listing failure
// is retried up to ListAttempts times; listings are read-only, so this is
// safe. If the model is absent, or the listing could not be read at all, a
// single pull is issued. A pull failure moves the model to PullFailed and is
// returned as *PullFailedError. Later calls for the same model in this run
// return the recorded outcome without contacting the engine again.
//
// # Outputs
//
//   - ProvisionState: Present or PullFailed (NotPresent only when ctx ends first)
//   - error: *PullFailedError, or ctx.Err()
func (p *Provisioner) EnsurePresent(ctx context.Context, d catalog.ModelDescriptor) (ProvisionState, error) {
	key := registry.CanonicalName(d.Name)
	l := p.lockFor(key)
	l.Lock()
	defer l.Unlock()

	m := p.machine(key)
	switch p.State(key) {
	case Present:
		return Present, nil
	case PullFailed:
		p.mu.Lock()
		err := p.pullErrs[key]
		p.mu.Unlock()
		return PullFailed, err
	}

	present, err := p.listWithRetry(ctx, d.Name)
	if err != nil && ctx.Err() != nil {
		return NotPresent, ctx.Err()
	}
	if present {
		slog.Info("Model already present", "model", d.Name)
		if err := p.advance(m, Present); err != nil {
			return NotPresent, err
		}
		return Present, nil
	}
	if err != nil {
		slog.Warn("Model listing unavailable, pulling anyway", "model", d.Name, "error", err)
	}

	if err := p.advance(m, Pulling); err != nil {
		return NotPresent, err
	}
	slog.Info("Pulling model", "model", d.Name, "min_ram_gib", d.MinRAMGiB)

	start := time.Now()
	if pullErr := p.reg.Pull(ctx, d.Name, p.opts.Progress); pullErr != nil {
		failure := &PullFailedError{Model: d.Name, Diagnostic: diagnostic(pullErr), Err: pullErr}
		p.mu.Lock()
		p.pullErrs[key] = failure
		p.mu.Unlock()
		if err := p.advance(m, PullFailed); err != nil {
			return PullFailed, err
		}
		slog.Error("Pull failed", "model", d.Name, "diagnostic", failure.Diagnostic)
		return PullFailed, failure
	}

	if err := p.advance(m, Present); err != nil {
		return Pulling, err
	}
	slog.Info("Model pulled", "model", d.Name, "duration", time.Since(start).Round(time.Millisecond))
	return Present, nil
}

func (p *Provisioner) listWithRetry(ctx context.Context, name string) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.ListAttempts; attempt++ {
		ok, err := p.reg.Has(ctx, name)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		slog.Debug("Model listing failed", "model", name, "attempt", attempt, "error", err)

		if attempt < p.opts.ListAttempts {
			if serr := p.sleep(ctx, p.opts.ListBackoff); serr != nil {
				return false, serr
			}
		}
	}
	return false, fmt.Errorf("list models after %d attempts: %w", p.opts.ListAttempts, lastErr)
}

// MaterializeConfig renders the Modelfile for d and writes it atomically to
// Options.ModelfilePath, replacing any previous artifact.
func (p *Provisioner) MaterializeConfig(d catalog.ModelDescriptor, params TemplateParams) (ConfigArtifact, error) {
	if p.opts.ModelfilePath == "" {
		return ConfigArtifact{}, &ParamError{Field: "modelfile_path", Reason: "is required"}
	}

	content, err := RenderModelfile(d.Name, params)
	if err != nil {
		return ConfigArtifact{}, err
	}
	if err := p.writer.write(p.opts.ModelfilePath, content, DefaultArtifactMode); err != nil {
		return ConfigArtifact{}, err
	}

	slog.Info("Modelfile written", "path", p.opts.ModelfilePath, "base", d.Name, "bytes", len(content))
	return ConfigArtifact{
		Path:      p.opts.ModelfilePath,
		Content:   content,
		BaseModel: d.Name,
		Params:    params,
	}, nil
}

// CreateDerived issues the single create call allowed per run for modelID.
//
// An existing engine model with the same identifier is overwritten. A
// second call for the same modelID returns ErrAlreadyCreated without
// contacting the engine. The create is never retried.
func (p *Provisioner) CreateDerived(ctx context.Context, modelID string, artifact ConfigArtifact) error {
	key := registry.CanonicalName(modelID)
	p.mu.Lock()
	if p.created[key] {
		p.mu.Unlock()
		return fmt.Errorf("create %s: %w", modelID, ErrAlreadyCreated)
	}
	p.created[key] = true
	p.mu.Unlock()

	slog.Info("Creating derived model", "model", modelID, "base", artifact.BaseModel, "modelfile", artifact.Path)
	if err := p.reg.Create(ctx, modelID, artifact.Modelfile()); err != nil {
		failure := &CreationFailedError{
			Model:        modelID,
			BaseModel:    artifact.BaseModel,
			ArtifactPath: artifact.Path,
			Diagnostic:   diagnostic(err),
			Err:          err,
		}
		slog.Error("Create failed", "model", modelID, "diagnostic", failure.Diagnostic)
		return failure
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
