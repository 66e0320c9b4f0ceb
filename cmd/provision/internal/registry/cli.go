// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/infra/process"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

// DefaultBinary is the engine executable CLIRegistry invokes.
const DefaultBinary = "ollama"

// CLIOptions tunes CLIRegistry. Zero values take defaults.
type CLIOptions struct {
	// Binary is the engine executable (default "ollama").
	Binary string

	// CommandTimeout bounds list, create and generate (default util.DefaultProcessTimeout).
	CommandTimeout time.Duration

	// PullTimeout bounds a single pull (default util.DefaultPullTimeout).
	PullTimeout time.Duration
}

// CLIRegistry implements Registry by running the engine's CLI.
//
// # Thread Safety
//
// Safe for concurrent use if the underlying process.Manager is.
type CLIRegistry struct {
	proc           process.Manager
	binary         string
	commandTimeout time.Duration
	pullTimeout    time.Duration
}

// NewCLIRegistry creates a CLIRegistry running commands through proc.
func NewCLIRegistry(proc process.Manager, opts CLIOptions) *CLIRegistry {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLIRegistry{
		proc:   proc,
		binary: binary,
		commandTimeout: util.EnforceMinTimeout(
			util.EnforceDefaultTimeout(opts.CommandTimeout, util.DefaultProcessTimeout), util.MinProcessTimeout),
		pullTimeout: util.EnforceMinTimeout(
			util.EnforceDefaultTimeout(opts.PullTimeout, util.DefaultPullTimeout), util.MinProcessTimeout),
	}
}

// List runs `ollama list` and parses the first column.
func (r *CLIRegistry) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	out, err := r.proc.Run(ctx, r.binary, "list")
	if err != nil {
		return nil, r.commandFailure(ctx, err, ModelErrorListFailed, "", "Failed to list models",
			"Check that the engine is installed and running: ollama serve")
	}
	return ParseListing(string(out)), nil
}

// Has reports whether name appears in a fresh listing.
func (r *CLIRegistry) Has(ctx context.Context, name string) (bool, error) {
	names, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	return Contains(names, name), nil
}

// Pull runs `ollama pull <name>`.
//
// The CLI prints progress with terminal control sequences, so progress only
// receives a start and a completion event.
func (r *CLIRegistry) Pull(ctx context.Context, name string, progress PullProgressCallback) error {
	ctx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()

	if progress != nil {
		progress("pulling "+name, 0, 0)
	}
	slog.Info("Pulling model", "model", name, "via", "cli")

	if _, err := r.proc.Run(ctx, r.binary, "pull", name); err != nil {
		return r.commandFailure(ctx, err, ModelErrorPullFailed, name, "Pull failed",
			"Check the model name and network access to the model registry")
	}

	if progress != nil {
		progress("success", 0, 0)
	}
	return nil
}

// Create runs `ollama create <name> -f <path>`.
func (r *CLIRegistry) Create(ctx context.Context, name string, mf Modelfile) error {
	if mf.Path == "" {
		return &ModelError{
			Type:    ModelErrorCreateFailed,
			Model:   name,
			Message: "Modelfile path is required for CLI create",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	slog.Info("Creating model", "model", name, "modelfile", mf.Path)
	if _, err := r.proc.Run(ctx, r.binary, "create", name, "-f", mf.Path); err != nil {
		return r.commandFailure(ctx, err, ModelErrorCreateFailed, name, "Create failed",
			"Inspect the Modelfile and the engine's diagnostic above")
	}
	return nil
}

// Generate runs `ollama run -- <model> <prompt>` and returns trimmed stdout.
// The "--" keeps a prompt that starts with '-' from being read as a flag.
func (r *CLIRegistry) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	out, err := r.proc.Run(ctx, r.binary, "run", "--", model, prompt)
	if err != nil {
		return "", r.commandFailure(ctx, err, ModelErrorGenerateFailed, model, "Generate failed",
			"Confirm the model exists: ollama list")
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *CLIRegistry) commandFailure(ctx context.Context, err error, typ ModelErrorType, model, msg, fix string) *ModelError {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &ModelError{Type: ModelErrorContextCancelled, Model: model, Message: msg + " (cancelled)",
			Detail: ctx.Err().Error(), Err: err}
	}

	detail := util.ExtractStderr(err)
	if detail == "" {
		detail = err.Error()
	}

	if errors.Is(err, exec.ErrNotFound) {
		return &ModelError{
			Type:        ModelErrorConnectionFailed,
			Model:       model,
			Message:     fmt.Sprintf("Cannot run %s", r.binary),
			Detail:      detail,
			Remediation: "Install the engine and make sure it is on PATH",
			Err:         err,
		}
	}

	return &ModelError{Type: typ, Model: model, Message: msg, Detail: detail, Remediation: fix, Err: err}
}

var _ Registry = (*CLIRegistry)(nil)
