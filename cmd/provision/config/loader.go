// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "ALEUTIAN_PROVISION_CONFIG"

	// EnvOllamaHost overrides engine.host.
	EnvOllamaHost = "OLLAMA_HOST"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func stateDir(home string) string {
	return filepath.Join(home, ".aleutian-provision")
}

// DefaultPath returns ~/.aleutian-provision/provision.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(stateDir(home), "provision.yaml"), nil
}

// Load resolves, reads, and validates the configuration.
//
// # Description
//
// An explicit path (or ALEUTIAN_PROVISION_CONFIG) must exist. The default
// path is created with DefaultConfig on first run. Keys missing from the
// file keep their defaults; unknown keys are errors.
//
// # Outputs
//
//   - ProvisionConfig: validated config with environment overrides applied
//   - string: the file that was read
//   - error: I/O, YAML, or validation failure
func Load(explicitPath string) (ProvisionConfig, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return ProvisionConfig{}, "", fmt.Errorf("could not find the user's home directory: %w", err)
	}

	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = filepath.Join(stateDir(home), "provision.yaml")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			slog.Info("First run detected, creating config", "path", path)
			if err := createDefault(path, home); err != nil {
				return ProvisionConfig{}, "", err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ProvisionConfig{}, path, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg, err := Parse(data, home)
	if err != nil {
		return ProvisionConfig{}, path, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, path, nil
}

// Parse decodes data on top of DefaultConfig(home), applies environment
// overrides, and validates the result.
func Parse(data []byte, home string) (ProvisionConfig, error) {
	cfg := DefaultConfig(home)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ProvisionConfig{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.ApplyEnv()
	cfg.Derived.ModelfilePath = expandHome(cfg.Derived.ModelfilePath, home)
	cfg.Inference.Cache.Path = expandHome(cfg.Inference.Cache.Path, home)
	cfg.Catalog.Path = expandHome(cfg.Catalog.Path, home)
	cfg.Metrics.TextfilePath = expandHome(cfg.Metrics.TextfilePath, home)

	if err := cfg.Validate(); err != nil {
		return ProvisionConfig{}, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides in place.
func (c *ProvisionConfig) ApplyEnv() {
	if host := os.Getenv(EnvOllamaHost); host != "" {
		c.Engine.Host = registry.ResolveHost(host)
	}
}

// Validate checks field rules and cross-field constraints.
func (c *ProvisionConfig) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if strings.ContainsFunc(c.Derived.ModelID, unicode.IsSpace) {
		errs = append(errs, errors.New("derived.model_id: must not contain whitespace"))
	}
	if err := c.Derived.Template.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("derived.template: %w", err))
	}
	return errors.Join(errs...)
}

func createDefault(path, home string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig(home))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
