// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the provisioner's YAML configuration.
//
// Resolution order for the file: --config flag, ALEUTIAN_PROVISION_CONFIG,
// then ~/.aleutian-provision/provision.yaml (created with defaults on first
// run). Values missing from the file keep their defaults. OLLAMA_HOST, when
// set, overrides engine.host.
package config

import (
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/provision"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/telemetry"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// DefaultDerivedModelID is the identifier of the model the pipeline creates.
const DefaultDerivedModelID = "aleutian-assistant"

// ProvisionConfig is the root document.
type ProvisionConfig struct {
	Meta      MetaConfig       `yaml:"meta"`
	Engine    EngineConfig     `yaml:"engine"`
	Catalog   CatalogConfig    `yaml:"catalog"`
	Probe     ProbeConfig      `yaml:"probe"`
	Derived   DerivedConfig    `yaml:"derived"`
	Verify    VerifyConfig     `yaml:"verify"`
	Inference InferenceConfig  `yaml:"inference"`
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// MetaConfig tracks the file format version.
type MetaConfig struct {
	Version string `yaml:"version"`
}

// EngineConfig selects how the engine is reached.
type EngineConfig struct {
	// Backend is "cli" (shell out to Binary) or "http" (REST at Host).
	Backend string `yaml:"backend" validate:"oneof=cli http"`

	// Binary is the engine executable for the cli backend and server start.
	Binary string `yaml:"binary" validate:"required"`

	// Host is the engine base URL; OLLAMA_HOST overrides it.
	Host string `yaml:"host" validate:"required"`

	// CommandTimeout bounds list/create/generate calls.
	CommandTimeout time.Duration `yaml:"command_timeout" validate:"gte=0"`

	// PullTimeout bounds one pull.
	PullTimeout time.Duration `yaml:"pull_timeout" validate:"gte=0"`

	// StartServer launches `<binary> serve` after a confirmed run if not running.
	StartServer bool `yaml:"start_server"`
}

// CatalogConfig points at an external catalog file.
type CatalogConfig struct {
	// Path overrides the embedded catalog when non-empty.
	Path string `yaml:"path"`
}

// ProbeConfig replaces measured capabilities (CI, dry runs).
type ProbeConfig struct {
	AssumeRAMGiB *float64 `yaml:"assume_ram_gib,omitempty" validate:"omitempty,gte=0"`
	AssumeGPU    *bool    `yaml:"assume_gpu,omitempty"`
}

// DerivedConfig describes the system-prompted model built on the base.
type DerivedConfig struct {
	ModelID       string                   `yaml:"model_id" validate:"required"`
	ModelfilePath string                   `yaml:"modelfile_path" validate:"required"`
	Template      provision.TemplateParams `yaml:"template"`
}

// VerifyConfig bounds confirmation polling.
type VerifyConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=1000"`
	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
}

// InferenceConfig tunes `generate` and `serve`.
type InferenceConfig struct {
	// Engine is "registry" (through the engine adapter) or "openai" (the /v1 API).
	Engine        string      `yaml:"engine" validate:"oneof=registry openai"`
	Workers       int         `yaml:"workers" validate:"min=1,max=256"`
	RatePerSecond float64     `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int         `yaml:"burst" validate:"gte=0"`
	Cache         CacheConfig `yaml:"cache"`
}

// CacheConfig selects the response store.
type CacheConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=memory badger"`
	Path    string        `yaml:"path" validate:"required_if=Backend badger"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig controls the node-exporter textfile written after runs.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// DefaultConfig returns the configuration written on first run.
//
// home is the user's home directory; paths derived from it are absolute.
func DefaultConfig(home string) ProvisionConfig {
	base := stateDir(home)
	return ProvisionConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Engine: EngineConfig{
			Backend:        "cli",
			Binary:         registry.DefaultBinary,
			Host:           registry.DefaultHost,
			CommandTimeout: 2 * time.Minute,
			PullTimeout:    60 * time.Minute,
		},
		Derived: DerivedConfig{
			ModelID:       DefaultDerivedModelID,
			ModelfilePath: filepath.Join(base, "Modelfile"),
			Template:      provision.DefaultTemplateParams(),
		},
		Verify: VerifyConfig{
			MaxAttempts: 10,
			Interval:    2 * time.Second,
		},
		Inference: InferenceConfig{
			Engine:  "registry",
			Workers: 4,
			Cache: CacheConfig{
				Backend: "badger",
				Path:    filepath.Join(base, "cache"),
				TTL:     7 * 24 * time.Hour,
			},
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8765",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}
