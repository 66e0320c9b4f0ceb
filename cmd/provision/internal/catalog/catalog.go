// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package catalog loads and validates the ordered table of candidate models.

# Format

	version: 1
	models:
	  - name: llama3.1:8b
	    min_ram_gib: 5.5
	    requires_gpu: false
	    description: optional free text

Order is significant: the selector breaks ties by declaration order.

# Validation

Malformed entries are rejected at load time, never skipped. Every violation
is reported (joined with errors.Join) as a *CatalogError naming the entry
index, the field, and the reason. Unknown YAML keys are errors, so a typo
like `min_ram_gb` cannot silently yield a zero requirement.
*/
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only catalog document version this build reads.
const CurrentVersion = 1

//go:embed defaults.yaml
var defaultCatalogYAML []byte

// ModelDescriptor describes one candidate model. Immutable after load.
type ModelDescriptor struct {
	// Name is the engine model reference, e.g. "llama3.1:8b".
	Name string `json:"name"`

	// MinRAMGiB is the free memory the model needs to run.
	MinRAMGiB float64 `json:"min_ram_gib"`

	// RequiresGPU excludes hosts without a detected GPU.
	RequiresGPU bool `json:"requires_gpu"`

	// Description is free text for humans.
	Description string `json:"description,omitempty"`
}

// String formats the descriptor as "name (>= N GiB[, GPU])".
func (d ModelDescriptor) String() string {
	if d.RequiresGPU {
		return fmt.Sprintf("%s (>= %.2f GiB, GPU)", d.Name, d.MinRAMGiB)
	}
	return fmt.Sprintf("%s (>= %.2f GiB)", d.Name, d.MinRAMGiB)
}

// Catalog is an ordered, read-only set of descriptors.
type Catalog struct {
	source  string
	entries []ModelDescriptor
}

// Entries returns a copy of the descriptors in declaration order.
func (c *Catalog) Entries() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// At returns the i-th entry in declaration order.
func (c *Catalog) At(i int) ModelDescriptor {
	return c.entries[i]
}

// Lookup finds an entry by exact name.
func (c *Catalog) Lookup(name string) (ModelDescriptor, bool) {
	for _, d := range c.entries {
		if d.Name == name {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// Source describes where the catalog was loaded from ("embedded defaults" or a path).
func (c *Catalog) Source() string {
	return c.source
}

// CatalogError reports one malformed catalog element.
type CatalogError struct {
	// Index is the zero-based entry index, or -1 for document-level problems.
	Index int

	// Name is the entry name if it has one.
	Name string

	// Field is the offending YAML key.
	Field string

	// Reason explains the violation.
	Reason string
}

func (e *CatalogError) Error() string {
	if e.Index < 0 {
		if e.Field != "" {
			return fmt.Sprintf("catalog: %s: %s", e.Field, e.Reason)
		}
		return "catalog: " + e.Reason
	}
	if e.Name != "" {
		return fmt.Sprintf("catalog: models[%d] (%s): %s: %s", e.Index, e.Name, e.Field, e.Reason)
	}
	return fmt.Sprintf("catalog: models[%d]: %s: %s", e.Index, e.Field, e.Reason)
}

type document struct {
	Version int     `yaml:"version"`
	Models  []entry `yaml:"models"`
}

type entry struct {
	Name        string  `yaml:"name" validate:"required"`
	MinRAMGiB   float64 `yaml:"min_ram_gib" validate:"gt=0"`
	RequiresGPU bool    `yaml:"requires_gpu"`
	Description string  `yaml:"description"`
}

// yamlKeys maps struct field names to the YAML keys operators write.
var yamlKeys = map[string]string{
	"Name":      "name",
	"MinRAMGiB": "min_ram_gib",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalogYAML, "embedded defaults")
}

// Load reads and validates a catalog file.
//
// # Outputs
//
//   - *Catalog: the validated catalog
//   - error: joined *CatalogError values, or an I/O error wrapped with the path
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return parse(data, path)
}

// Parse validates a catalog document held in memory.
func Parse(data []byte) (*Catalog, error) {
	return parse(data, "inline")
}

func parse(data []byte, source string) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CatalogError{Index: -1, Reason: "document is empty"}
		}
		return nil, &CatalogError{Index: -1, Reason: "invalid YAML: " + err.Error()}
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	entries := make([]ModelDescriptor, len(doc.Models))
	for i, e := range doc.Models {
		entries[i] = ModelDescriptor{
			Name:        e.Name,
			MinRAMGiB:   e.MinRAMGiB,
			RequiresGPU: e.RequiresGPU,
			Description: e.Description,
		}
	}
	return &Catalog{source: source, entries: entries}, nil
}

// New builds a catalog from descriptors, applying the same validation as Load.
func New(descriptors ...ModelDescriptor) (*Catalog, error) {
	doc := document{Version: CurrentVersion, Models: make([]entry, len(descriptors))}
	for i, d := range descriptors {
		doc.Models[i] = entry{Name: d.Name, MinRAMGiB: d.MinRAMGiB, RequiresGPU: d.RequiresGPU, Description: d.Description}
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	entries := make([]ModelDescriptor, len(descriptors))
	copy(entries, descriptors)
	return &Catalog{source: "inline", entries: entries}, nil
}

func validateDocument(doc document) error {
	var errs []error

	if doc.Version != CurrentVersion {
		errs = append(errs, &CatalogError{Index: -1, Field: "version",
			Reason: fmt.Sprintf("unsupported version %d (want %d)", doc.Version, CurrentVersion)})
	}
	if len(doc.Models) == 0 {
		errs = append(errs, &CatalogError{Index: -1, Field: "models", Reason: "catalog has no entries"})
	}

	seen := make(map[string]int, len(doc.Models))
	for i, e := range doc.Models {
		errs = append(errs, validateEntry(i, e)...)

		if e.Name == "" {
			continue
		}
		if first, dup := seen[e.Name]; dup {
			errs = append(errs, &CatalogError{Index: i, Name: e.Name, Field: "name",
				Reason: fmt.Sprintf("duplicate of models[%d]", first)})
			continue
		}
		seen[e.Name] = i
	}

	return errors.Join(errs...)
}

func validateEntry(i int, e entry) []error {
	var errs []error

	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, &CatalogError{Index: i, Name: e.Name, Field: yamlKeys[fe.Field()],
					Reason: describeTag(fe)})
			}
		} else {
			errs = append(errs, &CatalogError{Index: i, Name: e.Name, Reason: err.Error()})
		}
	}

	if strings.ContainsFunc(e.Name, unicode.IsSpace) {
		errs = append(errs, &CatalogError{Index: i, Name: e.Name, Field: "name",
			Reason: "must not contain whitespace"})
	}
	if math.IsInf(e.MinRAMGiB, 0) {
		errs = append(errs, &CatalogError{Index: i, Name: e.Name, Field: "min_ram_gib",
			Reason: "must be finite"})
	}
	return errs
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s (got %v)", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
