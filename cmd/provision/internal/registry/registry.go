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
Package registry adapts the local model-serving engine (Ollama).

Two implementations satisfy Registry:

  - CLIRegistry shells out to the `ollama` binary through process.Manager.
  - HTTPRegistry talks to the engine's REST API (/api/tags, /api/pull,
    /api/create, /api/generate).

Both report engine failures as *ModelError with the engine's own diagnostic
in Detail, unmodified.

# Name Matching

Model names are compared exactly and case-sensitively. The engine lists
untagged models with an implicit ":latest" tag, so both sides are
canonicalised before comparison: "llama3" matches "llama3:latest", but
"Llama3" does not match "llama3".

# Environment Variables

  - OLLAMA_HOST: engine address for HTTPRegistry (default http://127.0.0.1:11434)
*/
package registry

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// DefaultTag is the tag the engine assigns to untagged model names.
const DefaultTag = "latest"

// PullProgressCallback receives progress updates during a pull.
//
// # Inputs
//
//   - status: current operation, e.g. "pulling manifest"
//   - completed: bytes downloaded so far
//   - total: total bytes to download (0 if unknown)
type PullProgressCallback func(status string, completed, total int64)

// Modelfile is what Create needs to build a derived model.
//
// CLIRegistry uses Path. HTTPRegistry sends From, System and Parameters,
// which carry the same content as the rendered file at Path.
type Modelfile struct {
	Path       string
	From       string
	System     string
	Parameters map[string]any
}

// Registry is the contract for the engine's model store.
//
// Implementations must be safe for concurrent use. List is always a fresh
// query; nothing is cached.
type Registry interface {
	// List returns the names the engine currently reports, in listing order.
	List(ctx context.Context) ([]string, error)

	// Has reports whether name appears in a fresh listing.
	Has(ctx context.Context, name string) (bool, error)

	// Pull downloads name. progress may be nil.
	Pull(ctx context.Context, name string, progress PullProgressCallback) error

	// Create builds (or overwrites) the model name from mf.
	Create(ctx context.Context, name string, mf Modelfile) error

	// Generate runs one non-streaming completion.
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// ParseListing extracts model names from `ollama list` output.
//
// # Description
//
// Takes the first whitespace-delimited token of every non-empty line. A
// leading header line whose first token is "NAME" is skipped.
//
// # Examples
//
//	ParseListing("NAME            ID    SIZE\nllama3:latest   abc   4.7 GB\n")
//	// []string{"llama3:latest"}
func ParseListing(text string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if first {
			first = false
			if fields[0] == "NAME" {
				continue
			}
		}
		names = append(names, fields[0])
	}
	return names
}

// CanonicalName appends ":latest" to untagged names.
//
// A ':' that belongs to a registry host port ("host:5000/model") is not
// a tag separator; only a ':' after the last '/' counts.
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	slash := strings.LastIndexByte(name, '/')
	if strings.IndexByte(name[slash+1:], ':') >= 0 {
		return name
	}
	return name + ":" + DefaultTag
}

// MatchName reports whether a listed name refers to wanted.
func MatchName(listed, wanted string) bool {
	if listed == "" || wanted == "" {
		return false
	}
	return CanonicalName(listed) == CanonicalName(wanted)
}

// Contains reports whether any listed name matches wanted.
func Contains(listed []string, wanted string) bool {
	for _, name := range listed {
		if MatchName(name, wanted) {
			return true
		}
	}
	return false
}

// FormatListing renders names one per line, for logs and CLI output.
func FormatListing(names []string) string {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}
	return buf.String()
}
