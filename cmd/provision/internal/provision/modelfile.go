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
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

// ModelfileHeader is the first line of every rendered artifact.
const ModelfileHeader = "# generated by aleutian-provision; encoding: utf-8"

const preambleDelimiter = `"""`

// TemplateParams are the tunables baked into the derived model.
type TemplateParams struct {
	ContextWindow int     `yaml:"context_window" json:"context_window"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
	TopP          float64 `yaml:"top_p" json:"top_p"`
	SystemPrompt  string  `yaml:"system_prompt" json:"system_prompt"`
}

// DefaultTemplateParams returns the parameters used when config omits them.
func DefaultTemplateParams() TemplateParams {
	return TemplateParams{
		ContextWindow: 4096,
		Temperature:   0.2,
		TopP:          0.9,
		SystemPrompt:  "You are Aleutian, a concise local assistant. Answer accurately and say when you are unsure.",
	}
}

// Validate checks ranges and preamble content.
func (p TemplateParams) Validate() error {
	if p.ContextWindow <= 0 {
		return &ParamError{Field: "context_window", Reason: "must be greater than 0"}
	}
	if math.IsNaN(p.Temperature) || p.Temperature < 0 || p.Temperature > 2 {
		return &ParamError{Field: "temperature", Reason: "must be within [0, 2]"}
	}
	if math.IsNaN(p.TopP) || p.TopP <= 0 || p.TopP > 1 {
		return &ParamError{Field: "top_p", Reason: "must be within (0, 1]"}
	}
	if !utf8.ValidString(p.SystemPrompt) {
		return &ParamError{Field: "system_prompt", Reason: "must be valid UTF-8"}
	}
	if strings.Contains(p.SystemPrompt, preambleDelimiter) {
		return &ParamError{Field: "system_prompt", Reason: `must not contain """`}
	}
	return nil
}

// ConfigArtifact is a rendered Modelfile and where it was written.
type ConfigArtifact struct {
	Path      string
	Content   []byte
	BaseModel string
	Params    TemplateParams
}

// Modelfile converts the artifact into what registry.Registry.Create needs.
func (a ConfigArtifact) Modelfile() registry.Modelfile {
	return registry.Modelfile{
		Path:   a.Path,
		From:   a.BaseModel,
		System: normalizeNewlines(a.Params.SystemPrompt),
		Parameters: map[string]any{
			"num_ctx":     a.Params.ContextWindow,
			"temperature": a.Params.Temperature,
			"top_p":       a.Params.TopP,
		},
	}
}

// RenderModelfile produces the artifact bytes. Same inputs, same bytes.
//
// # Outputs
//
//	# generated by aleutian-provision; encoding: utf-8
//	FROM <base>
//	PARAMETER num_ctx <int>
//	PARAMETER temperature <float>
//	PARAMETER top_p <float>
//	SYSTEM """
//	<preamble>
//	"""
//
// Line endings are always LF. Floats use the shortest exact decimal form.
func RenderModelfile(base string, p TemplateParams) ([]byte, error) {
	if base == "" {
		return nil, &ParamError{Field: "base_model", Reason: "is required"}
	}
	if strings.ContainsFunc(base, unicode.IsSpace) {
		return nil, &ParamError{Field: "base_model", Reason: "must not contain whitespace"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(ModelfileHeader)
	buf.WriteString("\nFROM ")
	buf.WriteString(base)
	buf.WriteString("\nPARAMETER num_ctx ")
	buf.WriteString(strconv.Itoa(p.ContextWindow))
	buf.WriteString("\nPARAMETER temperature ")
	buf.WriteString(formatFloat(p.Temperature))
	buf.WriteString("\nPARAMETER top_p ")
	buf.WriteString(formatFloat(p.TopP))
	buf.WriteString("\nSYSTEM " + preambleDelimiter + "\n")
	if preamble := normalizeNewlines(p.SystemPrompt); preamble != "" {
		buf.WriteString(preamble)
		buf.WriteByte('\n')
	}
	buf.WriteString(preambleDelimiter + "\n")
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// normalizeNewlines converts CRLF and CR to LF and drops trailing newlines.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimRight(s, "\n")
}
