// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/inference"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/pipeline"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/selector"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

// output renders command results as text or JSON.
//
// # Thread Safety
//
// Progress may be called from the pull goroutine; all writes share o.mu.
type output struct {
	w    io.Writer
	json bool
	tty  bool

	mu         sync.Mutex
	lastStatus string
	lineOpen   bool
}

func newOutput(w io.Writer, format string) *output {
	return &output{
		w:    w,
		json: strings.EqualFold(format, "json"),
		tty:  isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progress renders pull progress. On a terminal the line is rewritten in
// place; otherwise only status changes are printed.
func (o *output) progress(status string, completed, total int64) {
	if o.json {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	line := status
	if total > 0 {
		line = fmt.Sprintf("%s %5.1f%% (%s / %s)", status,
			100*float64(completed)/float64(total), humanBytes(completed), humanBytes(total))
	}

	if o.tty {
		fmt.Fprintf(o.w, "\r\033[K%s", mutedStyle.Render(line))
		o.lineOpen = true
		if status == "success" {
			fmt.Fprintln(o.w)
			o.lineOpen = false
		}
		return
	}
	if status != o.lastStatus {
		fmt.Fprintln(o.w, line)
		o.lastStatus = status
	}
}

func (o *output) endProgress() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lineOpen {
		fmt.Fprintln(o.w)
		o.lineOpen = false
	}
}

func (o *output) writeJSON(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *output) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, format, args...)
}

// reportView is the JSON shape of a pipeline report.
type reportView struct {
	RunID          string             `json:"run_id"`
	Outcome        pipeline.Outcome   `json:"outcome"`
	DryRun         bool               `json:"dry_run"`
	CatalogSource  string             `json:"catalog_source,omitempty"`
	Capabilities   probe.Capabilities `json:"capabilities"`
	Selected       string             `json:"selected,omitempty"`
	Unmet          string             `json:"unmet_constraint,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	ProvisionState string             `json:"provision_state,omitempty"`
	ArtifactPath   string             `json:"artifact_path,omitempty"`
	DerivedModel   string             `json:"derived_model,omitempty"`
	Verification   string             `json:"verification,omitempty"`
	Attempts       int                `json:"verify_attempts,omitempty"`
	DurationsMS    map[string]int64   `json:"durations_ms"`
	Error          string             `json:"error,omitempty"`
}

func newReportView(r *pipeline.Report, err error) reportView {
	v := reportView{
		RunID:         r.RunID,
		Outcome:       r.Outcome,
		DryRun:        r.DryRun,
		CatalogSource: r.CatalogSource,
		Capabilities:  r.Capabilities,
		ArtifactPath:  r.ArtifactPath,
		DerivedModel:  r.DerivedModelID,
		DurationsMS:   make(map[string]int64, len(r.Durations)),
	}
	if r.Selection.Selected != nil {
		v.Selected = r.Selection.Selected.Name
	}
	if nc := r.Selection.NoCandidate; nc != nil {
		v.Unmet = string(nc.Constraint)
		v.Reason = nc.Message()
	}
	if !r.DryRun && v.Selected != "" {
		v.ProvisionState = r.ProvisionState.String()
	}
	if r.DerivedModelID != "" && r.Verification.Attempts > 0 {
		v.Verification = r.Verification.State.String()
		v.Attempts = r.Verification.Attempts
	}
	for stage, d := range r.Durations {
		v.DurationsMS[stage] = d.Milliseconds()
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

// report prints the run summary and the styled outcome line.
func (o *output) report(r *pipeline.Report, err error) {
	o.endProgress()
	if o.json {
		_ = o.writeJSON(newReportView(r, err))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	fmt.Fprintln(o.w, titleStyle.Render("Provisioning run "+r.RunID))
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  host\t%s\n", r.Capabilities)
	if r.CatalogSource != "" {
		fmt.Fprintf(tw, "  catalog\t%s\n", r.CatalogSource)
	}
	if s := r.Selection.Selected; s != nil {
		fmt.Fprintf(tw, "  selected\t%s\n", s)
	}
	if r.ArtifactPath != "" {
		fmt.Fprintf(tw, "  modelfile\t%s\n", r.ArtifactPath)
	}
	if r.DerivedModelID != "" {
		fmt.Fprintf(tw, "  derived model\t%s\n", r.DerivedModelID)
	}
	for _, stage := range r.Stages {
		fmt.Fprintf(tw, "  %s\t%s\n", stage, mutedStyle.Render(r.Durations[stage].Round(time.Millisecond).String()))
	}
	_ = tw.Flush()

	fmt.Fprintln(o.w, outcomeLine(r, err))
}

func outcomeLine(r *pipeline.Report, err error) string {
	switch r.Outcome {
	case pipeline.OutcomeConfirmed:
		return successStyle.Render("✓ confirmed: ") + r.DerivedModelID + " is ready"
	case pipeline.OutcomePlanned:
		return successStyle.Render("✓ dry run: ") + "nothing was pulled or created"
	case pipeline.OutcomeTimedOut:
		return warningStyle.Render("⚠ timed out: ") +
			fmt.Sprintf("%s was not listed after %d attempts", r.DerivedModelID, r.Verification.Attempts)
	case pipeline.OutcomeNoCandidate:
		if nc := r.Selection.NoCandidate; nc != nil {
			return errorStyle.Render("✗ no candidate: ") + nc.Message()
		}
	}
	msg := string(r.Outcome)
	if err != nil {
		msg = err.Error()
	}
	return errorStyle.Render("✗ "+strings.ReplaceAll(string(r.Outcome), "_", " ")+": ") + msg
}

func (o *output) capabilities(c probe.Capabilities) {
	if o.json {
		_ = o.writeJSON(c)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "platform\t%s\n", c.Platform)
	fmt.Fprintf(tw, "available RAM\t%.2f GiB\n", c.AvailableRAMGiB)
	if c.TotalRAMGiB > 0 {
		fmt.Fprintf(tw, "total RAM\t%.2f GiB\n", c.TotalRAMGiB)
	}
	gpu := "none"
	if c.HasGPU {
		gpu = c.GPUName
		if gpu == "" {
			gpu = "yes"
		}
	}
	fmt.Fprintf(tw, "GPU\t%s\n", gpu)
	if c.Overridden {
		fmt.Fprintf(tw, "overridden\t%s\n", "yes")
	}
	_ = tw.Flush()
}

func (o *output) catalog(c *catalog.Catalog) {
	if o.json {
		_ = o.writeJSON(map[string]any{"source": c.Source(), "models": c.Entries()})
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, titleStyle.Render("Catalog: "+c.Source()))
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tMIN RAM\tGPU\tDESCRIPTION")
	for i, e := range c.Entries() {
		gpu := "-"
		if e.RequiresGPU {
			gpu = "required"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.2f GiB\t%s\t%s\n", i, e.Name, e.MinRAMGiB, gpu, e.Description)
	}
	_ = tw.Flush()
}

type selectionView struct {
	Capabilities probe.Capabilities `json:"capabilities"`
	Selected     string             `json:"selected,omitempty"`
	MinRAMGiB    float64            `json:"min_ram_gib,omitempty"`
	Constraint   string             `json:"unmet_constraint,omitempty"`
	Reason       string             `json:"reason,omitempty"`
}

func (o *output) selection(caps probe.Capabilities, res selector.Result) {
	if o.json {
		v := selectionView{Capabilities: caps}
		if res.Ok() {
			v.Selected = res.Selected.Name
			v.MinRAMGiB = res.Selected.MinRAMGiB
		} else {
			v.Constraint = string(res.NoCandidate.Constraint)
			v.Reason = res.NoCandidate.Message()
		}
		_ = o.writeJSON(v)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, mutedStyle.Render("host: "+caps.String()))
	if res.Ok() {
		fmt.Fprintln(o.w, successStyle.Render("✓ selected: ")+res.Selected.String())
		return
	}
	fmt.Fprintln(o.w, errorStyle.Render("✗ "+string(res.NoCandidate.Constraint)+": ")+res.NoCandidate.Message())
}

type batchItemView struct {
	Index    int    `json:"index"`
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Cached   bool   `json:"cached"`
	Error    string `json:"error,omitempty"`
}

func (o *output) batch(results []inference.Result, sum inference.Summary) {
	if o.json {
		items := make([]batchItemView, len(results))
		for i, r := range results {
			items[i] = batchItemView{Index: r.Index, Prompt: r.Prompt, Response: r.Response, Cached: r.Cached}
			if r.Err != nil {
				items[i].Error = r.Err.Error()
			}
		}
		_ = o.writeJSON(map[string]any{"results": items, "summary": sum})
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range results {
		header := fmt.Sprintf("[%d] %s", r.Index+1, r.Prompt)
		if r.Cached {
			header += mutedStyle.Render(" (cached)")
		}
		fmt.Fprintln(o.w, titleStyle.Render(header))
		if r.Err != nil {
			fmt.Fprintln(o.w, errorStyle.Render("  error: ")+r.Err.Error())
			continue
		}
		fmt.Fprintln(o.w, r.Response)
	}
	line := fmt.Sprintf("%d prompts: %d ok, %d failed, %d cached", sum.Total, sum.Succeeded, sum.Failed, sum.CacheHits)
	if sum.Failed > 0 {
		fmt.Fprintln(o.w, warningStyle.Render(line))
		return
	}
	fmt.Fprintln(o.w, successStyle.Render(line))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
