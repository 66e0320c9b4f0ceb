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
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// maxPromptLine bounds one prompt line read from --file.
const maxPromptLine = 1 << 20

func runGenerate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	prompts, err := readPrompts(cmd.InOrStdin(), generateFile)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		return fmt.Errorf("no prompts in %s", generateFile)
	}

	runner, closeStore, err := a.newInference()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("Response cache close failed", "error", err)
		}
	}()

	model := generateModel
	if model == "" {
		model = a.cfg.Derived.ModelID
	}
	slog.Info("Generating", "model", model, "prompts", len(prompts), "workers", runner.Workers())

	results, sum := runner.RunBatch(cmd.Context(), model, prompts)
	a.out.batch(results, sum)
	a.writeTextfile()

	if sum.Failed > 0 {
		return reported(ExitFailure, fmt.Errorf("%d of %d prompts failed", sum.Failed, sum.Total))
	}
	return nil
}

// readPrompts returns the non-blank lines of path, or of stdin for "-".
func readPrompts(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var prompts []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxPromptLine)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return prompts, nil
}
