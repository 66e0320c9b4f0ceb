// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

// Engine produces one completion for a prompt.
type Engine interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// RegistryEngine runs prompts through a registry.Registry.
type RegistryEngine struct {
	reg registry.Registry
}

// NewRegistryEngine wraps reg as an Engine.
func NewRegistryEngine(reg registry.Registry) *RegistryEngine {
	return &RegistryEngine{reg: reg}
}

// Generate delegates to Registry.Generate.
func (e *RegistryEngine) Generate(ctx context.Context, model, prompt string) (string, error) {
	return e.reg.Generate(ctx, model, prompt)
}

// OpenAIEngine talks to the engine's OpenAI-compatible endpoint (/v1).
type OpenAIEngine struct {
	client *openai.Client
	system string
}

// OpenAIConfig configures an OpenAIEngine.
type OpenAIConfig struct {
	// BaseURL is the engine root, e.g. http://127.0.0.1:11434. "/v1" is appended.
	BaseURL string

	// APIKey is sent as a bearer token. The local engine ignores it.
	APIKey string

	// SystemPrompt, if set, is sent as a system message before the prompt.
	SystemPrompt string
}

// NewOpenAIEngine builds a go-openai client against cfg.BaseURL.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	key := cfg.APIKey
	if key == "" {
		key = "ollama"
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1"
	slog.Debug("Initializing OpenAI-compatible engine", "base_url", oc.BaseURL)
	return &OpenAIEngine{client: openai.NewClientWithConfig(oc), system: cfg.SystemPrompt}
}

// Generate issues one chat completion.
func (e *OpenAIEngine) Generate(ctx context.Context, model, prompt string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if e.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: e.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &registry.ModelError{
				Type:    registry.ModelErrorGenerateFailed,
				Model:   model,
				Message: fmt.Sprintf("Chat completion failed with status %d", apiErr.HTTPStatusCode),
				Detail:  apiErr.Message,
				Err:     err,
			}
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", &registry.ModelError{
			Type:    registry.ModelErrorInvalidResponse,
			Model:   model,
			Message: "Chat completion returned no choices",
		}
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	_ Engine = (*RegistryEngine)(nil)
	_ Engine = (*OpenAIEngine)(nil)
)
