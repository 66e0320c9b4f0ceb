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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

// DefaultHost is the engine address when OLLAMA_HOST is unset.
const DefaultHost = "http://127.0.0.1:11434"

const defaultPort = "11434"

// ResolveHost normalizes an OLLAMA_HOST-style value into a base URL.
//
// # Examples
//
//	ResolveHost("")                  // "http://127.0.0.1:11434"
//	ResolveHost("0.0.0.0")           // "http://0.0.0.0:11434"
//	ResolveHost("gpu-box:8080")      // "http://gpu-box:8080"
//	ResolveHost("https://ollama.lan") // "https://ollama.lan"
func ResolveHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultHost
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return DefaultHost
	}
	if u.Port() == "" && u.Scheme == "http" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	return strings.TrimSuffix(u.String(), "/")
}

// HostFromEnv returns ResolveHost(os.Getenv("OLLAMA_HOST")).
func HostFromEnv() string {
	return ResolveHost(os.Getenv("OLLAMA_HOST"))
}

// HTTPOptions tunes HTTPRegistry. Zero values take defaults.
type HTTPOptions struct {
	// RequestTimeout bounds list and generate (default util.DefaultHTTPTimeout).
	RequestTimeout time.Duration

	// StreamTimeout bounds pull and create streams (default util.DefaultPullTimeout).
	StreamTimeout time.Duration

	// Client overrides the HTTP client. Its own Timeout should be zero.
	Client *http.Client
}

// HTTPRegistry implements Registry against the engine's REST API.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPRegistry struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	streamTimeout  time.Duration
}

// NewHTTPRegistry creates a client for baseURL (see ResolveHost).
func NewHTTPRegistry(baseURL string, opts HTTPOptions) *HTTPRegistry {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRegistry{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
		requestTimeout: util.EnforceMinTimeout(
			util.EnforceDefaultTimeout(opts.RequestTimeout, util.DefaultHTTPTimeout), util.MinHTTPTimeout),
		streamTimeout: util.EnforceMinTimeout(
			util.EnforceDefaultTimeout(opts.StreamTimeout, util.DefaultPullTimeout), util.MinHTTPTimeout),
	}
}

// BaseURL returns the engine URL.
func (r *HTTPRegistry) BaseURL() string {
	return r.baseURL
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// List queries GET /api/tags.
func (r *HTTPRegistry) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ModelError{Type: ModelErrorListFailed, Message: "Failed to create request", Detail: err.Error(), Err: err}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, r.transportFailure(ctx, err, ModelErrorListFailed, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ModelError{Type: ModelErrorListFailed, Message: "Error reading model list", Detail: err.Error(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ModelError{
			Type:    ModelErrorListFailed,
			Message: fmt.Sprintf("Model list failed with status %d", resp.StatusCode),
			Detail:  strings.TrimSpace(string(body)),
		}
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, &ModelError{Type: ModelErrorInvalidResponse, Message: "Invalid model list", Detail: err.Error(), Err: err}
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Has reports whether name appears in a fresh listing.
func (r *HTTPRegistry) Has(ctx context.Context, name string) (bool, error) {
	names, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	return Contains(names, name), nil
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// streamEvent is one NDJSON line from /api/pull or /api/create.
type streamEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Pull streams POST /api/pull, forwarding progress events.
//
// An "error" field on any stream line fails the pull with that text as
// Detail. The pull is never retried here.
func (r *HTTPRegistry) Pull(ctx context.Context, name string, progress PullProgressCallback) error {
	slog.Info("Pulling model", "model", name, "via", "http")
	err := r.stream(ctx, "/api/pull", pullRequest{Model: name, Stream: true}, name, ModelErrorPullFailed, progress)
	if err != nil {
		return err
	}
	slog.Info("Model pulled successfully", "model", name)
	return nil
}

type createRequest struct {
	Model      string         `json:"model"`
	From       string         `json:"from"`
	System     string         `json:"system,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Stream     bool           `json:"stream"`
}

// Create streams POST /api/create with the Modelfile's structured fields.
func (r *HTTPRegistry) Create(ctx context.Context, name string, mf Modelfile) error {
	if mf.From == "" {
		return &ModelError{Type: ModelErrorCreateFailed, Model: name, Message: "base model is required for create"}
	}
	slog.Info("Creating model", "model", name, "from", mf.From, "via", "http")
	return r.stream(ctx, "/api/create", createRequest{
		Model:      name,
		From:       mf.From,
		System:     mf.System,
		Parameters: mf.Parameters,
		Stream:     true,
	}, name, ModelErrorCreateFailed, nil)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate calls POST /api/generate with streaming disabled.
func (r *HTTPRegistry) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	resp, err := r.post(ctx, "/api/generate", generateRequest{Model: model, Prompt: prompt}, model, ModelErrorGenerateFailed)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ModelError{Type: ModelErrorGenerateFailed, Model: model, Message: "Error reading response", Detail: err.Error(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ModelError{
			Type:    statusType(resp.StatusCode, ModelErrorGenerateFailed),
			Model:   model,
			Message: fmt.Sprintf("Generate failed with status %d", resp.StatusCode),
			Detail:  errorText(body),
		}
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ModelError{Type: ModelErrorInvalidResponse, Model: model, Message: "Invalid generate response", Detail: err.Error(), Err: err}
	}
	if out.Error != "" {
		return "", &ModelError{Type: ModelErrorGenerateFailed, Model: model, Message: "Generate failed", Detail: out.Error}
	}
	return out.Response, nil
}

func (r *HTTPRegistry) post(ctx context.Context, path string, payload any, model string, typ ModelErrorType) (*http.Response, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, &ModelError{Type: typ, Model: model, Message: "Failed to encode request", Detail: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &ModelError{Type: typ, Model: model, Message: "Failed to create request", Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, r.transportFailure(ctx, err, typ, model)
	}
	return resp, nil
}

func (r *HTTPRegistry) stream(ctx context.Context, path string, payload any, model string, typ ModelErrorType, progress PullProgressCallback) error {
	ctx, cancel := context.WithTimeout(ctx, r.streamTimeout)
	defer cancel()

	resp, err := r.post(ctx, path, payload, model, typ)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ModelError{
			Type:    statusType(resp.StatusCode, typ),
			Model:   model,
			Message: fmt.Sprintf("%s failed with status %d", path, resp.StatusCode),
			Detail:  errorText(body),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	sawSuccess := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Debug("Failed to parse stream line", "path", path, "line", string(line), "error", err)
			continue
		}
		if ev.Error != "" {
			return &ModelError{Type: typ, Model: model, Message: path + " reported an error", Detail: ev.Error}
		}
		if ev.Status == "success" {
			sawSuccess = true
		}
		if progress != nil {
			progress(ev.Status, ev.Completed, ev.Total)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return r.transportFailure(ctx, err, typ, model)
		}
		return &ModelError{Type: typ, Model: model, Message: "Error reading " + path + " stream", Detail: err.Error(), Err: err}
	}
	if !sawSuccess {
		return &ModelError{
			Type:    typ,
			Model:   model,
			Message: path + " stream ended without success",
			Detail:  "the engine closed the stream before reporting completion",
		}
	}
	return nil
}

func (r *HTTPRegistry) transportFailure(ctx context.Context, err error, typ ModelErrorType, model string) *ModelError {
	if ctx.Err() != nil {
		return &ModelError{
			Type:    ModelErrorContextCancelled,
			Model:   model,
			Message: "Request cancelled",
			Detail:  ctx.Err().Error(),
			Err:     err,
		}
	}
	return &ModelError{
		Type:        ModelErrorConnectionFailed,
		Model:       model,
		Message:     "Cannot connect to the engine",
		Detail:      err.Error(),
		Remediation: fmt.Sprintf("Ensure the engine is running at %s (ollama serve)", r.baseURL),
		Err:         err,
	}
}

func statusType(code int, fallback ModelErrorType) ModelErrorType {
	if code == http.StatusNotFound {
		return ModelErrorNotFound
	}
	return fallback
}

// errorText extracts {"error": "..."} bodies, else returns the trimmed body.
func errorText(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

var _ Registry = (*HTTPRegistry)(nil)
