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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHost(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", DefaultHost},
		{"0.0.0.0", "http://0.0.0.0:11434"},
		{"gpu-box:8080", "http://gpu-box:8080"},
		{"http://127.0.0.1:11434/", "http://127.0.0.1:11434"},
		{"https://ollama.lan", "https://ollama.lan"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveHost(tt.in), "ResolveHost(%q)", tt.in)
	}
}

func TestHostFromEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "example.internal")
	assert.Equal(t, "http://example.internal:11434", HostFromEnv())
}

func TestHTTPRegistry_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"models":[{"name":"llama3.1:8b"},{"model":"gemma2:2b"},{"name":""}]}`)
	}))
	defer server.Close()

	r := NewHTTPRegistry(server.URL, HTTPOptions{})
	names, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "gemma2:2b"}, names)

	ok, err := r.Has(context.Background(), "gemma2:2b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPRegistry_ListErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewHTTPRegistry(server.URL, HTTPOptions{}).List(context.Background())
		var me *ModelError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, ModelErrorListFailed, me.Type)
		assert.Equal(t, "boom", me.Detail)
	})

	t.Run("invalid json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}))
		defer server.Close()

		_, err := NewHTTPRegistry(server.URL, HTTPOptions{}).List(context.Background())
		var me *ModelError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, ModelErrorInvalidResponse, me.Type)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewHTTPRegistry(url, HTTPOptions{}).List(context.Background())
		var me *ModelError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, ModelErrorConnectionFailed, me.Type)
		assert.Contains(t, me.Remediation, url)
	})
}

func TestHTTPRegistry_PullStreamsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		var req pullRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemma2:2b", req.Model)
		assert.True(t, req.Stream)

		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"pulling abc","digest":"sha256:abc","total":100,"completed":50}`)
		fmt.Fprintln(w, `garbage line`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"status":"pulling abc","digest":"sha256:abc","total":100,"completed":100}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	}))
	defer server.Close()

	type event struct {
		status           string
		completed, total int64
	}
	var events []event
	err := NewHTTPRegistry(server.URL, HTTPOptions{}).Pull(context.Background(), "gemma2:2b",
		func(status string, completed, total int64) {
			events = append(events, event{status, completed, total})
		})
	require.NoError(t, err)
	assert.Equal(t, []event{
		{"pulling manifest", 0, 0},
		{"pulling abc", 50, 100},
		{"pulling abc", 100, 100},
		{"success", 0, 0},
	}, events)
}

func TestHTTPRegistry_PullErrorLineVerbatim(t *testing.T) {
	const diag = "pull model manifest: file does not exist"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintf(w, "{\"error\":%q}\n", diag)
	}))
	defer server.Close()

	err := NewHTTPRegistry(server.URL, HTTPOptions{}).Pull(context.Background(), "nope:1b", nil)
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorPullFailed, me.Type)
	assert.Equal(t, diag, me.Detail)
}

func TestHTTPRegistry_PullStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer server.Close()

	err := NewHTTPRegistry(server.URL, HTTPOptions{}).Pull(context.Background(), "nope:1b", nil)
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorNotFound, me.Type)
	assert.Equal(t, "model not found", me.Detail)
}

func TestHTTPRegistry_PullTruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
	}))
	defer server.Close()

	err := NewHTTPRegistry(server.URL, HTTPOptions{}).Pull(context.Background(), "gemma2:2b", nil)
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Message, "without success")
}

func TestHTTPRegistry_Create(t *testing.T) {
	var got createRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/create", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"status":"using existing layer sha256:abc"}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	}))
	defer server.Close()

	err := NewHTTPRegistry(server.URL, HTTPOptions{}).Create(context.Background(), "aleutian-assistant", Modelfile{
		Path:       "/ignored",
		From:       "gemma2:2b",
		System:     "You are helpful.",
		Parameters: map[string]any{"num_ctx": 4096, "temperature": 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, "aleutian-assistant", got.Model)
	assert.Equal(t, "gemma2:2b", got.From)
	assert.Equal(t, "You are helpful.", got.System)
	assert.Equal(t, float64(4096), got.Parameters["num_ctx"])
	assert.True(t, got.Stream)
}

func TestHTTPRegistry_CreateErrorVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"invalid model name"}`)
	}))
	defer server.Close()

	r := NewHTTPRegistry(server.URL, HTTPOptions{})
	err := r.Create(context.Background(), "bad name", Modelfile{From: "gemma2:2b"})
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorCreateFailed, me.Type)
	assert.Equal(t, "invalid model name", me.Detail)

	err = r.Create(context.Background(), "x", Modelfile{})
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Message, "base model")
}

func TestHTTPRegistry_Generate(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
			return
		}
		fmt.Fprintf(w, `{"response":"reply to %s","done":true}`, req.Prompt)
	}))
	defer server.Close()

	r := NewHTTPRegistry(server.URL, HTTPOptions{})
	out, err := r.Generate(context.Background(), "gemma2:2b", "hi")
	require.NoError(t, err)
	assert.Equal(t, "reply to hi", out)

	_, err = r.Generate(context.Background(), "missing", "hi")
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorNotFound, me.Type)
	assert.Equal(t, "model 'missing' not found", me.Detail)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMockRegistry_Defaults(t *testing.T) {
	m := &MockRegistry{Models: []string{"gemma2:2b"}}
	ctx := context.Background()

	ok, err := m.Has(ctx, "gemma2:2b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Pull(ctx, "llama3.1:8b", nil))
	require.NoError(t, m.Create(ctx, "derived", Modelfile{From: "llama3.1:8b"}))
	names, _ := m.List(ctx)
	assert.Equal(t, []string{"gemma2:2b", "llama3.1:8b", "derived"}, names)

	out, _ := m.Generate(ctx, "derived", "ping")
	assert.Equal(t, "echo: ping", out)
	assert.Equal(t, 1, m.Count("Pull"))
	assert.Equal(t, 2, m.Count("List"))
}
