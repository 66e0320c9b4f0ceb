// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the derived model over a small HTTP gateway.
//
// Routes:
//
//	GET  /healthz       liveness
//	GET  /metrics       Prometheus exposition of the shared registry
//	POST /v1/generate   {"model"?: string, "prompt": string}
//	POST /v1/batch      {"model"?: string, "prompts": [string]}
//
// Requests without a model use the configured derived model.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/inference"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

const (
	// DefaultMaxBatch caps prompts per /v1/batch request.
	DefaultMaxBatch = 256

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	serviceName = "aleutian-provision"
)

// Generator is the inference surface the gateway serves.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (inference.Response, error)
	RunBatch(ctx context.Context, model string, prompts []string) ([]inference.Result, inference.Summary)
}

// Options configure a Server.
type Options struct {
	Addr            string
	DefaultModel    string
	MaxBatch        int
	ShutdownTimeout time.Duration

	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// GenerateRequest is the /v1/generate body.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt" binding:"required"`
}

// GenerateResponse is the /v1/generate reply.
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Cached   bool   `json:"cached"`
}

// BatchRequest is the /v1/batch body.
type BatchRequest struct {
	Model   string   `json:"model"`
	Prompts []string `json:"prompts" binding:"required,min=1"`
}

// BatchItem is one ordered /v1/batch result.
type BatchItem struct {
	Index    int    `json:"index"`
	Response string `json:"response,omitempty"`
	Cached   bool   `json:"cached"`
	Error    string `json:"error,omitempty"`
}

// BatchResponse is the /v1/batch reply.
type BatchResponse struct {
	Model   string            `json:"model"`
	Results []BatchItem       `json:"results"`
	Summary inference.Summary `json:"summary"`
}

// Server is the HTTP gateway.
type Server struct {
	opts   Options
	gen    Generator
	router *gin.Engine
}

// New builds the router. It does not listen.
func New(gen Generator, opts Options) (*Server, error) {
	if gen == nil {
		return nil, errors.New("server: generator is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("server: default model is required")
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger())

	s := &Server{opts: opts, gen: gen, router: router}
	router.GET("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	v1 := router.Group("/v1")
	v1.POST("/generate", s.handleGenerate)
	v1.POST("/batch", s.handleBatch)
	return s, nil
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", ln.Addr().String(), "default_model", s.opts.DefaultModel)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	slog.Info("Gateway shutting down", "timeout", s.opts.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds Options.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.opts.DefaultModel})
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt must not be blank"})
		return
	}
	model := s.model(req.Model)

	resp, err := s.gen.Generate(c.Request.Context(), model, req.Prompt)
	if err != nil {
		slog.Error("Generate failed", "model", model, "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenerateResponse{Model: model, Response: resp.Text, Cached: resp.Cached})
}

func (s *Server) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if len(req.Prompts) > s.opts.MaxBatch {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("batch of %d exceeds limit of %d", len(req.Prompts), s.opts.MaxBatch),
		})
		return
	}
	model := s.model(req.Model)

	results, summary := s.gen.RunBatch(c.Request.Context(), model, req.Prompts)
	items := make([]BatchItem, len(results))
	for i, r := range results {
		items[i] = BatchItem{Index: r.Index, Response: r.Response, Cached: r.Cached}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
		}
	}
	c.JSON(http.StatusOK, BatchResponse{Model: model, Results: items, Summary: summary})
}

func (s *Server) model(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return s.opts.DefaultModel
}

// statusFor maps engine failures onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var me *registry.ModelError
	if errors.As(err, &me) {
		switch me.Type {
		case registry.ModelErrorNotFound:
			return http.StatusNotFound
		case registry.ModelErrorContextCancelled:
			return http.StatusGatewayTimeout
		case registry.ModelErrorConnectionFailed:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusBadGateway
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond))
	}
}
