// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"log/slog"
	"time"
)

// DispatchRequest describes a process chain being handed to an output
// adapter or external scheduler for execution.
type DispatchRequest struct {
	// SubmissionID is the submission the process chain belongs to.
	SubmissionID string

	// ProcessChainID is the process chain being dispatched.
	ProcessChainID string

	// ServiceID is the service the chain's executable targets.
	ServiceID string

	// Metadata carries adapter-specific context for the log line.
	Metadata map[string]interface{}
}

// DispatchResponse describes the outcome of a dispatch.
type DispatchResponse struct {
	// Success indicates whether the handoff itself succeeded (not whether
	// the process chain later completed successfully).
	Success bool

	// Error is the error message if the handoff failed.
	Error string

	// DurationMs is the time spent inside the adapter call.
	DurationMs int64

	// Metadata carries adapter-specific context for the log line.
	Metadata map[string]interface{}
}

// LogDispatchRequest logs a process chain being handed off.
func LogDispatchRequest(logger *slog.Logger, req *DispatchRequest) {
	attrs := []any{
		EventKey, "dispatch_request",
		SubmissionIDKey, req.SubmissionID,
		ProcessChainIDKey, req.ProcessChainID,
		ServiceIDKey, req.ServiceID,
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Info("dispatching process chain", attrs...)
}

// LogDispatchResponse logs the outcome of a dispatch.
func LogDispatchResponse(logger *slog.Logger, req *DispatchRequest, resp *DispatchResponse) {
	attrs := []any{
		EventKey, "dispatch_response",
		SubmissionIDKey, req.SubmissionID,
		ProcessChainIDKey, req.ProcessChainID,
		ServiceIDKey, req.ServiceID,
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	}

	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	for k, v := range resp.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "process chain dispatch completed"

	if !resp.Success {
		level = slog.LevelError
		message = "process chain dispatch failed"
	}

	logger.Log(context.Background(), level, message, attrs...)
}

// DispatchMiddleware wraps a call to an output adapter or external
// scheduler with before/after logging and duration measurement.
type DispatchMiddleware struct {
	logger *slog.Logger
}

// NewDispatchMiddleware creates a new dispatch logging middleware.
func NewDispatchMiddleware(logger *slog.Logger) *DispatchMiddleware {
	return &DispatchMiddleware{
		logger: logger,
	}
}

// Handler wraps a function that hands a process chain to an adapter.
// It logs the request and response automatically.
func (m *DispatchMiddleware) Handler(req *DispatchRequest, handler func() error) error {
	start := time.Now()

	LogDispatchRequest(m.logger, req)

	err := handler()

	resp := &DispatchResponse{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	LogDispatchResponse(m.logger, req, resp)

	return err
}

// HandlerWithMetadata wraps a function that hands a process chain to an
// adapter and returns adapter-specific metadata (e.g. a remote job id).
func (m *DispatchMiddleware) HandlerWithMetadata(req *DispatchRequest, handler func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()

	LogDispatchRequest(m.logger, req)

	metadata, err := handler()

	resp := &DispatchResponse{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   metadata,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	LogDispatchResponse(m.logger, req, resp)

	return metadata, err
}
