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

// Package signalbus implements backend.SignalBus, the fire-and-forget
// wake-up the controller sends after persisting new process chains so an
// external scheduler can pick them up without waiting for its own poll
// interval to elapse.
package signalbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/workflowc/compiler/pkg/httpclient"
)

// NoopBus discards every Publish call, for deployments where the external
// scheduler only ever polls and has no wake-up endpoint to call.
type NoopBus struct{}

func (NoopBus) Publish(ctx context.Context, topic string) error { return nil }

// WebhookBus POSTs a small JSON envelope naming the topic to a configured
// URL whenever Publish is called. The POST is synchronous and bounded by
// Config.Timeout: failures are logged, not returned, since a missed
// wake-up only costs the scheduler's own poll interval, not correctness.
type WebhookBus struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// Config configures a WebhookBus.
type Config struct {
	// URL is the endpoint to POST wake-up signals to.
	URL string

	// Timeout bounds each POST. Default: 5s.
	Timeout time.Duration
}

// New constructs a WebhookBus. logger may be nil.
func New(cfg Config, logger *slog.Logger) *WebhookBus {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:       timeout,
		RetryAttempts: 0,
		UserAgent:     "workflowc-signalbus/1.0",
	})
	if err != nil {
		// Validate fails here only for a negative Timeout; fall back to a
		// plain client with the same timeout.
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookBus{
		url:    cfg.URL,
		client: client,
		log:    logger.With("component", "signalbus"),
	}
}

type signalEnvelope struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

// Publish never returns an error to the caller on transport failure; it
// logs and swallows it instead, since a dropped wake-up only delays the
// external scheduler's own poll, never loses work.
func (b *WebhookBus) Publish(ctx context.Context, topic string) error {
	body, err := json.Marshal(signalEnvelope{Topic: topic, At: time.Now()})
	if err != nil {
		return fmt.Errorf("encoding signal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		b.log.Warn("building signal request failed", "topic", topic, "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Warn("signal publish failed", "topic", topic, "url", b.url, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b.log.Warn("signal publish rejected", "topic", topic, "url", b.url, "status", resp.StatusCode)
	}
	return nil
}
