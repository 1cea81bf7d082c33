// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package ai wraps the external text-completion collaborator. Failures are
// recoverable: callers get a fallback reply instead of an error, and a
// circuit breaker prevents hammering a backend that is down.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/metrics"
)

// DefaultFallbackReply is returned when the completion backend is
// unavailable or the circuit is open.
const DefaultFallbackReply = "I can't reach my language model right now. Please try again in a few minutes."

// Config holds completion backend configuration.
type Config struct {
	// Endpoint is the completion HTTP endpoint.
	Endpoint string

	// APIKey authenticates requests. Optional for local backends.
	APIKey string

	// Model names the completion model.
	Model string

	// Timeout bounds one completion request. Default: 30s
	Timeout time.Duration

	// FallbackReply overrides DefaultFallbackReply when non-empty.
	FallbackReply string
}

// Completer is the surface handlers use. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt, userContext string) (string, error)
}

// Client calls the completion backend behind a circuit breaker.
type Client struct {
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker[string]
}

type completionRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	User   string `json:"user,omitempty"`
}

type completionResponse struct {
	Text string `json:"text"`
}

// NewClient creates a completion client.
//
// Circuit breaker configuration mirrors the rest of the daemon's external
// calls: opens at a 60% failure rate with at least 6 requests observed,
// allows 2 probes in half-open state, and waits 1 minute before probing.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	log := logging.With().Str("component", "ai").Logger()
	cbName := "ai-completion"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 6 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("from", from.String()).Str("to", to.String()).Msg("completion circuit state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		cb:   cb,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Complete requests a completion for the prompt with the given user context.
// The returned error is informational; callers wanting the user-facing
// behavior should use CompleteOrFallback.
func (c *Client) Complete(ctx context.Context, prompt, userContext string) (string, error) {
	text, err := c.cb.Execute(func() (string, error) {
		return c.post(ctx, prompt, userContext)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CompletionRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.CompletionRequests.WithLabelValues("fallback").Inc()
		}
		return "", err
	}
	metrics.CompletionRequests.WithLabelValues("ok").Inc()
	return text, nil
}

// CompleteOrFallback requests a completion and substitutes the fallback
// reply on any failure. It never returns an error.
func (c *Client) CompleteOrFallback(ctx context.Context, prompt, userContext string) string {
	text, err := c.Complete(ctx, prompt, userContext)
	if err != nil {
		logging.Warn().Err(err).Msg("completion failed, substituting fallback reply")
		if c.cfg.FallbackReply != "" {
			return c.cfg.FallbackReply
		}
		return DefaultFallbackReply
	}
	return text
}

// post performs one completion HTTP round trip.
func (c *Client) post(ctx context.Context, prompt, userContext string) (string, error) {
	body, err := json.Marshal(&completionRequest{Model: c.cfg.Model, Prompt: prompt, User: userContext})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion backend returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if out.Text == "" {
		return "", errors.New("completion backend returned empty text")
	}
	return out.Text, nil
}
