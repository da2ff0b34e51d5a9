// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

// Middleware decorates an LLMClient.
type Middleware func(LLMClient) LLMClient

// ClientFunc adapts a function to LLMClient.
type ClientFunc func(ctx context.Context, prompt string, params GenerationParams) (string, error)

// Generate implements LLMClient.
func (f ClientFunc) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return f(ctx, prompt, params)
}

// Chain wraps c with mws. The first middleware is the outermost.
func Chain(c LLMClient, mws ...Middleware) LLMClient {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WithTimeout bounds every call. A call that runs past d fails with a
// *GenerationError whose Timeout flag is set.
func WithTimeout(d time.Duration) Middleware {
	return func(next LLMClient) LLMClient {
		if d <= 0 {
			return next
		}
		return ClientFunc(func(ctx context.Context, prompt string, params GenerationParams) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			out, err := next.Generate(ctx, prompt, params)
			if err != nil && ctx.Err() == context.DeadlineExceeded {
				return "", &GenerationError{Backend: "timeout", Timeout: true, Cause: err}
			}
			return out, err
		})
	}
}

// WithRateLimit waits on l before every call.
func WithRateLimit(l *rate.Limiter) Middleware {
	return func(next LLMClient) LLMClient {
		if l == nil {
			return next
		}
		return ClientFunc(func(ctx context.Context, prompt string, params GenerationParams) (string, error) {
			if err := l.Wait(ctx); err != nil {
				return "", wrap("ratelimit", err)
			}
			return next.Generate(ctx, prompt, params)
		})
	}
}

// NewLimiter builds a limiter allowing perMinute calls with the given
// burst. A non-positive rate disables limiting.
func NewLimiter(perMinute float64, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

// WithObservability logs, traces and times every call.
func WithObservability(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next LLMClient) LLMClient {
		return ClientFunc(func(ctx context.Context, prompt string, params GenerationParams) (string, error) {
			ctx, span := telemetry.StartSpan(ctx, "llm.Generate",
				attribute.Int("llm.prompt_chars", len(prompt)))
			defer span.End()
			if params.Temperature != nil {
				span.SetAttributes(attribute.Float64("llm.temperature", float64(*params.Temperature)))
			}

			start := time.Now()
			out, err := next.Generate(ctx, prompt, params)
			elapsed := time.Since(start)

			outcome := telemetry.OutcomeValid
			switch {
			case IsTimeout(err):
				outcome = telemetry.OutcomeTimeout
			case err != nil:
				outcome = telemetry.OutcomeGenerationError
			}
			telemetry.RecordGeneration(outcome, elapsed)

			if err != nil {
				telemetry.RecordError(span, err)
				logger.Warn("generation failed", "error", err, "duration_ms", elapsed.Milliseconds())
				return "", err
			}
			span.SetAttributes(attribute.Int("llm.output_chars", len(out)))
			logger.Debug("generation complete", "duration_ms", elapsed.Milliseconds(), "output_chars", len(out))
			return out, nil
		})
	}
}
