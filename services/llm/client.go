// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the text generation boundary: a backend-neutral client
// interface, an OpenAI-compatible implementation, composable middleware
// and a scripted client for tests.
package llm

import (
	"context"
	"errors"
)

// GenerationParams are optional sampling parameters. Nil fields keep the
// backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Seed        *int     `json:"seed"`
	Stop        []string `json:"stop"`
}

// WithTemperature returns a copy of p with the temperature set.
func (p GenerationParams) WithTemperature(t float32) GenerationParams {
	p.Temperature = &t
	return p
}

// LLMClient is implemented by every generation backend.
type LLMClient interface {
	// Generate returns the model's text for prompt. Failures are
	// *GenerationError.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// GenerationError is an opaque upstream failure. It counts against the same
// attempt budget as a validation failure.
type GenerationError struct {
	// Backend names the client that failed.
	Backend string

	// Timeout is set when the call ran past its deadline.
	Timeout bool

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	msg := "generation failed"
	if e.Backend != "" {
		msg = e.Backend + " " + msg
	}
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is a generation timeout.
func IsTimeout(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// wrap converts err into a *GenerationError, keeping an existing one.
func wrap(backend string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{
		Backend: backend,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Cause:   err,
	}
}
