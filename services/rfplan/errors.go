// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rfplan

import (
	"errors"
	"strconv"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrAttemptsExhausted indicates a phase used its whole attempt budget
	// without producing a valid draft.
	ErrAttemptsExhausted = errors.New("attempt budget exhausted")

	// ErrControllerRetriesExhausted indicates the control plane kept
	// rejecting a component past its own retry ceiling.
	ErrControllerRetriesExhausted = errors.New("controller rejection retries exhausted")

	// ErrUnknownComponent indicates a component type with no registry entry.
	ErrUnknownComponent = errors.New("unknown component type")

	// ErrEmptyPrompt indicates the operator request was empty.
	ErrEmptyPrompt = errors.New("user prompt must not be empty")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ExtractionError indicates no JSON value could be pulled out of model text.
type ExtractionError struct {
	// Reason is the last parse failure seen.
	Reason string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Reason == "" {
		return "no valid JSON found in model output"
	}
	return "no valid JSON found in model output: " + e.Reason
}

// SchemaError lists every missing, unknown or mistyped field.
type SchemaError struct {
	Result *ValidationResult
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return "schema validation failed: " + strings.Join(e.Result.Errors, "; ")
}

// SemanticError lists every domain constraint violation with its bounds.
type SemanticError struct {
	Result *ValidationResult
}

// Error implements the error interface.
func (e *SemanticError) Error() string {
	return "semantic validation failed: " + strings.Join(e.Result.Errors, "; ")
}

// CompilationError indicates valid data failed to serialize. It is retried
// like any validation failure.
type CompilationError struct {
	Type  ComponentType
	Cause error
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	return "compile " + string(e.Type) + " config: " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *CompilationError) Unwrap() error {
	return e.Cause
}

// ControllerRejection indicates the control plane refused a syntactically
// valid config.
type ControllerRejection struct {
	// StatusCode is the HTTP status returned by the control plane.
	StatusCode int

	// Message is the control plane's error text, kept verbatim.
	Message string
}

// Error implements the error interface.
func (e *ControllerRejection) Error() string {
	return "controller rejected config (" + strconv.Itoa(e.StatusCode) + "): " + e.Message
}

// FatalError ends a trial. The process exits with a code derived from Phase.
type FatalError struct {
	// Phase is where the budget ran out: planner, executor or controller.
	Phase string

	// StepID is the plan step being processed, if any.
	StepID string

	// Attempts is how many attempts were made.
	Attempts int

	// Cause is ErrAttemptsExhausted or ErrControllerRetriesExhausted,
	// optionally wrapping the last failure.
	Cause error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	var b strings.Builder
	b.WriteString(e.Phase)
	if e.StepID != "" {
		b.WriteString(" [" + e.StepID + "]")
	}
	b.WriteString(": failed after ")
	b.WriteString(strconv.Itoa(e.Attempts))
	b.WriteString(" attempts")
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Exit codes used by the CLI for fatal trial outcomes.
const (
	ExitOK                 = 0
	ExitConfig             = 1
	ExitPlannerExhausted   = 3
	ExitExecutorExhausted  = 4
	ExitControllerRejected = 5
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		switch fatal.Phase {
		case string(PhasePlanner):
			return ExitPlannerExhausted
		case string(PhaseExecutor):
			return ExitExecutorExhausted
		case "controller":
			return ExitControllerRejected
		}
	}
	return ExitConfig
}
