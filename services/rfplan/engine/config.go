// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"time"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// MaxCandidates caps the candidate fan-out.
const MaxCandidates = 8

// Config holds the engine limits.
type Config struct {
	// PlannerMaxAttempts bounds the plan phase.
	PlannerMaxAttempts int

	// ExecutorMaxAttempts bounds each executor phase.
	ExecutorMaxAttempts int

	// ControllerMaxRetries bounds control plane rejections per component.
	ControllerMaxRetries int

	// Candidates is K for correction selection. 0 or 1 disables it.
	Candidates int

	// CandidateWorkers bounds concurrent candidate generations.
	CandidateWorkers int

	// CallTimeout bounds each generation call.
	CallTimeout time.Duration

	// CandidateDeadline bounds one whole candidate round.
	CandidateDeadline time.Duration

	// BaseTemperature is used for ordinary drafts.
	BaseTemperature float32

	// RetrievalTopK is how many knowledge passages to request.
	RetrievalTopK int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		PlannerMaxAttempts:   10,
		ExecutorMaxAttempts:  10,
		ControllerMaxRetries: 10,
		Candidates:           0,
		CandidateWorkers:     4,
		CallTimeout:          60 * time.Second,
		CandidateDeadline:    3 * time.Minute,
		BaseTemperature:      0,
		RetrievalTopK:        3,
	}
}

// normalized fills zero values with defaults and applies the candidate cap.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.PlannerMaxAttempts <= 0 {
		c.PlannerMaxAttempts = d.PlannerMaxAttempts
	}
	if c.ExecutorMaxAttempts <= 0 {
		c.ExecutorMaxAttempts = d.ExecutorMaxAttempts
	}
	if c.ControllerMaxRetries <= 0 {
		c.ControllerMaxRetries = d.ControllerMaxRetries
	}
	if c.Candidates > MaxCandidates {
		c.Candidates = MaxCandidates
	}
	if c.CandidateWorkers <= 0 {
		c.CandidateWorkers = d.CandidateWorkers
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.CandidateDeadline <= 0 {
		c.CandidateDeadline = d.CandidateDeadline
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = d.RetrievalTopK
	}
	return c
}

// candidateMode reports whether corrections fan out to K candidates.
func (c Config) candidateMode() bool {
	return c.Candidates > 1
}

// Prompts are the operator-supplied instruction blocks.
type Prompts struct {
	// Planner precedes the user request in the plan phase.
	Planner string

	// Executor precedes every component request.
	Executor string

	// Types holds one schema and formatting block per component type.
	Types map[rfplan.ComponentType]string
}
