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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRF/services/llm"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

// AttemptSink receives every attempt record as it is produced.
type AttemptSink interface {
	Append(rec rfplan.AttemptRecord) error
}

// discardSink drops records.
type discardSink struct{}

func (discardSink) Append(rfplan.AttemptRecord) error { return nil }

// PhaseSpec describes one phase run.
type PhaseSpec[T any] struct {
	// Phase is planner or executor.
	Phase rfplan.Phase

	// Subject names what is generated: "plan" or a component type.
	Subject string

	// Array asks corrections for a JSON array.
	Array bool

	// Prompt is the first prompt sent.
	Prompt string

	// Original is the request embedded in corrective prompts.
	Original string

	// Reminder is the constraint summary for corrections.
	Reminder string

	// MaxAttempts bounds the phase.
	MaxAttempts int

	// PlanItem is recorded with every attempt of an executor phase.
	PlanItem *rfplan.PlanStep

	// Evaluate turns model text into a draft. It must be pure.
	Evaluate func(raw string) Draft[T]

	// Profile scores candidates.
	Profile ScoreProfile

	// AttemptOffset is added to recorded attempt numbers so a component
	// regenerated after a controller refusal keeps numbering where the
	// previous run stopped.
	AttemptOffset int
}

// Runner drives phases against one generation client.
//
// Thread Safety: A Runner may be shared across trials. Each RunPhase call
// is sequential.
type Runner struct {
	client llm.LLMClient
	cfg    Config
	sink   AttemptSink
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a runner. Every generation call is bounded by
// cfg.CallTimeout.
func NewRunner(client llm.LLMClient, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	return &Runner{
		client: llm.Chain(client, llm.WithTimeout(cfg.CallTimeout)),
		cfg:    cfg,
		sink:   discardSink{},
		logger: logger,
		now:    time.Now,
	}
}

// WithSink returns a copy of r writing attempts to sink.
func (r *Runner) WithSink(sink AttemptSink) *Runner {
	cp := *r
	if sink == nil {
		sink = discardSink{}
	}
	cp.sink = sink
	return &cp
}

// Config returns the normalized limits.
func (r *Runner) Config() Config { return r.cfg }

// RunPhase drives one phase to a terminal state.
//
// Description:
//
//	Each attempt drafts, validates and records exactly one AttemptRecord.
//	A failed draft produces a corrective prompt from its ordered errors,
//	hints and the type reminder. With candidate mode on, every correction
//	fans out to K scored candidates and the best becomes the new draft.
//	Generation failures and timeouts consume an attempt.
//
// Outputs:
//
//	T - The accepted artifact.
//	int - Attempts consumed.
//	error - *rfplan.FatalError when the budget ran out. Context and sink
//	errors are returned as-is.
func RunPhase[T any](ctx context.Context, r *Runner, spec PhaseSpec[T]) (T, int, error) {
	var zero T
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.ExecutorMaxAttempts
	}

	start := r.now()
	m := NewMachine(spec.Phase, maxAttempts)
	log := r.logger.With("phase", spec.Phase, "subject", spec.Subject)
	if spec.PlanItem != nil {
		log = log.With("step_id", spec.PlanItem.ID)
	}

	prompt := spec.Prompt
	inputErrors := []string{}
	var prev *Draft[T]
	var lastErr error

	finish := func() {
		telemetry.RecordPhase(string(spec.Phase), m.State().String())
		telemetry.RecordPhaseDuration(ctx, string(spec.Phase), m.State().String(), r.now().Sub(start))
	}

	for !m.State().IsTerminal() {
		attempt, err := m.Begin()
		if err != nil {
			return zero, m.Attempt(), err
		}

		actx, span := telemetry.StartSpan(ctx, "rfplan.attempt",
			attribute.String("phase", string(spec.Phase)),
			attribute.String("subject", spec.Subject),
			attribute.Int("attempt", attempt),
		)

		rec := rfplan.AttemptRecord{
			Phase:       spec.Phase,
			Attempt:     spec.AttemptOffset + attempt,
			Timestamp:   r.now().UTC(),
			InputErrors: inputErrors,
			PlanItem:    spec.PlanItem,
		}

		var d Draft[T]
		var genErr error
		if r.cfg.candidateMode() && prev != nil {
			var best *Candidate[T]
			best, rec.Candidates, genErr = selectCandidate(actx, r, spec, prompt, prev)
			if genErr == nil {
				d = best.Draft
			}
		} else {
			var raw string
			raw, genErr = r.client.Generate(actx, prompt, llm.GenerationParams{}.WithTemperature(r.cfg.BaseTemperature))
			if genErr == nil {
				d = spec.Evaluate(raw)
			}
		}

		if genErr != nil {
			rec.LLMSuccess = false
			rec.ValidatorErrors = []string{genErr.Error()}
			if err := r.sink.Append(rec); err != nil {
				span.End()
				return zero, attempt, fmt.Errorf("record attempt: %w", err)
			}
			outcome := telemetry.OutcomeGenerationError
			if llm.IsTimeout(genErr) {
				outcome = telemetry.OutcomeTimeout
			}
			telemetry.RecordAttempt(string(spec.Phase), outcome)
			telemetry.RecordError(span, genErr)
			span.End()

			if ctx.Err() != nil {
				finish()
				return zero, attempt, ctx.Err()
			}
			log.Warn("generation failed", "attempt", attempt, "max_attempts", maxAttempts, "error", genErr)
			lastErr = genErr
			if err := m.Fire(ctx, EventGenerationFailed); err != nil {
				return zero, attempt, err
			}
			continue
		}

		if err := m.Fire(ctx, EventDrafted); err != nil {
			span.End()
			return zero, attempt, err
		}

		rec.RawOutput = d.Raw
		rec.LLMSuccess = true
		rec.ValidatorOK = d.Valid()
		rec.ValidatorErrors = d.Errors()
		if err := r.sink.Append(rec); err != nil {
			span.End()
			return zero, attempt, fmt.Errorf("record attempt: %w", err)
		}

		if d.Valid() {
			telemetry.RecordAttempt(string(spec.Phase), telemetry.OutcomeValid)
			span.End()
			if err := m.Fire(ctx, EventValid); err != nil {
				return zero, attempt, err
			}
			log.Info("draft accepted", "attempt", attempt)
			finish()
			return d.Value, attempt, nil
		}

		outcome := telemetry.OutcomeInvalid
		var exErr *rfplan.ExtractionError
		if errors.As(d.Err, &exErr) {
			outcome = telemetry.OutcomeExtractFailed
		}
		telemetry.RecordAttempt(string(spec.Phase), outcome)
		telemetry.RecordError(span, d.Err)
		span.End()

		log.Warn("draft rejected", "attempt", attempt, "max_attempts", maxAttempts, "errors", len(rec.ValidatorErrors))
		lastErr = d.Err
		if err := m.Fire(ctx, EventInvalid); err != nil {
			return zero, attempt, err
		}

		inputErrors = d.Errors()
		prompt = BuildCorrectionPrompt(CorrectionInput{
			Subject:        spec.Subject,
			Array:          spec.Array,
			OriginalPrompt: spec.Original,
			Errors:         inputErrors,
			Hints:          d.Hints(),
			Reminder:       spec.Reminder,
		})
		dc := d
		prev = &dc
	}

	finish()
	cause := rfplan.ErrAttemptsExhausted
	if lastErr != nil {
		cause = fmt.Errorf("%w: %w", rfplan.ErrAttemptsExhausted, lastErr)
	}
	fatal := &rfplan.FatalError{Phase: string(spec.Phase), Attempts: m.Attempt(), Cause: cause}
	if spec.PlanItem != nil {
		fatal.StepID = spec.PlanItem.ID
	}
	return zero, m.Attempt(), fatal
}
