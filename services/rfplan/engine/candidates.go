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
	"math"
	"reflect"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRF/services/llm"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

// =============================================================================
// DRAFT
// =============================================================================

// Draft is one evaluated model output.
type Draft[T any] struct {
	// Raw is the model text.
	Raw string

	// Value is the accepted artifact. Only meaningful when Err is nil.
	Value T

	// Fields is the extracted object, used for structural comparison.
	// Nil when extraction failed or the value is not an object.
	Fields map[string]any

	// Result holds the validation findings. Nil when extraction failed.
	Result *rfplan.ValidationResult

	// Err is nil for an accepted draft.
	Err error
}

// Valid reports whether the draft was accepted.
func (d *Draft[T]) Valid() bool { return d.Err == nil }

// Errors returns the ordered error messages of a rejected draft.
func (d *Draft[T]) Errors() []string {
	if d.Err == nil {
		return []string{}
	}
	if d.Result != nil && len(d.Result.Errors) > 0 {
		out := make([]string, len(d.Result.Errors))
		copy(out, d.Result.Errors)
		return out
	}
	return []string{d.Err.Error()}
}

// ErrorCount is the number of violations. An extraction or compile failure
// counts as one.
func (d *Draft[T]) ErrorCount() int {
	if d.Err == nil {
		return 0
	}
	if d.Result != nil && len(d.Result.Errors) > 0 {
		return len(d.Result.Errors)
	}
	return 1
}

// Hints returns the violated bounds.
func (d *Draft[T]) Hints() []rfplan.Hint {
	if d.Result == nil {
		return nil
	}
	return d.Result.AllHints()
}

// =============================================================================
// REWARD
// =============================================================================

// Reward weights.
const (
	validBase          = 10.0
	perErrorPenalty    = 0.75
	forbiddenPenalty   = 0.5
	newFieldPenalty    = 0.1
	changedPenalty     = 0.05
	proximityCap       = 5.0
	timeoutErrorCount  = 100
	maxCandidateTemp   = 1.5
	candidateTempStart = 0.1
	candidateTempStep  = 0.2
)

// ScoreProfile is the type-specific part of the reward.
type ScoreProfile struct {
	// Forbidden fields identify the component or its device.
	Forbidden []string

	// Envelopes earn a bonus when a value lands inside them.
	Envelopes []components.Envelope
}

// ProfileFor builds the profile of a component spec.
func ProfileFor(s *components.Spec) ScoreProfile {
	if s == nil {
		return ScoreProfile{}
	}
	return ScoreProfile{Forbidden: s.Forbidden, Envelopes: s.Envelopes}
}

// Score is the breakdown of one candidate's reward.
type Score struct {
	Base       float64
	Bonus      float64
	Structural float64
	Proximity  float64
}

// Reward is base + bonus - structural - proximity.
func (s Score) Reward() float64 {
	return s.Base + s.Bonus - s.Structural - s.Proximity
}

// ScoreDraft computes the reward terms of cand relative to prev.
//
// Description:
//
//	base is +10 for a valid draft and -0.75 per error otherwise. The
//	structural penalty compares cand with prev: 0.5 per changed forbidden
//	field, 0.1 per new field and 0.05 per other changed field. The
//	proximity penalty sums each hint's normalized excess capped at 5. The
//	bonus adds each envelope the candidate lands inside.
func ScoreDraft[T any](prev, cand *Draft[T], prof ScoreProfile) Score {
	var s Score
	if cand.Valid() {
		s.Base = validBase
	} else {
		s.Base = -perErrorPenalty * float64(cand.ErrorCount())
	}

	if cand.Fields != nil {
		for _, env := range prof.Envelopes {
			if v, ok := rfplan.AsNumber(cand.Fields[env.Field]); ok && env.Range.Contains(v) {
				s.Bonus += env.Bonus
			}
		}
	}

	if prev != nil && prev.Fields != nil && cand.Fields != nil {
		forbidden := make(map[string]bool, len(prof.Forbidden))
		for _, f := range prof.Forbidden {
			forbidden[f] = true
		}
		for k, v := range cand.Fields {
			old, existed := prev.Fields[k]
			switch {
			case !existed:
				s.Structural += newFieldPenalty
			case sameValue(old, v):
			case forbidden[k]:
				s.Structural += forbiddenPenalty
			default:
				s.Structural += changedPenalty
			}
		}
	}

	for _, h := range cand.Hints() {
		s.Proximity += math.Min(h.Excess(), proximityCap)
	}
	return s
}

// sameValue compares extracted JSON values numerically where possible.
func sameValue(a, b any) bool {
	if x, ok := rfplan.AsNumber(a); ok {
		if y, ok := rfplan.AsNumber(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

// =============================================================================
// SELECTION
// =============================================================================

// Candidate is one scored correction.
type Candidate[T any] struct {
	Index       int
	Temperature float32
	Draft       Draft[T]
	Score       Score
	TimedOut    bool
	GenErr      error
}

// Reward returns the candidate's reward.
func (c *Candidate[T]) Reward() float64 { return c.Score.Reward() }

// Summary returns the audit view of the candidate.
func (c *Candidate[T]) Summary(chosen bool) rfplan.CandidateSummary {
	ec := c.Draft.ErrorCount()
	if c.GenErr != nil {
		ec = timeoutErrorCount
	}
	return rfplan.CandidateSummary{
		Index:       c.Index,
		Temperature: c.Temperature,
		Valid:       c.GenErr == nil && c.Draft.Valid(),
		ErrorCount:  ec,
		Reward:      c.Reward(),
		TimedOut:    c.TimedOut,
		Chosen:      chosen,
	}
}

// CandidateTemperature is the sampling temperature of candidate i. The
// first candidate is deterministic and the rest escalate.
func CandidateTemperature(i int) float32 {
	if i <= 0 {
		return 0
	}
	t := candidateTempStart + candidateTempStep*float32(i)
	if t > maxCandidateTemp {
		t = maxCandidateTemp
	}
	return t
}

// tier ranks valid drafts above invalid ones and failed calls last.
func (c *Candidate[T]) tier() int {
	switch {
	case c.GenErr != nil:
		return 0
	case c.Draft.Valid():
		return 2
	default:
		return 1
	}
}

// Rank orders candidates best first: valid before invalid before failed
// calls, then by reward, then by index.
func Rank[T any](cands []*Candidate[T]) {
	sort.SliceStable(cands, func(i, j int) bool {
		ti, tj := cands[i].tier(), cands[j].tier()
		if ti != tj {
			return ti > tj
		}
		ri, rj := cands[i].Reward(), cands[j].Reward()
		if ri != rj {
			return ri > rj
		}
		return cands[i].Index < cands[j].Index
	})
}

// selectCandidate generates k corrections concurrently, scores them and
// returns the best.
//
// Description:
//
//	All k generations run on a bounded pool under one overall deadline and
//	every one of them is scored. A candidate whose call fails or times out
//	is scored as maximally invalid. When every call fails the round counts
//	as a generation failure.
//
// Outputs:
//
//	*Candidate[T] - The chosen candidate. Never nil when k >= 1.
//	[]rfplan.CandidateSummary - Every candidate in index order.
//	error - Non-nil only when no candidate produced text.
func selectCandidate[T any](
	ctx context.Context,
	r *Runner,
	spec PhaseSpec[T],
	prompt string,
	prev *Draft[T],
) (*Candidate[T], []rfplan.CandidateSummary, error) {
	k := r.cfg.Candidates
	ctx, span := telemetry.StartSpan(ctx, "rfplan.candidates",
		attribute.String("phase", string(spec.Phase)),
		attribute.Int("candidates", k),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CandidateDeadline)
	defer cancel()

	cands := make([]*Candidate[T], k)
	var g errgroup.Group
	g.SetLimit(r.cfg.CandidateWorkers)
	for i := 0; i < k; i++ {
		g.Go(func() error {
			c := &Candidate[T]{Index: i, Temperature: CandidateTemperature(i)}
			params := llm.GenerationParams{}.WithTemperature(c.Temperature)
			raw, err := r.client.Generate(ctx, prompt, params)
			if err != nil {
				c.GenErr = err
				c.TimedOut = llm.IsTimeout(err) || ctx.Err() != nil
				c.Score = Score{Base: -perErrorPenalty * timeoutErrorCount}
			} else {
				c.Draft = spec.Evaluate(raw)
				c.Score = ScoreDraft(prev, &c.Draft, spec.Profile)
			}
			cands[i] = c
			return nil
		})
	}
	_ = g.Wait()

	summaries := make([]rfplan.CandidateSummary, k)
	var lastErr error
	produced := 0
	for _, c := range cands {
		if c.GenErr != nil {
			lastErr = c.GenErr
			continue
		}
		produced++
		telemetry.RecordCandidateReward(spec.Subject, c.Reward())
	}

	ranked := make([]*Candidate[T], k)
	copy(ranked, cands)
	Rank(ranked)
	best := ranked[0]
	for _, c := range cands {
		summaries[c.Index] = c.Summary(c == best)
	}

	span.SetAttributes(
		attribute.Int("best.index", best.Index),
		attribute.Float64("best.reward", best.Reward()),
		attribute.Int("produced", produced),
	)
	if produced == 0 {
		return best, summaries, lastErr
	}
	return best, summaries, nil
}
