// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rfplan holds the data model shared by the RF planning engine:
// component types, plan steps, validation results with machine-readable
// hints, attempt records and the error taxonomy.
//
// Subpackages implement the individual stages:
//
//	extract     - pull one JSON value out of model text
//	schema      - declared field schemas and the generic checker
//	components  - per-type semantic rules and compilers
//	plan        - plan step validation per endpoint
//	engine      - phase state machine, candidates, orchestration
//	trial       - append-only attempt audit trail
package rfplan

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// COMPONENT TYPES
// =============================================================================

// ComponentType names a deployable RF test component.
type ComponentType string

const (
	// ComponentRTUE is the UE emulator.
	ComponentRTUE ComponentType = "rtue"

	// ComponentSniffer is the PDCCH sniffer.
	ComponentSniffer ComponentType = "sniffer"

	// ComponentJammer is the signal jammer.
	ComponentJammer ComponentType = "jammer"

	// ComponentAuxAgent is the auxiliary capture agent.
	ComponentAuxAgent ComponentType = "aux_agent"
)

// AllComponentTypes returns every known component type in a stable order.
func AllComponentTypes() []ComponentType {
	return []ComponentType{ComponentRTUE, ComponentSniffer, ComponentJammer, ComponentAuxAgent}
}

// ParseComponentType converts a string into a ComponentType.
//
// "uu_agent" is accepted as an alias for aux_agent.
func ParseComponentType(s string) (ComponentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rtue":
		return ComponentRTUE, nil
	case "sniffer":
		return ComponentSniffer, nil
	case "jammer":
		return ComponentJammer, nil
	case "aux_agent", "uu_agent":
		return ComponentAuxAgent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownComponent, s)
	}
}

// =============================================================================
// PLAN
// =============================================================================

// Endpoint is a control-plane action a plan step targets.
type Endpoint string

const (
	EndpointStart  Endpoint = "start"
	EndpointStop   Endpoint = "stop"
	EndpointLogs   Endpoint = "logs"
	EndpointList   Endpoint = "list"
	EndpointHealth Endpoint = "health"
)

// PlanStep is one intended control-plane action.
//
// A "start" step requires ID, Type, Desc and RF.
type PlanStep struct {
	Endpoint Endpoint       `json:"endpoint"`
	ID       string         `json:"id,omitempty"`
	Type     ComponentType  `json:"type,omitempty"`
	Desc     string         `json:"desc,omitempty"`
	RF       map[string]any `json:"rf,omitempty"`
}

// Plan is an ordered list of steps. A validated Plan is never edited in
// place; corrections replace it whole.
type Plan []PlanStep

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	out := make(Plan, len(p))
	for i, s := range p {
		out[i] = s
		if s.RF != nil {
			out[i].RF = make(map[string]any, len(s.RF))
			for k, v := range s.RF {
				out[i].RF[k] = v
			}
		}
	}
	return out
}

// StartSteps returns the steps that launch a component.
func (p Plan) StartSteps() []PlanStep {
	var out []PlanStep
	for _, s := range p {
		if s.Endpoint == EndpointStart {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// COMPONENT CONFIG
// =============================================================================

// ComponentConfig is a flat named-value map. Key prefixes encode the target
// section of the compiled file, e.g. rf_tx_gain or pdcch_num_prbs.
type ComponentConfig map[string]any

// Clone returns a shallow copy. List values are copied one level deep.
func (c ComponentConfig) Clone() ComponentConfig {
	out := make(ComponentConfig, len(c))
	for k, v := range c {
		if l, ok := v.([]any); ok {
			cp := make([]any, len(l))
			copy(cp, l)
			v = cp
		}
		out[k] = v
	}
	return out
}

// Keys returns the config keys sorted.
func (c ComponentConfig) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Without returns a copy with the named keys removed.
func (c ComponentConfig) Without(keys ...string) ComponentConfig {
	out := c.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Number reads a numeric value as float64.
//
// Extracted JSON numbers are int64 or float64; both are accepted.
func (c ComponentConfig) Number(key string) (float64, bool) {
	return AsNumber(c[key])
}

// String reads a string value.
func (c ComponentConfig) String(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// AsNumber converts an extracted JSON scalar into float64.
//
// Booleans are not numbers.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// HintKind identifies the shape of a violated bound.
type HintKind string

const (
	HintMin            HintKind = "min"
	HintMax            HintKind = "max"
	HintRange          HintKind = "range"
	HintAllowedRanges  HintKind = "allowed_ranges"
	HintEquals         HintKind = "equals"
	HintRelative       HintKind = "relative"
	HintOneOf          HintKind = "one_of"
	HintLength         HintKind = "length"
	HintPattern        HintKind = "pattern"
	HintSchemaRequired HintKind = "required"
	HintSchemaUnknown  HintKind = "unknown"
	HintSchemaType     HintKind = "type"
)

// Range is a closed interval.
type Range struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Contains reports whether v lies in [Lo, Hi].
func (r Range) Contains(v float64) bool { return v >= r.Lo && v <= r.Hi }

// Hint describes one violated bound in machine-readable form. It feeds both
// the corrective prompt and candidate proximity scoring.
type Hint struct {
	Field string   `json:"field"`
	Kind  HintKind `json:"kind"`

	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Ranges []Range  `json:"ranges,omitempty"`
	Equals any      `json:"equals,omitempty"`

	// RelativeTo names the field a relative bound is derived from, with
	// Factor as the multiplier (Nyquist: sampling_freq >= 2 * bandwidth).
	RelativeTo string  `json:"relative_to,omitempty"`
	Factor     float64 `json:"factor,omitempty"`

	OneOf  []string `json:"one_of,omitempty"`
	Length int      `json:"length,omitempty"`

	// Actual is the offending numeric value, when there is one.
	Actual *float64 `json:"actual,omitempty"`
}

// F returns a pointer to v. Used to fill optional hint bounds.
func F(v float64) *float64 { return &v }

// Excess returns how far the actual value lies outside the bound, normalized
// by the bound's magnitude. Zero means inside or unknown. Non-numeric
// violations return 1.
func (h Hint) Excess() float64 {
	switch h.Kind {
	case HintOneOf, HintLength, HintPattern, HintSchemaRequired, HintSchemaUnknown, HintSchemaType:
		return 1
	}
	if h.Actual == nil {
		return 1
	}
	v := *h.Actual

	switch h.Kind {
	case HintMin, HintRelative:
		if h.Min != nil && v < *h.Min {
			return ratio(*h.Min-v, *h.Min)
		}
	case HintMax:
		if h.Max != nil && v > *h.Max {
			return ratio(v-*h.Max, *h.Max)
		}
	case HintRange:
		if h.Min != nil && v < *h.Min {
			return ratio(*h.Min-v, spanOf(h.Min, h.Max))
		}
		if h.Max != nil && v > *h.Max {
			return ratio(v-*h.Max, spanOf(h.Min, h.Max))
		}
	case HintAllowedRanges:
		best := math.Inf(1)
		for _, r := range h.Ranges {
			if r.Contains(v) {
				return 0
			}
			var d float64
			if v < r.Lo {
				d = ratio(r.Lo-v, r.Lo)
			} else {
				d = ratio(v-r.Hi, r.Hi)
			}
			best = math.Min(best, d)
		}
		if !math.IsInf(best, 1) {
			return best
		}
	case HintEquals:
		if want, ok := AsNumber(h.Equals); ok && v != want {
			return ratio(math.Abs(v-want), want)
		}
	}
	return 0
}

func spanOf(lo, hi *float64) float64 {
	if lo != nil && hi != nil && *hi > *lo {
		return *hi - *lo
	}
	if hi != nil {
		return *hi
	}
	if lo != nil {
		return *lo
	}
	return 1
}

func ratio(d, scale float64) float64 {
	scale = math.Abs(scale)
	if scale == 0 {
		return d
	}
	return d / scale
}

// Describe renders the hint as one line for a corrective prompt.
func (h Hint) Describe() string {
	switch h.Kind {
	case HintMin:
		return fmt.Sprintf("%s must be >= %g", h.Field, deref(h.Min))
	case HintMax:
		return fmt.Sprintf("%s must be <= %g", h.Field, deref(h.Max))
	case HintRange:
		return fmt.Sprintf("%s must be within [%g, %g]", h.Field, deref(h.Min), deref(h.Max))
	case HintAllowedRanges:
		parts := make([]string, len(h.Ranges))
		for i, r := range h.Ranges {
			parts[i] = fmt.Sprintf("[%g, %g]", r.Lo, r.Hi)
		}
		return fmt.Sprintf("%s must lie in one of %s", h.Field, strings.Join(parts, " or "))
	case HintEquals:
		return fmt.Sprintf("%s must equal %v", h.Field, h.Equals)
	case HintRelative:
		return fmt.Sprintf("%s must be >= %g x %s", h.Field, h.Factor, h.RelativeTo)
	case HintOneOf:
		return fmt.Sprintf("%s must be one of %s", h.Field, strings.Join(h.OneOf, ", "))
	case HintLength:
		return fmt.Sprintf("%s must have exactly %d elements", h.Field, h.Length)
	case HintSchemaRequired:
		return fmt.Sprintf("%s is required", h.Field)
	case HintSchemaUnknown:
		return fmt.Sprintf("%s is not a known field and must be removed", h.Field)
	case HintSchemaType:
		return fmt.Sprintf("%s has the wrong type", h.Field)
	default:
		return fmt.Sprintf("%s violates a %s constraint", h.Field, h.Kind)
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// ValidationResult collects every violation found in one validation pass.
type ValidationResult struct {
	OK       bool              `json:"ok"`
	Errors   []string          `json:"errors"`
	Violated map[string]bool   `json:"violated_fields"`
	Hints    map[string][]Hint `json:"hints"`
}

// NewResult returns an empty, passing result.
func NewResult() *ValidationResult {
	return &ValidationResult{
		OK:       true,
		Errors:   []string{},
		Violated: map[string]bool{},
		Hints:    map[string][]Hint{},
	}
}

// Fail records one violation on field with an optional set of hints.
func (r *ValidationResult) Fail(field, msg string, hints ...Hint) {
	r.OK = false
	r.Errors = append(r.Errors, msg)
	if field != "" {
		r.Violated[field] = true
	}
	for _, h := range hints {
		if h.Field == "" {
			h.Field = field
		}
		r.Hints[h.Field] = append(r.Hints[h.Field], h)
	}
}

// Merge appends other's violations to r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	if !other.OK {
		r.OK = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	for f := range other.Violated {
		r.Violated[f] = true
	}
	for f, hs := range other.Hints {
		r.Hints[f] = append(r.Hints[f], hs...)
	}
}

// AllHints returns every hint ordered by field name.
func (r *ValidationResult) AllHints() []Hint {
	fields := make([]string, 0, len(r.Hints))
	for f := range r.Hints {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var out []Hint
	for _, f := range fields {
		out = append(out, r.Hints[f]...)
	}
	return out
}

// =============================================================================
// ATTEMPT RECORDS
// =============================================================================

// Phase names a generation phase of a trial.
type Phase string

const (
	PhasePlanner  Phase = "planner"
	PhaseExecutor Phase = "executor"
)

// CandidateSummary is the audit view of one scored candidate.
type CandidateSummary struct {
	Index       int     `json:"index"`
	Temperature float32 `json:"temperature"`
	Valid       bool    `json:"valid"`
	ErrorCount  int     `json:"error_count"`
	Reward      float64 `json:"reward"`
	TimedOut    bool    `json:"timed_out,omitempty"`
	Chosen      bool    `json:"chosen,omitempty"`
}

// AttemptRecord is one write-once entry in a trial's audit trail.
type AttemptRecord struct {
	Phase           Phase              `json:"phase"`
	Attempt         int                `json:"attempt"`
	Timestamp       time.Time          `json:"ts_utc"`
	InputErrors     []string           `json:"input_errors"`
	RawOutput       string             `json:"raw_output"`
	LLMSuccess      bool               `json:"llm_success"`
	ValidatorOK     bool               `json:"validator_ok"`
	ValidatorErrors []string           `json:"validator_errors"`
	PlanItem        *PlanStep          `json:"plan_item,omitempty"`
	Rejection       string             `json:"controller_rejection,omitempty"`
	Candidates      []CandidateSummary `json:"candidates,omitempty"`
}

// CompiledComponent is a validated, compiled executor result for one step.
type CompiledComponent struct {
	ID        string          `json:"id"`
	Type      ComponentType   `json:"type"`
	ConfigStr string          `json:"config_str"`
	Config    ComponentConfig `json:"config"`
}

// =============================================================================
// EXTERNAL BOUNDARIES
// =============================================================================

// Passage is one retrieved knowledge snippet.
type Passage struct {
	SourceID string  `json:"source_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score,omitempty"`
}

// StartRequest is the control plane /start payload.
type StartRequest struct {
	ID        string         `json:"id"`
	Type      ComponentType  `json:"type"`
	ConfigStr string         `json:"config_str"`
	RF        map[string]any `json:"rf"`
}

// TrialStatus is the lifecycle state of a trial.
type TrialStatus string

const (
	TrialRunning   TrialStatus = "running"
	TrialSucceeded TrialStatus = "succeeded"
	TrialFailed    TrialStatus = "failed"
)
