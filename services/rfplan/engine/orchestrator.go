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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRF/pkg/logging"
	"github.com/AleutianAI/AleutianRF/services/llm"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
	"github.com/AleutianAI/AleutianRF/services/rfplan/extract"
	"github.com/AleutianAI/AleutianRF/services/rfplan/plan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// ControlPlane is the remote component runtime.
type ControlPlane interface {
	// Start launches a component. A refusal is *rfplan.ControllerRejection.
	Start(ctx context.Context, req rfplan.StartRequest) error

	// Call runs a stop, logs, list or health step and returns the raw
	// response body.
	Call(ctx context.Context, step rfplan.PlanStep) (json.RawMessage, error)
}

// Retriever supplies knowledge passages for a component.
type Retriever interface {
	Retrieve(ctx context.Context, component rfplan.ComponentType, query string, topK int) ([]rfplan.Passage, error)
}

// Recorder is the per-trial audit sink.
type Recorder interface {
	AttemptSink

	// WritePlan stores the final plan and compiled components.
	WritePlan(p rfplan.Plan, compiled []rfplan.CompiledComponent) error

	// Finish writes the closing summary.
	Finish(status rfplan.TrialStatus, err error) error
}

// StepResult is the outcome of one non-start step.
type StepResult struct {
	Step     rfplan.PlanStep `json:"step"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Result is the outcome of a successful trial.
type Result struct {
	Plan       rfplan.Plan                `json:"plan"`
	Components []rfplan.CompiledComponent `json:"components"`
	Steps      []StepResult               `json:"steps,omitempty"`

	// Attempts counts phase attempts, executor attempts summed over steps.
	Attempts map[rfplan.Phase]int `json:"attempts"`

	// Rejections counts control plane refusals per component id.
	Rejections map[string]int `json:"rejections,omitempty"`

	Duration time.Duration `json:"duration"`
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs trials: plan, then per start step execute, validate,
// compile and hand the config to the control plane.
//
// Thread Safety: Safe for concurrent use. Trials share no mutable state;
// each trial loop is sequential.
type Orchestrator struct {
	runner    *Runner
	registry  *components.Registry
	plans     *plan.Validator
	control   ControlPlane
	retriever Retriever
	prompts   Prompts
	logger    *slog.Logger
}

// Options configures an Orchestrator. Client and Control are required.
type Options struct {
	Client    llm.LLMClient
	Control   ControlPlane
	Retriever Retriever
	Registry  *components.Registry
	Prompts   Prompts
	Config    Config
	Logger    *slog.Logger
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("orchestrator: generation client is required")
	}
	if opts.Control == nil {
		return nil, errors.New("orchestrator: control plane is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = components.DefaultRegistry()
	}
	return &Orchestrator{
		runner:    NewRunner(opts.Client, opts.Config, opts.Logger),
		registry:  opts.Registry,
		plans:     plan.NewValidator(opts.Registry),
		control:   opts.Control,
		retriever: opts.Retriever,
		prompts:   opts.Prompts,
		logger:    opts.Logger,
	}, nil
}

// Run executes one trial for userPrompt.
//
// Description:
//
//	The planner phase produces a validated Plan. Steps then run in plan
//	order. A start step runs an executor phase and sends the compiled
//	config to the control plane; a refusal feeds its text back into a new
//	executor phase, up to ControllerMaxRetries. Other steps are forwarded
//	and their failures are logged, not fatal. Any exhausted budget stops
//	the trial: no later step runs and no plan snapshot is written.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	userPrompt - The operator request. Must not be empty.
//	rec - Audit sink. Nil discards records.
//
// Outputs:
//
//	*Result - Non-nil on success.
//	error - *rfplan.FatalError on budget exhaustion.
func (o *Orchestrator) Run(ctx context.Context, userPrompt string, rec Recorder) (*Result, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return nil, rfplan.ErrEmptyPrompt
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	start := time.Now()
	done := telemetry.TrialStarted()
	defer done()

	ctx, span := telemetry.StartSpan(ctx, "rfplan.trial", attribute.Int("prompt_chars", len(userPrompt)))
	defer span.End()

	res, err := o.run(ctx, userPrompt, rec)
	if err != nil {
		telemetry.RecordError(span, err)
		var fatal *rfplan.FatalError
		if errors.As(err, &fatal) {
			o.logger.Log(ctx, logging.SlogLevelCritical, "trial aborted",
				"phase", fatal.Phase, "step_id", fatal.StepID, "attempts", fatal.Attempts, "error", err)
		} else {
			o.logger.Error("trial failed", "error", err)
		}
		if ferr := rec.Finish(rfplan.TrialFailed, err); ferr != nil {
			o.logger.Error("write trial summary", "error", ferr)
		}
		return nil, err
	}

	res.Duration = time.Since(start)
	if err := rec.WritePlan(res.Plan, res.Components); err != nil {
		return nil, fmt.Errorf("write plan snapshot: %w", err)
	}
	if err := rec.Finish(rfplan.TrialSucceeded, nil); err != nil {
		return nil, fmt.Errorf("write trial summary: %w", err)
	}
	o.logger.Info("trial complete",
		"steps", len(res.Plan),
		"components", len(res.Components),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, userPrompt string, rec Recorder) (*Result, error) {
	runner := o.runner.WithSink(rec)
	cfg := runner.Config()

	p, attempts, err := RunPhase(ctx, runner, PhaseSpec[rfplan.Plan]{
		Phase:       rfplan.PhasePlanner,
		Subject:     "plan",
		Array:       true,
		Prompt:      BuildPlannerPrompt(o.prompts.Planner, userPrompt),
		Original:    userPrompt,
		Reminder:    plan.Reminder,
		MaxAttempts: cfg.PlannerMaxAttempts,
		Evaluate:    o.evaluatePlan,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Plan:       p,
		Attempts:   map[rfplan.Phase]int{rfplan.PhasePlanner: attempts},
		Rejections: map[string]int{},
	}
	o.logger.Info("plan accepted", "steps", len(p), "starts", len(p.StartSteps()), "attempts", attempts)

	for _, step := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step.Endpoint != rfplan.EndpointStart {
			res.Steps = append(res.Steps, o.callStep(ctx, step))
			continue
		}
		comp, n, rejections, err := o.startComponent(ctx, runner, step)
		res.Attempts[rfplan.PhaseExecutor] += n
		if rejections > 0 {
			res.Rejections[step.ID] = rejections
		}
		if err != nil {
			return nil, err
		}
		res.Components = append(res.Components, comp)
	}
	return res, nil
}

// startComponent runs the executor phase for step and starts the result,
// retrying on control plane refusals.
func (o *Orchestrator) startComponent(ctx context.Context, runner *Runner, step rfplan.PlanStep) (rfplan.CompiledComponent, int, int, error) {
	var zero rfplan.CompiledComponent
	spec, err := o.registry.Lookup(step.Type)
	if err != nil {
		return zero, 0, 0, err
	}
	cfg := runner.Config()

	ctx, span := telemetry.StartSpan(ctx, "rfplan.component",
		attribute.String("component.id", step.ID),
		attribute.String("component.type", string(step.Type)),
	)
	defer span.End()

	original := o.executorPrompt(ctx, step)
	prompt := original
	item := step
	total := 0

	for rejections := 0; ; {
		comp, n, err := RunPhase(ctx, runner, PhaseSpec[rfplan.CompiledComponent]{
			Phase:       rfplan.PhaseExecutor,
			Subject:     string(spec.Type),
			Prompt:      prompt,
			Original:    original,
			Reminder:    spec.Reminder,
			MaxAttempts: cfg.ExecutorMaxAttempts,
			PlanItem:    &item,
			Evaluate:    evaluateComponent(spec, step),
			Profile:     ProfileFor(spec),

			AttemptOffset: total,
		})
		total += n
		if err != nil {
			return zero, total, rejections, err
		}

		err = o.control.Start(ctx, rfplan.StartRequest{
			ID:        step.ID,
			Type:      spec.Type,
			ConfigStr: comp.ConfigStr,
			RF:        step.RF,
		})
		if err == nil {
			o.logger.Info("component started", "id", step.ID, "type", spec.Type, "attempts", total)
			return comp, total, rejections, nil
		}

		var rej *rfplan.ControllerRejection
		if !errors.As(err, &rej) {
			return zero, total, rejections, fmt.Errorf("start %s: %w", step.ID, err)
		}

		rejections++
		telemetry.RecordControllerRejection(string(spec.Type))
		total++
		if aerr := runner.sink.Append(rfplan.AttemptRecord{
			Phase:           rfplan.PhaseExecutor,
			Attempt:         total,
			Timestamp:       time.Now().UTC(),
			InputErrors:     []string{},
			RawOutput:       comp.ConfigStr,
			LLMSuccess:      true,
			ValidatorOK:     true,
			ValidatorErrors: []string{},
			PlanItem:        &item,
			Rejection:       rej.Message,
		}); aerr != nil {
			return zero, total, rejections, fmt.Errorf("record rejection: %w", aerr)
		}
		o.logger.Warn("controller rejected config",
			"id", step.ID, "rejections", rejections, "max", cfg.ControllerMaxRetries, "reason", rej.Message)

		if rejections >= cfg.ControllerMaxRetries {
			return zero, total, rejections, &rfplan.FatalError{
				Phase:    "controller",
				StepID:   step.ID,
				Attempts: rejections,
				Cause:    fmt.Errorf("%w: %w", rfplan.ErrControllerRetriesExhausted, rej),
			}
		}
		prompt = BuildRejectionPrompt(original, rej.Message)
	}
}

// executorPrompt builds the first prompt for step, augmented with retrieved
// knowledge when any is available.
func (o *Orchestrator) executorPrompt(ctx context.Context, step rfplan.PlanStep) string {
	typePrompt := o.prompts.Types[step.Type]
	if o.retriever == nil {
		return BuildExecutorPrompt(o.prompts.Executor, typePrompt, step)
	}

	query := RetrievalQuery(step.Type, step.Desc)
	passages, err := o.retriever.Retrieve(ctx, step.Type, query, o.runner.cfg.RetrievalTopK)
	if err != nil {
		o.logger.Warn("knowledge retrieval failed, continuing without context", "id", step.ID, "error", err)
		passages = nil
	}
	instructions := o.prompts.Executor + "\n\n" + typePrompt
	return BuildAugmentedPrompt(FormatContext(passages), instructions, stepRequest(step))
}

// callStep forwards a non-start step. Failures are reported, not fatal.
func (o *Orchestrator) callStep(ctx context.Context, step rfplan.PlanStep) StepResult {
	out := StepResult{Step: step}
	body, err := o.control.Call(ctx, step)
	if err != nil {
		o.logger.Warn("control plane call failed", "endpoint", step.Endpoint, "id", step.ID, "error", err)
		out.Error = err.Error()
		return out
	}
	out.Response = body
	return out
}

// =============================================================================
// EVALUATORS
// =============================================================================

func (o *Orchestrator) evaluatePlan(raw string) Draft[rfplan.Plan] {
	d := Draft[rfplan.Plan]{Raw: raw}
	v, err := extract.JSON(raw)
	if err != nil {
		d.Err = err
		return d
	}
	d.Value, d.Result, d.Err = o.plans.Validate(v)
	return d
}

// evaluateComponent extracts, validates and compiles one component draft.
// The config id must match the step id when present.
func evaluateComponent(spec *components.Spec, step rfplan.PlanStep) func(string) Draft[rfplan.CompiledComponent] {
	return func(raw string) Draft[rfplan.CompiledComponent] {
		d := Draft[rfplan.CompiledComponent]{Raw: raw}
		obj, err := extract.Object(raw)
		if err != nil {
			d.Err = err
			return d
		}
		d.Fields = obj
		cfg := rfplan.ComponentConfig(obj)

		res, verr := spec.ValidateErr(cfg)
		var schemaErr *rfplan.SchemaError
		if !errors.As(verr, &schemaErr) {
			if id, ok := cfg["id"]; ok && id != step.ID {
				res.Fail("id", fmt.Sprintf("id must be %q to match the plan step, got %v", step.ID, id),
					rfplan.Hint{Kind: rfplan.HintEquals, Equals: step.ID})
				verr = &rfplan.SemanticError{Result: res}
			}
		}
		d.Result = res
		if verr != nil {
			d.Err = verr
			return d
		}

		out, cerr := spec.Compile(cfg)
		if cerr != nil {
			failed := rfplan.NewResult()
			failed.Fail("", cerr.Error())
			d.Result = failed
			d.Err = cerr
			return d
		}
		d.Value = rfplan.CompiledComponent{ID: step.ID, Type: spec.Type, ConfigStr: out, Config: cfg}
		return d
	}
}

// CheckPlan evaluates saved planner output the way the plan phase does.
func CheckPlan(reg *components.Registry, raw string) Draft[rfplan.Plan] {
	o := &Orchestrator{plans: plan.NewValidator(reg)}
	return o.evaluatePlan(raw)
}

// CheckComponent evaluates saved executor output the way a start step
// does. An empty id takes the id from the output itself.
func CheckComponent(spec *components.Spec, id, raw string) Draft[rfplan.CompiledComponent] {
	if id == "" {
		if obj, err := extract.Object(raw); err == nil {
			id, _ = obj["id"].(string)
		}
	}
	return evaluateComponent(spec, rfplan.PlanStep{Endpoint: rfplan.EndpointStart, ID: id, Type: spec.Type})(raw)
}

type nopRecorder struct{}

func (nopRecorder) Append(rfplan.AttemptRecord) error                       { return nil }
func (nopRecorder) WritePlan(rfplan.Plan, []rfplan.CompiledComponent) error { return nil }
func (nopRecorder) Finish(rfplan.TrialStatus, error) error                  { return nil }
