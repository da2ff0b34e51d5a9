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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRF/services/llm"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeControl struct {
	mu      sync.Mutex
	starts  []rfplan.StartRequest
	calls   []rfplan.PlanStep
	startFn func(n int, req rfplan.StartRequest) error
	callErr error
}

func (f *fakeControl) Start(_ context.Context, req rfplan.StartRequest) error {
	f.mu.Lock()
	f.starts = append(f.starts, req)
	n := len(f.starts)
	f.mu.Unlock()
	if f.startFn != nil {
		return f.startFn(n, req)
	}
	return nil
}

func (f *fakeControl) Call(_ context.Context, step rfplan.PlanStep) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, step)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

type fakeRetriever struct {
	passages []rfplan.Passage
	err      error
	queries  []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ rfplan.ComponentType, query string, _ int) ([]rfplan.Passage, error) {
	f.queries = append(f.queries, query)
	return f.passages, f.err
}

const jamPlan = `Here is the plan:
[
  {"endpoint": "start", "id": "jam1", "type": "jammer", "desc": "jam 1.5 GHz with a b200", "rf": {"type": "b200"}},
  {"endpoint": "health", "id": "jam1"},
  {"endpoint": "stop", "id": "jam1"}
]`

var testPrompts = Prompts{
	Planner:  "PLANNER:",
	Executor: "EXECUTOR:",
	Types:    map[rfplan.ComponentType]string{rfplan.ComponentJammer: "JAMMER SCHEMA"},
}

// routedClient answers planner prompts with planReply and everything else
// with execReply.
func routedClient(planReply, execReply string) *llm.ScriptedClient {
	c := llm.NewScriptedClient()
	c.Respond = func(prompt string, _ llm.GenerationParams) llm.Reply {
		if strings.HasPrefix(prompt, "PLANNER:") || strings.Contains(prompt, "'plan' ONLY") {
			return llm.Reply{Text: planReply}
		}
		return llm.Reply{Text: execReply}
	}
	return c
}

func newOrchestrator(t *testing.T, client llm.LLMClient, control ControlPlane, retriever Retriever, cfg Config) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Options{
		Client:    client,
		Control:   control,
		Retriever: retriever,
		Prompts:   testPrompts,
		Config:    cfg,
	})
	require.NoError(t, err)
	return o
}

// =============================================================================
// Tests
// =============================================================================

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Options{Control: &fakeControl{}})
	assert.Error(t, err)
	_, err = NewOrchestrator(Options{Client: llm.NewScriptedClient()})
	assert.Error(t, err)
}

func TestRun_EmptyPrompt(t *testing.T) {
	o := newOrchestrator(t, llm.NewScriptedClient(), &fakeControl{}, nil, DefaultConfig())
	_, err := o.Run(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, rfplan.ErrEmptyPrompt)
}

func TestRun_EndToEnd(t *testing.T) {
	client := routedClient(jamPlan, "```json\n"+validJammer+"\n```")
	control := &fakeControl{}
	rec := &memRecorder{}
	o := newOrchestrator(t, client, control, nil, DefaultConfig())

	res, err := o.Run(context.Background(), "jam the uplink", rec)
	require.NoError(t, err)

	require.Len(t, res.Plan, 3)
	require.Len(t, res.Components, 1)
	assert.Equal(t, "jam1", res.Components[0].ID)
	assert.Contains(t, res.Components[0].ConfigStr, "center_frequency")
	assert.Equal(t, 1, res.Attempts[rfplan.PhasePlanner])
	assert.Equal(t, 1, res.Attempts[rfplan.PhaseExecutor])
	assert.Len(t, res.Steps, 2)

	require.Len(t, control.starts, 1)
	assert.Equal(t, rfplan.ComponentJammer, control.starts[0].Type)
	assert.Equal(t, res.Components[0].ConfigStr, control.starts[0].ConfigStr)
	assert.Equal(t, "b200", control.starts[0].RF["type"])
	assert.Equal(t, []rfplan.Endpoint{rfplan.EndpointHealth, rfplan.EndpointStop},
		[]rfplan.Endpoint{control.calls[0].Endpoint, control.calls[1].Endpoint})

	prompts := client.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, "PLANNER:jam the uplink", prompts[0])
	assert.Equal(t, "EXECUTOR:\n\nJAMMER SCHEMA\n\nUser request: jam 1.5 GHz with a b200\nUse the following id: jam1", prompts[1])

	assert.Len(t, rec.byPhase(rfplan.PhasePlanner), 1)
	assert.Len(t, rec.byPhase(rfplan.PhaseExecutor), 1)
	assert.Equal(t, rfplan.TrialSucceeded, rec.status)
	assert.Len(t, rec.plan, 3)
	assert.Len(t, rec.compiled, 1)
}

func TestRun_PlannerExhausted(t *testing.T) {
	client := routedClient("I cannot help with that.", validJammer)
	control := &fakeControl{}
	rec := &memRecorder{}
	o := newOrchestrator(t, client, control, nil, Config{PlannerMaxAttempts: 2})

	_, err := o.Run(context.Background(), "jam", rec)
	require.Error(t, err)
	assert.Equal(t, rfplan.ExitPlannerExhausted, rfplan.ExitCode(err))
	assert.Len(t, rec.byPhase(rfplan.PhasePlanner), 2)
	assert.Empty(t, control.starts)
	assert.Equal(t, rfplan.TrialFailed, rec.status)
	assert.Nil(t, rec.plan, "no plan snapshot on failure")
}

func TestRun_ControllerRejectionLoop(t *testing.T) {
	client := routedClient(jamPlan, validJammer)
	control := &fakeControl{startFn: func(int, rfplan.StartRequest) error {
		return &rfplan.ControllerRejection{StatusCode: 409, Message: "port in use"}
	}}
	rec := &memRecorder{}
	o := newOrchestrator(t, client, control, nil, DefaultConfig())

	_, err := o.Run(context.Background(), "jam", rec)
	require.Error(t, err)

	var fatal *rfplan.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "controller", fatal.Phase)
	assert.Equal(t, "jam1", fatal.StepID)
	assert.Equal(t, 10, fatal.Attempts)
	assert.ErrorIs(t, err, rfplan.ErrControllerRetriesExhausted)
	assert.Equal(t, rfplan.ExitControllerRejected, rfplan.ExitCode(err))
	assert.Equal(t, "controller [jam1]: failed after 10 attempts: controller rejection retries exhausted: controller rejected config (409): port in use", err.Error())

	assert.Len(t, control.starts, 10)
	assert.Empty(t, control.calls, "later steps never run")

	prompts := client.Prompts()
	require.Len(t, prompts, 11)
	for _, p := range prompts[2:] {
		assert.Contains(t, p, "REJECTED it for the following reason:\nport in use\n")
		assert.Equal(t, 1, strings.Count(p, "REJECTED"), "rejection prompts do not nest")
	}

	rejections := 0
	for _, r := range rec.byPhase(rfplan.PhaseExecutor) {
		if r.Rejection != "" {
			rejections++
			assert.Equal(t, "port in use", r.Rejection)
		}
	}
	assert.Equal(t, 10, rejections)
	assert.Equal(t, rfplan.TrialFailed, rec.status)
	assert.Nil(t, rec.plan)

	// Drafts and refusals interleave with one running attempt number.
	execRecs := rec.byPhase(rfplan.PhaseExecutor)
	require.Len(t, execRecs, 20)
	for i, r := range execRecs {
		assert.Equal(t, i+1, r.Attempt)
		assert.Equal(t, i%2 == 1, r.Rejection != "", "record %d", i+1)
	}
}

func TestRun_RejectionThenAccept(t *testing.T) {
	client := routedClient(jamPlan, validJammer)
	control := &fakeControl{startFn: func(n int, _ rfplan.StartRequest) error {
		if n == 1 {
			return &rfplan.ControllerRejection{StatusCode: 400, Message: "gain too high for antenna"}
		}
		return nil
	}}
	o := newOrchestrator(t, client, control, nil, DefaultConfig())

	res, err := o.Run(context.Background(), "jam", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejections["jam1"])
	assert.Len(t, control.starts, 2)
}

func TestRun_StartTransportErrorIsFatal(t *testing.T) {
	client := routedClient(jamPlan, validJammer)
	boom := errors.New("connection refused")
	control := &fakeControl{startFn: func(int, rfplan.StartRequest) error { return boom }}
	o := newOrchestrator(t, client, control, nil, DefaultConfig())

	_, err := o.Run(context.Background(), "jam", nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, control.starts, 1)
}

func TestRun_CallFailuresAreNotFatal(t *testing.T) {
	client := routedClient(jamPlan, validJammer)
	control := &fakeControl{callErr: errors.New("component not found")}
	o := newOrchestrator(t, client, control, nil, DefaultConfig())

	res, err := o.Run(context.Background(), "jam", nil)
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "component not found", res.Steps[0].Error)
}

func TestRun_RetrievalAugmentsPrompt(t *testing.T) {
	client := routedClient(jamPlan, validJammer)
	retriever := &fakeRetriever{passages: []rfplan.Passage{{SourceID: "b200.md", Text: "B200 tops out at 6 GHz."}}}
	o := newOrchestrator(t, client, &fakeControl{}, retriever, DefaultConfig())

	_, err := o.Run(context.Background(), "jam", nil)
	require.NoError(t, err)

	require.Len(t, retriever.queries, 1)
	assert.Equal(t, RetrievalQuery(rfplan.ComponentJammer, "jam 1.5 GHz with a b200"), retriever.queries[0])

	exec := client.Prompts()[1]
	assert.Contains(t, exec, "- From b200.md:\nB200 tops out at 6 GHz.")
	assert.Contains(t, exec, "EXECUTOR:\n\nJAMMER SCHEMA")
	assert.True(t, strings.HasSuffix(exec, "--- JSON OUTPUT ---"))
}

func TestRun_RetrievalFailureDegrades(t *testing.T) {
	client := routedClient(jamPlan, validJammer)
	retriever := &fakeRetriever{err: errors.New("weaviate unavailable")}
	o := newOrchestrator(t, client, &fakeControl{}, retriever, DefaultConfig())

	_, err := o.Run(context.Background(), "jam", nil)
	require.NoError(t, err)
	assert.Contains(t, client.Prompts()[1], "--- CONTEXT (Rules & Formulas) ---\n\n--- END OF CONTEXT ---")
}

func TestRun_WrongIDIsCorrected(t *testing.T) {
	wrongID := strings.Replace(validJammer, `"jam1"`, `"jammer-01"`, 1)
	client := llm.NewScriptedClient(llm.Texts(jamPlan, wrongID, validJammer)...)
	o := newOrchestrator(t, client, &fakeControl{}, nil, DefaultConfig())

	res, err := o.Run(context.Background(), "jam", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts[rfplan.PhaseExecutor])
	assert.Contains(t, client.Prompts()[2], `id must be "jam1"`)
}

func TestCheckComponent(t *testing.T) {
	spec := jammerSpec(t)

	d := CheckComponent(spec, "", "```json\n"+validJammer+"\n```")
	require.NoError(t, d.Err)
	assert.Equal(t, "jam1", d.Value.ID)
	assert.NotContains(t, d.Value.ConfigStr, "jam1")

	d = CheckComponent(spec, "jam2", validJammer)
	var sem *rfplan.SemanticError
	require.ErrorAs(t, d.Err, &sem)
	assert.Contains(t, d.Result.Errors[0], `id must be "jam2"`)

	d = CheckComponent(spec, "", invalidJammer)
	require.ErrorAs(t, d.Err, &sem)
	assert.True(t, d.Result.Violated["tx_gain"])
}

func TestCheckPlan(t *testing.T) {
	d := CheckPlan(components.DefaultRegistry(), jamPlan)
	require.NoError(t, d.Err)
	assert.Len(t, d.Value, 3)

	d = CheckPlan(components.DefaultRegistry(), "nothing to see")
	var ext *rfplan.ExtractionError
	assert.ErrorAs(t, d.Err, &ext)
}
