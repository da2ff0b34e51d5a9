// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan validates planner output: an ordered list of control-plane
// steps, each checked against the schema of its endpoint.
package plan

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
	"github.com/AleutianAI/AleutianRF/services/rfplan/schema"
)

// =============================================================================
// ENDPOINT SCHEMAS
// =============================================================================

var (
	// StartSchema launches a component.
	StartSchema = schema.New("start",
		schema.Req("endpoint", schema.KindString),
		schema.Req("id", schema.KindString),
		schema.Req("type", schema.KindString),
		schema.Req("desc", schema.KindString),
		schema.Req("rf", schema.KindObject),
	)

	// StopSchema stops a running component.
	StopSchema = idOnly("stop")

	// LogsSchema fetches component logs. The type is optional.
	LogsSchema = schema.New("logs",
		schema.Req("endpoint", schema.KindString),
		schema.Req("id", schema.KindString),
		schema.Opt("type", schema.KindString),
	)

	// HealthSchema probes one component.
	HealthSchema = idOnly("health")

	// ListSchema enumerates running components.
	ListSchema = schema.New("list",
		schema.Req("endpoint", schema.KindString),
	)
)

func idOnly(name string) *schema.Schema {
	return schema.New(name,
		schema.Req("endpoint", schema.KindString),
		schema.Req("id", schema.KindString),
	)
}

var endpointSchemas = map[rfplan.Endpoint]*schema.Schema{
	rfplan.EndpointStart:  StartSchema,
	rfplan.EndpointStop:   StopSchema,
	rfplan.EndpointLogs:   LogsSchema,
	rfplan.EndpointHealth: HealthSchema,
	rfplan.EndpointList:   ListSchema,
}

var endpointNames = []string{"start", "stop", "logs", "list", "health"}

// SchemaFor returns the schema of an endpoint.
func SchemaFor(ep rfplan.Endpoint) (*schema.Schema, bool) {
	s, ok := endpointSchemas[ep]
	return s, ok
}

// Reminder is embedded in planner correction prompts.
const Reminder = `Apply these constraints strictly for the plan:
- Output a JSON array of steps. Each step has an "endpoint" of start, stop, logs, list or health.
- start steps need exactly: endpoint, id, type, desc, rf (an object).
- stop and health steps need exactly: endpoint, id. logs steps may also carry type. list steps need only endpoint.
- type must be one of rtue, sniffer, jammer, aux_agent. Each start id must be unique.
- An rf object with type zmq must include tcp_subnet and gateway.`

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks a decoded plan against endpoint schemas and the component
// registry.
//
// Thread Safety: Validator is stateless after construction and safe for
// concurrent use.
type Validator struct {
	registry *components.Registry
}

// NewValidator creates a plan validator. A nil registry uses the built-in
// component types.
func NewValidator(reg *components.Registry) *Validator {
	if reg == nil {
		reg = components.DefaultRegistry()
	}
	return &Validator{registry: reg}
}

// Validate checks an extracted plan value.
//
// Description:
//
//	Every step is schema-checked against its endpoint. Semantic checks
//	(registered type, unique start ids, rf payload shape) run only when the
//	whole plan is schema clean. Error messages carry the step index so the
//	planner can locate them.
//
// Inputs:
//
//	raw - The extracted JSON value, expected to be an array of objects.
//
// Outputs:
//
//	rfplan.Plan - The decoded plan. Nil unless validation passed.
//	*rfplan.ValidationResult - Never nil.
//	error - nil, *rfplan.SchemaError or *rfplan.SemanticError.
func (v *Validator) Validate(raw any) (rfplan.Plan, *rfplan.ValidationResult, error) {
	res := rfplan.NewResult()

	items, ok := raw.([]any)
	if !ok {
		res.Fail("", fmt.Sprintf("plan must be a JSON array of steps, got %s", schema.KindOf(raw)),
			rfplan.Hint{Field: "plan", Kind: rfplan.HintSchemaType})
		return nil, res, &rfplan.SchemaError{Result: res}
	}
	if len(items) == 0 {
		res.Fail("", "plan must contain at least one step",
			rfplan.Hint{Field: "plan", Kind: rfplan.HintLength, Length: 1})
		return nil, res, &rfplan.SchemaError{Result: res}
	}

	objs := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			res.Fail("", fmt.Sprintf("step %d must be a JSON object, got %s", i, schema.KindOf(item)),
				rfplan.Hint{Field: "plan", Kind: rfplan.HintSchemaType})
			continue
		}
		objs[i] = obj
		v.checkStepSchema(i, obj, res)
	}
	if !res.OK {
		return nil, res, &rfplan.SchemaError{Result: res}
	}

	p := make(rfplan.Plan, len(objs))
	for i, obj := range objs {
		p[i] = decodeStep(obj)
	}
	v.checkSemantics(p, res)
	if !res.OK {
		return nil, res, &rfplan.SemanticError{Result: res}
	}
	return p, res, nil
}

func (v *Validator) checkStepSchema(i int, obj map[string]any, res *rfplan.ValidationResult) {
	epRaw, present := obj["endpoint"]
	if !present {
		res.Fail("endpoint", fmt.Sprintf("step %d: missing required field \"endpoint\"", i),
			rfplan.Hint{Kind: rfplan.HintSchemaRequired})
		return
	}
	ep, _ := epRaw.(string)
	s, ok := SchemaFor(rfplan.Endpoint(ep))
	if !ok {
		res.Fail("endpoint", fmt.Sprintf("step %d: unknown endpoint %v, valid options are %s",
			i, quote(epRaw), strings.Join(endpointNames, ", ")),
			rfplan.Hint{Kind: rfplan.HintOneOf, OneOf: endpointNames})
		return
	}

	sub := s.Check(obj)
	for j := range sub.Errors {
		sub.Errors[j] = fmt.Sprintf("step %d (%s): %s", i, ep, sub.Errors[j])
	}
	res.Merge(sub)
}

func (v *Validator) checkSemantics(p rfplan.Plan, res *rfplan.ValidationResult) {
	seen := make(map[string]int)
	for i, step := range p {
		if step.Endpoint != rfplan.EndpointList && strings.TrimSpace(step.ID) == "" {
			res.Fail("id", fmt.Sprintf("step %d (%s): id must not be empty", i, step.Endpoint),
				rfplan.Hint{Kind: rfplan.HintPattern})
		}
		if step.Endpoint != rfplan.EndpointStart {
			continue
		}

		ct, err := rfplan.ParseComponentType(string(step.Type))
		if err == nil {
			_, err = v.registry.Lookup(ct)
		}
		if err != nil {
			opts := typeNames(v.registry.Types())
			res.Fail("type", fmt.Sprintf("step %d (start): unknown component type %q, valid options are %s",
				i, step.Type, strings.Join(opts, ", ")),
				rfplan.Hint{Kind: rfplan.HintOneOf, OneOf: opts})
		}

		if strings.TrimSpace(step.Desc) == "" {
			res.Fail("desc", fmt.Sprintf("step %d (start): desc must describe the component to configure", i),
				rfplan.Hint{Kind: rfplan.HintPattern})
		}

		if prev, dup := seen[step.ID]; dup && step.ID != "" {
			res.Fail("id", fmt.Sprintf("step %d (start): id %q already started by step %d", i, step.ID, prev),
				rfplan.Hint{Kind: rfplan.HintPattern})
		} else {
			seen[step.ID] = i
		}

		checkRF(i, step.RF, res)
	}
}

// checkRF validates the radio section forwarded to the control plane.
func checkRF(i int, rf map[string]any, res *rfplan.ValidationResult) {
	t, present := rf["type"]
	if !present {
		return
	}
	name, ok := t.(string)
	if !ok {
		res.Fail("rf", fmt.Sprintf("step %d (start): rf.type must be a string", i),
			rfplan.Hint{Kind: rfplan.HintSchemaType})
		return
	}
	if strings.EqualFold(name, "zmq") {
		for _, k := range []string{"tcp_subnet", "gateway"} {
			if s, _ := rf[k].(string); s == "" {
				res.Fail("rf", fmt.Sprintf("step %d (start): rf.%s is required for zmq", i, k),
					rfplan.Hint{Kind: rfplan.HintSchemaRequired})
			}
		}
	}
}

func decodeStep(obj map[string]any) rfplan.PlanStep {
	str := func(k string) string {
		s, _ := obj[k].(string)
		return s
	}
	step := rfplan.PlanStep{
		Endpoint: rfplan.Endpoint(str("endpoint")),
		ID:       str("id"),
		Type:     rfplan.ComponentType(str("type")),
		Desc:     str("desc"),
	}
	if ct, err := rfplan.ParseComponentType(str("type")); err == nil {
		step.Type = ct
	}
	if rf, ok := obj["rf"].(map[string]any); ok {
		step.RF = rf
	}
	return step
}

func typeNames(ts []rfplan.ComponentType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func quote(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
