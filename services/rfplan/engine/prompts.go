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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// Every builder here is a pure function of its inputs.

// CorrectionInput carries what a corrective prompt is built from.
type CorrectionInput struct {
	// Subject is the component type, or "plan" for the planner.
	Subject string

	// Array asks for a JSON array instead of an object.
	Array bool

	// OriginalPrompt is the request the first draft answered.
	OriginalPrompt string

	// Errors are the validator messages in the order they were found.
	Errors []string

	// Hints are the violated bounds.
	Hints []rfplan.Hint

	// Reminder is the type-specific constraint summary.
	Reminder string
}

// BuildCorrectionPrompt renders the prompt that asks the model to fix a
// failed draft.
func BuildCorrectionPrompt(in CorrectionInput) string {
	var b strings.Builder

	if in.Array {
		fmt.Fprintf(&b, "You must output a SINGLE JSON array for the '%s' ONLY. ", in.Subject)
	} else {
		fmt.Fprintf(&b, "You must output a SINGLE JSON object for the '%s' component ONLY. ", in.Subject)
	}
	b.WriteString("DO NOT include code fences or commentary. ")
	b.WriteString("Fix the fields that violate the errors below so the JSON passes validation.\n\n")

	if in.Reminder != "" {
		b.WriteString(strings.TrimSpace(in.Reminder))
		b.WriteString("\n\n")
	}

	if len(in.Hints) > 0 {
		b.WriteString("Violated bounds:\n")
		seen := make(map[string]bool, len(in.Hints))
		for _, h := range in.Hints {
			line := h.Describe()
			if seen[line] {
				continue
			}
			seen[line] = true
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Errors to fix:\n")
	for _, e := range in.Errors {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}

	b.WriteString("\nRegenerate the COMPLETE JSON now based on the original request below.\n")
	b.WriteString("--- ORIGINAL REQUEST ---\n")
	b.WriteString(in.OriginalPrompt)
	return b.String()
}

// BuildRejectionPrompt renders the prompt that feeds a control plane
// refusal back to the model. The rejection text is kept verbatim.
func BuildRejectionPrompt(originalPrompt, rejection string) string {
	return "The configuration you provided was syntactically valid, but the system controller REJECTED it for the following reason:\n" +
		rejection +
		"\n\nThis implies a logical or semantic error (e.g., an invalid parameter value, a resource conflict). " +
		"Please analyze this feedback and regenerate the entire, corrected JSON object based on the original request.\n" +
		"--- ORIGINAL REQUEST ---\n" +
		originalPrompt
}

// BuildPlannerPrompt joins the planner instructions and the operator request.
func BuildPlannerPrompt(plannerPrompt, userPrompt string) string {
	return plannerPrompt + userPrompt
}

// BuildExecutorPrompt renders the request for one start step.
func BuildExecutorPrompt(executorPrompt, typePrompt string, step rfplan.PlanStep) string {
	return fmt.Sprintf("%s\n\n%s\n\n%s", executorPrompt, typePrompt, stepRequest(step))
}

func stepRequest(step rfplan.PlanStep) string {
	return fmt.Sprintf("User request: %s\nUse the following id: %s", step.Desc, step.ID)
}

// RetrievalQuery is the knowledge query issued for a component.
func RetrievalQuery(component rfplan.ComponentType, request string) string {
	return fmt.Sprintf("Rules, constraints, and known-good examples for a '%s' configuration to fulfill: %s", component, request)
}

// FormatContext renders passages as the context block.
func FormatContext(passages []rfplan.Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		src := p.SourceID
		if src == "" {
			src = "unknown"
		}
		parts = append(parts, fmt.Sprintf("- From %s:\n%s", src, strings.TrimSpace(p.Text)))
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// BuildAugmentedPrompt wraps instructions and a request with retrieved
// context. An empty context keeps the structure with an empty block.
func BuildAugmentedPrompt(context, instructions, request string) string {
	return strings.TrimSpace(`You are an expert RF systems assistant.
First, review the provided CONTEXT for critical engineering rules.
Then, use that context to follow the INSTRUCTIONS to generate a valid JSON configuration that fulfills the USER REQUEST.

--- CONTEXT (Rules & Formulas) ---
` + context + `
--- END OF CONTEXT ---

--- INSTRUCTIONS (Schema & Formatting) ---
` + instructions + `
--- END OF INSTRUCTIONS ---

--- USER REQUEST ---
` + request + `

Provide only the final JSON object.

--- JSON OUTPUT ---`)
}
