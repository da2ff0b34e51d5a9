// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/engine"
	"github.com/AleutianAI/AleutianRF/services/rfplan/trial"
)

// Aleutian palette
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(colorTealPrimary),
	Muted:    lipgloss.NewStyle().Foreground(colorSlate),
	Success:  lipgloss.NewStyle().Foreground(colorTealBright),
	Warning:  lipgloss.NewStyle().Foreground(colorWarning),
	Error:    lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 1),
}

const (
	iconOK    = "✓"
	iconFail  = "✗"
	iconArrow = "→"
)

// renderResult formats a succeeded trial: one line per step, then the
// attempt counters.
func renderResult(trialID string, res *engine.Result) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("Trial "+trialID) + "\n")

	compiled := make(map[string]rfplan.CompiledComponent, len(res.Components))
	for _, c := range res.Components {
		compiled[c.ID] = c
	}
	// Steps holds one entry per non-start step, in plan order.
	failed := make(map[int]string)
	next := 0
	for i, step := range res.Plan {
		if step.Endpoint == rfplan.EndpointStart || next >= len(res.Steps) {
			continue
		}
		failed[i] = res.Steps[next].Error
		next++
	}

	for i, step := range res.Plan {
		line := fmt.Sprintf("%2d. %-6s", i+1, step.Endpoint)
		if step.ID != "" {
			line += " " + step.ID
		}
		if step.Type != "" {
			line += styles.Muted.Render(" (" + string(step.Type) + ")")
		}
		switch {
		case failed[i] != "":
			line = styles.Error.Render(iconFail) + " " + line + " " + styles.Error.Render(failed[i])
		default:
			line = styles.Success.Render(iconOK) + " " + line
		}
		if c, ok := compiled[step.ID]; ok && step.Endpoint == rfplan.EndpointStart {
			line += styles.Muted.Render(fmt.Sprintf(" %s %d bytes", iconArrow, len(c.ConfigStr)))
			if n := res.Rejections[step.ID]; n > 0 {
				line += styles.Warning.Render(fmt.Sprintf(" after %d rejection(s)", n))
			}
		}
		b.WriteString(line + "\n")
	}

	b.WriteString(styles.Subtitle.Render(fmt.Sprintf("planner attempts %d, executor attempts %d, %s",
		res.Attempts[rfplan.PhasePlanner], res.Attempts[rfplan.PhaseExecutor], res.Duration.Round(time.Millisecond))))
	return styles.Box.Render(b.String())
}

// renderFailure formats a failed trial with its exit code.
func renderFailure(trialID string, err error) string {
	body := styles.Error.Render(iconFail+" Trial "+trialID+" failed") + "\n" +
		err.Error() + "\n" +
		styles.Muted.Render(fmt.Sprintf("exit code %d", rfplan.ExitCode(err)))
	return styles.ErrorBox.Render(body)
}

// renderCheck formats the outcome of an offline check.
func renderCheck(label string, ok bool, body string, res *rfplan.ValidationResult) string {
	var b strings.Builder
	if ok {
		b.WriteString(styles.Success.Render(iconOK+" "+label+" is valid") + "\n\n")
		b.WriteString(body)
		return b.String()
	}
	b.WriteString(styles.Error.Render(iconFail+" "+label+" is invalid") + "\n")
	if body != "" {
		b.WriteString(body + "\n")
	}
	if res != nil {
		for _, e := range res.Errors {
			b.WriteString("  - " + e + "\n")
		}
		hints := res.AllHints()
		if len(hints) > 0 {
			b.WriteString(styles.Subtitle.Render("Hints:") + "\n")
			for _, h := range hints {
				b.WriteString("  " + iconArrow + " " + h.Describe() + "\n")
			}
		}
	}
	return b.String()
}

// renderMeta formats a stored trial summary for `show`.
func renderMeta(m trial.Meta) string {
	phases := make([]string, 0, len(m.Attempts))
	for ph, n := range m.Attempts {
		phases = append(phases, fmt.Sprintf("%s=%d", ph, n))
	}
	sort.Strings(phases)
	status := styles.Success.Render(string(m.Status))
	if m.Status == rfplan.TrialFailed {
		status = styles.Error.Render(string(m.Status))
	}
	return fmt.Sprintf("%s %s attempts[%s] exit=%d", m.ID, status, strings.Join(phases, " "), m.ExitCode)
}
