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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
	"github.com/AleutianAI/AleutianRF/services/rfplan/engine"
)

// checkTypePlan selects the plan validator instead of a component.
const checkTypePlan = "plan"

// errCheckFailed is returned when the checked output is invalid.
var errCheckFailed = errors.New("check failed")

func newCheckCmd() *cobra.Command {
	var (
		typ    string
		id     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "check --type <rtue|sniffer|jammer|aux_agent|plan> [file|-]",
		Short: "Validate and compile saved model output without calling any service",
		Long: `Runs extraction, schema and semantic validation and compilation on a saved
model response, exactly as a trial would, and prints the compiled
configuration or every error with its correction hints.

With no file, or "-", the output is read from stdin. Exits 1 when invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if typ == checkTypePlan {
				return checkPlan(out, raw, asJSON)
			}
			spec, err := components.DefaultRegistry().Lookup(rfplan.ComponentType(typ))
			if err != nil {
				return err
			}
			return checkComponent(out, spec, id, raw, asJSON)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "component type, or plan")
	cmd.Flags().StringVar(&id, "id", "", "expected component id (default: the id in the output)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func readInput(in io.Reader, args []string) (string, error) {
	var (
		b   []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		b, err = io.ReadAll(in)
	} else {
		b, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", errors.New("input is empty")
	}
	return string(b), nil
}

// checkOutcome is the JSON form of a check.
type checkOutcome struct {
	Valid    bool                     `json:"valid"`
	Type     string                   `json:"type"`
	Compiled string                   `json:"compiled,omitempty"`
	Plan     rfplan.Plan              `json:"plan,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Result   *rfplan.ValidationResult `json:"result,omitempty"`
}

func checkComponent(out io.Writer, spec *components.Spec, id, raw string, asJSON bool) error {
	d := engine.CheckComponent(spec, id, raw)
	label := string(spec.Type) + " config"
	if asJSON {
		o := checkOutcome{Valid: d.Err == nil, Type: string(spec.Type), Result: d.Result}
		if d.Err == nil {
			o.Compiled = d.Value.ConfigStr
		} else {
			o.Error = d.Err.Error()
		}
		if err := writeJSON(out, o); err != nil {
			return err
		}
	} else if d.Err == nil {
		fmt.Fprintln(out, renderCheck(label, true, d.Value.ConfigStr, nil))
	} else {
		fmt.Fprint(out, renderCheck(label, false, headline(d.Err), d.Result))
	}
	if d.Err != nil {
		return &exitError{code: rfplan.ExitConfig, err: fmt.Errorf("%w: %w", errCheckFailed, d.Err)}
	}
	return nil
}

func checkPlan(out io.Writer, raw string, asJSON bool) error {
	d := engine.CheckPlan(components.DefaultRegistry(), raw)
	if asJSON {
		o := checkOutcome{Valid: d.Err == nil, Type: checkTypePlan, Result: d.Result}
		if d.Err == nil {
			o.Plan = d.Value
		} else {
			o.Error = d.Err.Error()
		}
		if err := writeJSON(out, o); err != nil {
			return err
		}
	} else if d.Err == nil {
		var b strings.Builder
		for i, s := range d.Value {
			fmt.Fprintf(&b, "%2d. %s %s %s\n", i+1, s.Endpoint, s.ID, s.Type)
		}
		fmt.Fprint(out, renderCheck("plan", true, b.String(), nil))
	} else {
		fmt.Fprint(out, renderCheck("plan", false, headline(d.Err), d.Result))
	}
	if d.Err != nil {
		return &exitError{code: rfplan.ExitConfig, err: fmt.Errorf("%w: %w", errCheckFailed, d.Err)}
	}
	return nil
}

// headline names the failing stage. Validation errors are listed from the
// result instead.
func headline(err error) string {
	var (
		ext  *rfplan.ExtractionError
		comp *rfplan.CompilationError
	)
	switch {
	case errors.As(err, &ext):
		return "extraction: " + err.Error()
	case errors.As(err, &comp):
		return "compilation: " + err.Error()
	default:
		return ""
	}
}
