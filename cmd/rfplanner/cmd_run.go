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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run one trial from a natural-language request",
		Long: `Plans the request, generates and validates every component configuration,
starts the components on the control plane and executes the remaining steps.
With no arguments, or "-", the request is read from stdin.

Every attempt is recorded under the trials directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return runTrial(cmd, opts, prompt, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the trial result as JSON")
	return cmd
}

func readPrompt(in io.Reader, args []string) (string, error) {
	var prompt string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(b)
	} else {
		prompt = strings.Join(args, " ")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", rfplan.ErrEmptyPrompt
	}
	return prompt, nil
}

func runTrial(cmd *cobra.Command, opts *rootOptions, prompt string, asJSON bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, opts.logOut, opts.override)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	tr, err := a.store.NewTrial(prompt)
	if err != nil {
		return err
	}
	log := a.logger.With("trial_id", tr.ID())
	log.Info("trial started", "dir", tr.Dir())

	out := cmd.OutOrStdout()
	res, runErr := a.orchestrator.Run(ctx, prompt, tr)
	if runErr != nil {
		// No-op when the orchestrator already closed the trial.
		_ = tr.Finish(rfplan.TrialFailed, runErr)
		code := rfplan.ExitCode(runErr)
		log.Error("trial failed", "error", runErr, "exit_code", code)
		if asJSON {
			_ = writeJSON(out, map[string]any{"trial_id": tr.ID(), "error": runErr.Error(), "exit_code": code})
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), renderFailure(tr.ID(), runErr))
		}
		return &exitError{code: code, err: runErr}
	}

	log.Info("trial succeeded", "duration", res.Duration)
	if asJSON {
		return writeJSON(out, map[string]any{"trial_id": tr.ID(), "result": res})
	}
	fmt.Fprintln(out, renderResult(tr.ID(), res))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
