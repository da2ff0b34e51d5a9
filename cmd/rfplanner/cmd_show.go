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
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRF/cmd/rfplanner/config"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/trial"
)

// newShowCmd reads stored trials. It needs only trials.dir, so a missing
// control plane URL is not an error here.
func newShowCmd(opts *rootOptions) *cobra.Command {
	var (
		dir    string
		phase  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show <trial-id>",
		Short: "Show a stored trial's summary, attempts or final plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = trialsDir(opts)
			}
			store, err := trial.NewFileLogger(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			id := args[0]

			if phase != "" {
				ph := rfplan.Phase(phase)
				if ph != rfplan.PhasePlanner && ph != rfplan.PhaseExecutor {
					return fmt.Errorf("phase must be planner or executor, got %q", phase)
				}
				recs, err := store.Attempts(id, ph)
				if err != nil {
					return err
				}
				return writeJSON(out, recs)
			}

			meta, err := store.Meta(id)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, meta)
			}
			fmt.Fprintln(out, renderMeta(meta))
			if meta.Error != "" {
				fmt.Fprintln(out, styles.Error.Render(meta.Error))
			}
			if meta.Status == rfplan.TrialSucceeded {
				snap, err := store.Snapshot(id)
				if err != nil {
					return err
				}
				for _, c := range snap.Components {
					fmt.Fprintf(out, "\n%s\n%s\n", styles.Subtitle.Render(c.ID+" ("+string(c.Type)+")"), c.ConfigStr)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "trials directory (default trials.dir from the config)")
	cmd.Flags().StringVar(&phase, "phase", "", "print the planner or executor attempt records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// trialsDir reads trials.dir without validating the rest of the file.
func trialsDir(opts *rootOptions) string {
	path := opts.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Default().Trials.Dir
		}
		path = p
	}
	cfg, err := config.ParseFile(path)
	if err != nil || cfg.Trials.Dir == "" {
		return config.Default().Trials.Dir
	}
	return cfg.Trials.Dir
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rfplanner %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
