// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command rfplanner turns natural-language RF test requests into validated
// component configurations and drives them through the control plane.
//
// Exit codes:
//
//	0  success
//	1  usage, configuration or runtime error
//	3  planner attempt budget exhausted
//	4  executor attempt budget exhausted
//	5  controller rejection retries exhausted
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	os.Exit(execute(&rootOptions{}, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the root command and maps its error to an exit code.
func execute(opts *rootOptions, args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCmd(opts, in, out, errOut)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return rfplan.ExitOK
	}
	var silent *exitError
	if !errors.As(err, &silent) {
		fmt.Fprintln(errOut, styles.Error.Render("Error: "+err.Error()))
	}
	return exitCodeOf(err)
}

// exitError carries a code for a failure already reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeOf(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return rfplan.ExitCode(err)
}

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	// logOut overrides stderr for logs. Set by tests.
	logOut io.Writer

	// override replaces network collaborators. Set by tests.
	override collaborators
}

func newRootCmd(opts *rootOptions, in io.Reader, out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "rfplanner",
		Short:         "Plan, generate and validate RF test component configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.rfplanner/rfplanner.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "force JSON log output")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newCheckCmd(),
		newShowCmd(opts),
		newVersionCmd(),
	)
	return root
}
