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
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianRF/cmd/rfplanner/config"
	"github.com/AleutianAI/AleutianRF/pkg/logging"
	"github.com/AleutianAI/AleutianRF/services/llm"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
	"github.com/AleutianAI/AleutianRF/services/rfplan/controlplane"
	"github.com/AleutianAI/AleutianRF/services/rfplan/engine"
	"github.com/AleutianAI/AleutianRF/services/rfplan/knowledge"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
	"github.com/AleutianAI/AleutianRF/services/rfplan/trial"
)

// =============================================================================
// APPLICATION
// =============================================================================

// app holds every long-lived collaborator of run and serve.
type app struct {
	cfg          config.Config
	logger       *logging.Logger
	orchestrator *engine.Orchestrator
	store        *trial.FileLogger
	closers      []func(context.Context) error
}

// loadConfig applies the persistent flags on top of the file.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.logLevel != "" {
		if _, err := logging.ParseLevel(opts.logLevel); err != nil {
			return config.Config{}, err
		}
		cfg.Logging.Level = opts.logLevel
	}
	if opts.jsonLogs {
		cfg.Logging.JSON = true
	}
	return cfg, nil
}

// collaborators lets tests replace the network-facing pieces.
type collaborators struct {
	client  llm.LLMClient
	control engine.ControlPlane
}

// newApp wires telemetry, generation, control plane, knowledge and the trial
// store into an orchestrator.
//
// Description:
//
//	Generation goes through observability and rate limiting middleware;
//	the per-call timeout is applied by the engine. The retriever is
//	Weaviate when configured, else the static passages, else none. The
//	InfluxDB mirror is attached to the trial store when configured.
//
// Inputs:
//
//	ctx - Used for telemetry setup.
//	cfg - Validated configuration.
//	logOut - Overrides stderr for logs and stdout exporters. Nil keeps them.
//	override - Non-nil fields replace the configured client and control plane.
//
// Outputs:
//
//	*app - Must be closed.
//	error - Non-nil if any collaborator cannot be built.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer, override collaborators) (_ *app, err error) {
	lc := cfg.LoggingConfig("rfplanner")
	lc.Output = logOut
	a := &app{cfg: cfg, logger: logging.New(lc)}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	log := a.logger.Slog()

	tc := cfg.Telemetry
	tc.Writer = logOut
	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	client := override.client
	if client == nil {
		oc, err := llm.NewOpenAIClient(cfg.OpenAIConfig(), log)
		if err != nil {
			return nil, err
		}
		client = llm.Chain(oc,
			llm.WithObservability(log),
			llm.WithRateLimit(llm.NewLimiter(cfg.LLM.RequestsPerMinute, cfg.LLM.Burst)),
		)
	}

	control := override.control
	if control == nil {
		cc, err := controlplane.NewClient(cfg.Control, log)
		if err != nil {
			return nil, err
		}
		control = cc
	}

	var retriever engine.Retriever
	switch {
	case cfg.Knowledge.Weaviate != nil:
		wr, err := knowledge.NewWeaviateRetriever(*cfg.Knowledge.Weaviate, log)
		if err != nil {
			return nil, err
		}
		retriever = wr
	case len(cfg.Knowledge.Passages) > 0:
		retriever = knowledge.NewStaticRetriever(cfg.StaticPassages())
	}

	storeOpts := []trial.Option{trial.WithLogger(log)}
	if cfg.Influx != nil {
		mirror, err := trial.NewInfluxMirror(*cfg.Influx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			mirror.Close()
			return nil
		})
		storeOpts = append(storeOpts, trial.WithMirror(mirror))
	}
	if a.store, err = trial.NewFileLogger(cfg.Trials.Dir, storeOpts...); err != nil {
		return nil, err
	}

	reg := components.DefaultRegistry()
	a.orchestrator, err = engine.NewOrchestrator(engine.Options{
		Client:    client,
		Control:   control,
		Retriever: retriever,
		Registry:  reg,
		Prompts:   cfg.EnginePrompts(reg),
		Config:    cfg.EngineConfig(),
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases collaborators in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
