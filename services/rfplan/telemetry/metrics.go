// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry holds the Prometheus collectors, OpenTelemetry
// instruments and provider setup shared by the RF planner.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// attemptTotal counts phase attempts by phase and outcome.
	attemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfplan_attempt_total",
		Help: "Generation attempts by phase and outcome",
	}, []string{"phase", "outcome"})

	// phaseTotal counts finished phases by terminal state.
	phaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfplan_phase_total",
		Help: "Finished phases by phase and terminal state",
	}, []string{"phase", "state"})

	// candidateReward tracks the reward of every scored candidate.
	candidateReward = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rfplan_candidate_reward",
		Help:    "Reward of scored correction candidates",
		Buckets: []float64{-20, -10, -5, -2, 0, 2, 5, 8, 10, 12},
	}, []string{"component"})

	// controllerRejections counts control-plane refusals by component type.
	controllerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfplan_controller_rejection_total",
		Help: "Configs refused by the control plane",
	}, []string{"component"})

	// generationDuration tracks text generation latency.
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rfplan_generation_duration_seconds",
		Help:    "Text generation latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"outcome"})

	// trialsActive is the number of trials currently running.
	trialsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfplan_trials_active",
		Help: "Trials currently running",
	})
)

// Attempt outcome labels.
const (
	OutcomeValid           = "valid"
	OutcomeInvalid         = "invalid"
	OutcomeExtractFailed   = "extract_failed"
	OutcomeGenerationError = "generation_error"
	OutcomeTimeout         = "timeout"
)

// RecordAttempt counts one phase attempt.
func RecordAttempt(phase, outcome string) {
	attemptTotal.WithLabelValues(phase, outcome).Inc()
}

// RecordPhase counts one finished phase.
func RecordPhase(phase, state string) {
	phaseTotal.WithLabelValues(phase, state).Inc()
}

// RecordCandidateReward observes one candidate's reward.
func RecordCandidateReward(component string, reward float64) {
	candidateReward.WithLabelValues(component).Observe(reward)
}

// RecordControllerRejection counts one control-plane refusal.
func RecordControllerRejection(component string) {
	controllerRejections.WithLabelValues(component).Inc()
}

// RecordGeneration observes one text generation call.
func RecordGeneration(outcome string, d time.Duration) {
	generationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// TrialStarted increments the active trial gauge. Call the returned func
// when the trial ends.
func TrialStarted() func() {
	trialsActive.Inc()
	return trialsActive.Dec
}

// ==============================================================================
// OpenTelemetry
// ==============================================================================

// Package-level tracer and meter for planner operations.
var (
	tracer = otel.Tracer("aleutian.rfplan")
	meter  = otel.Meter("aleutian.rfplan")
)

var (
	phaseLatency     metric.Float64Histogram
	stateTransitions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the otel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		phaseLatency, err = meter.Float64Histogram(
			"rfplan_phase_duration_seconds",
			metric.WithDescription("Duration of planner and executor phases"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stateTransitions, err = meter.Int64Counter(
			"rfplan_state_transitions_total",
			metric.WithDescription("Phase state machine transitions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// Tracer returns the planner tracer.
func Tracer() trace.Tracer {
	return tracer
}

// StartSpan starts a planner span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordPhaseDuration records how long a phase ran.
func RecordPhaseDuration(ctx context.Context, phase, state string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	phaseLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("state", state),
	))
}

// RecordTransition counts one state machine transition.
func RecordTransition(ctx context.Context, phase, from, to string) {
	if err := initMetrics(); err != nil {
		return
	}
	stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
