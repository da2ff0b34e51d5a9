// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trial

import (
	"context"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// attemptMeasurement is the InfluxDB measurement for attempt points.
const attemptMeasurement = "rf_attempt"

// InfluxConfig locates the InfluxDB bucket attempts are mirrored to.
type InfluxConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org" validate:"required"`
	Bucket  string        `yaml:"bucket" validate:"required"`
	Timeout time.Duration `yaml:"timeout"`
}

// InfluxMirror writes one point per attempt record.
//
// Thread Safety: Safe for concurrent use.
type InfluxMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	timeout  time.Duration
}

// NewInfluxMirror connects to InfluxDB. The connection is lazy; write
// failures surface per point.
func NewInfluxMirror(cfg InfluxConfig) (*InfluxMirror, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx mirror: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newInfluxMirror(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Timeout), nil
}

func newInfluxMirror(client influxdb2.Client, w api.WriteAPIBlocking, timeout time.Duration) *InfluxMirror {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &InfluxMirror{client: client, writeAPI: w, timeout: timeout}
}

// Mirror implements Mirror.
func (m *InfluxMirror) Mirror(ctx context.Context, trialID string, rec rfplan.AttemptRecord) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.writeAPI.WritePoint(ctx, AttemptPoint(trialID, rec))
}

// Close releases the client.
func (m *InfluxMirror) Close() {
	if m.client != nil {
		m.client.Close()
	}
}

// AttemptPoint converts an attempt record into a point. Raw model output is
// not mirrored.
func AttemptPoint(trialID string, rec rfplan.AttemptRecord) *write.Point {
	component := "plan"
	stepID := ""
	if rec.PlanItem != nil {
		component = string(rec.PlanItem.Type)
		stepID = rec.PlanItem.ID
	}
	chosenReward := 0.0
	for _, c := range rec.Candidates {
		if c.Chosen {
			chosenReward = c.Reward
		}
	}

	return influxdb2.NewPointWithMeasurement(attemptMeasurement).
		AddTag("trial_id", trialID).
		AddTag("phase", string(rec.Phase)).
		AddTag("component", component).
		AddTag("step_id", stepID).
		AddField("attempt", rec.Attempt).
		AddField("llm_success", rec.LLMSuccess).
		AddField("validator_ok", rec.ValidatorOK).
		AddField("error_count", len(rec.ValidatorErrors)).
		AddField("input_error_count", len(rec.InputErrors)).
		AddField("rejected", rec.Rejection != "").
		AddField("candidates", len(rec.Candidates)).
		AddField("chosen_reward", chosenReward).
		SetTime(rec.Timestamp)
}
