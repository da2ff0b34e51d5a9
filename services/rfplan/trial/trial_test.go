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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// --- Mock InfluxDB WriteAPI ---

type mockWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	failure error
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point...)
	return m.failure
}

func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                              {}
func (m *mockWriteAPI) Flush(context.Context) error                  { return nil }

func record(phase rfplan.Phase, attempt int, ok bool) rfplan.AttemptRecord {
	rec := rfplan.AttemptRecord{
		Phase:           phase,
		Attempt:         attempt,
		Timestamp:       time.Date(2025, 3, 1, 12, 0, attempt, 0, time.UTC),
		InputErrors:     []string{},
		RawOutput:       `{"tx_gain": 50}`,
		LLMSuccess:      true,
		ValidatorOK:     ok,
		ValidatorErrors: []string{},
	}
	if !ok {
		rec.ValidatorErrors = []string{"tx_gain must be between 0 and 90"}
	}
	return rec
}

func TestFileLogger_TrialLayout(t *testing.T) {
	fl, err := NewFileLogger(filepath.Join(t.TempDir(), "trials"))
	require.NoError(t, err)

	tr, err := fl.NewTrial("jam the uplink")
	require.NoError(t, err)
	assert.Regexp(t, `^\d+-[0-9a-f]{8}$`, tr.ID())
	assert.Equal(t, filepath.Join(fl.Root(), tr.ID()), tr.Dir())

	meta, err := fl.Meta(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, rfplan.TrialRunning, meta.Status)
	assert.Equal(t, "jam the uplink", meta.Prompt)

	require.NoError(t, tr.Append(record(rfplan.PhasePlanner, 1, false)))
	require.NoError(t, tr.Append(record(rfplan.PhasePlanner, 2, true)))
	exec := record(rfplan.PhaseExecutor, 1, true)
	exec.PlanItem = &rfplan.PlanStep{Endpoint: rfplan.EndpointStart, ID: "jam1", Type: rfplan.ComponentJammer}
	require.NoError(t, tr.Append(exec))

	p := rfplan.Plan{{Endpoint: rfplan.EndpointStart, ID: "jam1", Type: rfplan.ComponentJammer, Desc: "jam", RF: map[string]any{"type": "b200"}}}
	require.NoError(t, tr.WritePlan(p, []rfplan.CompiledComponent{{ID: "jam1", Type: rfplan.ComponentJammer, ConfigStr: "tx_gain: 50\n"}}))
	require.NoError(t, tr.Finish(rfplan.TrialSucceeded, nil))

	for _, name := range []string{"meta.json", "planner.jsonl", "executor.jsonl", "plan.json"} {
		info, err := os.Stat(filepath.Join(tr.Dir(), name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	planner, err := fl.Attempts(tr.ID(), rfplan.PhasePlanner)
	require.NoError(t, err)
	require.Len(t, planner, 2)
	assert.Equal(t, 1, planner[0].Attempt)
	assert.Equal(t, []string{"tx_gain must be between 0 and 90"}, planner[0].ValidatorErrors)

	data, err := os.ReadFile(filepath.Join(tr.Dir(), "executor.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"ts_utc":"2025-03-01T12:00:01Z"`)

	meta, err = fl.Meta(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, rfplan.TrialSucceeded, meta.Status)
	assert.Equal(t, 2, meta.Attempts[rfplan.PhasePlanner])
	assert.Equal(t, 1, meta.Attempts[rfplan.PhaseExecutor])
	assert.Equal(t, 0, meta.ExitCode)
	require.NotNil(t, meta.FinishedAt)

	snap, err := fl.Snapshot(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, "jam1", snap.Plan[0].ID)
	assert.Equal(t, "tx_gain: 50\n", snap.Components[0].ConfigStr)
}

func TestTrial_FailedTrialHasNoSnapshot(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir())
	require.NoError(t, err)
	tr, err := fl.NewTrial("p")
	require.NoError(t, err)

	rej := record(rfplan.PhaseExecutor, 1, true)
	rej.Rejection = "port in use"
	require.NoError(t, tr.Append(rej))

	cause := &rfplan.FatalError{Phase: "controller", StepID: "jam1", Attempts: 10, Cause: rfplan.ErrControllerRetriesExhausted}
	require.NoError(t, tr.Finish(rfplan.TrialFailed, cause))
	require.NoError(t, tr.Finish(rfplan.TrialSucceeded, nil), "second finish is a no-op")

	meta := tr.Meta()
	assert.Equal(t, rfplan.TrialFailed, meta.Status)
	assert.Equal(t, rfplan.ExitControllerRejected, meta.ExitCode)
	assert.Equal(t, 1, meta.Rejections)
	assert.Contains(t, meta.Error, "controller [jam1]")

	_, err = fl.Snapshot(tr.ID())
	assert.ErrorIs(t, err, ErrTrialNotFound)
	assert.ErrorIs(t, tr.Append(record(rfplan.PhasePlanner, 1, true)), ErrTrialClosed)
}

func TestTrial_ConcurrentAppends(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir())
	require.NoError(t, err)
	tr, err := fl.NewTrial("p")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Append(record(rfplan.PhaseExecutor, i, true)))
		}()
	}
	wg.Wait()
	require.NoError(t, tr.Finish(rfplan.TrialSucceeded, nil))

	recs, err := fl.Attempts(tr.ID(), rfplan.PhaseExecutor)
	require.NoError(t, err)
	assert.Len(t, recs, 50)
	assert.Equal(t, 50, tr.Meta().Attempts[rfplan.PhaseExecutor])
}

func TestFileLogger_RejectsBadIDs(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"../etc", "", "123-XYZ", "123-abcdef0/.."} {
		_, err := fl.Meta(id)
		assert.ErrorIs(t, err, ErrInvalidTrialID, id)
	}
	_, err = fl.Meta("1700000000-deadbeef")
	assert.ErrorIs(t, err, ErrTrialNotFound)
}

func TestReadAttempts_MissingFile(t *testing.T) {
	recs, err := ReadAttempts(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestInfluxMirror_Points(t *testing.T) {
	mock := &mockWriteAPI{}
	fl, err := NewFileLogger(t.TempDir(), WithMirror(newInfluxMirror(nil, mock, 0)))
	require.NoError(t, err)
	tr, err := fl.NewTrial("p")
	require.NoError(t, err)

	rec := record(rfplan.PhaseExecutor, 2, false)
	rec.PlanItem = &rfplan.PlanStep{ID: "sniff1", Type: rfplan.ComponentSniffer}
	rec.Candidates = []rfplan.CandidateSummary{{Index: 0, Reward: -2}, {Index: 1, Reward: 9.5, Chosen: true}}
	require.NoError(t, tr.Append(rec))

	require.Len(t, mock.points, 1)
	pt := mock.points[0]
	assert.Equal(t, "rf_attempt", pt.Name())
	assert.Equal(t, rec.Timestamp, pt.Time())

	tags := map[string]string{}
	for _, tg := range pt.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, tr.ID(), tags["trial_id"])
	assert.Equal(t, "sniffer", tags["component"])
	assert.Equal(t, "sniff1", tags["step_id"])

	fields := map[string]any{}
	for _, f := range pt.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 9.5, fields["chosen_reward"])
	assert.Equal(t, false, fields["validator_ok"])
}

func TestInfluxMirror_FailureDoesNotFailTrial(t *testing.T) {
	mock := &mockWriteAPI{failure: errors.New("influx down")}
	fl, err := NewFileLogger(t.TempDir(), WithMirror(newInfluxMirror(nil, mock, time.Second)))
	require.NoError(t, err)
	tr, err := fl.NewTrial("p")
	require.NoError(t, err)

	assert.NoError(t, tr.Append(record(rfplan.PhasePlanner, 1, true)))
	assert.Equal(t, 1, tr.Meta().Attempts[rfplan.PhasePlanner])
}

func TestNewInfluxMirror_RequiresLocation(t *testing.T) {
	_, err := NewInfluxMirror(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}
