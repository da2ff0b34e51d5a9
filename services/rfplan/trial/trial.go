// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trial persists the audit trail of a planning trial.
//
// Each trial owns one directory:
//
//	trials/<unix>-<uuid8>/
//	  meta.json       attempt counts and final status
//	  planner.jsonl   one AttemptRecord per line
//	  executor.jsonl  one AttemptRecord per line
//	  plan.json       final plan and compiled components, success only
//
// The JSON-lines files are append-only. Records are never rewritten.
package trial

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

const (
	// auditFileMode keeps raw model output readable by the owner only.
	auditFileMode = 0600
	dirMode       = 0750

	metaFile = "meta.json"
	planFile = "plan.json"
)

var (
	// ErrTrialNotFound is returned when no directory exists for an id.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrInvalidTrialID is returned for ids that are not <unix>-<hex8>.
	ErrInvalidTrialID = errors.New("invalid trial id")

	// ErrTrialClosed is returned by writes after Finish.
	ErrTrialClosed = errors.New("trial already finished")
)

var trialIDPattern = regexp.MustCompile(`^\d+-[0-9a-f]{8}$`)

// =============================================================================
// META
// =============================================================================

// Meta is the trial summary stored in meta.json.
type Meta struct {
	ID         string               `json:"id"`
	Prompt     string               `json:"prompt"`
	Status     rfplan.TrialStatus   `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Attempts   map[rfplan.Phase]int `json:"attempts"`
	Rejections int                  `json:"controller_rejections"`
	Error      string               `json:"error,omitempty"`
	ExitCode   int                  `json:"exit_code"`
}

func (m Meta) clone() Meta {
	cp := m
	cp.Attempts = make(map[rfplan.Phase]int, len(m.Attempts))
	for k, v := range m.Attempts {
		cp.Attempts[k] = v
	}
	if m.FinishedAt != nil {
		t := *m.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// Snapshot is the content of plan.json.
type Snapshot struct {
	Plan       rfplan.Plan                `json:"plan"`
	Components []rfplan.CompiledComponent `json:"components"`
}

// =============================================================================
// FILE LOGGER
// =============================================================================

// Mirror receives a copy of every attempt record, e.g. a time-series store.
// Mirror failures are logged and never fail the trial.
type Mirror interface {
	Mirror(ctx context.Context, trialID string, rec rfplan.AttemptRecord) error
}

// FileLogger creates trial directories under a root.
//
// Thread Safety: Safe for concurrent use.
type FileLogger struct {
	root   string
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a FileLogger.
type Option func(*FileLogger)

// WithMirror copies every record to m.
func WithMirror(m Mirror) Option {
	return func(f *FileLogger) { f.mirror = m }
}

// WithLogger sets the logger used for mirror failures.
func WithLogger(l *slog.Logger) Option {
	return func(f *FileLogger) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFileLogger creates the root directory if needed.
func NewFileLogger(root string, opts ...Option) (*FileLogger, error) {
	if root == "" {
		root = "trials"
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("create trial root %s: %w", root, err)
	}
	f := &FileLogger{root: root, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Root returns the trial root directory.
func (f *FileLogger) Root() string { return f.root }

// NewTrial creates the directory and initial meta.json of a new trial.
func (f *FileLogger) NewTrial(prompt string) (*Trial, error) {
	now := f.now().UTC()
	id := fmt.Sprintf("%d-%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	dir := filepath.Join(f.root, id)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create trial dir: %w", err)
	}

	t := &Trial{
		dir:    dir,
		files:  make(map[rfplan.Phase]*os.File),
		mirror: f.mirror,
		logger: f.logger.With("trial_id", id),
		now:    f.now,
		meta: Meta{
			ID:        id,
			Prompt:    prompt,
			Status:    rfplan.TrialRunning,
			CreatedAt: now,
			Attempts:  map[rfplan.Phase]int{rfplan.PhasePlanner: 0, rfplan.PhaseExecutor: 0},
		},
	}
	if err := t.writeMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

// Meta reads meta.json of a stored trial.
func (f *FileLogger) Meta(id string) (Meta, error) {
	var m Meta
	dir, err := f.dirOf(id)
	if err != nil {
		return m, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%w: %s", ErrTrialNotFound, id)
	}
	if err != nil {
		return m, fmt.Errorf("read meta: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode meta: %w", err)
	}
	return m, nil
}

// Attempts reads every record of one phase of a stored trial in order.
func (f *FileLogger) Attempts(id string, phase rfplan.Phase) ([]rfplan.AttemptRecord, error) {
	dir, err := f.dirOf(id)
	if err != nil {
		return nil, err
	}
	return ReadAttempts(filepath.Join(dir, string(phase)+".jsonl"))
}

// Snapshot reads plan.json of a stored trial.
func (f *FileLogger) Snapshot(id string) (*Snapshot, error) {
	dir, err := f.dirOf(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, planFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no plan snapshot for %s", ErrTrialNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode plan snapshot: %w", err)
	}
	return &s, nil
}

func (f *FileLogger) dirOf(id string) (string, error) {
	if !trialIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrialID, id)
	}
	return filepath.Join(f.root, id), nil
}

// ReadAttempts decodes a JSON-lines attempt file. A missing file yields no
// records.
func ReadAttempts(path string) ([]rfplan.AttemptRecord, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []rfplan.AttemptRecord
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var rec rfplan.AttemptRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// =============================================================================
// TRIAL
// =============================================================================

// Trial is the audit sink of one running trial.
//
// Thread Safety: Safe for concurrent use. Writes are serialized.
type Trial struct {
	mu     sync.Mutex
	dir    string
	files  map[rfplan.Phase]*os.File
	meta   Meta
	closed bool
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
}

// ID returns the trial id.
func (t *Trial) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta.ID
}

// Dir returns the trial directory.
func (t *Trial) Dir() string { return t.dir }

// Meta returns a copy of the current summary.
func (t *Trial) Meta() Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta.clone()
}

// Append writes rec as one line of <phase>.jsonl.
func (t *Trial) Append(rec rfplan.AttemptRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	line = append(line, '\n')

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrialClosed
	}
	f, err := t.fileFor(rec.Phase)
	if err == nil {
		_, err = f.Write(line)
	}
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("append %s attempt: %w", rec.Phase, err)
	}
	t.meta.Attempts[rec.Phase]++
	if rec.Rejection != "" {
		t.meta.Rejections++
	}
	id, mirror := t.meta.ID, t.mirror
	t.mu.Unlock()

	if mirror != nil {
		if err := mirror.Mirror(context.Background(), id, rec); err != nil {
			t.logger.Warn("attempt mirror failed", "phase", rec.Phase, "attempt", rec.Attempt, "error", err)
		}
	}
	return nil
}

// fileFor opens the phase file on first use. Callers hold t.mu.
func (t *Trial) fileFor(phase rfplan.Phase) (*os.File, error) {
	if f, ok := t.files[phase]; ok {
		return f, nil
	}
	if phase == "" {
		return nil, errors.New("attempt record has no phase")
	}
	path := filepath.Join(t.dir, string(phase)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditFileMode)
	if err != nil {
		return nil, err
	}
	t.files[phase] = f
	return f, nil
}

// WritePlan stores the final plan snapshot.
func (t *Trial) WritePlan(p rfplan.Plan, compiled []rfplan.CompiledComponent) error {
	if compiled == nil {
		compiled = []rfplan.CompiledComponent{}
	}
	data, err := json.MarshalIndent(Snapshot{Plan: p, Components: compiled}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan snapshot: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrialClosed
	}
	return writeFileAtomic(filepath.Join(t.dir, planFile), data)
}

// Finish records the final status and closes the phase files. Finish is
// idempotent; only the first call is recorded.
func (t *Trial) Finish(status rfplan.TrialStatus, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	now := t.now().UTC()
	t.meta.Status = status
	t.meta.FinishedAt = &now
	t.meta.ExitCode = rfplan.ExitCode(cause)
	if cause != nil {
		t.meta.Error = cause.Error()
	}

	var errs []error
	for phase, f := range t.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s log: %w", phase, err))
		}
	}
	if err := t.writeMetaLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (t *Trial) writeMeta() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeMetaLocked()
}

func (t *Trial) writeMetaLocked() error {
	data, err := json.MarshalIndent(t.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(t.dir, metaFile), data); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path through a rename so readers never see a
// partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, auditFileMode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
