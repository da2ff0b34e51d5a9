// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes trials over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/engine"
	"github.com/AleutianAI/AleutianRF/services/rfplan/trial"
)

var (
	// ErrBusy is returned when the concurrent trial limit is reached.
	ErrBusy = errors.New("too many trials running")

	// ErrShuttingDown is returned after Shutdown has begun.
	ErrShuttingDown = errors.New("service is shutting down")
)

// TrialRunner runs one trial to completion.
type TrialRunner interface {
	Run(ctx context.Context, userPrompt string, rec engine.Recorder) (*engine.Result, error)
}

// Service starts trials in the background and reports their status.
//
// Thread Safety: Safe for concurrent use. Each trial runs on its own
// goroutine; a trial's own loop stays sequential.
type Service struct {
	runner TrialRunner
	store  *trial.FileLogger
	logger *slog.Logger
	slots  *semaphore.Weighted

	mu     sync.RWMutex
	active map[string]*trial.Trial
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a service allowing maxConcurrent trials at once.
func NewService(runner TrialRunner, store *trial.FileLogger, maxConcurrent int, logger *slog.Logger) *Service {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner: runner,
		store:  store,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
		active: make(map[string]*trial.Trial),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit creates a trial and runs it in the background.
//
// Outputs:
//
//	trial.Meta - The initial summary, status running.
//	error - rfplan.ErrEmptyPrompt, ErrBusy, ErrShuttingDown or a storage
//	failure.
func (s *Service) Submit(prompt string) (trial.Meta, error) {
	if strings.TrimSpace(prompt) == "" {
		return trial.Meta{}, rfplan.ErrEmptyPrompt
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return trial.Meta{}, ErrShuttingDown
	}
	if !s.slots.TryAcquire(1) {
		s.mu.Unlock()
		return trial.Meta{}, ErrBusy
	}
	tr, err := s.store.NewTrial(prompt)
	if err != nil {
		s.slots.Release(1)
		s.mu.Unlock()
		return trial.Meta{}, err
	}
	s.active[tr.ID()] = tr
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(tr, prompt)
	return tr.Meta(), nil
}

func (s *Service) run(tr *trial.Trial, prompt string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, tr.ID())
		s.mu.Unlock()
	}()
	defer s.slots.Release(1)

	log := s.logger.With("trial_id", tr.ID())
	log.Info("trial started")
	if _, err := s.runner.Run(s.ctx, prompt, tr); err != nil {
		// No-op when Run already finished the trial.
		_ = tr.Finish(rfplan.TrialFailed, err)
		log.Warn("trial ended with error", "error", err, "exit_code", rfplan.ExitCode(err))
		return
	}
	log.Info("trial succeeded")
}

// Status returns the summary of a running or stored trial.
func (s *Service) Status(id string) (trial.Meta, error) {
	s.mu.RLock()
	tr, ok := s.active[id]
	s.mu.RUnlock()
	if ok {
		return tr.Meta(), nil
	}
	return s.store.Meta(id)
}

// Attempts returns the stored records of one phase.
func (s *Service) Attempts(id string, phase rfplan.Phase) ([]rfplan.AttemptRecord, error) {
	if _, err := s.Status(id); err != nil {
		return nil, err
	}
	return s.store.Attempts(id, phase)
}

// Snapshot returns the final plan of a succeeded trial.
func (s *Service) Snapshot(id string) (*trial.Snapshot, error) {
	return s.store.Snapshot(id)
}

// Active returns the number of running trials.
func (s *Service) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Shutdown stops accepting trials, cancels the running ones and waits for
// them to record their outcome or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
