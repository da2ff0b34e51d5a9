// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrScriptExhausted is returned once a ScriptedClient has no replies left.
var ErrScriptExhausted = errors.New("scripted client: no replies left")

// Reply is one canned generation result.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Call records one Generate invocation.
type Call struct {
	Prompt string
	Params GenerationParams
}

// ScriptedClient replays canned replies in order. It backs deterministic
// tests and offline runs.
//
// Thread Safety: ScriptedClient is safe for concurrent use. Concurrent
// callers receive replies in arrival order.
type ScriptedClient struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call

	// Respond, when set, overrides the reply queue.
	Respond func(prompt string, params GenerationParams) Reply
}

// NewScriptedClient creates a client that replays replies.
func NewScriptedClient(replies ...Reply) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// Texts is shorthand for replies that all succeed.
func Texts(texts ...string) []Reply {
	out := make([]Reply, len(texts))
	for i, t := range texts {
		out[i] = Reply{Text: t}
	}
	return out
}

// Generate implements LLMClient.
func (s *ScriptedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Prompt: prompt, Params: params})
	var r Reply
	switch {
	case s.Respond != nil:
		s.mu.Unlock()
		r = s.Respond(prompt, params)
	case len(s.replies) == 0:
		s.mu.Unlock()
		return "", &GenerationError{Backend: "scripted", Cause: ErrScriptExhausted}
	default:
		r = s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
	}

	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", wrap("scripted", ctx.Err())
		case <-t.C:
		}
	}
	if r.Err != nil {
		return "", wrap("scripted", r.Err)
	}
	return r.Text, nil
}

// Calls returns a copy of every recorded call.
func (s *ScriptedClient) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Prompts returns the prompts of every recorded call.
func (s *ScriptedClient) Prompts() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Prompt
	}
	return out
}

// Remaining returns how many queued replies are left.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
