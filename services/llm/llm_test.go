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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// OPENAI CLIENT
// =============================================================================

func newOpenAIServer(t *testing.T, status int, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
}

func TestOpenAIClient_Generate(t *testing.T) {
	var body map[string]any
	srv := newOpenAIServer(t, http.StatusOK, `{"ok": true}`, &body)
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", Model: "test-model", BaseURL: srv.URL + "/v1/", SystemPrompt: "be terse"}, nil)
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), "plan this", GenerationParams{}.WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)

	assert.Equal(t, "test-model", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "plan this", msgs[1].(map[string]any)["content"])

	temp, ok := body["temperature"].(float64)
	require.True(t, ok, "zero temperature must still be sent")
	assert.Less(t, temp, 1e-30)
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := newOpenAIServer(t, http.StatusInternalServerError, "", nil)
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "x", GenerationParams{})
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "openai", ge.Backend)
	assert.False(t, ge.Timeout)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestWithTimeout_MarksTimeout(t *testing.T) {
	slow := NewScriptedClient(Reply{Text: "late", Delay: time.Second})
	c := Chain(slow, WithTimeout(20*time.Millisecond))

	_, err := c.Generate(context.Background(), "x", GenerationParams{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestWithTimeout_PassesFastCalls(t *testing.T) {
	c := Chain(NewScriptedClient(Texts("fast")...), WithTimeout(time.Second))
	out, err := c.Generate(context.Background(), "x", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "fast", out)
}

func TestWithRateLimit_CancelledContext(t *testing.T) {
	l := NewLimiter(1, 1)
	c := Chain(NewScriptedClient(Texts("a", "b")...), WithRateLimit(l))

	_, err := c.Generate(context.Background(), "x", GenerationParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Generate(ctx, "x", GenerationParams{})
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
}

func TestNewLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 5))
	c := Chain(NewScriptedClient(Texts("a")...), WithRateLimit(nil))
	_, err := c.Generate(context.Background(), "x", GenerationParams{})
	assert.NoError(t, err)
}

func TestChain_Order(t *testing.T) {
	var mu sync.Mutex
	var order []string
	tag := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return ClientFunc(func(ctx context.Context, p string, gp GenerationParams) (string, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next.Generate(ctx, p, gp)
			})
		}
	}
	c := Chain(NewScriptedClient(Texts("x")...), tag("outer"), tag("inner"), WithObservability(nil))
	_, err := c.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

// =============================================================================
// SCRIPTED CLIENT
// =============================================================================

func TestScriptedClient_ReplaysAndRecords(t *testing.T) {
	boom := errors.New("boom")
	s := NewScriptedClient(Reply{Text: "one"}, Reply{Err: boom})

	out, err := s.Generate(context.Background(), "p1", GenerationParams{}.WithTemperature(0.7))
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = s.Generate(context.Background(), "p2", GenerationParams{})
	assert.ErrorIs(t, err, boom)

	_, err = s.Generate(context.Background(), "p3", GenerationParams{})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	assert.Equal(t, []string{"p1", "p2", "p3"}, s.Prompts())
	assert.InDelta(t, 0.7, *s.Calls()[0].Params.Temperature, 1e-6)
	assert.Zero(t, s.Remaining())
}

func TestScriptedClient_Respond(t *testing.T) {
	s := &ScriptedClient{Respond: func(prompt string, _ GenerationParams) Reply {
		return Reply{Text: "echo:" + prompt}
	}}
	out, err := s.Generate(context.Background(), "hi", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}

func TestGenerationError_Message(t *testing.T) {
	err := &GenerationError{Backend: "openai", Timeout: true, Cause: context.DeadlineExceeded}
	assert.Equal(t, "openai generation failed (timeout): context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
