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
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// defaultSecretPath is where container deployments mount the API key.
const defaultSecretPath = "/run/secrets/openai_api_key"

// OpenAIConfig configures an OpenAI-compatible chat backend.
type OpenAIConfig struct {
	// APIKey authenticates requests. Empty falls back to OPENAI_API_KEY and
	// then to the mounted secret file.
	APIKey string

	// Model is the chat model. Defaults to gpt-4o-mini.
	Model string

	// BaseURL points at any OpenAI-compatible server, e.g. a local
	// inference gateway. Empty uses api.openai.com.
	BaseURL string

	// SystemPrompt is sent as the system message.
	SystemPrompt string
}

// OpenAIClient generates text through the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	system string
	logger *slog.Logger
}

// NewOpenAIClient creates a chat client.
//
// Outputs:
//
//	*OpenAIClient - Ready to use.
//	error - Non-nil when no API key can be found.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		b, err := os.ReadFile(defaultSecretPath)
		if err != nil {
			return nil, errors.New("OPENAI_API_KEY not set and no secret mounted")
		}
		apiKey = strings.TrimSpace(string(b))
		logger.Info("read OpenAI API key from mounted secret")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	logger.Info("initializing OpenAI client", "model", model, "base_url", oc.BaseURL)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		system: cfg.SystemPrompt,
		logger: logger,
	}, nil
}

// Generate implements LLMClient.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if o.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{Model: o.model, Messages: msgs}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
		if req.Temperature == 0 {
			// A zero temperature is dropped by omitempty.
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.Seed != nil {
		req.Seed = params.Seed
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrap("openai", fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Backend: "openai", Cause: errors.New("no choices returned")}
	}
	o.logger.Debug("openai response", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
