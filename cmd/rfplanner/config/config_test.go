// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRF/pkg/logging"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rfplanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "CONTROL_TOKEN", "CONTROL_IP", "CONTROL_PORT", "INFLUXDB_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
engine:
  executor_max_attempts: 4
  call_timeout: 15s
control:
  base_url: https://10.0.0.5:8443
llm:
  model: gpt-4o
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.ExecutorMaxAttempts)
	assert.Equal(t, 10, cfg.Engine.PlannerMaxAttempts)
	assert.Equal(t, 10, cfg.Engine.ControllerMaxRetries)
	assert.Equal(t, DefaultCandidates, cfg.Engine.Candidates)
	assert.Equal(t, 15*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Engine.CandidateDeadline)
	assert.Equal(t, 3, cfg.Engine.RetrievalTopK)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "trials", cfg.Trials.Dir)
	assert.Nil(t, cfg.Influx)

	ec := cfg.EngineConfig()
	assert.Equal(t, 4, ec.ExecutorMaxAttempts)
	assert.Equal(t, 5, ec.Candidates)
}

func TestLoad_ExplicitZeroCandidatesDisablesSelection(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "engine:\n  candidates: 0\ncontrol:\n  base_url: https://c:1\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Engine.Candidates)
}

func TestLoad_CandidatesCapped(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "engine:\n  candidates: 20\ncontrol:\n  base_url: https://c:1\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.Candidates)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CONTROL_TOKEN", "ctl-env")
	t.Setenv("CONTROL_IP", "192.168.1.20")
	t.Setenv("INFLUXDB_TOKEN", "influx-env")
	path := writeConfig(t, `
llm:
  api_key: sk-file
control:
  base_url: https://ignored:1
  token: file-token
influx:
  url: http://localhost:8086
  org: lab
  bucket: trials
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "ctl-env", cfg.Control.Token)
	assert.Equal(t, "https://192.168.1.20:8443", cfg.Control.BaseURL)
	require.NotNil(t, cfg.Influx)
	assert.Equal(t, "influx-env", cfg.Influx.Token)
}

func TestLoad_ControlPortFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTROL_IP", "10.1.1.1")
	t.Setenv("CONTROL_PORT", "9000")
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "https://10.1.1.1:9000", cfg.Control.BaseURL)
}

func TestLoad_MissingFiles(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONTROL_IP", "10.0.0.1")
	cfg, err := Load("")
	require.NoError(t, err, "a missing default file falls back to defaults")
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "control:\n  base_url: https://c:1\nengine:\n  planer_max_attempts: 3\n", "planer_max_attempts"},
		{"missing control url", "llm:\n  model: x\n", "Control.BaseURL is required"},
		{"zero budget", "control:\n  base_url: https://c:1\nengine:\n  planner_max_attempts: 0\n", "Engine.PlannerMaxAttempts"},
		{"bad log level", "control:\n  base_url: https://c:1\nlogging:\n  level: loud\n", "Logging.Level must be one of"},
		{"bad prompt type", "control:\n  base_url: https://c:1\nprompts:\n  types:\n    laser: x\n", `unknown component type "laser"`},
		{"blank planner prompt", "control:\n  base_url: https://c:1\nprompts:\n  planner: '  '\n", "Prompts.Planner is required"},
		{"incomplete influx", "control:\n  base_url: https://c:1\ninflux:\n  url: http://localhost:8086\n", "Influx.Org is required"},
		{"bad passage type", "control:\n  base_url: https://c:1\nknowledge:\n  passages:\n    - component: radar\n      text: t\n", "unknown component type"},
		{"bad server addr", "control:\n  base_url: https://c:1\nserver:\n  addr: nowhere\n", "Server.Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnginePrompts_FillsMissingTypes(t *testing.T) {
	cfg := Default()
	cfg.Prompts.Types = map[string]string{"jammer": "CUSTOM JAMMER"}

	p := cfg.EnginePrompts(components.DefaultRegistry())
	assert.Equal(t, cfg.Prompts.Planner, p.Planner)
	assert.Equal(t, "CUSTOM JAMMER", p.Types[rfplan.ComponentJammer])
	for _, ct := range []rfplan.ComponentType{rfplan.ComponentRTUE, rfplan.ComponentSniffer, rfplan.ComponentAuxAgent} {
		text := p.Types[ct]
		require.NotEmpty(t, text, ct)
		assert.True(t, strings.HasPrefix(text, "Component type "+string(ct)), text)
		assert.NotContains(t, text, "Keys: id, id")
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.JSON = true
	lc := cfg.LoggingConfig("rfplanner")
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.JSON)
	assert.Equal(t, "rfplanner", lc.Service)

	cfg.LLM = LLMConfig{APIKey: "k", Model: "m", BaseURL: "http://gw"}
	oc := cfg.OpenAIConfig()
	assert.Equal(t, "k", oc.APIKey)
	assert.Equal(t, "http://gw", oc.BaseURL)

	assert.Nil(t, cfg.StaticPassages())
	cfg.Knowledge.Passages = []PassageConfig{
		{Component: "jammer", SourceID: "a", Text: "keep Nyquist"},
		{SourceID: "b", Text: "B200 stops at 6 GHz"},
	}
	sp := cfg.StaticPassages()
	assert.Len(t, sp[rfplan.ComponentJammer], 1)
	assert.Len(t, sp[""], 1)
}
