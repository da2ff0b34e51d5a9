// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the rfplanner YAML configuration.
//
// A file only needs the keys it changes: Load decodes over Default(), so an
// absent key keeps its default and an explicit zero is honored. Secrets are
// taken from the environment when set:
//
//	OPENAI_API_KEY   llm.api_key
//	CONTROL_TOKEN    control.token
//	CONTROL_IP       control.base_url host (with CONTROL_PORT, default 8443)
//	INFLUXDB_TOKEN   influx.token
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRF/pkg/logging"
	"github.com/AleutianAI/AleutianRF/services/llm"
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/components"
	"github.com/AleutianAI/AleutianRF/services/rfplan/controlplane"
	"github.com/AleutianAI/AleutianRF/services/rfplan/engine"
	"github.com/AleutianAI/AleutianRF/services/rfplan/knowledge"
	"github.com/AleutianAI/AleutianRF/services/rfplan/plan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
	"github.com/AleutianAI/AleutianRF/services/rfplan/trial"
)

// DefaultCandidates is K for correction selection when the file is silent.
const DefaultCandidates = 5

// defaultControlPort is used with CONTROL_IP when CONTROL_PORT is unset.
const defaultControlPort = "8443"

// ErrConfigNotFound is returned when an explicit config path does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// =============================================================================
// TYPES
// =============================================================================

// Config is the whole rfplanner configuration.
type Config struct {
	Engine    EngineConfig        `yaml:"engine"`
	LLM       LLMConfig           `yaml:"llm"`
	Control   controlplane.Config `yaml:"control"`
	Knowledge KnowledgeConfig     `yaml:"knowledge"`
	Influx    *trial.InfluxConfig `yaml:"influx,omitempty"`
	Trials    TrialsConfig        `yaml:"trials"`
	Server    ServerConfig        `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging"`
	Telemetry telemetry.Config    `yaml:"telemetry"`
	Prompts   PromptsConfig       `yaml:"prompts"`
}

// EngineConfig holds the attempt budgets and generation limits.
type EngineConfig struct {
	PlannerMaxAttempts   int           `yaml:"planner_max_attempts" validate:"gte=1,lte=100"`
	ExecutorMaxAttempts  int           `yaml:"executor_max_attempts" validate:"gte=1,lte=100"`
	ControllerMaxRetries int           `yaml:"controller_max_retries" validate:"gte=1,lte=100"`
	Candidates           int           `yaml:"candidates" validate:"gte=0"`
	CandidateWorkers     int           `yaml:"candidate_workers" validate:"gte=1,lte=8"`
	CallTimeout          time.Duration `yaml:"call_timeout" validate:"gt=0"`
	CandidateDeadline    time.Duration `yaml:"candidate_deadline" validate:"gt=0"`
	Temperature          float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	RetrievalTopK        int           `yaml:"retrieval_top_k" validate:"gte=1,lte=20"`
}

// LLMConfig selects the OpenAI-compatible backend.
type LLMConfig struct {
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	SystemPrompt      string  `yaml:"system_prompt"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// KnowledgeConfig selects the retriever. Weaviate wins when both are set;
// with neither, executor prompts are not augmented.
type KnowledgeConfig struct {
	Weaviate *knowledge.WeaviateConfig `yaml:"weaviate,omitempty"`
	Passages []PassageConfig           `yaml:"passages" validate:"dive"`
}

// PassageConfig is one static knowledge passage. An empty component applies
// to every type.
type PassageConfig struct {
	Component string `yaml:"component" validate:"omitempty,componenttype"`
	SourceID  string `yaml:"source_id"`
	Text      string `yaml:"text" validate:"nonblank"`
}

// TrialsConfig locates the audit directory.
type TrialsConfig struct {
	Dir           string `yaml:"dir" validate:"required"`
	MaxConcurrent int    `yaml:"max_concurrent" validate:"gte=1,lte=64"`
}

// ServerConfig configures `rfplanner serve`.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error critical fatal"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// PromptsConfig holds the operator instruction blocks. Types is keyed by
// component type; a type without an entry gets a prompt listing its keys.
type PromptsConfig struct {
	Planner  string            `yaml:"planner" validate:"nonblank"`
	Executor string            `yaml:"executor" validate:"nonblank"`
	Types    map[string]string `yaml:"types" validate:"dive,keys,componenttype,endkeys,nonblank"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration that needs only a control plane URL.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			PlannerMaxAttempts:   10,
			ExecutorMaxAttempts:  10,
			ControllerMaxRetries: 10,
			Candidates:           DefaultCandidates,
			CandidateWorkers:     4,
			CallTimeout:          60 * time.Second,
			CandidateDeadline:    3 * time.Minute,
			RetrievalTopK:        3,
		},
		LLM: LLMConfig{
			RequestsPerMinute: 60,
			Burst:             4,
		},
		Control: controlplane.Config{Timeout: controlplane.DefaultTimeout},
		Trials:  TrialsConfig{Dir: "trials", MaxConcurrent: 2},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8090",
			ShutdownTimeout: 30 * time.Second,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Prompts: PromptsConfig{
			Planner:  defaultPlannerPrompt,
			Executor: defaultExecutorPrompt,
		},
	}
}

const defaultPlannerPrompt = `You plan RF test trials. Turn the operator request into an ordered JSON array of control plane steps.

` + plan.Reminder + `

Respond with the JSON array only.`

const defaultExecutorPrompt = `You configure one RF test component. Respond with a single flat JSON object holding every listed key and nothing else. Use plain numbers in Hz, samples per second and dB.`

// DefaultPath returns ~/.rfplanner/rfplanner.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".rfplanner", "rfplanner.yaml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads, overrides and validates the configuration.
//
// Description:
//
//	An empty path means DefaultPath; a missing default file yields
//	Default() plus environment overrides. A missing explicit path is an
//	error. Unknown keys are rejected so typos do not silently fall back to
//	defaults.
//
// Outputs:
//
//	Config - Validated configuration.
//	error - ErrConfigNotFound, a YAML error or a validation error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(bytes.NewReader(data)); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	default:
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default(). It neither applies the environment nor
// validates.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// ParseFile is Parse on a file.
func ParseFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Parse(f)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Control.Token = v
	}
	if ip := os.Getenv("CONTROL_IP"); ip != "" {
		port := os.Getenv("CONTROL_PORT")
		if port == "" {
			port = defaultControlPort
		}
		c.Control.BaseURL = "https://" + net.JoinHostPort(ip, port)
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" && c.Influx != nil {
		c.Influx.Token = v
	}
}

// normalize caps K at engine.MaxCandidates.
func (c *Config) normalize() {
	if c.Engine.Candidates > engine.MaxCandidates {
		c.Engine.Candidates = engine.MaxCandidates
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// validate is shared by every Validate call. Custom tags are registered in
// init.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("componenttype", validateComponentType)
	_ = validate.RegisterValidation("nonblank", validateNonBlank)
}

func validateComponentType(fl validator.FieldLevel) bool {
	_, err := components.DefaultRegistry().Lookup(rfplan.ComponentType(fl.Field().String()))
	return err == nil
}

func validateNonBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate checks every struct tag and reports all violations at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "nonblank":
		return field + " is required"
	case "componenttype":
		return fmt.Sprintf("%s: unknown component type %q", field, fe.Value())
	case "url":
		return field + " must be a URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// EngineConfig returns the engine limits.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		PlannerMaxAttempts:   c.Engine.PlannerMaxAttempts,
		ExecutorMaxAttempts:  c.Engine.ExecutorMaxAttempts,
		ControllerMaxRetries: c.Engine.ControllerMaxRetries,
		Candidates:           c.Engine.Candidates,
		CandidateWorkers:     c.Engine.CandidateWorkers,
		CallTimeout:          c.Engine.CallTimeout,
		CandidateDeadline:    c.Engine.CandidateDeadline,
		BaseTemperature:      c.Engine.Temperature,
		RetrievalTopK:        c.Engine.RetrievalTopK,
	}
}

// EnginePrompts returns the instruction blocks, filling a key-list prompt
// for every registered type the file leaves out.
func (c Config) EnginePrompts(reg *components.Registry) engine.Prompts {
	p := engine.Prompts{
		Planner:  c.Prompts.Planner,
		Executor: c.Prompts.Executor,
		Types:    make(map[rfplan.ComponentType]string),
	}
	for t, text := range c.Prompts.Types {
		p.Types[rfplan.ComponentType(t)] = text
	}
	for _, t := range reg.Types() {
		if _, ok := p.Types[t]; ok {
			continue
		}
		spec, err := reg.Lookup(t)
		if err != nil {
			continue
		}
		p.Types[t] = fmt.Sprintf("Component type %s. Keys: id, %s.\n%s",
			t, strings.Join(withoutID(spec.Schema.Names()), ", "), spec.Reminder)
	}
	return p
}

func withoutID(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "id" {
			out = append(out, n)
		}
	}
	return out
}

// OpenAIConfig returns the generation backend settings.
func (c Config) OpenAIConfig() llm.OpenAIConfig {
	return llm.OpenAIConfig{
		APIKey:       c.LLM.APIKey,
		Model:        c.LLM.Model,
		BaseURL:      c.LLM.BaseURL,
		SystemPrompt: c.LLM.SystemPrompt,
	}
}

// LoggingConfig returns the logger settings. An unparsable level has already
// been rejected by Validate.
func (c Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}

// StaticPassages groups the configured passages by component type.
func (c Config) StaticPassages() map[rfplan.ComponentType][]rfplan.Passage {
	if len(c.Knowledge.Passages) == 0 {
		return nil
	}
	out := make(map[rfplan.ComponentType][]rfplan.Passage)
	for _, p := range c.Knowledge.Passages {
		t := rfplan.ComponentType(p.Component)
		out[t] = append(out[t], rfplan.Passage{SourceID: p.SourceID, Text: p.Text})
	}
	return out
}
