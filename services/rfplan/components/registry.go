// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package components holds the per-type rules for rtue, sniffer, jammer and
// aux_agent: declared schemas, semantic validators, compilers, and the
// metadata candidate scoring needs.
//
// Types are resolved through an explicit Registry populated at startup:
//
//	reg := components.DefaultRegistry()
//	spec, err := reg.Lookup(rfplan.ComponentJammer)
//	res := spec.Validate(cfg)
//	out, err := spec.Compile(cfg)
package components

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/schema"
)

// SemanticFunc checks domain constraints on a schema-clean config.
type SemanticFunc func(cfg rfplan.ComponentConfig) *rfplan.ValidationResult

// CompileFunc serializes a validated config without its id.
type CompileFunc func(cfg rfplan.ComponentConfig, s *schema.Schema) (string, error)

// Envelope is a known-good hardware sub-range that earns a scoring bonus.
type Envelope struct {
	Field string
	Range rfplan.Range
	Bonus float64
}

// Spec bundles everything the engine knows about one component type.
type Spec struct {
	// Type is the component type.
	Type rfplan.ComponentType

	// Schema declares the flat keys.
	Schema *schema.Schema

	// Semantic runs only when Schema is clean.
	Semantic SemanticFunc

	// Compiler emits the native configuration text.
	Compiler CompileFunc

	// Format names the compiled format: yaml, toml or ini.
	Format string

	// Forbidden fields identify the component or its device. Corrections
	// that change them are penalized.
	Forbidden []string

	// Envelopes earn a bonus when a candidate lands inside them.
	Envelopes []Envelope

	// Reminder is the constraint summary embedded in corrective prompts.
	Reminder string
}

// Validate runs the schema check and, when it is clean, the semantic check.
//
// Outputs:
//
//	*rfplan.ValidationResult - Never nil.
func (s *Spec) Validate(cfg rfplan.ComponentConfig) *rfplan.ValidationResult {
	res := s.Schema.Check(cfg)
	if !res.OK || s.Semantic == nil {
		return res
	}
	return s.Semantic(cfg)
}

// ValidateErr is Validate expressed as an error: nil, *rfplan.SchemaError or
// *rfplan.SemanticError.
func (s *Spec) ValidateErr(cfg rfplan.ComponentConfig) (*rfplan.ValidationResult, error) {
	res := s.Schema.Check(cfg)
	if !res.OK {
		return res, &rfplan.SchemaError{Result: res}
	}
	if s.Semantic == nil {
		return res, nil
	}
	res = s.Semantic(cfg)
	if !res.OK {
		return res, &rfplan.SemanticError{Result: res}
	}
	return res, nil
}

// Compile serializes cfg with the id stripped.
//
// Outputs:
//
//	string - The compiled configuration.
//	error - *rfplan.CompilationError on failure.
func (s *Spec) Compile(cfg rfplan.ComponentConfig) (string, error) {
	out, err := s.Compiler(cfg.Without("id"), s.Schema)
	if err != nil {
		return "", &rfplan.CompilationError{Type: s.Type, Cause: err}
	}
	return out, nil
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps component types to their Spec.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[rfplan.ComponentType]*Spec
}

// NewRegistry creates a registry holding the given specs.
func NewRegistry(specs ...*Spec) *Registry {
	r := &Registry{specs: make(map[rfplan.ComponentType]*Spec, len(specs))}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in component type.
func DefaultRegistry() *Registry {
	return NewRegistry(JammerSpec(), SnifferSpec(), RTUESpec(), AuxAgentSpec())
}

// Register adds or replaces a spec.
func (r *Registry) Register(s *Spec) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Type] = s
}

// Lookup returns the spec for t.
//
// Outputs:
//
//	*Spec - The spec.
//	error - wraps rfplan.ErrUnknownComponent when t is not registered.
func (r *Registry) Lookup(t rfplan.ComponentType) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", rfplan.ErrUnknownComponent, t)
	}
	return s, nil
}

// Types returns the registered types sorted.
func (r *Registry) Types() []rfplan.ComponentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rfplan.ComponentType, 0, len(r.specs))
	for t := range r.specs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
