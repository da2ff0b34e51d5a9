// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package components

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/schema"
)

// SectionPrefix maps a flat key prefix to an INI section.
type SectionPrefix struct {
	Section string
	Prefix  string
}

// INISections is the fixed prefix table shared by rtue and aux_agent.
// Keys whose prefix is not listed are dropped, never mis-sectioned.
var INISections = []SectionPrefix{
	{"rf", "rf_"},
	{"rat.eutra", "rat_eutra_"},
	{"rat.nr", "rat_nr_"},
	{"pcap", "pcap_"},
	{"log", "log_"},
	{"usim", "usim_"},
	{"rrc", "rrc_"},
	{"nas", "nas_"},
	{"gui", "gui_"},
	{"gw", "gw_"},
	{"general", "general_"},
}

// SectionFor returns the INI section and bare key for a flat key.
func SectionFor(key string) (section, bare string, ok bool) {
	for _, sp := range INISections {
		if strings.HasPrefix(key, sp.Prefix) && len(key) > len(sp.Prefix) {
			return sp.Section, key[len(sp.Prefix):], true
		}
	}
	return "", "", false
}

// snifferPDCCHPrefix marks keys that belong in the [[pdcch]] table.
const snifferPDCCHPrefix = "pdcch_"

// orderedKeys lists cfg keys in schema declaration order, then any
// undeclared keys sorted.
func orderedKeys(cfg rfplan.ComponentConfig, s *schema.Schema) []string {
	seen := make(map[string]bool, len(cfg))
	var out []string
	if s != nil {
		for _, name := range s.Names() {
			if _, ok := cfg[name]; ok {
				out = append(out, name)
				seen[name] = true
			}
		}
	}
	var rest []string
	for k := range cfg {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// =============================================================================
// FLAT YAML (jammer)
// =============================================================================

// CompileFlatYAML emits one flat key: value block in schema order.
func CompileFlatYAML(cfg rfplan.ComponentConfig, s *schema.Schema) (string, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range orderedKeys(cfg, s) {
		if _, nested := cfg[k].(map[string]any); nested {
			return "", fmt.Errorf("key %q: nested objects are not allowed in a flat block", k)
		}
		var val yaml.Node
		if err := val.Encode(cfg[k]); err != nil {
			return "", fmt.Errorf("encode %q: %w", k, err)
		}
		if val.Kind == yaml.SequenceNode {
			val.Style = yaml.FlowStyle
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&val,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close yaml encoder: %w", err)
	}
	return buf.String(), nil
}

// =============================================================================
// TOML (sniffer)
// =============================================================================

// CompileSnifferTOML emits a [sniffer] table plus one [[pdcch]] array
// table holding the pdcch_ keys with the prefix removed.
func CompileSnifferTOML(cfg rfplan.ComponentConfig, _ *schema.Schema) (string, error) {
	sniffer := make(map[string]any)
	pdcch := make(map[string]any)
	for k, v := range cfg {
		if _, nested := v.(map[string]any); nested {
			return "", fmt.Errorf("key %q: nested objects are not allowed", k)
		}
		if bare, ok := strings.CutPrefix(k, snifferPDCCHPrefix); ok && bare != "" {
			pdcch[bare] = v
			continue
		}
		sniffer[k] = v
	}

	doc := map[string]any{"sniffer": sniffer}
	if len(pdcch) > 0 {
		doc["pdcch"] = []map[string]any{pdcch}
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode toml: %w", err)
	}
	return string(out), nil
}

// =============================================================================
// INI (rtue, aux_agent)
// =============================================================================

// CompileINI splits keys into sections by the INISections prefix table.
func CompileINI(cfg rfplan.ComponentConfig, s *schema.Schema) (string, error) {
	f := ini.Empty()
	keys := orderedKeys(cfg, s)

	for _, sp := range INISections {
		var sec *ini.Section
		for _, k := range keys {
			section, bare, ok := SectionFor(k)
			if !ok || section != sp.Section {
				continue
			}
			val, err := iniValue(cfg[k])
			if err != nil {
				return "", fmt.Errorf("key %q: %w", k, err)
			}
			if sec == nil {
				if sec, err = f.NewSection(sp.Section); err != nil {
					return "", fmt.Errorf("create section %s: %w", sp.Section, err)
				}
			}
			if _, err := sec.NewKey(bare, val); err != nil {
				return "", fmt.Errorf("add key %s.%s: %w", sp.Section, bare, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("write ini: %w", err)
	}
	return buf.String(), nil
}

func iniValue(v any) (string, error) {
	switch x := v.(type) {
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := scalarText(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	default:
		return scalarText(v)
	}
}

func scalarText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("non-finite number %v", x)
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		}
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case nil:
		return "", fmt.Errorf("null value")
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
