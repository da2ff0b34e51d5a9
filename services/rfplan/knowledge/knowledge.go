// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge retrieves engineering rules and known-good examples
// that are spliced into executor prompts.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

// DefaultClass is the Weaviate class holding knowledge passages.
const DefaultClass = "RFKnowledge"

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// =============================================================================
// WEAVIATE
// =============================================================================

// WeaviateConfig locates the knowledge store.
type WeaviateConfig struct {
	URL    string `yaml:"url" validate:"required,url"`
	APIKey string `yaml:"api_key"`
	Class  string `yaml:"class"`
}

// WeaviateRetriever runs nearText queries filtered by component type.
//
// Passages are objects of Class with the properties sourceId, text and
// component. A passage with an empty component applies to every type.
//
// Thread Safety: Safe for concurrent use.
type WeaviateRetriever struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// NewWeaviateRetriever creates a retriever. No request is made until the
// first Retrieve.
func NewWeaviateRetriever(cfg WeaviateConfig, logger *slog.Logger) (*WeaviateRetriever, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}
	wc := weaviate.Config{Host: u.Host, Scheme: u.Scheme}
	if wc.Scheme == "" {
		wc.Scheme = "http"
	}
	if cfg.APIKey != "" {
		wc.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	class := cfg.Class
	if class == "" {
		class = DefaultClass
	}
	return &WeaviateRetriever{client: client, class: class, logger: logger}, nil
}

// Retrieve returns up to topK passages for component, best first.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, component rfplan.ComponentType, query string, topK int) ([]rfplan.Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 3
	}
	ctx, span := telemetry.StartSpan(ctx, "knowledge.Retrieve")
	defer span.End()

	where := filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"component"}).
				WithOperator(filters.Equal).
				WithValueText(string(component)),
			filters.Where().
				WithPath([]string{"component"}).
				WithOperator(filters.Equal).
				WithValueText(""),
		})

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	result, err := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(
			graphql.Field{Name: "sourceId"},
			graphql.Field{Name: "text"},
			graphql.Field{Name: "component"},
			graphql.Field{Name: "_additional { certainty distance }"},
		).
		WithWhere(where).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("knowledge search: %s", result.Errors[0].Message)
	}

	passages := parsePassages(result, r.class)
	r.logger.Debug("knowledge retrieved", "component", component, "count", len(passages))
	return passages, nil
}

// parsePassages reads Get.<class> objects out of a GraphQL response.
// Malformed objects are skipped.
func parsePassages(result *models.GraphQLResponse, class string) []rfplan.Passage {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return nil
	}

	out := make([]rfplan.Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		p := rfplan.Passage{Text: text}
		p.SourceID, _ = m["sourceId"].(string)
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				p.Score = certainty
			}
		}
		out = append(out, p)
	}
	return out
}

// =============================================================================
// STATIC
// =============================================================================

// StaticRetriever serves passages from memory, ranked by how many query
// terms they contain. It backs offline runs and tests.
//
// Thread Safety: Safe for concurrent use after construction.
type StaticRetriever struct {
	byType map[rfplan.ComponentType][]rfplan.Passage
	shared []rfplan.Passage
}

// NewStaticRetriever builds a retriever. Passages under the empty type apply
// to every component.
func NewStaticRetriever(passages map[rfplan.ComponentType][]rfplan.Passage) *StaticRetriever {
	s := &StaticRetriever{byType: make(map[rfplan.ComponentType][]rfplan.Passage)}
	for t, ps := range passages {
		if t == "" {
			s.shared = append(s.shared, ps...)
			continue
		}
		s.byType[t] = append(s.byType[t], ps...)
	}
	return s
}

// Retrieve implements the retriever contract.
func (s *StaticRetriever) Retrieve(_ context.Context, component rfplan.ComponentType, query string, topK int) ([]rfplan.Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	candidates := make([]rfplan.Passage, 0, len(s.byType[component])+len(s.shared))
	candidates = append(candidates, s.byType[component]...)
	candidates = append(candidates, s.shared...)

	terms := strings.Fields(strings.ToLower(query))
	for i := range candidates {
		text := strings.ToLower(candidates[i].Text)
		hits := 0
		for _, term := range terms {
			if len(term) > 2 && strings.Contains(text, term) {
				hits++
			}
		}
		candidates[i].Score = float64(hits)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
