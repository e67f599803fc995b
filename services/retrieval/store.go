// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding protocol chunks.
const DefaultClassName = "ProtocolChunk"

// Chunk is one embedded piece of a document.
type Chunk struct {
	Content    string
	Source     string
	Page       int
	StartIndex int
	Vector     []float32
}

// ID returns a UUID derived from the chunk's source, position and content,
// so re-ingesting the same file overwrites rather than duplicates.
func (c Chunk) ID() strfmt.UUID {
	key := c.Source + "\x00" + strconv.Itoa(c.Page) + "\x00" + strconv.Itoa(c.StartIndex) + "\x00" + c.Content
	hash := sha256.Sum256([]byte(key))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// Match is a search hit. Certainty is Weaviate's normalized similarity in
// [0, 1].
type Match struct {
	Content   string
	Source    string
	Page      int
	Certainty float64
}

// ChunkSchema returns the class definition for chunks. Vectors are supplied
// by the client.
func ChunkSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A chunk of a lab protocol document.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The file the chunk came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "page",
				DataType:    []string{"int"},
				Description: "Zero-based page for PDFs, 0 otherwise.",
			},
			{
				Name:        "start_index",
				DataType:    []string{"int"},
				Description: "Character offset of the chunk in its page.",
			},
			{
				Name:        "ingested_at",
				DataType:    []string{"int"},
				Description: "Unix milliseconds of ingestion.",
			},
		},
	}
}

// =============================================================================
// WeaviateStore
// =============================================================================

// WeaviateStore stores and searches chunks in one Weaviate class.
type WeaviateStore struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateClient parses rawURL ("http://localhost:8080") into a client.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}

// NewWeaviateStore returns a store for className, DefaultClassName when
// empty.
func NewWeaviateStore(client *weaviate.Client, className string) *WeaviateStore {
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateStore{client: client, className: className}
}

// Reset drops the class if it exists and recreates it empty.
func (s *WeaviateStore) Reset(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.className, err)
	}
	if exists {
		slog.Info("Deleting existing class", "class", s.className)
		if err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx); err != nil {
			return fmt.Errorf("delete class %s: %w", s.className, err)
		}
	}
	return s.create(ctx)
}

// Ensure creates the class when it does not exist.
func (s *WeaviateStore) Ensure(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.className, err)
	}
	if exists {
		slog.Info("Schema already exists", "class", s.className)
		return nil
	}
	return s.create(ctx)
}

func (s *WeaviateStore) create(ctx context.Context) error {
	if err := s.client.Schema().ClassCreator().WithClass(ChunkSchema(s.className)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.className, err)
	}
	slog.Info("Successfully created schema", "class", s.className)
	return nil
}

// Add imports chunks in one batch and returns how many were stored.
// Per-object failures are logged and not counted; they do not fail the call.
func (s *WeaviateStore) Add(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	objects := chunkObjects(s.className, chunks, time.Now())

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "id", item.ID, "error", e.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "id", item.ID)
		}
	}
	return stored, nil
}

func chunkObjects(className string, chunks []Chunk, now time.Time) []*models.Object {
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  className,
			ID:     c.ID(),
			Vector: c.Vector,
			Properties: map[string]any{
				"content":     c.Content,
				"source":      c.Source,
				"page":        c.Page,
				"start_index": c.StartIndex,
				"ingested_at": now.UnixMilli(),
			},
		}
	}
	return objects
}

// Search returns up to k chunks nearest to vector, most similar first.
func (s *WeaviateStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "page"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	return parseSearchResponse(s.className, result)
}

type searchHit struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Page       float64 `json:"page"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

// parseSearchResponse decodes Get.<className> from a GraphQL response.
func parseSearchResponse(className string, resp *models.GraphQLResponse) ([]Match, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate search failed: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var data struct {
		Get map[string][]searchHit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search results: %w", err)
	}

	hits := data.Get[className]
	matches := make([]Match, len(hits))
	for i, h := range hits {
		matches[i] = Match{
			Content:   h.Content,
			Source:    h.Source,
			Page:      int(h.Page),
			Certainty: h.Additional.Certainty,
		}
	}
	return matches, nil
}
