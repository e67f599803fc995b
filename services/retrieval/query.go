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
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("labassistant.retrieval")

// Query defaults.
const (
	DefaultTopK         = 3
	DefaultMinRelevance = 0.7
)

// contextSeparator joins retrieved chunks in the prompt.
const contextSeparator = "\n\n - -\n\n"

// NoMatchMessage is reported when retrieval finds nothing relevant.
const NoMatchMessage = "Unable to find matching results."

var answerTemplate = prompts.PromptTemplate{
	Template: `
Answer the question based only on the following context:
{{.context}}
 - -
Answer the question based on the above context: {{.question}}
`,
	InputVariables: []string{"context", "question"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

// =============================================================================
// Collaborators
// =============================================================================

// QueryEmbedder embeds a single query. Implemented by *OpenAIEmbedder.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the chunks nearest a vector. Implemented by *WeaviateStore.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// Completer answers a prompt. Implemented by *OpenAIChat.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// =============================================================================
// Querier
// =============================================================================

// Answer is the result of a query.
type Answer struct {
	// Text is the model's reply.
	Text string

	// Sources lists the source of each retrieved chunk, most relevant first.
	Sources []string

	// Formatted is "Response: <Text>\nSources: [<Sources>]".
	Formatted string

	// LowRelevance is set when nothing was retrieved or the best match
	// scored below the relevance threshold. The question is still answered.
	LowRelevance bool
}

// Querier answers questions from the indexed protocol chunks.
type Querier struct {
	embedder     QueryEmbedder
	store        Searcher
	llm          Completer
	k            int
	minRelevance float64
}

// QuerierOption configures a Querier.
type QuerierOption func(*Querier)

// WithTopK sets how many chunks are retrieved.
func WithTopK(k int) QuerierOption {
	return func(q *Querier) { q.k = k }
}

// WithMinRelevance sets the certainty below which the top match counts as
// not relevant.
func WithMinRelevance(v float64) QuerierOption {
	return func(q *Querier) { q.minRelevance = v }
}

// NewQuerier returns a Querier with DefaultTopK and DefaultMinRelevance
// unless overridden.
func NewQuerier(embedder QueryEmbedder, store Searcher, llm Completer, opts ...QuerierOption) *Querier {
	q := &Querier{
		embedder:     embedder,
		store:        store,
		llm:          llm,
		k:            DefaultTopK,
		minRelevance: DefaultMinRelevance,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.k <= 0 {
		q.k = DefaultTopK
	}
	return q
}

// Query retrieves context for question and asks the model to answer from it.
//
// # Description
//
// A missing or weak match is reported through Answer.LowRelevance and a
// log line; the model is still asked, with whatever context was found.
func (q *Querier) Query(ctx context.Context, question string) (answer *Answer, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.Query")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	vector, err := q.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := q.store.Search(ctx, vector, q.k)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))

	answer = &Answer{}
	if len(matches) == 0 || matches[0].Certainty < q.minRelevance {
		answer.LowRelevance = true
		slog.Warn(NoMatchMessage, "matches", len(matches))
	}

	contents := make([]string, len(matches))
	answer.Sources = make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Content
		answer.Sources[i] = m.Source
	}

	prompt, err := answerTemplate.Format(map[string]any{
		"context":  strings.Join(contents, contextSeparator),
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	answer.Text, err = q.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	answer.Formatted = formatAnswer(answer.Text, answer.Sources)
	return answer, nil
}

func formatAnswer(text string, sources []string) string {
	quoted := make([]string, len(sources))
	for i, s := range sources {
		quoted[i] = "'" + s + "'"
	}
	return fmt.Sprintf("Response: %s\nSources: [%s]", text, strings.Join(quoted, ", "))
}
