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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type fakeSearcher struct {
	matches []Match
	gotK    int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, k int) ([]Match, error) {
	f.gotK = k
	return f.matches, nil
}

type fakeCompleter struct {
	prompt string
	reply  string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, nil
}

type fakeStore struct {
	reset, ensured bool
	added          []Chunk
}

func (f *fakeStore) Reset(context.Context) error  { f.reset = true; return nil }
func (f *fakeStore) Ensure(context.Context) error { f.ensured = true; return nil }
func (f *fakeStore) Add(_ context.Context, chunks []Chunk) (int, error) {
	f.added = append(f.added, chunks...)
	return len(chunks), nil
}

// =============================================================================
// Splitter Tests
// =============================================================================

func TestSplitter_RecordsStartIndex(t *testing.T) {
	text := strings.Repeat("Add 10 uL of buffer to each well. ", 30)
	docs := []schema.Document{{PageContent: text, Metadata: map[string]any{MetadataSource: "p.txt"}}}

	chunks, err := NewSplitter().Split(docs)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	prev := -1
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.PageContent)), DefaultChunkSize)
		assert.Equal(t, "p.txt", c.Metadata[MetadataSource])

		start, ok := c.Metadata[MetadataStartIndex].(int)
		require.True(t, ok)
		require.GreaterOrEqual(t, start, 0)
		assert.Greater(t, start, prev, "chunks advance through the document")
		assert.Equal(t, c.PageContent, string([]rune(text)[start:start+len([]rune(c.PageContent))]))
		prev = start
	}
}

func TestSplitter_DoesNotShareMetadata(t *testing.T) {
	meta := map[string]any{MetadataSource: "a.pdf"}
	docs := []schema.Document{{PageContent: strings.Repeat("word ", 200), Metadata: meta}}

	chunks, err := NewSplitter().Split(docs)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	chunks[0].Metadata[MetadataSource] = "changed"
	assert.Equal(t, "a.pdf", meta[MetadataSource])
}

func TestStartIndexes_Unicode(t *testing.T) {
	text := "µL µL µL"
	starts := startIndexes(text, []string{"µL µL", "µL µL"}, 2)
	assert.Equal(t, []int{0, 3}, starts)
}

func TestStartIndexes_Missing(t *testing.T) {
	assert.Equal(t, []int{-1}, startIndexes("abc", []string{"zzz"}, 0))
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestLoadDirectory_TextFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("second"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0600))

	docs, err := LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "first", docs[0].PageContent)
	assert.Equal(t, filepath.Join(dir, "a.txt"), docs[0].Metadata[MetadataSource])
	assert.Equal(t, "second", docs[1].PageContent)
}

func TestLoadDirectory_MissingDir(t *testing.T) {
	_, err := LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.docx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	_, err := LoadFile(context.Background(), path)
	assert.ErrorContains(t, err, "unsupported")
}

// =============================================================================
// Querier Tests
// =============================================================================

func TestQuerier_Query(t *testing.T) {
	store := &fakeSearcher{matches: []Match{
		{Content: "Spin at 300g.", Source: "data/a.pdf", Certainty: 0.91},
		{Content: "Wash twice.", Source: "data/b.txt", Certainty: 0.85},
	}}
	llm := &fakeCompleter{reply: "Spin, then wash."}
	q := NewQuerier(&fakeEmbedder{}, store, llm)

	answer, err := q.Query(context.Background(), "How do I pellet cells?")
	require.NoError(t, err)

	assert.Equal(t, DefaultTopK, store.gotK)
	assert.False(t, answer.LowRelevance)
	assert.Equal(t, "Spin, then wash.", answer.Text)
	assert.Equal(t, []string{"data/a.pdf", "data/b.txt"}, answer.Sources)
	assert.Equal(t, "Response: Spin, then wash.\nSources: ['data/a.pdf', 'data/b.txt']", answer.Formatted)

	assert.Contains(t, llm.prompt, "Answer the question based only on the following context:\nSpin at 300g.\n\n - -\n\nWash twice.\n - -\n")
	assert.Contains(t, llm.prompt, "Answer the question based on the above context: How do I pellet cells?")
}

func TestQuerier_LowRelevanceStillAnswers(t *testing.T) {
	tests := []struct {
		name    string
		matches []Match
	}{
		{"no matches", nil},
		{"weak top match", []Match{{Content: "x", Source: "s", Certainty: 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeCompleter{reply: "I don't know."}
			q := NewQuerier(&fakeEmbedder{}, &fakeSearcher{matches: tt.matches}, llm, WithTopK(5), WithMinRelevance(0.7))

			answer, err := q.Query(context.Background(), "q")
			require.NoError(t, err)
			assert.True(t, answer.LowRelevance)
			assert.Equal(t, "I don't know.", answer.Text)
			assert.NotEmpty(t, llm.prompt)
		})
	}
}

func TestQuerier_EmbedError(t *testing.T) {
	q := NewQuerier(&fakeEmbedder{err: errors.New("quota")}, &fakeSearcher{}, &fakeCompleter{})
	_, err := q.Query(context.Background(), "q")
	assert.ErrorContains(t, err, "quota")
}

// =============================================================================
// Ingestor Tests
// =============================================================================

func TestIngestor_Run(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "protocol.txt"),
		[]byte(strings.Repeat("Incubate the plate at 37 C for one hour. ", 20)), 0600))

	store := &fakeStore{}
	ing := &Ingestor{Embedder: &fakeEmbedder{}, Store: store, Reset: true}

	report, err := ing.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Documents)
	assert.Greater(t, report.Chunks, 1)
	assert.Equal(t, report.Chunks, report.Stored)
	assert.True(t, store.reset)
	assert.False(t, store.ensured)
	for _, c := range store.added {
		assert.Equal(t, filepath.Join(dir, "protocol.txt"), c.Source)
		assert.Equal(t, []float32{float32(len(c.Content))}, c.Vector)
	}
}

func TestIngestor_EmptyDirEnsuresOnly(t *testing.T) {
	store := &fakeStore{}
	emb := &fakeEmbedder{}
	ing := &Ingestor{Embedder: emb, Store: store}

	report, err := ing.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, IngestReport{}, report)
	assert.True(t, store.ensured)
	assert.Zero(t, emb.calls)
}

// =============================================================================
// Weaviate Store Tests
// =============================================================================

func TestChunk_IDIsDeterministic(t *testing.T) {
	a := Chunk{Content: "x", Source: "a.pdf", Page: 1, StartIndex: 0}
	b := a
	b.Vector = []float32{1}
	c := a
	c.StartIndex = 10

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestChunkObjects(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	objs := chunkObjects("ProtocolChunk", []Chunk{{Content: "c", Source: "s", Page: 2, StartIndex: 7, Vector: []float32{0.5}}}, now)

	require.Len(t, objs, 1)
	assert.Equal(t, "ProtocolChunk", objs[0].Class)
	assert.Equal(t, []float32{0.5}, []float32(objs[0].Vector))
	props := objs[0].Properties.(map[string]any)
	assert.Equal(t, "c", props["content"])
	assert.Equal(t, 7, props["start_index"])
	assert.Equal(t, int64(1700000000000), props["ingested_at"])
}

func TestChunkSchema(t *testing.T) {
	class := ChunkSchema(DefaultClassName)
	assert.Equal(t, "ProtocolChunk", class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"content", "source", "page", "start_index", "ingested_at"}, names)
}

func TestParseSearchResponse(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]any{
			"ProtocolChunk": []any{
				map[string]any{"content": "a", "source": "s1", "page": 3.0, "_additional": map[string]any{"certainty": 0.9}},
				map[string]any{"content": "b", "source": "s2", "_additional": map[string]any{"certainty": 0.6}},
			},
		},
	}}

	matches, err := parseSearchResponse("ProtocolChunk", resp)
	require.NoError(t, err)
	assert.Equal(t, []Match{
		{Content: "a", Source: "s1", Page: 3, Certainty: 0.9},
		{Content: "b", Source: "s2", Certainty: 0.6},
	}, matches)
}

func TestParseSearchResponse_Errors(t *testing.T) {
	_, err := parseSearchResponse("ProtocolChunk", nil)
	assert.Error(t, err)

	_, err = parseSearchResponse("ProtocolChunk", &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	})
	assert.ErrorContains(t, err, "class not found")
}

func TestWeaviateStore_Search(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body.Query
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"Get":{"ProtocolChunk":[{"content":"c","source":"s","page":0,"_additional":{"certainty":0.8}}]}}}`)
	}))
	defer server.Close()

	client, err := NewWeaviateClient(server.URL)
	require.NoError(t, err)
	store := NewWeaviateStore(client, "")

	matches, err := store.Search(context.Background(), []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.8, matches[0].Certainty)
	assert.Contains(t, gotQuery, "ProtocolChunk")
	assert.Contains(t, gotQuery, "nearVector")
}

func TestNewWeaviateClient_InvalidURL(t *testing.T) {
	_, err := NewWeaviateClient("localhost")
	assert.Error(t, err)
}
