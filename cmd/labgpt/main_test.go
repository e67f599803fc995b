// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/LabAssistant/pkg/ux"
	"github.com/AleutianAI/LabAssistant/services/retrieval"
	"github.com/AleutianAI/LabAssistant/services/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	dir    string
	report retrieval.IngestReport
	err    error
}

func (f *fakeIngestor) Run(_ context.Context, dataDir string) (retrieval.IngestReport, error) {
	f.dir = dataDir
	return f.report, f.err
}

type fakeQuerier struct {
	question string
	answer   *retrieval.Answer
	err      error
}

func (f *fakeQuerier) Query(_ context.Context, question string) (*retrieval.Answer, error) {
	f.question = question
	return f.answer, f.err
}

type fakeScraper struct {
	report scraper.Report
	err    error
}

func (f *fakeScraper) Run(context.Context) (scraper.Report, error) {
	return f.report, f.err
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func testApp() (*app, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &app{printer: ux.NewPrinter(&out, &errOut)}, &out, &errOut
}

func TestIngest_DefaultsAndReport(t *testing.T) {
	a, out, _ := testApp()
	fake := &fakeIngestor{report: retrieval.IngestReport{Documents: 2, Chunks: 7, Stored: 7}}
	var got ingestOptions
	a.newIngestor = func(opts ingestOptions) (ingestRunner, error) {
		got = opts
		return fake, nil
	}

	code := run(context.Background(), a, []string{"ingest"})

	require.Equal(t, 0, code)
	assert.Equal(t, "data/", got.DataDir)
	assert.True(t, got.Reset)
	assert.Equal(t, retrieval.DefaultClassName, got.ClassName)
	assert.Equal(t, retrieval.DefaultEmbedBatchSize, got.BatchSize)
	assert.Equal(t, "data/", fake.dir)
	assert.Contains(t, out.String(), "chunks=7")
	assert.Contains(t, out.String(), "OK: Saved 7 chunks to ProtocolChunk")
}

func TestIngest_Flags(t *testing.T) {
	a, _, _ := testApp()
	var got ingestOptions
	a.newIngestor = func(opts ingestOptions) (ingestRunner, error) {
		got = opts
		return &fakeIngestor{}, nil
	}

	code := run(context.Background(), a, []string{"ingest",
		"--data", "pdfs", "--reset=false", "--class", "Other", "--weaviate-url", "http://weaviate:8080"})

	require.Equal(t, 0, code)
	assert.Equal(t, ingestOptions{
		DataDir:     "pdfs",
		WeaviateURL: "http://weaviate:8080",
		ClassName:   "Other",
		Reset:       false,
		BatchSize:   retrieval.DefaultEmbedBatchSize,
	}, got)
}

func TestIngest_EmptyDirectoryWarns(t *testing.T) {
	a, _, errOut := testApp()
	a.newIngestor = func(ingestOptions) (ingestRunner, error) { return &fakeIngestor{}, nil }

	require.Equal(t, 0, run(context.Background(), a, []string{"ingest"}))
	assert.Contains(t, errOut.String(), "WARN: No documents found in data/")
}

func TestIngest_Failure(t *testing.T) {
	a, _, errOut := testApp()
	a.newIngestor = func(ingestOptions) (ingestRunner, error) {
		return &fakeIngestor{err: errors.New("weaviate down")}, nil
	}

	assert.Equal(t, 1, run(context.Background(), a, []string{"ingest"}))
	assert.Contains(t, errOut.String(), "ERROR: ingest failed: weaviate down")
}

func TestBuildIngestor_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := buildIngestor(ingestOptions{WeaviateURL: defaultWeaviateURL, ClassName: retrieval.DefaultClassName})
	assert.ErrorContains(t, err, "OPENAI_API_KEY is not set")
}

func TestBuildQuerier_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := buildQuerier(queryOptions{WeaviateURL: defaultWeaviateURL, ClassName: retrieval.DefaultClassName})
	assert.ErrorContains(t, err, "OPENAI_API_KEY is not set")
}

func TestBuilders_SucceedWithKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	ingestor, err := buildIngestor(ingestOptions{WeaviateURL: defaultWeaviateURL, ClassName: "protocolChunk", Reset: true})
	require.NoError(t, err)
	assert.True(t, ingestor.(*retrieval.Ingestor).Reset)

	querier, err := buildQuerier(queryOptions{WeaviateURL: defaultWeaviateURL, ClassName: retrieval.DefaultClassName, TopK: 3})
	require.NoError(t, err)
	assert.NotNil(t, querier)
}

func TestQuery_PrintsFormattedAnswer(t *testing.T) {
	a, out, errOut := testApp()
	fake := &fakeQuerier{answer: &retrieval.Answer{
		Text:      "Use 50 uL.",
		Sources:   []string{"data/pcr.txt"},
		Formatted: "Response: Use 50 uL.\nSources: ['data/pcr.txt']",
	}}
	var got queryOptions
	a.newQuerier = func(opts queryOptions) (queryRunner, error) {
		got = opts
		return fake, nil
	}

	code := run(context.Background(), a, []string{"query", "--query", "How much buffer?"})

	require.Equal(t, 0, code)
	assert.Equal(t, "How much buffer?", fake.question)
	assert.Equal(t, retrieval.DefaultTopK, got.TopK)
	assert.Equal(t, retrieval.DefaultMinRelevance, got.MinRelevance)
	assert.Equal(t, "Response: Use 50 uL.\nSources: ['data/pcr.txt']\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestQuery_PositionalQuestionAndLowRelevance(t *testing.T) {
	a, _, errOut := testApp()
	fake := &fakeQuerier{answer: &retrieval.Answer{Formatted: "Response: ?\nSources: []", LowRelevance: true}}
	var got queryOptions
	a.newQuerier = func(opts queryOptions) (queryRunner, error) {
		got = opts
		return fake, nil
	}

	code := run(context.Background(), a, []string{"query", "--k", "5", "what temperature?"})

	require.Equal(t, 0, code)
	assert.Equal(t, 5, got.TopK)
	assert.Equal(t, "what temperature?", fake.question)
	assert.Contains(t, errOut.String(), "WARN: "+retrieval.NoMatchMessage)
}

func TestQuery_RequiresQuestion(t *testing.T) {
	a, _, errOut := testApp()
	a.newQuerier = func(queryOptions) (queryRunner, error) {
		t.Fatal("querier should not be built")
		return nil, nil
	}

	assert.Equal(t, 1, run(context.Background(), a, []string{"query"}))
	assert.Contains(t, errOut.String(), "a question is required")
}

func TestScrape_DefaultsAndReport(t *testing.T) {
	a, out, errOut := testApp()
	closer := &closeRecorder{}
	var got scrapeOptions
	a.newScraper = func(opts scrapeOptions) (scrapeRunner, io.Closer, error) {
		got = opts
		return &fakeScraper{report: scraper.Report{Protocols: 3, Saved: 2, Failed: 1}}, closer, nil
	}

	code := run(context.Background(), a, []string{"scrape"})

	require.Equal(t, 0, code)
	assert.Equal(t, scrapeOptions{
		BaseURL:     scraper.DefaultBaseURL,
		StoragePath: scraper.DefaultStoragePath,
		StatePath:   ".scrape-state",
		Rate:        scraper.DefaultRate,
		Concurrency: scraper.DefaultConcurrency,
	}, got)
	assert.True(t, closer.closed)
	assert.Contains(t, out.String(), "saved=2")
	assert.Contains(t, out.String(), "OK: Saved 2 protocols to data/")
	assert.Contains(t, errOut.String(), "WARN: 1 protocols could not be fetched")
}

func TestScrape_Failure(t *testing.T) {
	a, _, errOut := testApp()
	a.newScraper = func(scrapeOptions) (scrapeRunner, io.Closer, error) {
		return &fakeScraper{err: errors.New("fetch root page: status 503")}, nil, nil
	}

	assert.Equal(t, 1, run(context.Background(), a, []string{"scrape", "--url", "http://example.test", "--force"}))
	assert.Contains(t, errOut.String(), "scrape failed: fetch root page: status 503")
}

func TestBuildScraper_OpensState(t *testing.T) {
	dir := t.TempDir()
	s, closer, err := buildScraper(scrapeOptions{
		BaseURL:     "http://example.test",
		StoragePath: filepath.Join(dir, "data"),
		StatePath:   filepath.Join(dir, "state"),
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())

	_, closer, err = buildScraper(scrapeOptions{BaseURL: "http://example.test"})
	require.NoError(t, err)
	assert.Nil(t, closer)

	_, _, err = buildScraper(scrapeOptions{BaseURL: "::bad", StatePath: filepath.Join(dir, "state2")})
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	a, _, _ := testApp()
	assert.Equal(t, 1, run(context.Background(), a, []string{"nope"}))
}

func TestBuilders_RejectInvalidClassName(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := buildIngestor(ingestOptions{WeaviateURL: defaultWeaviateURL, ClassName: "Chunk{ id }"})
	assert.ErrorContains(t, err, "invalid class name")

	_, err = buildQuerier(queryOptions{WeaviateURL: defaultWeaviateURL, ClassName: ""})
	assert.ErrorContains(t, err, "class name cannot be empty")
}
