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

	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DocumentEmbedder embeds many texts. Implemented by *OpenAIEmbedder.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore persists embedded chunks. Implemented by *WeaviateStore.
type ChunkStore interface {
	Reset(ctx context.Context) error
	Ensure(ctx context.Context) error
	Add(ctx context.Context, chunks []Chunk) (int, error)
}

// IngestReport summarizes an ingestion run.
type IngestReport struct {
	Documents int
	Chunks    int
	Stored    int
}

// Ingestor loads, splits, embeds and stores a directory of documents.
type Ingestor struct {
	Splitter Splitter
	Embedder DocumentEmbedder
	Store    ChunkStore

	// Reset drops existing chunks before importing.
	Reset bool
}

// Run ingests every supported file under dataDir.
func (i *Ingestor) Run(ctx context.Context, dataDir string) (report IngestReport, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.Ingest")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("ingest.documents", report.Documents),
			attribute.Int("ingest.chunks", report.Chunks),
			attribute.Int("ingest.stored", report.Stored))
		span.End()
	}()

	docs, err := LoadDirectory(ctx, dataDir)
	if err != nil {
		return report, err
	}
	report.Documents = len(docs)

	splitter := i.Splitter
	if splitter.ChunkSize <= 0 {
		splitter = NewSplitter()
	}
	split, err := splitter.Split(docs)
	if err != nil {
		return report, err
	}
	report.Chunks = len(split)

	if i.Reset {
		err = i.Store.Reset(ctx)
	} else {
		err = i.Store.Ensure(ctx)
	}
	if err != nil {
		return report, err
	}
	if len(split) == 0 {
		slog.Warn("No chunks to store", "dir", dataDir)
		return report, nil
	}

	texts := make([]string, len(split))
	for n, d := range split {
		texts[n] = d.PageContent
	}
	vectors, err := i.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return report, err
	}
	if len(vectors) != len(split) {
		return report, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(split))
	}

	chunks := make([]Chunk, len(split))
	for n, d := range split {
		chunks[n] = toChunk(d, vectors[n])
	}
	report.Stored, err = i.Store.Add(ctx, chunks)
	if err != nil {
		return report, err
	}

	slog.Info("Saved chunks", "documents", report.Documents, "chunks", report.Chunks, "stored", report.Stored)
	return report, nil
}

func toChunk(d schema.Document, vector []float32) Chunk {
	c := Chunk{Content: d.PageContent, Vector: vector}
	if s, ok := d.Metadata[MetadataSource].(string); ok {
		c.Source = s
	}
	c.Page = intMetadata(d.Metadata[MetadataPage])
	c.StartIndex = intMetadata(d.Metadata[MetadataStartIndex])
	return c
}

func intMetadata(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
