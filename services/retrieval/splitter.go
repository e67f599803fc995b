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
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 300
	DefaultChunkOverlap = 100
)

// Splitter splits documents into overlapping chunks and records where each
// chunk starts in its document.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewSplitter returns a Splitter with the default chunk size and overlap.
func NewSplitter() Splitter {
	return Splitter{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// Split returns one document per chunk. Each chunk copies its document's
// metadata and adds "start_index", the chunk's character offset in the
// document, or -1 when it cannot be located.
func (s Splitter) Split(docs []schema.Document) ([]schema.Document, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.ChunkSize),
		textsplitter.WithChunkOverlap(s.ChunkOverlap),
	)

	var chunks []schema.Document
	for _, doc := range docs {
		texts, err := splitter.SplitText(doc.PageContent)
		if err != nil {
			return nil, fmt.Errorf("split %v: %w", doc.Metadata[MetadataSource], err)
		}

		starts := startIndexes(doc.PageContent, texts, s.ChunkOverlap)
		for i, text := range texts {
			metadata := make(map[string]any, len(doc.Metadata)+1)
			maps.Copy(metadata, doc.Metadata)
			metadata[MetadataStartIndex] = starts[i]
			chunks = append(chunks, schema.Document{PageContent: text, Metadata: metadata})
		}
	}
	slog.Info("Split documents into chunks", "documents", len(docs), "chunks", len(chunks))
	return chunks, nil
}

// startIndexes locates each chunk in text. The search for a chunk starts
// where the previous chunk's overlap would begin, so repeated passages map
// to successive occurrences. Offsets are in characters, not bytes.
func startIndexes(text string, chunks []string, overlap int) []int {
	starts := make([]int, len(chunks))
	byteToRune := func(b int) int { return len([]rune(text[:b])) }

	searchFrom := 0
	prevStart, prevLen := -1, 0
	for i, chunk := range chunks {
		if prevStart >= 0 {
			searchFrom = prevStart + prevLen - overlap
			if searchFrom < 0 {
				searchFrom = 0
			}
		}
		if searchFrom > len(text) {
			searchFrom = len(text)
		}
		for searchFrom < len(text) && !utf8.RuneStart(text[searchFrom]) {
			searchFrom--
		}

		idx := strings.Index(text[searchFrom:], chunk)
		if idx < 0 {
			starts[i] = -1
			continue
		}
		b := searchFrom + idx
		starts[i] = byteToRune(b)
		prevStart, prevLen = b, len(chunk)
	}
	return starts
}
