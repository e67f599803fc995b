// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval indexes lab protocol documents in Weaviate and answers
// questions over them with OpenAI.
//
// Ingestion loads PDF and text files, splits them into overlapping chunks,
// embeds the chunks and imports them into the ProtocolChunk class. Queries
// embed the question, take the nearest chunks as context and ask a chat
// model to answer from that context only.
//
//	data/*.pdf, *.txt ──► Load ──► Split ──► Embed ──► Weaviate
//	question ──► Embed ──► nearVector (k=3) ──► prompt ──► chat ──► Answer
package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// Metadata keys set on loaded documents and chunks.
const (
	MetadataSource     = "source"
	MetadataPage       = "page"
	MetadataStartIndex = "start_index"
)

// LoadDirectory loads every .pdf and .txt file under dir.
//
// # Description
//
// PDFs yield one document per page with "source" and "page" metadata.
// Text files (scraper output) yield one document with "source" metadata.
// Files are visited in lexical order. Other extensions are ignored.
//
// # Outputs
//
//   - []schema.Document: Loaded documents. Empty when dir has no matches.
//   - error: Non-nil if dir cannot be walked or a file fails to load.
func LoadDirectory(ctx context.Context, dir string) ([]schema.Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var docs []schema.Document
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	slog.Info("Loaded documents", "dir", dir, "files", len(paths), "documents", len(docs))
	return docs, nil
}

// LoadFile loads a single .pdf or .txt file.
func LoadFile(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var docs []schema.Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		docs, err = documentloaders.NewPDF(f, info.Size()).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load pdf %s: %w", path, err)
		}
	case ".txt":
		docs, err = documentloaders.NewText(f).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load text %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}

	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata[MetadataSource] = path
	}
	return docs, nil
}
