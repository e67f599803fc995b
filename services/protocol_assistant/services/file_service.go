// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services implements the protocol assistant's business logic:
// file validation, upload forwarding and the multi-turn chat saga.
package services

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
)

// MaxFileSize is the largest file accepted by validated uploads.
const MaxFileSize = 10 * 1024 * 1024

// allowedContentTypes is the validated upload allow-list.
var allowedContentTypes = map[string]struct{}{
	"application/pdf":    {},
	"text/plain":         {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// AllowedContentTypes returns the upload allow-list, sorted.
func AllowedContentTypes() []string {
	types := make([]string, 0, len(allowedContentTypes))
	for t := range allowedContentTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// FileService validates inbound files.
type FileService struct {
	// MaxSize overrides MaxFileSize when positive.
	MaxSize int
}

func (s FileService) maxSize() int {
	if s.MaxSize > 0 {
		return s.MaxSize
	}
	return MaxFileSize
}

// Validate checks one file's name, declared content type and size.
//
// The declared type is compared as sent by the client; parameters such as
// "; charset=utf-8" are ignored.
func (s FileService) Validate(file datatypes.UploadedFile) error {
	if file.Filename == "" {
		return datatypes.NewFileValidationError("File must have a name", nil)
	}

	if _, ok := allowedContentTypes[baseMediaType(file.ContentType)]; !ok {
		return datatypes.NewFileValidationError(
			fmt.Sprintf("Unsupported file type: %s", file.ContentType),
			map[string]any{"allowed_types": AllowedContentTypes()},
		)
	}

	if file.Size() > s.maxSize() {
		return datatypes.NewFileValidationError("File too large", map[string]any{
			"max_size":      s.maxSize(),
			"received_size": file.Size(),
		})
	}
	return nil
}

// ValidateAll validates every file and returns the first failure.
func (s FileService) ValidateAll(files []datatypes.UploadedFile) error {
	for _, f := range files {
		if err := s.Validate(f); err != nil {
			return err
		}
	}
	return nil
}

// ContentTypeFromName guesses a content type from the file extension,
// falling back to application/octet-stream.
func ContentTypeFromName(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func baseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}
