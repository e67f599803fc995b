// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
)

// UploadedFile is one file read from an inbound multipart form.
type UploadedFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size returns the content length in bytes.
func (f UploadedFile) Size() int {
	return len(f.Content)
}

// FileRecord is one entry of the upstream upload response's "files" list.
type FileRecord struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// UnmarshalJSON accepts "id" as a JSON string or number. A numeric id is
// kept in its literal form.
func (r *FileRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"id"`
		Type string          `json:"type"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := decodeFileID(raw.ID)
	if err != nil {
		return err
	}
	*r = FileRecord{ID: id, Type: raw.Type, Name: raw.Name}
	return nil
}

func decodeFileID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("file id must be a string or number, got %s", raw)
}

// Descriptor maps the record to the descriptor attached to a chat turn.
func (r FileRecord) Descriptor() FileDescriptor {
	return FileDescriptor{ID: r.ID, Type: r.Type, Name: r.Name}
}

// UploadResult is a successful upstream upload.
//
// Body is the upstream JSON, returned verbatim by the plain upload route.
// HasFiles reports whether Body contained a "files" list.
type UploadResult struct {
	Body     []byte
	Files    []FileRecord
	HasFiles bool
}

// Descriptors maps every uploaded record to a FileDescriptor.
func (r *UploadResult) Descriptors() []FileDescriptor {
	descriptors := make([]FileDescriptor, 0, len(r.Files))
	for _, record := range r.Files {
		descriptors = append(descriptors, record.Descriptor())
	}
	return descriptors
}

// UploadResponse is the body of a successful validated upload.
type UploadResponse struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

// UploadErrorResponse is the error body of the validated upload route.
type UploadErrorResponse struct {
	Detail         string         `json:"detail"`
	ErrorCode      string         `json:"error_code"`
	AdditionalInfo map[string]any `json:"additional_info"`
}

// NewUploadResponse builds the success body listing the uploaded file names.
func NewUploadResponse(files []UploadedFile) UploadResponse {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}
	return UploadResponse{
		Success: true,
		Files:   names,
		Message: "Files uploaded successfully",
	}
}
