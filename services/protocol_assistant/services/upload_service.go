// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/observability"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/upstream"
)

// Upload results recorded in labassistant_upload_files_total.
const (
	uploadResultSuccess  = "success"
	uploadResultRejected = "rejected"
	uploadResultFailed   = "failed"
)

// FileUploader sends files to the upstream backend. Implemented by
// *upstream.Client.
type FileUploader interface {
	UploadFiles(ctx context.Context, files []datatypes.UploadedFile) ([]byte, error)
}

// UploadService forwards inbound files to the upstream backend.
//
// # Thread Safety
//
// Safe for concurrent use.
type UploadService struct {
	uploader FileUploader
	files    FileService
	metrics  *observability.Metrics
}

// NewUploadService returns an UploadService. metrics may be nil.
func NewUploadService(uploader FileUploader, files FileService, metrics *observability.Metrics) *UploadService {
	return &UploadService{uploader: uploader, files: files, metrics: metrics}
}

// Upload forwards files as one multipart request.
//
// # Description
//
// With validate set, every file is checked before any network call and the
// first invalid file fails the whole batch. Part content types are the
// declared type, else a guess from the extension, else
// application/octet-stream.
//
// # Outputs
//
//   - *datatypes.UploadResult: The upstream body and its parsed "files" list.
//   - error: *datatypes.APIError. Validation failures are 400. Non-2xx
//     upstream replies carry the upstream status and body. Transport
//     failures are 502.
func (s *UploadService) Upload(ctx context.Context, files []datatypes.UploadedFile, validate bool) (*datatypes.UploadResult, error) {
	if len(files) == 0 {
		return nil, datatypes.NewRequestValidationError("No files provided", nil)
	}

	if validate {
		if err := s.files.ValidateAll(files); err != nil {
			s.metrics.RecordUploadFiles(uploadResultRejected, len(files))
			slog.Warn("Upload rejected", "files", len(files), "error", err)
			return nil, err
		}
	}

	parts := make([]datatypes.UploadedFile, len(files))
	for i, f := range files {
		parts[i] = f
		if parts[i].ContentType == "" {
			parts[i].ContentType = ContentTypeFromName(f.Filename)
		}
	}

	body, err := s.uploader.UploadFiles(ctx, parts)
	if err != nil {
		s.metrics.RecordUploadFiles(uploadResultFailed, len(files))
		return nil, uploadError(err)
	}
	s.metrics.RecordUploadFiles(uploadResultSuccess, len(files))

	result := &datatypes.UploadResult{Body: body}
	var parsed struct {
		Files *[]datatypes.FileRecord `json:"files"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		slog.Error("Failed to decode upload response files", "error", err, "body_bytes", len(body))
		return result, nil
	}
	if parsed.Files != nil {
		result.Files = *parsed.Files
		result.HasFiles = true
	}
	slog.Info("Files uploaded", "files", len(files), "records", len(result.Files))
	return result, nil
}

func uploadError(err error) *datatypes.APIError {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return datatypes.NewUpstreamServiceError(
			statusErr.StatusCode,
			"Failed to upload files to upstream service",
			statusErr.Body,
			map[string]any{"response": decodeOrText(statusErr.Body), "status": statusErr.StatusCode},
			err,
		)
	}
	slog.Error("Upload transport error", "error", err)
	return datatypes.NewUpstreamServiceError(
		0,
		"Connection error with upstream service",
		err.Error(),
		map[string]any{"error": err.Error()},
		err,
	)
}

// decodeOrText returns body as decoded JSON when possible, else as text.
func decodeOrText(body string) any {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return v
	}
	return body
}
