// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the protocol assistant's HTTP endpoints.
//
// Handlers are factories returning gin.HandlerFunc closures over their
// collaborators. Two error envelopes are used:
//
//	chat and plain upload:  {"detail": "...", "error": "<upstream body>"}
//	validated upload:       {"detail": "...", "error_code": "...", "additional_info": {...}}
//
// Causes are logged server-side and never returned to clients.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/middleware"
	"github.com/gin-gonic/gin"
)

// MaxFormBytes bounds an inbound multipart request.
const MaxFormBytes = 64 << 20

// formMemoryBytes is the part of a multipart form kept in memory; the rest
// spills to temp files.
const formMemoryBytes = 32 << 20

// =============================================================================
// Collaborators
// =============================================================================

// Uploader forwards files upstream. Implemented by *services.UploadService.
type Uploader interface {
	Upload(ctx context.Context, files []datatypes.UploadedFile, validate bool) (*datatypes.UploadResult, error)
}

// ChatHandler runs the chat saga. Implemented by *services.ChatOrchestrator.
type ChatHandler interface {
	Handle(ctx context.Context, userRequest string, files []datatypes.UploadedFile, claim *extensions.Claim) (any, error)
}

// =============================================================================
// Error Rendering
// =============================================================================

// renderChatError writes the {detail, error?, additional_info?} envelope.
func renderChatError(c *gin.Context, err error) {
	apiErr, ok := datatypes.AsAPIError(err)
	if !ok {
		slog.Error("Unexpected error", "request_id", middleware.GetRequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}

	body := gin.H{"detail": apiErr.Detail}
	if apiErr.UpstreamBody != "" {
		body["error"] = apiErr.UpstreamBody
	}
	if len(apiErr.AdditionalInfo) > 0 {
		body["additional_info"] = apiErr.AdditionalInfo
	}
	c.JSON(apiErr.Status, body)
}

// renderUploadError writes the UploadErrorResponse envelope. Upstream
// failures are always reported as 502 on this route.
func renderUploadError(c *gin.Context, err error) {
	apiErr, ok := datatypes.AsAPIError(err)
	if !ok {
		slog.Error("Unexpected upload error", "request_id", middleware.GetRequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.UploadErrorResponse{
			Detail:    "Internal server error",
			ErrorCode: datatypes.ErrorCodeInternal,
		})
		return
	}

	status := apiErr.Status
	if apiErr.Kind == datatypes.KindUpstream {
		status = http.StatusBadGateway
	}
	c.JSON(status, datatypes.UploadErrorResponse{
		Detail:         apiErr.Detail,
		ErrorCode:      apiErr.ErrorCode,
		AdditionalInfo: apiErr.AdditionalInfo,
	})
}

// =============================================================================
// Form Parsing
// =============================================================================

// readFormFiles returns the "files" parts of a multipart request. A request
// that is not multipart has no files.
func readFormFiles(c *gin.Context) ([]datatypes.UploadedFile, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFormBytes)

	if err := c.Request.ParseMultipartForm(formMemoryBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr := datatypes.NewRequestValidationError(
				fmt.Sprintf("Request body exceeds %d bytes", MaxFormBytes), err)
			apiErr.Status = http.StatusRequestEntityTooLarge
			return nil, apiErr
		}
		return nil, datatypes.NewRequestValidationError("Invalid multipart form", err)
	}

	headers := c.Request.MultipartForm.File["files"]
	files := make([]datatypes.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open form file %q: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read form file %q: %w", fh.Filename, err)
		}
		files = append(files, datatypes.UploadedFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}
	return files, nil
}

// =============================================================================
// Audit
// =============================================================================

func recordAudit(c *gin.Context, audit extensions.AuditLogger, eventType string, err error, metadata map[string]any) {
	if audit == nil {
		return
	}
	event := extensions.AuditEvent{
		EventType: eventType,
		Outcome:   "success",
		Metadata:  metadata,
	}
	if claim := middleware.GetClaim(c); claim != nil {
		event.UserID = claim.UID
	}
	if err != nil {
		event.Outcome = "failure"
		if event.Metadata == nil {
			event.Metadata = map[string]any{}
		}
		if apiErr, ok := datatypes.AsAPIError(err); ok {
			event.Metadata["status"] = apiErr.Status
		}
	}
	if auditErr := audit.Log(c.Request.Context(), event); auditErr != nil {
		slog.Warn("Audit log failed", "event_type", eventType, "error", auditErr)
	}
}

func fileNames(files []datatypes.UploadedFile) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}
	return names
}
