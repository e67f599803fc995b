// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/gin-gonic/gin"
)

// UploadProtocol forwards files upstream without validation and returns the
// upstream JSON verbatim.
func UploadProtocol(uploads Uploader, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		files, err := readFormFiles(c)
		if err != nil {
			renderChatError(c, err)
			return
		}
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "No files provided"})
			return
		}

		result, err := uploads.Upload(c.Request.Context(), files, false)
		recordAudit(c, audit, "protocol.upload", err, map[string]any{"files": fileNames(files), "validated": false})
		if err != nil {
			if apiErr, ok := datatypes.AsAPIError(err); ok && apiErr.Kind == datatypes.KindUpstream {
				err = apiErr.WithDetail("Failed to upload files")
			}
			renderChatError(c, err)
			return
		}

		if !json.Valid(result.Body) {
			slog.Error("Upstream upload response is not JSON", "bytes", len(result.Body))
			c.JSON(http.StatusBadGateway, gin.H{
				"detail": "Failed to upload files",
				"error":  string(result.Body),
			})
			return
		}
		c.Data(http.StatusOK, "application/json", result.Body)
	}
}

// AsyncUploadProtocol validates files, forwards them upstream and returns an
// UploadResponse listing the file names.
func AsyncUploadProtocol(uploads Uploader, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		files, err := readFormFiles(c)
		if err != nil {
			renderUploadError(c, err)
			return
		}
		if len(files) == 0 {
			renderUploadError(c, datatypes.NewRequestValidationError("No files provided", nil))
			return
		}

		_, err = uploads.Upload(c.Request.Context(), files, true)
		recordAudit(c, audit, "protocol.upload", err, map[string]any{"files": fileNames(files), "validated": true})
		if err != nil {
			slog.Error("Upload error", "files", len(files), "error", err)
			renderUploadError(c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.NewUploadResponse(files))
	}
}
