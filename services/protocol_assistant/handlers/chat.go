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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/middleware"
	"github.com/gin-gonic/gin"
)

// Chat runs the chat saga for a form with user_request and optional files
// and returns the final protocol summary JSON.
func Chat(chat ChatHandler, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		files, err := readFormFiles(c)
		if err != nil {
			renderChatError(c, err)
			return
		}

		req := datatypes.ChatRequest{UserRequest: c.PostForm("user_request")}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		slog.Info("Chat request received",
			"request_id", middleware.GetRequestID(c),
			"files", len(files),
			"user_request_bytes", len(req.UserRequest))

		summary, err := chat.Handle(c.Request.Context(), req.UserRequest, files, middleware.GetClaim(c))
		recordAudit(c, audit, "protocol.chat", err, map[string]any{"files": fileNames(files)})
		if err != nil {
			renderChatError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
