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
	"net/http"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/middleware"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login returns the uid of the verified caller. Mounted behind AuthMiddleware.
func Login(audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claim := middleware.GetClaim(c)
		if claim == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": middleware.DetailInvalidHeader})
			return
		}
		recordAudit(c, audit, "auth.login", nil, nil)
		c.JSON(http.StatusOK, gin.H{"uid": claim.UID})
	}
}
