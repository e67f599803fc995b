// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the protocol assistant.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Header must start with "Bearer " (exact case)
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store Claim in context
//	           │
//	           ▼
//	       Handler (retrieves via GetClaim)
//
// Failures abort with 401 and {"detail": "..."}.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

const claimKey = "labassistant_claim"

const bearerPrefix = "Bearer "

// Client-facing auth failure messages.
const (
	DetailInvalidHeader = "Invalid authorization header format"
	detailInvalidToken  = "Invalid token: "
)

// SetClaim stores the verified Claim in the Gin context.
func SetClaim(c *gin.Context, claim *extensions.Claim) {
	c.Set(claimKey, claim)
}

// GetClaim returns the Claim stored by AuthMiddleware, or nil.
func GetClaim(c *gin.Context) *extensions.Claim {
	if v, exists := c.Get(claimKey); exists {
		if claim, ok := v.(*extensions.Claim); ok {
			return claim
		}
	}
	return nil
}

// =============================================================================
// Token Verification
// =============================================================================

// VerifyAuthorization checks an Authorization header value.
//
// # Description
//
// The header must start with the literal "Bearer " (case-sensitive, one
// space). The remainder is passed unchanged to the provider. A missing
// header is reported the same as a malformed one.
//
// # Outputs
//
//   - *extensions.Claim: The verified identity.
//   - error: A 401 *datatypes.APIError. Detail is either
//     "Invalid authorization header format" or "Invalid token: <reason>".
func VerifyAuthorization(ctx context.Context, provider extensions.AuthProvider, header string) (*extensions.Claim, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, datatypes.NewAuthError(DetailInvalidHeader, nil)
	}
	token := strings.TrimPrefix(header, bearerPrefix)

	claim, err := provider.Validate(ctx, token)
	if err != nil {
		return nil, datatypes.NewAuthError(detailInvalidToken+tokenFailureReason(err), err)
	}
	if claim == nil || claim.UID == "" {
		return nil, datatypes.NewAuthError(detailInvalidToken+"token has no uid", nil)
	}
	return claim, nil
}

// tokenFailureReason strips the ErrUnauthorized prefix providers add, so
// clients see the identity provider's own message.
func tokenFailureReason(err error) string {
	msg := err.Error()
	if errors.Is(err, extensions.ErrUnauthorized) {
		msg = strings.TrimPrefix(msg, extensions.ErrUnauthorized.Error()+": ")
	}
	return msg
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware verifies the bearer token and stores the Claim.
//
// # Examples
//
//	pa := router.Group("/api/protocol-assistant")
//	pa.Use(middleware.AuthMiddleware(opts.AuthProvider, opts.AuditLogger))
//
// # Thread Safety
//
// Thread-safe. provider must be safe for concurrent calls.
func AuthMiddleware(provider extensions.AuthProvider, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claim, err := VerifyAuthorization(c.Request.Context(), provider, c.GetHeader("Authorization"))
		if err != nil {
			apiErr, _ := datatypes.AsAPIError(err)
			slog.Warn("Authentication failed",
				"path", c.FullPath(),
				"header_present", c.GetHeader("Authorization") != "",
				"error", err)
			if audit != nil {
				_ = audit.Log(c.Request.Context(), extensions.AuditEvent{
					EventType: "auth.verify",
					Outcome:   "failure",
					Metadata:  map[string]any{"path": c.FullPath()},
				})
			}
			c.AbortWithStatusJSON(apiErr.Status, gin.H{"detail": apiErr.Detail})
			return
		}

		SetClaim(c, claim)
		c.Next()
	}
}
