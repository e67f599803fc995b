// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/handlers"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Auth     extensions.AuthProvider
	Audit    extensions.AuditLogger
	Uploads  handlers.Uploader
	Chat     handlers.ChatHandler
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers the health, metrics and /api routes. Every /api
// route requires a bearer token verified by deps.Auth, which must be set.
func SetupRoutes(router *gin.Engine, deps Deps) {
	audit := deps.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(deps.Auth, audit))
	{
		api.GET("/auth/login", handlers.Login(audit))

		protocols := api.Group("/protocol-assistant")
		{
			protocols.POST("/upload-protocol", handlers.UploadProtocol(deps.Uploads, audit))
			protocols.POST("/async-upload-protocol", handlers.AsyncUploadProtocol(deps.Uploads, audit))
			protocols.POST("/chat", handlers.Chat(deps.Chat, audit))
		}
	}
}
