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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/observability"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/services"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fake Backend
// =============================================================================

var testEndpoints = config.Endpoints{
	CreateChatSession: "/chat/create-chat-session",
	InputPrompt:       "/input_prompt",
	SendMessage:       "/chat/send-message",
	UploadFile:        "/chat/file",
}

// fakeBackend plays the upstream chat backend. Each send-message call
// returns the next entry of replies.
type fakeBackend struct {
	mu         sync.Mutex
	replies    []string
	turns      []datatypes.ChatTurnPayload
	uploadCode int
	uploadBody string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.URL.Path {
	case testEndpoints.CreateChatSession:
		_, _ = io.WriteString(w, `{"chat_session_id":"sess-1"}`)
	case testEndpoints.SendMessage:
		var payload datatypes.ChatTurnPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.turns = append(b.turns, payload)
		_, _ = io.WriteString(w, b.replies[len(b.turns)-1])
	case testEndpoints.UploadFile:
		w.WriteHeader(b.uploadCode)
		_, _ = io.WriteString(w, b.uploadBody)
	default:
		http.NotFound(w, r)
	}
}

type tokenProvider struct{}

func (tokenProvider) Validate(_ context.Context, token string) (*extensions.Claim, error) {
	if token != "good-token" {
		return nil, fmt.Errorf("%w: token expired", extensions.ErrUnauthorized)
	}
	return &extensions.Claim{UID: "user-1"}, nil
}

func newTestRouter(t *testing.T, backend *fakeBackend) *gin.Engine {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	client, err := upstream.NewClient(upstream.ClientConfig{
		BaseURL:   server.URL,
		APIKey:    "admin-key",
		Endpoints: testEndpoints,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	uploads := services.NewUploadService(client, services.FileService{}, metrics)
	prompts := config.StaticPrompts{{Text: "Extract the protocol: "}, {Text: "Now summarize."}}
	chat := services.NewChatOrchestrator(client, uploads, prompts, services.ChatOrchestratorOptions{Metrics: metrics})

	router := gin.New()
	SetupRoutes(router, Deps{
		Auth:     tokenProvider{},
		Uploads:  uploads,
		Chat:     chat,
		Gatherer: registry,
	})
	return router
}

func chatRequest(t *testing.T, userRequest string, withFile bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("user_request", userRequest))
	if withFile {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="protocol.txt"`)
		h.Set("Content-Type", "text/plain")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("step 1: pipette"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/protocol-assistant/chat", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer good-token")
	return req
}

// =============================================================================
// End-to-End Tests
// =============================================================================

func TestChat_TwoTurnHappyPath(t *testing.T) {
	backend := &fakeBackend{replies: []string{
		"{\"answer_piece\":\"x\"}\n" + `{"parent_message":1,"message":"{\"summary\":\"X\"}"}` + "\n",
		"not json\n" + `{"message":"{\"summary\":\"Final\"}"}` + "\n",
	}}
	router := newTestRouter(t, backend)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, chatRequest(t, "Summarize this protocol", false))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"summary":"Final"}`, w.Body.String())

	require.Len(t, backend.turns, 2)
	assert.Nil(t, backend.turns[0].ParentMessageID)
	assert.Equal(t, "Extract the protocol: Summarize this protocol", backend.turns[0].Message)
	assert.Equal(t, "sess-1", backend.turns[0].ChatSessionID)
	require.NotNil(t, backend.turns[1].ParentMessageID)
	assert.Equal(t, int64(2), *backend.turns[1].ParentMessageID)
	assert.Equal(t, "Now summarize.", backend.turns[1].Message)
}

func TestChat_UpstreamUploadFailure(t *testing.T) {
	backend := &fakeBackend{uploadCode: http.StatusBadGateway, uploadBody: "bad gateway"}
	router := newTestRouter(t, backend)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, chatRequest(t, "Summarize", true))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bad gateway", body["error"])
	assert.Empty(t, backend.turns)
}

func TestLogin(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid", "Bearer good-token", http.StatusOK, `{"uid":"user-1"}`},
		{"missing prefix", "good-token", http.StatusUnauthorized, `{"detail":"Invalid authorization header format"}`},
		{"missing header", "", http.StatusUnauthorized, `{"detail":"Invalid authorization header format"}`},
		{"rejected token", "Bearer stale", http.StatusUnauthorized, `{"detail":"Invalid token: token expired"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestProtocolRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})

	for _, path := range []string{"upload-protocol", "async-upload-protocol", "chat"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/protocol-assistant/"+path, strings.NewReader(""))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{uploadCode: http.StatusOK, uploadBody: `{"files":[]}`})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// Drive one upstream call so a labelled series exists.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, chatRequest(t, "Summarize", true))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "labassistant_upstream_requests_total")
}
