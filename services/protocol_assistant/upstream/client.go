// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package upstream is the HTTP client for the chat-session backend the
// protocol assistant proxies.
//
// Every call authenticates with the backend's admin API key, runs under the
// caller's context, and reports non-2xx replies as *StatusError carrying the
// upstream body so handlers can echo it back.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("labassistant.upstream")

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 * 1024

// ErrMissingSessionID is returned when session creation succeeds without
// returning a chat_session_id.
var ErrMissingSessionID = errors.New("upstream returned no chat_session_id")

// ErrPromptNotFound is returned when no input prompt has the requested name.
var ErrPromptNotFound = errors.New("input prompt not found")

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Call       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s failed with status %d: %s", e.Call, e.StatusCode, e.Body)
}

// =============================================================================
// Client
// =============================================================================

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the backend root, for example "https://danswer.lab.org/api".
	BaseURL string

	// APIKey is sent as "Authorization: Bearer <APIKey>".
	APIKey string

	// Endpoints maps each call to its path under BaseURL.
	Endpoints config.Endpoints

	// HTTPClient defaults to a client without a timeout; calls are bounded
	// by their context.
	HTTPClient *http.Client

	// Metrics may be nil.
	Metrics *observability.Metrics
}

// Client calls the upstream backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	endpoints  config.Endpoints
	httpClient *http.Client
	metrics    *observability.Metrics
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("upstream base URL is empty")
	}
	if err := cfg.Endpoints.Validate(); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		endpoints:  cfg.Endpoints,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
	}, nil
}

// setHeaders applies the backend's expected headers. Content-Type is set by
// the caller because uploads are multipart.
func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", "*/*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

// do sends the request and returns the response only when it is 2xx.
// On a non-2xx reply the body is read, closed and returned in a StatusError.
func (c *Client) do(ctx context.Context, call, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", call, err)
	}
	c.setHeaders(req, contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(call, 0, time.Since(start))
		return nil, fmt.Errorf("upstream %s request: %w", call, err)
	}
	c.metrics.RecordUpstream(call, resp.StatusCode, time.Since(start))
	slog.Debug("Upstream response", "call", call, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("Upstream call failed",
			"call", call,
			"status", resp.StatusCode,
			"response", string(data))
		return nil, &StatusError{Call: call, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, call, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", call, err)
	}
	return c.do(ctx, call, http.MethodPost, path, bytes.NewReader(body), "application/json")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// =============================================================================
// Calls
// =============================================================================

// CreateChatSession opens a session for the given persona.
func (c *Client) CreateChatSession(ctx context.Context, personaID int) (id string, err error) {
	ctx, span := tracer.Start(ctx, "upstream.CreateChatSession")
	defer func() { endSpan(span, err); span.End() }()

	slog.Info("Creating chat session", "persona_id", personaID)
	resp, err := c.postJSON(ctx, observability.CallCreateChatSession, c.endpoints.CreateChatSession,
		datatypes.CreateChatSessionRequest{PersonaID: personaID, Description: "New chat session"})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out datatypes.CreateChatSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create_chat_session response: %w", err)
	}
	if out.ChatSessionID == "" {
		return "", ErrMissingSessionID
	}

	span.SetAttributes(attribute.String("chat.session_id", out.ChatSessionID))
	slog.Info("Chat session created", "chat_session_id", out.ChatSessionID)
	return out.ChatSessionID, nil
}

// GetPromptContent returns the content of the input prompt named name.
func (c *Client) GetPromptContent(ctx context.Context, name string) (content string, err error) {
	ctx, span := tracer.Start(ctx, "upstream.GetPromptContent")
	defer func() { endSpan(span, err); span.End() }()
	span.SetAttributes(attribute.String("prompt.name", name))

	slog.Info("Retrieving prompt content", "prompt", name)
	resp, err := c.do(ctx, observability.CallInputPrompt, http.MethodGet, c.endpoints.InputPrompt, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var prompts []datatypes.InputPrompt
	if err := json.NewDecoder(resp.Body).Decode(&prompts); err != nil {
		return "", fmt.Errorf("decode input_prompt response: %w", err)
	}
	for _, p := range prompts {
		if p.Prompt == name {
			return p.Content, nil
		}
	}
	slog.Warn("Input prompt not found", "prompt", name, "available", len(prompts))
	return "", fmt.Errorf("%w: %q", ErrPromptNotFound, name)
}

// SendMessage posts one chat turn and returns the streamed reply body.
// The caller must close it.
func (c *Client) SendMessage(ctx context.Context, payload datatypes.ChatTurnPayload) (body io.ReadCloser, err error) {
	ctx, span := tracer.Start(ctx, "upstream.SendMessage")
	defer func() { endSpan(span, err); span.End() }()
	span.SetAttributes(attribute.String("chat.session_id", payload.ChatSessionID))

	slog.Info("Sending chat message",
		"chat_session_id", payload.ChatSessionID,
		"has_parent", payload.ParentMessageID != nil,
		"file_descriptors", len(payload.FileDescriptors))

	resp, err := c.postJSON(ctx, observability.CallSendMessage, c.endpoints.SendMessage, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// UploadFiles posts files as repeated multipart "files" parts and returns
// the raw response body.
//
// Each part's Content-Type is the file's ContentType, which the caller has
// already resolved.
func (c *Client) UploadFiles(ctx context.Context, files []datatypes.UploadedFile) (body []byte, err error) {
	ctx, span := tracer.Start(ctx, "upstream.UploadFiles")
	defer func() { endSpan(span, err); span.End() }()
	span.SetAttributes(attribute.Int("upload.files", len(files)))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(f.Filename)))
		header.Set("Content-Type", f.ContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create multipart part: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("write multipart part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	slog.Debug("Uploading files", "files", len(files), "bytes", buf.Len())
	resp, err := c.do(ctx, observability.CallUploadFile, http.MethodPost, c.endpoints.UploadFile, &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	return body, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
