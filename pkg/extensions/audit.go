// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records a security-relevant action taken through the API.
//
// Event types used by the protocol assistant: "auth.login",
// "protocol.upload", "protocol.chat".
type AuditEvent struct {
	EventType string
	Timestamp time.Time

	// UserID is the Claim UID; empty when authentication failed.
	UserID string

	// Outcome is "success" or "failure".
	Outcome string

	// Metadata carries event-specific details (file names, status codes).
	// Never put tokens or file contents here.
	Metadata map[string]any
}

// AuditLogger records AuditEvents. Implementations must be safe for
// concurrent use and must not block the request path for long.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events as structured records to a slog.Logger.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// NewSlogAuditLogger returns an audit logger writing to logger, or to
// slog.Default() when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{Logger: logger}
}

// Log writes the event at info level under the "audit" group.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.Logger.LogAttrs(ctx, slog.LevelInfo, "audit event",
		slog.Group("audit",
			slog.String("event_type", event.EventType),
			slog.Time("timestamp", event.Timestamp),
			slog.String("user_id", event.UserID),
			slog.String("outcome", event.Outcome),
			slog.Any("metadata", event.Metadata),
		),
	)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
