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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Auth Tests
// =============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	provider := &NopAuthProvider{}

	claim, err := provider.Validate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "local-user", claim.UID)
}

func TestAuthProviderFunc(t *testing.T) {
	provider := AuthProviderFunc(func(_ context.Context, token string) (*Claim, error) {
		if token != "good" {
			return nil, ErrUnauthorized
		}
		return &Claim{UID: "u1"}, nil
	})

	claim, err := provider.Validate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", claim.UID)

	_, err = provider.Validate(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

type fakeVerifier struct {
	token *auth.Token
	err   error
	got   string
}

func (f *fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	f.got = idToken
	return f.token, f.err
}

func TestFirebaseAuthProvider_Validate(t *testing.T) {
	verifier := &fakeVerifier{token: &auth.Token{
		UID:    "firebase-uid",
		Issuer: "https://securetoken.google.com/lab",
		Claims: map[string]any{"email": "scientist@lab.org", "admin": true},
	}}
	provider := &FirebaseAuthProvider{verifier: verifier}

	claim, err := provider.Validate(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "id-token", verifier.got)
	assert.Equal(t, "firebase-uid", claim.UID)
	assert.Equal(t, "scientist@lab.org", claim.Email)
	assert.Equal(t, "https://securetoken.google.com/lab", claim.Issuer)
	assert.Equal(t, true, claim.Claims["admin"])
}

func TestFirebaseAuthProvider_ValidateRejected(t *testing.T) {
	provider := &FirebaseAuthProvider{verifier: &fakeVerifier{err: errors.New("ID token has expired")}}

	_, err := provider.Validate(context.Background(), "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "ID token has expired")
}

func TestFirebaseAuthProvider_ValidateEmptyToken(t *testing.T) {
	verifier := &fakeVerifier{}
	provider := &FirebaseAuthProvider{verifier: verifier}

	_, err := provider.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, verifier.got, "verifier must not be called for an empty token")
}

func TestNewFirebaseAuthProvider_EmptyPath(t *testing.T) {
	_, err := NewFirebaseAuthProvider(context.Background(), "")
	assert.Error(t, err)
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestNopAuditLogger(t *testing.T) {
	logger := &NopAuditLogger{}
	assert.NoError(t, logger.Log(context.Background(), AuditEvent{EventType: "protocol.chat"}))
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	audit := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := audit.Log(context.Background(), AuditEvent{
		EventType: "protocol.upload",
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		UserID:    "u1",
		Outcome:   "success",
		Metadata:  map[string]any{"files": 2},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	group, ok := record["audit"].(map[string]any)
	require.True(t, ok, "expected audit group, got %v", record)
	assert.Equal(t, "protocol.upload", group["event_type"])
	assert.Equal(t, "u1", group["user_id"])
	assert.Equal(t, "success", group["outcome"])
	assert.Equal(t, float64(2), group["metadata"].(map[string]any)["files"])
}

func TestSlogAuditLogger_FillsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	audit := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, audit.Log(context.Background(), AuditEvent{EventType: "auth.login"}))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	group := record["audit"].(map[string]any)
	assert.NotEqual(t, "0001-01-01T00:00:00Z", group["timestamp"])
}

func TestNewSlogAuditLogger_NilUsesDefault(t *testing.T) {
	audit := NewSlogAuditLogger(nil)
	assert.NotNil(t, audit.Logger)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Nil(t, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)
}

func TestServiceOptions_With(t *testing.T) {
	base := DefaultOptions()
	provider := &NopAuthProvider{}
	audit := NewSlogAuditLogger(nil)

	opts := base.WithAuth(provider).WithAudit(audit)

	assert.Same(t, provider, opts.AuthProvider)
	assert.Same(t, audit, opts.AuditLogger)
	assert.Nil(t, base.AuthProvider, "WithAuth must not mutate the receiver")
}
