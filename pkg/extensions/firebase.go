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
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// idTokenVerifier is the subset of the Firebase auth client used here.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseAuthProvider verifies Firebase ID tokens with the Admin SDK.
//
// # Description
//
// The Admin SDK downloads and caches Google's public signing keys, so
// Validate only makes a network call when the key cache is cold or stale.
// Revocation is not checked (VerifyIDToken, not VerifyIDTokenAndCheckRevoked).
//
// # Thread Safety
//
// Safe for concurrent use; the underlying auth.Client is.
type FirebaseAuthProvider struct {
	verifier idTokenVerifier
}

// NewFirebaseAuthProvider initializes a Firebase app from a service account
// credentials file and returns a provider bound to its auth client.
//
// # Inputs
//
//   - ctx: Used for app and client initialization only.
//   - credentialsPath: Path to the service account JSON (FIREBASE_CREDENTIALS_PATH).
//
// # Outputs
//
//   - *FirebaseAuthProvider: Ready to validate tokens.
//   - error: Non-nil if the path is empty or the SDK cannot initialize.
func NewFirebaseAuthProvider(ctx context.Context, credentialsPath string) (*FirebaseAuthProvider, error) {
	if credentialsPath == "" {
		return nil, errors.New("firebase credentials path is empty")
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth client: %w", err)
	}

	slog.Info("Firebase auth provider initialized")
	return &FirebaseAuthProvider{verifier: client}, nil
}

// Validate verifies a Firebase ID token.
//
// Any SDK error (expired, malformed, wrong audience, bad signature) is
// wrapped with ErrUnauthorized and keeps the SDK's message for diagnostics.
func (p *FirebaseAuthProvider) Validate(ctx context.Context, token string) (*Claim, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	decoded, err := p.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claim := &Claim{
		UID:    decoded.UID,
		Issuer: decoded.Issuer,
		Claims: decoded.Claims,
	}
	if email, ok := decoded.Claims["email"].(string); ok {
		claim.Email = email
	}
	return claim, nil
}

var _ AuthProvider = (*FirebaseAuthProvider)(nil)
