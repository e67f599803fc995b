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
)

// ErrUnauthorized is returned when a token cannot be verified.
// Providers wrap it with the identity provider's reason:
//
//	return nil, fmt.Errorf("%w: %v", extensions.ErrUnauthorized, err)
var ErrUnauthorized = errors.New("unauthorized")

// Claim is the decoded identity of a verified bearer token.
//
// UID is always populated. Email and Claims depend on what the identity
// provider includes in the token.
type Claim struct {
	// UID is the identity provider's stable user identifier.
	UID string

	// Email is the user's email address, if present in the token.
	Email string

	// Issuer is the token issuer ("iss"), if known.
	Issuer string

	// Claims holds every other claim decoded from the token.
	Claims map[string]any
}

// AuthProvider verifies a raw bearer token and returns its Claim.
//
// The token passed in never includes the "Bearer " prefix; header parsing
// is done by the HTTP middleware.
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate returns the Claim for token, or an error wrapping
	// ErrUnauthorized when the token is malformed, expired or revoked.
	Validate(ctx context.Context, token string) (*Claim, error)
}

// NopAuthProvider accepts every token and returns a fixed local user.
//
// Only for local development (AUTH_PROVIDER=none). Never deploy it.
type NopAuthProvider struct{}

// Validate always succeeds with UID "local-user".
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*Claim, error) {
	return &Claim{UID: "local-user"}, nil
}

// AuthProviderFunc adapts a function to AuthProvider.
type AuthProviderFunc func(ctx context.Context, token string) (*Claim, error)

// Validate calls f(ctx, token).
func (f AuthProviderFunc) Validate(ctx context.Context, token string) (*Claim, error) {
	return f(ctx, token)
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = AuthProviderFunc(nil)
)
