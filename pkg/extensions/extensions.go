// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable collaborators of the protocol
// assistant API.
//
// The API never constructs its identity provider or audit sink from
// global state. Callers pass them in through ServiceOptions, which keeps
// the HTTP surface testable without a live identity provider:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(firebaseProvider).
//	    WithAudit(extensions.NewSlogAuditLogger(nil))
//	svc, err := protocol_assistant.New(cfg, &opts)
//
// # Files
//
//   - auth.go: Claim, AuthProvider, NopAuthProvider
//   - firebase.go: FirebaseAuthProvider (Firebase Admin SDK)
//   - audit.go: AuditEvent, AuditLogger, SlogAuditLogger
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points of the API service.
//
// Nil fields are replaced with defaults by the service constructor:
// AuthProvider is built from configuration, AuditLogger becomes
// NopAuditLogger.
type ServiceOptions struct {
	// AuthProvider verifies bearer tokens.
	AuthProvider AuthProvider

	// AuditLogger records login, upload and chat outcomes.
	AuditLogger AuditLogger
}

// DefaultOptions returns options with a NopAuditLogger and no AuthProvider,
// leaving provider selection to configuration.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
