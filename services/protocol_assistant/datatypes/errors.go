// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Kinds and Codes
// =============================================================================

// ErrorKind classifies an APIError.
type ErrorKind string

const (
	// KindAuth is a missing, malformed or rejected bearer token.
	KindAuth ErrorKind = "auth"

	// KindValidation is a rejected inbound request or file.
	KindValidation ErrorKind = "validation"

	// KindUpstream is a failed or non-2xx call to the upstream backend.
	KindUpstream ErrorKind = "upstream"

	// KindProcessing is an upstream reply that could not be interpreted.
	KindProcessing ErrorKind = "processing"
)

// Error codes returned in the error_code field of upload error bodies.
const (
	ErrorCodeFileValidation  = "FILE_VALIDATION_ERROR"
	ErrorCodeUpstreamService = "UPSTREAM_SERVICE_ERROR"
	ErrorCodeHTTP            = "HTTP_ERROR"
	ErrorCodeInternal        = "INTERNAL_ERROR"
	ErrorCodeAuth            = "AUTH_ERROR"
	ErrorCodeProcessing      = "PROCESSING_ERROR"
)

// =============================================================================
// APIError
// =============================================================================

// APIError is a failure that maps onto an HTTP response.
//
// # Description
//
// Every failure the API reports to a client is an *APIError. Handlers
// classify errors with errors.As; anything else is rendered as a 500.
// Err holds the underlying cause for server-side logging and is never
// written to the response.
//
// # Fields
//
//   - Kind: Failure class.
//   - Status: HTTP status to respond with.
//   - Detail: Human readable message, returned as "detail".
//   - ErrorCode: Machine readable code, returned by the upload routes.
//   - UpstreamBody: Raw upstream response text, returned as "error".
//   - AdditionalInfo: Structured context, returned as "additional_info".
//   - Err: Wrapped cause.
type APIError struct {
	Kind           ErrorKind
	Status         int
	Detail         string
	ErrorCode      string
	UpstreamBody   string
	AdditionalInfo map[string]any
	Err            error
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Detail)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of e with a different Detail.
//
// Used to report a failure in the caller's terms, for example an upload
// error surfaced by the chat route as "Failed to upload files".
func (e *APIError) WithDetail(detail string) *APIError {
	c := *e
	c.Detail = detail
	return &c
}

// NewAuthError returns a 401 error.
func NewAuthError(detail string, cause error) *APIError {
	return &APIError{
		Kind:      KindAuth,
		Status:    http.StatusUnauthorized,
		Detail:    detail,
		ErrorCode: ErrorCodeAuth,
		Err:       cause,
	}
}

// NewFileValidationError returns a 400 error with FILE_VALIDATION_ERROR.
func NewFileValidationError(detail string, info map[string]any) *APIError {
	return &APIError{
		Kind:           KindValidation,
		Status:         http.StatusBadRequest,
		Detail:         detail,
		ErrorCode:      ErrorCodeFileValidation,
		AdditionalInfo: info,
	}
}

// NewRequestValidationError returns a 400 error with HTTP_ERROR, used for
// malformed requests that are not about a specific file.
func NewRequestValidationError(detail string, cause error) *APIError {
	return &APIError{
		Kind:      KindValidation,
		Status:    http.StatusBadRequest,
		Detail:    detail,
		ErrorCode: ErrorCodeHTTP,
		Err:       cause,
	}
}

// NewUpstreamServiceError returns an UPSTREAM_SERVICE_ERROR.
//
// status is the HTTP status to respond with: the upstream status when it
// is mirrored, or 502 for transport failures. A status outside 400-599 is
// replaced with 502 so a failure is never reported as success.
func NewUpstreamServiceError(status int, detail, upstreamBody string, info map[string]any, cause error) *APIError {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return &APIError{
		Kind:           KindUpstream,
		Status:         status,
		Detail:         detail,
		ErrorCode:      ErrorCodeUpstreamService,
		UpstreamBody:   upstreamBody,
		AdditionalInfo: info,
		Err:            cause,
	}
}

// NewProcessingError returns a 500 error for uninterpretable upstream replies.
func NewProcessingError(detail string, cause error) *APIError {
	return &APIError{
		Kind:      KindProcessing,
		Status:    http.StatusInternalServerError,
		Detail:    detail,
		ErrorCode: ErrorCodeProcessing,
		Err:       cause,
	}
}

// AsAPIError extracts an *APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
