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
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxUserRequestBytes caps the user_request form field.
const MaxUserRequestBytes = 32 * 1024

// chatValidate is shared by all request types; validator.Validate caches
// struct metadata and is safe for concurrent use.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxUserRequestBytes
}

// ChatRequest is the non-file part of the chat form.
type ChatRequest struct {
	UserRequest string `form:"user_request" validate:"required,maxbytes"`
}

// Validate checks the request and returns a client-facing message on failure.
//
// # Examples
//
//	req := datatypes.ChatRequest{UserRequest: c.PostForm("user_request")}
//	if err := req.Validate(); err != nil {
//	    // err.Error() == "user_request is required"
//	}
func (r *ChatRequest) Validate() error {
	err := chatValidate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, "user_request is required")
		case "maxbytes":
			msgs = append(msgs, fmt.Sprintf("user_request exceeds %d bytes", MaxUserRequestBytes))
		default:
			msgs = append(msgs, fmt.Sprintf("user_request failed %s validation", fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
