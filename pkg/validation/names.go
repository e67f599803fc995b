// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user and remote supplied names before they are
// used in file paths or vector store queries.
//
// This package contains validators for names that end up interpolated into
// GraphQL queries (Weaviate class names) or joined onto a storage directory
// (scraped protocol names). Using them prevents query injection and path
// traversal.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// classNamePattern matches Weaviate class names: a capital letter followed
// by letters, digits or underscores.
var classNamePattern = regexp.MustCompile(`^[A-Z][_0-9A-Za-z]{0,229}$`)

// fileStemPattern matches a single path segment safe to use as a file name.
// Max length: 128 characters
var fileStemPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateClassName validates a Weaviate class name.
//
// Example:
//
//	if err := validation.ValidateClassName(className); err != nil {
//	    return nil, fmt.Errorf("invalid class: %w", err)
//	}
//	// Safe to use in a GraphQL Get query
func ValidateClassName(name string) error {
	if name == "" {
		return fmt.Errorf("class name cannot be empty")
	}
	if !classNamePattern.MatchString(name) {
		return fmt.Errorf("invalid class name: %q (must start with an uppercase letter followed by letters, digits or underscores)", name)
	}
	return nil
}

// SanitizeClassName trims name and upper-cases its first letter, the way
// Weaviate stores class names, then validates it.
func SanitizeClassName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		r := []rune(name)
		r[0] = unicode.ToUpper(r[0])
		name = string(r)
	}
	if err := ValidateClassName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateFileStem validates a name used as a file name inside a storage
// directory. Separators, leading dots and ".." are rejected.
func ValidateFileStem(stem string) error {
	if stem == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if strings.Contains(stem, "..") || !fileStemPattern.MatchString(stem) {
		return fmt.Errorf("invalid file name: %q (must be 1-128 letters, digits, dots, underscores or hyphens)", stem)
	}
	return nil
}
