// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the protocol assistant's file and environment
// configuration: the upstream endpoint map, the prompt sequence and the
// process environment (optionally seeded from a .env file).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoints maps each upstream call to its path under the backend base URL.
//
// # Example (config/danswer_endpoints.yaml)
//
//	create_chat_session: /chat/create-chat-session
//	input_prompt: /input_prompt
//	send_message: /chat/send-message
//	upload_file: /chat/file
type Endpoints struct {
	CreateChatSession string `yaml:"create_chat_session" json:"create_chat_session"`
	InputPrompt       string `yaml:"input_prompt" json:"input_prompt"`
	SendMessage       string `yaml:"send_message" json:"send_message"`
	UploadFile        string `yaml:"upload_file" json:"upload_file"`
}

// Validate reports every missing endpoint.
func (e Endpoints) Validate() error {
	var missing []string
	if e.CreateChatSession == "" {
		missing = append(missing, "create_chat_session")
	}
	if e.InputPrompt == "" {
		missing = append(missing, "input_prompt")
	}
	if e.SendMessage == "" {
		missing = append(missing, "send_message")
	}
	if e.UploadFile == "" {
		missing = append(missing, "upload_file")
	}
	if len(missing) > 0 {
		return fmt.Errorf("endpoint config missing keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadEndpoints reads an endpoint map from a .yaml, .yml or .json file.
func LoadEndpoints(path string) (Endpoints, error) {
	var endpoints Endpoints

	data, err := os.ReadFile(path)
	if err != nil {
		return endpoints, fmt.Errorf("read endpoint config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &endpoints)
	case ".json":
		err = json.Unmarshal(data, &endpoints)
	default:
		return endpoints, errors.New("unsupported endpoint config format: use YAML or JSON")
	}
	if err != nil {
		return endpoints, fmt.Errorf("parse endpoint config %s: %w", path, err)
	}

	if err := endpoints.Validate(); err != nil {
		return endpoints, fmt.Errorf("%s: %w", path, err)
	}
	return endpoints, nil
}
