// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command protocol-assistant starts the protocol assistant HTTP server.
//
// A .env file in the working directory is loaded first when present;
// real environment variables take precedence.
//
// # Environment Variables
//
//   - PROTOCOL_ASSISTANT_PORT: HTTP server port (default: 8000)
//   - DANSWER_BASE_URL: Upstream chat backend root (required)
//   - DANSWER_ADMIN_API_KEY: Upstream admin API key (required)
//   - AUTH_PROVIDER: firebase or none (default: firebase)
//   - FIREBASE_CREDENTIALS_PATH: Service account JSON (required for firebase)
//   - ENDPOINTS_CONFIG_PATH: Endpoint map (default: config/danswer_endpoints.yaml)
//   - PROMPT_SEQUENCE_PATH: Prompt sequences (default: config/prompt_sequence.yaml)
//   - PROMPT_SEQUENCE_NAME: Sequence to run (default: protocol-assistant)
//   - CHAT_PERSONA_ID: Persona for new chat sessions (default: 0)
//   - CHAT_REQUEST_TIMEOUT: Per-request deadline (default: 5m)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP gRPC collector (tracing off when empty)
//   - DEBUG_MODE, LOG_DIR, GIN_MODE
//
// # Usage
//
//	go build -o protocol-assistant ./cmd/protocol-assistant
//	./protocol-assistant
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/pkg/logging"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/services"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelFromDebugMode(os.Getenv("DEBUG_MODE")),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "protocol-assistant",
	})
	slog.SetDefault(logger.Slog())

	code := run(logger)
	_ = logger.Close()
	os.Exit(code)
}

func run(logger *logging.Logger) int {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}

	slog.Info("Starting protocol assistant",
		"port", cfg.Port,
		"danswer_base_url", cfg.DanswerBaseURL,
		"api_key_present", cfg.DanswerAPIKey != "",
		"auth_provider", cfg.AuthProvider,
		"tracing", cfg.OTelEndpoint != "")

	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(logger.Slog()))
	svc, err := protocol_assistant.New(cfg, &opts)
	if err != nil {
		slog.Error("Failed to create protocol assistant", "error", err)
		return 1
	}

	if err := svc.Run(); err != nil {
		slog.Error("Protocol assistant error", "error", err)
		return 1
	}
	return 0
}

// loadConfig builds the service configuration from the environment.
func loadConfig() (protocol_assistant.Config, error) {
	port, err := config.EnvInt("PROTOCOL_ASSISTANT_PORT", 8000)
	if err != nil {
		return protocol_assistant.Config{}, err
	}
	personaID, err := config.EnvInt("CHAT_PERSONA_ID", 0)
	if err != nil {
		return protocol_assistant.Config{}, err
	}
	timeout, err := config.EnvDuration("CHAT_REQUEST_TIMEOUT", services.DefaultChatTimeout)
	if err != nil {
		return protocol_assistant.Config{}, err
	}

	return protocol_assistant.Config{
		Port:                    port,
		DanswerBaseURL:          os.Getenv("DANSWER_BASE_URL"),
		DanswerAPIKey:           os.Getenv("DANSWER_ADMIN_API_KEY"),
		AuthProvider:            config.EnvString("AUTH_PROVIDER", protocol_assistant.AuthProviderFirebase),
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		EndpointsConfigPath:     config.EnvString("ENDPOINTS_CONFIG_PATH", "config/danswer_endpoints.yaml"),
		PromptSequencePath:      config.EnvString("PROMPT_SEQUENCE_PATH", "config/prompt_sequence.yaml"),
		PromptSequenceName:      config.EnvString("PROMPT_SEQUENCE_NAME", "protocol-assistant"),
		PersonaID:               personaID,
		ChatTimeout:             timeout,
		OTelEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GinMode:                 os.Getenv("GIN_MODE"),
	}, nil
}
