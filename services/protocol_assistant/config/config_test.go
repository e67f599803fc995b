// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// =============================================================================
// Endpoints Tests
// =============================================================================

const endpointsYAML = `
create_chat_session: /chat/create-chat-session
input_prompt: /input_prompt
send_message: /chat/send-message
upload_file: /chat/file
`

func TestLoadEndpoints_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "endpoints.yaml", endpointsYAML)

	endpoints, err := LoadEndpoints(path)

	require.NoError(t, err)
	assert.Equal(t, Endpoints{
		CreateChatSession: "/chat/create-chat-session",
		InputPrompt:       "/input_prompt",
		SendMessage:       "/chat/send-message",
		UploadFile:        "/chat/file",
	}, endpoints)
}

func TestLoadEndpoints_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "endpoints.json", `{
		"create_chat_session": "/a", "input_prompt": "/b",
		"send_message": "/c", "upload_file": "/d"
	}`)

	endpoints, err := LoadEndpoints(path)

	require.NoError(t, err)
	assert.Equal(t, "/c", endpoints.SendMessage)
}

func TestLoadEndpoints_MissingKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "endpoints.yml", "send_message: /c\n")

	_, err := LoadEndpoints(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create_chat_session")
	assert.Contains(t, err.Error(), "input_prompt")
	assert.Contains(t, err.Error(), "upload_file")
	assert.NotContains(t, err.Error(), "send_message")
}

func TestLoadEndpoints_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadEndpoints(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadEndpoints(writeFile(t, dir, "endpoints.toml", endpointsYAML))
	assert.ErrorContains(t, err, "unsupported")

	_, err = LoadEndpoints(writeFile(t, dir, "bad.json", "{"))
	assert.Error(t, err)
}

// =============================================================================
// Prompt Sequence Tests
// =============================================================================

const promptsYAML = `
protocol-assistant:
  - "Review this protocol: "
  - input_prompt: protocol-action
other:
  - "x"
`

func TestLoadPromptSequence(t *testing.T) {
	path := writeFile(t, t.TempDir(), "prompts.yaml", promptsYAML)

	steps, err := LoadPromptSequence(path, "protocol-assistant")

	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, PromptStep{Text: "Review this protocol: "}, steps[0])
	assert.False(t, steps[0].IsInputPrompt())
	assert.Equal(t, PromptStep{InputPrompt: "protocol-action"}, steps[1])
	assert.True(t, steps[1].IsInputPrompt())
}

func TestLoadPromptSequence_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		seq     string
	}{
		{"unknown sequence", promptsYAML, "missing"},
		{"empty sequence", "protocol-assistant: []\n", "protocol-assistant"},
		{"mapping without input_prompt", "protocol-assistant:\n  - foo: bar\n", "protocol-assistant"},
		{"nested list step", "protocol-assistant:\n  - [a, b]\n", "protocol-assistant"},
		{"not yaml", "protocol-assistant: [\n", "protocol-assistant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "prompts.yaml", tt.content)
			_, err := LoadPromptSequence(path, tt.seq)
			assert.Error(t, err)
		})
	}
}

func TestStaticPrompts_StepsIsCopy(t *testing.T) {
	prompts := StaticPrompts{{Text: "a"}}

	steps := prompts.Steps()
	steps[0].Text = "mutated"

	assert.Equal(t, "a", prompts[0].Text)
}

func TestPromptStore_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prompts.yaml", promptsYAML)

	store, err := NewPromptStore(path, "protocol-assistant")
	require.NoError(t, err)
	require.Len(t, store.Steps(), 2)

	writeFile(t, dir, "prompts.yaml", "protocol-assistant: [\n")
	assert.Error(t, store.Reload())
	assert.Len(t, store.Steps(), 2)

	writeFile(t, dir, "prompts.yaml", "protocol-assistant:\n  - only\n")
	require.NoError(t, store.Reload())
	assert.Equal(t, []PromptStep{{Text: "only"}}, store.Steps())
}

func TestPromptStore_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prompts.yaml", promptsYAML)

	store, err := NewPromptStore(path, "protocol-assistant")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))
	assert.Error(t, store.Watch(ctx), "second Watch must fail")

	writeFile(t, dir, "prompts.yaml", "protocol-assistant:\n  - first\n  - second\n  - third\n")

	assert.Eventually(t, func() bool {
		return len(store.Steps()) == 3
	}, 5*time.Second, 20*time.Millisecond)

	// Unrelated files in the directory are ignored.
	writeFile(t, dir, "other.yaml", "protocol-assistant: [\n")
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, store.Steps(), 3)

	assert.NoError(t, store.Close())
}

func TestPromptStore_CloseWithoutWatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "prompts.yaml", promptsYAML)
	store, err := NewPromptStore(path, "protocol-assistant")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
}

// =============================================================================
// Environment Tests
// =============================================================================

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "LABASSISTANT_TEST_DOTENV=from-file\nLABASSISTANT_TEST_PRESET=from-file\n")
	t.Setenv("LABASSISTANT_TEST_PRESET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("LABASSISTANT_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))

	assert.Equal(t, "from-file", os.Getenv("LABASSISTANT_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("LABASSISTANT_TEST_PRESET"))
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LABASSISTANT_TEST_STR", "  value ")
	t.Setenv("LABASSISTANT_TEST_INT", "42")
	t.Setenv("LABASSISTANT_TEST_BADINT", "forty")
	t.Setenv("LABASSISTANT_TEST_DUR", "90s")
	t.Setenv("LABASSISTANT_TEST_BADDUR", "soon")

	assert.Equal(t, "value", EnvString("LABASSISTANT_TEST_STR", "def"))
	assert.Equal(t, "def", EnvString("LABASSISTANT_TEST_UNSET", "def"))

	n, err := EnvInt("LABASSISTANT_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = EnvInt("LABASSISTANT_TEST_UNSET", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = EnvInt("LABASSISTANT_TEST_BADINT", 1)
	assert.Error(t, err)

	d, err := EnvDuration("LABASSISTANT_TEST_DUR", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = EnvDuration("LABASSISTANT_TEST_UNSET", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = EnvDuration("LABASSISTANT_TEST_BADDUR", time.Minute)
	assert.Error(t, err)
}
