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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Prompt Steps
// =============================================================================

// PromptStep is one prompt of a chat sequence.
//
// In YAML a step is either literal text or a reference to a prompt stored
// in the upstream backend:
//
//	protocol-assistant:
//	  - "You are a protocol reviewer. Summarize the following request: "
//	  - input_prompt: protocol-action
type PromptStep struct {
	// Text is the literal prompt. Empty when InputPrompt is set.
	Text string

	// InputPrompt names an upstream input prompt whose content is the step.
	InputPrompt string
}

// IsInputPrompt reports whether the step must be resolved upstream.
func (s PromptStep) IsInputPrompt() bool {
	return s.InputPrompt != ""
}

// UnmarshalYAML accepts a scalar or an {input_prompt: name} mapping.
func (s *PromptStep) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var text string
		if err := node.Decode(&text); err != nil {
			return err
		}
		*s = PromptStep{Text: text}
		return nil

	case yaml.MappingNode:
		var ref struct {
			InputPrompt string `yaml:"input_prompt"`
		}
		if err := node.Decode(&ref); err != nil {
			return err
		}
		if ref.InputPrompt == "" {
			return fmt.Errorf("line %d: prompt step mapping requires input_prompt", node.Line)
		}
		*s = PromptStep{InputPrompt: ref.InputPrompt}
		return nil

	default:
		return fmt.Errorf("line %d: prompt step must be a string or an input_prompt mapping", node.Line)
	}
}

// LoadPromptSequence reads the named sequence from a prompt sequence file.
//
// An absent or empty sequence is an error; the chat saga needs at least
// one prompt.
func LoadPromptSequence(path, name string) ([]PromptStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt sequence: %w", err)
	}

	var sequences map[string][]PromptStep
	if err := yaml.Unmarshal(data, &sequences); err != nil {
		return nil, fmt.Errorf("parse prompt sequence %s: %w", path, err)
	}

	steps := sequences[name]
	if len(steps) == 0 {
		return nil, fmt.Errorf("prompt sequence %q not found or empty in %s", name, path)
	}
	return steps, nil
}

// =============================================================================
// Prompt Providers
// =============================================================================

// StaticPrompts is a fixed prompt sequence.
type StaticPrompts []PromptStep

// Steps returns a copy of the sequence.
func (p StaticPrompts) Steps() []PromptStep {
	return append([]PromptStep(nil), p...)
}

// PromptStore holds the current prompt sequence and reloads it when the
// file changes.
//
// # Thread Safety
//
// Safe for concurrent use. Steps never blocks on a reload in progress for
// longer than a slice swap.
type PromptStore struct {
	path string
	name string

	mu    sync.RWMutex
	steps []PromptStep

	watcher *fsnotify.Watcher
}

// NewPromptStore loads the named sequence from path.
func NewPromptStore(path, name string) (*PromptStore, error) {
	steps, err := LoadPromptSequence(path, name)
	if err != nil {
		return nil, err
	}
	return &PromptStore{path: path, name: name, steps: steps}, nil
}

// Steps returns a copy of the current sequence.
func (s *PromptStore) Steps() []PromptStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PromptStep(nil), s.steps...)
}

// Reload re-reads the file. On failure the current sequence is kept.
func (s *PromptStore) Reload() error {
	steps, err := LoadPromptSequence(s.path, s.name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.steps = steps
	s.mu.Unlock()

	slog.Info("Prompt sequence reloaded", "path", s.path, "name", s.name, "steps", len(steps))
	return nil
}

// Watch starts reloading the sequence whenever the file is written.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by writing a temp file and renaming it are picked up. Watch returns
// once the watcher is registered; events are handled in a goroutine until
// ctx is cancelled or Close is called.
//
// # Outputs
//
//   - error: Non-nil if the watcher cannot be created or the directory
//     cannot be watched. Watch may only be called once.
func (s *PromptStore) Watch(ctx context.Context) error {
	if s.watcher != nil {
		return errors.New("prompt store is already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	slog.Debug("Watching prompt sequence", "path", s.path)
	go s.run(ctx, watcher)
	return nil
}

func (s *PromptStore) run(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(s.path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("Prompt sequence reload failed, keeping previous sequence",
					"path", s.path,
					"error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Prompt watcher error", "error", err)

		case <-ctx.Done():
			_ = watcher.Close()
			return
		}
	}
}

// Close stops watching. Safe to call when Watch was never called.
func (s *PromptStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
