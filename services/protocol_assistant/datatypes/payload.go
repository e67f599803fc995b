// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types of the protocol assistant API and
// of the upstream chat backend it proxies.
package datatypes

// =============================================================================
// Chat Turn Payload
// =============================================================================

// FileDescriptor references a file already uploaded to the upstream backend.
// Only the first chat turn carries descriptors.
type FileDescriptor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// RetrievalFilters mirrors the upstream backend's search filter object.
// Every field is sent as null or empty; the assistant never filters.
type RetrievalFilters struct {
	SourceType  []string `json:"source_type"`
	DocumentSet []string `json:"document_set"`
	TimeCutoff  *string  `json:"time_cutoff"`
	Tags        []string `json:"tags"`
}

// RetrievalOptions controls the upstream backend's document search.
type RetrievalOptions struct {
	RunSearch string           `json:"run_search"`
	RealTime  bool             `json:"real_time"`
	Filters   RetrievalFilters `json:"filters"`
}

// ChatTurnPayload is the body of one send-message call.
//
// ParentMessageID is nil for the first turn of a session, which encodes as
// JSON null. Later turns address the assistant message reserved by the
// previous turn.
type ChatTurnPayload struct {
	AlternateAssistantID int              `json:"alternate_assistant_id"`
	ChatSessionID        string           `json:"chat_session_id"`
	ParentMessageID      *int64           `json:"parent_message_id"`
	Message              string           `json:"message"`
	PromptID             int              `json:"prompt_id"`
	SearchDocIDs         []int64          `json:"search_doc_ids"`
	FileDescriptors      []FileDescriptor `json:"file_descriptors"`
	Regenerate           bool             `json:"regenerate"`
	RetrievalOptions     RetrievalOptions `json:"retrieval_options"`
	PromptOverride       map[string]any   `json:"prompt_override"`
	LLMOverride          map[string]any   `json:"llm_override"`
}

// NewBaseChatPayload returns the payload shared by every turn of a session.
func NewBaseChatPayload(chatSessionID string) ChatTurnPayload {
	return ChatTurnPayload{
		AlternateAssistantID: 0,
		ChatSessionID:        chatSessionID,
		ParentMessageID:      nil,
		Message:              "",
		PromptID:             0,
		SearchDocIDs:         nil,
		FileDescriptors:      []FileDescriptor{},
		Regenerate:           false,
		RetrievalOptions: RetrievalOptions{
			RunSearch: "auto",
			RealTime:  true,
			Filters: RetrievalFilters{
				Tags: []string{},
			},
		},
	}
}

// ForTurn returns a copy of the base payload addressed to one turn.
//
// The copy owns its descriptor and tag slices, so turns built from the same
// base never observe each other's descriptors. A nil descriptors slice is
// sent as an empty list.
func (p ChatTurnPayload) ForTurn(parentMessageID *int64, message string, descriptors []FileDescriptor) ChatTurnPayload {
	turn := p
	turn.Message = message

	if parentMessageID != nil {
		id := *parentMessageID
		turn.ParentMessageID = &id
	} else {
		turn.ParentMessageID = nil
	}

	turn.FileDescriptors = make([]FileDescriptor, len(descriptors))
	copy(turn.FileDescriptors, descriptors)

	turn.RetrievalOptions.Filters.Tags = append([]string{}, p.RetrievalOptions.Filters.Tags...)
	return turn
}

// CreateChatSessionRequest is the body of the create-chat-session call.
type CreateChatSessionRequest struct {
	PersonaID   int    `json:"persona_id"`
	Description string `json:"description"`
}

// CreateChatSessionResponse is the relevant part of the upstream reply.
type CreateChatSessionResponse struct {
	ChatSessionID string `json:"chat_session_id"`
}

// InputPrompt is one entry of the upstream input prompt list.
type InputPrompt struct {
	ID      int    `json:"id"`
	Prompt  string `json:"prompt"`
	Content string `json:"content"`
	Active  bool   `json:"active"`
}
