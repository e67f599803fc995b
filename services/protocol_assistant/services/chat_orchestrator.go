// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/datatypes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/observability"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/stream"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/upstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("labassistant.protocol_assistant.chat")

// DefaultChatTimeout bounds a whole chat request.
const DefaultChatTimeout = 5 * time.Minute

// Saga steps, used as the "step" label of labassistant_chat_saga_total.
const (
	stepPrompts  = "resolve_prompts"
	stepUpload   = "upload"
	stepSession  = "create_session"
	stepSend     = "send_message"
	stepCollect  = "collect_stream"
	stepReserve  = "reserve_message_id"
	stepExtract  = "extract_summary"
	stepComplete = "complete"
)

// =============================================================================
// Collaborators
// =============================================================================

// ChatBackend is the upstream session API. Implemented by *upstream.Client.
type ChatBackend interface {
	CreateChatSession(ctx context.Context, personaID int) (string, error)
	GetPromptContent(ctx context.Context, name string) (string, error)
	SendMessage(ctx context.Context, payload datatypes.ChatTurnPayload) (io.ReadCloser, error)
}

// Uploader forwards files. Implemented by *UploadService.
type Uploader interface {
	Upload(ctx context.Context, files []datatypes.UploadedFile, validate bool) (*datatypes.UploadResult, error)
}

// PromptProvider supplies the current prompt sequence. Implemented by
// *config.PromptStore and config.StaticPrompts.
type PromptProvider interface {
	Steps() []config.PromptStep
}

// ParentMessageFunc derives the parent_message_id of the next turn from the
// final message of the previous one.
type ParentMessageFunc func(msg stream.Message) (int64, bool)

// ReservedAssistantMessageID returns parent_message + 1.
//
// The backend reserves the assistant reply's id right after the user
// message it answers, and reports that user message as parent_message.
// Returns false when parent_message is absent or not an integer.
func ReservedAssistantMessageID(msg stream.Message) (int64, bool) {
	parent, ok := msg.Int64("parent_message")
	if !ok {
		return 0, false
	}
	return parent + 1, true
}

// =============================================================================
// ChatOrchestrator
// =============================================================================

// ChatOrchestratorOptions configures a ChatOrchestrator.
type ChatOrchestratorOptions struct {
	// PersonaID is sent when creating the chat session. Default: 0.
	PersonaID int

	// Timeout bounds one Handle call. Default: DefaultChatTimeout.
	Timeout time.Duration

	// ParentMessageFunc defaults to ReservedAssistantMessageID.
	ParentMessageFunc ParentMessageFunc

	// Metrics may be nil.
	Metrics *observability.Metrics
}

// ChatOrchestrator runs the chat saga: optional upload, session creation,
// then one dependent turn per prompt.
//
// # Description
//
//	files? ──► Upload ──► descriptors
//	                          │
//	CreateChatSession ──► turn 1: prompts[0] + user request, parent=null
//	                          │   collect stream ─► parent_message
//	                          ▼
//	            turn i: prompts[i], parent=ParentMessageFunc(previous)
//	                          │
//	                          ▼
//	            last turn's message parsed as JSON ─► summary
//
// Steps run strictly in order and the first failure ends the saga. Nothing
// is retried.
//
// # Thread Safety
//
// Safe for concurrent use; each Handle call owns its state.
type ChatOrchestrator struct {
	backend  ChatBackend
	uploader Uploader
	prompts  PromptProvider
	opts     ChatOrchestratorOptions
}

// NewChatOrchestrator returns a ChatOrchestrator with defaults applied.
func NewChatOrchestrator(backend ChatBackend, uploader Uploader, prompts PromptProvider, opts ChatOrchestratorOptions) *ChatOrchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultChatTimeout
	}
	if opts.ParentMessageFunc == nil {
		opts.ParentMessageFunc = ReservedAssistantMessageID
	}
	return &ChatOrchestrator{
		backend:  backend,
		uploader: uploader,
		prompts:  prompts,
		opts:     opts,
	}
}

// Handle runs the saga for one chat request.
//
// # Inputs
//
//   - ctx: Request context. Handle adds its own deadline.
//   - userRequest: Appended to the first prompt.
//   - files: Optional; validated and uploaded before the session exists.
//   - claim: The caller's verified identity, used for logging.
//
// # Outputs
//
//   - any: The decoded JSON summary from the last turn. Never empty.
//   - error: Always a *datatypes.APIError.
func (o *ChatOrchestrator) Handle(ctx context.Context, userRequest string, files []datatypes.UploadedFile, claim *extensions.Claim) (summary any, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "ChatOrchestrator.Handle")
	defer span.End()

	uid := ""
	if claim != nil {
		uid = claim.UID
	}
	logger := slog.With("uid", uid)
	span.SetAttributes(attribute.String("user.uid", uid), attribute.Int("chat.files", len(files)))

	step := stepPrompts
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.opts.Metrics.RecordSaga(observability.ResultFailure, step)
			logger.Error("Chat saga failed", "step", step, "error", err)
			return
		}
		o.opts.Metrics.RecordSaga(observability.ResultSuccess, stepComplete)
	}()

	prompts, err := o.resolvePrompts(ctx)
	if err != nil {
		return nil, err
	}

	// Step 1: upload
	var descriptors []datatypes.FileDescriptor
	if len(files) > 0 {
		step = stepUpload
		descriptors, err = o.upload(ctx, files)
		if err != nil {
			return nil, err
		}
		logger.Debug("File descriptors for uploaded files", "descriptors", descriptors)
	}

	// Step 2: session
	step = stepSession
	sessionID, err := o.backend.CreateChatSession(ctx, o.opts.PersonaID)
	if err != nil {
		return nil, upstreamFailure("Failed to create chat session", err)
	}
	span.SetAttributes(attribute.String("chat.session_id", sessionID))
	logger = logger.With("chat_session_id", sessionID)

	// Step 3..N: dependent turns
	base := datatypes.NewBaseChatPayload(sessionID)
	var parent *int64
	last := len(prompts) - 1

	for i, prompt := range prompts {
		message := prompt
		turnDescriptors := []datatypes.FileDescriptor{}
		if i == 0 {
			message = prompt + userRequest
			turnDescriptors = descriptors
		}

		step = stepSend
		logger.Info("Sending turn", "turn", i+1, "of", len(prompts), "message_bytes", len(message))
		msg, err := o.sendTurn(ctx, base.ForTurn(parent, message, turnDescriptors), i, &step)
		if err != nil {
			return nil, err
		}

		text, _ := msg.String("message")
		if i == last {
			step = stepExtract
			result, ok := stream.ExtractJSON(text)
			if !ok || stream.IsEmpty(result) {
				return nil, datatypes.NewProcessingError("Failed to extract final protocol summary from response", nil)
			}
			logger.Info("Final protocol summary extracted")
			return result, nil
		}

		if intermediate, ok := intermediateSummary(text); ok {
			logger.Info("Extracted intermediate protocol summary", "turn", i+1, "summary", intermediate)
		} else {
			logger.Warn("Intermediate message is not JSON", "turn", i+1)
		}

		step = stepReserve
		reserved, ok := o.opts.ParentMessageFunc(msg)
		if !ok {
			return nil, datatypes.NewProcessingError("Failed to calculate reserved_assistant_message_id", nil)
		}
		logger.Info("Reserved assistant message ID", "turn", i+1, "reserved_assistant_message_id", reserved)
		parent = &reserved
	}

	// Unreachable: resolvePrompts guarantees at least one prompt.
	return nil, datatypes.NewProcessingError("Prompt sequence is empty", nil)
}

// intermediateSummary decodes a non-final turn's message. It is only
// logged, so a ```json fenced reply is accepted as well.
func intermediateSummary(text string) (any, bool) {
	if value, ok := stream.ExtractJSON(text); ok {
		return value, true
	}
	return stream.ExtractJSONMarkdown(text)
}

// sendTurn posts one turn and collects its final streamed message.
func (o *ChatOrchestrator) sendTurn(ctx context.Context, payload datatypes.ChatTurnPayload, turn int, step *string) (stream.Message, error) {
	ctx, span := tracer.Start(ctx, "ChatOrchestrator.turn")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.turn", turn+1))

	body, err := o.backend.SendMessage(ctx, payload)
	if err != nil {
		span.RecordError(err)
		return nil, upstreamFailure(sendDetail(turn), err)
	}
	defer body.Close()

	*step = stepCollect
	msg, ok, err := stream.Collect(ctx, body)
	if err != nil {
		span.RecordError(err)
		return nil, upstreamFailure(processDetail(turn), err)
	}
	if !ok {
		return nil, datatypes.NewProcessingError(processDetail(turn), nil)
	}
	return msg, nil
}

// resolvePrompts returns the prompt texts, fetching input prompt steps from
// the backend.
func (o *ChatOrchestrator) resolvePrompts(ctx context.Context) ([]string, error) {
	steps := o.prompts.Steps()
	if len(steps) == 0 {
		return nil, datatypes.NewProcessingError("Prompt sequence is empty", nil)
	}

	prompts := make([]string, len(steps))
	for i, s := range steps {
		if !s.IsInputPrompt() {
			prompts[i] = s.Text
			continue
		}
		content, err := o.backend.GetPromptContent(ctx, s.InputPrompt)
		if errors.Is(err, upstream.ErrPromptNotFound) {
			return nil, datatypes.NewProcessingError(fmt.Sprintf("Prompt '%s' not found", s.InputPrompt), err)
		}
		if err != nil {
			return nil, upstreamFailure("Failed to retrieve prompt content", err)
		}
		prompts[i] = content
	}
	return prompts, nil
}

// upload validates and forwards files and maps the result to descriptors.
func (o *ChatOrchestrator) upload(ctx context.Context, files []datatypes.UploadedFile) ([]datatypes.FileDescriptor, error) {
	result, err := o.uploader.Upload(ctx, files, true)
	if err != nil {
		apiErr, ok := datatypes.AsAPIError(err)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, upstreamFailure("Failed to upload files", err)
		case ok && apiErr.Kind == datatypes.KindUpstream:
			return nil, apiErr.WithDetail("Failed to upload files")
		case ok:
			return nil, apiErr
		default:
			return nil, upstreamFailure("Failed to upload files", err)
		}
	}
	if !result.HasFiles {
		apiErr := datatypes.NewProcessingError("Failed to upload files", nil)
		apiErr.UpstreamBody = string(result.Body)
		return nil, apiErr
	}
	return result.Descriptors(), nil
}

// upstreamFailure maps an upstream call error to an APIError: deadline
// expiry is 504, a non-2xx reply mirrors its status and body, anything else
// is 502.
func upstreamFailure(detail string, err error) *datatypes.APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return datatypes.NewUpstreamServiceError(504, detail, "request deadline exceeded", nil, err)
	}
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return datatypes.NewUpstreamServiceError(statusErr.StatusCode, detail, statusErr.Body, nil, err)
	}
	return datatypes.NewUpstreamServiceError(0, detail, err.Error(), nil, err)
}

func sendDetail(turn int) string {
	switch turn {
	case 0:
		return "Failed to send message"
	case 1:
		return "Failed to send second message"
	default:
		return fmt.Sprintf("Failed to send message %d", turn+1)
	}
}

func processDetail(turn int) string {
	switch turn {
	case 0:
		return "Failed to process initial response"
	case 1:
		return "Failed to process second response"
	default:
		return fmt.Sprintf("Failed to process response %d", turn+1)
	}
}
