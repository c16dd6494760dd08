// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies the kind of a streaming event.
type StreamEventType string

const (
	// StreamEventToken carries one generated content token.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone marks the end of the stream.
	StreamEventDone StreamEventType = "done"
	// StreamEventError carries a mid-stream backend error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one event emitted during streaming generation.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StreamCallback receives stream events in order. Returning a non-nil error
// aborts the stream.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream streams the generation token-by-token through the
	// callback and returns the accumulated full text.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) (string, error)
}
