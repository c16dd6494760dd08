// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"
)

// =============================================================================
// Ask API Wire Types
// =============================================================================

// AskRequest is the request body for POST /v1/ask and /v1/ask/stream.
type AskRequest struct {
	// Query is the user's question.
	Query string `json:"query" binding:"required"`

	// OwnerID scopes retrieval to one user's uploads.
	OwnerID string `json:"owner_id" binding:"required"`

	// DocumentIDs optionally restricts retrieval to specific documents.
	// Empty means all of the owner's documents.
	DocumentIDs []string `json:"document_ids,omitempty"`

	// Strategy selects the retrieval path: "tree", "hybrid", or "auto"
	// (empty defaults to auto).
	Strategy string `json:"strategy,omitempty"`

	// SectionContains optionally filters hybrid results to chunks whose
	// section path contains this substring.
	SectionContains string `json:"section_contains,omitempty"`

	// ElementType optionally filters hybrid results to one structural
	// element type.
	ElementType string `json:"element_type,omitempty"`
}

// Validate checks request invariants beyond what binding tags cover.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query must not be blank")
	}
	switch r.Strategy {
	case "", "auto", "tree", "hybrid":
	default:
		return fmt.Errorf("unknown strategy %q (want auto, tree, or hybrid)", r.Strategy)
	}
	return nil
}

// AskSource is one numbered source in an answer.
type AskSource struct {
	Index       int     `json:"index"`
	FileName    string  `json:"file_name,omitempty"`
	SectionPath string  `json:"section_path,omitempty"`
	PageStart   int     `json:"page_start,omitempty"`
	PageEnd     int     `json:"page_end,omitempty"`
	Excerpt     string  `json:"excerpt"`
	FileURL     string  `json:"file_url,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// AskResponse is the response body for POST /v1/ask.
type AskResponse struct {
	// Answer is the generated answer, or a graceful decline message when
	// Declined is true.
	Answer string `json:"answer"`

	// Declined is true when the confidence gate or the off-topic gate
	// refused to answer.
	Declined bool `json:"declined,omitempty"`

	// DeclineReason is the stable machine-readable decline code.
	DeclineReason string `json:"decline_reason,omitempty"`

	// Sources are the cited sources, renumbered contiguously from 1.
	Sources []AskSource `json:"sources,omitempty"`

	// Strategy reports which retrieval path produced the evidence.
	Strategy string `json:"strategy,omitempty"`

	// Confidence is the retrieval confidence label.
	Confidence string `json:"confidence,omitempty"`

	ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`
}

// =============================================================================
// Citation API Wire Types
// =============================================================================

// ProcessCitationsRequest is the request body for POST /v1/citations/process.
// It exposes the post-generation citation pass as its own operation so
// non-streaming generation frontends can reuse it.
type ProcessCitationsRequest struct {
	ResponseText string      `json:"response_text" binding:"required"`
	Sources      []AskSource `json:"sources"`
}

// ProcessCitationsResponse is the response body for POST /v1/citations/process.
type ProcessCitationsResponse struct {
	FilteredResponse string      `json:"filtered_response"`
	FilteredSources  []AskSource `json:"filtered_sources"`

	// CitationMap records old index → new index, keyed by the old index's
	// decimal form.
	CitationMap map[string]int `json:"citation_map,omitempty"`
}

// =============================================================================
// Streaming Wire Types
// =============================================================================

// StreamEvent is one SSE frame on POST /v1/ask/stream.
//
// Event types:
//   - "status": progress message before tokens start
//   - "token": one generation token in Content
//   - "done": final event; Answer carries the citation-processed response
//   - "error": stream failure; Error carries a sanitized message
//
// Each event carries a SHA-256 hash of its content plus the previous
// event's hash, giving clients a verifiable chain of custody over streamed
// legal answers.
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at,omitempty"`

	// Content is token text (type "token").
	Content string `json:"content,omitempty"`

	// Message is a status line (type "status").
	Message string `json:"message,omitempty"`

	// Error is a sanitized failure message (type "error").
	Error string `json:"error,omitempty"`

	// Answer is the final citation-processed response (type "done").
	Answer *AskResponse `json:"answer,omitempty"`

	Hash     string `json:"hash,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`
}
