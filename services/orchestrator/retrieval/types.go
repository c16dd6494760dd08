// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"os"
	"strconv"
)

// Confidence is the reasoning step's self-assessed retrieval confidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// NormalizeConfidence maps free-form LLM output onto a known label.
// Unknown or empty labels degrade to low, which biases the gate toward
// the graceful-decline path rather than a confident wrong answer.
func NormalizeConfidence(raw string) Confidence {
	switch raw {
	case "high", "High", "HIGH":
		return ConfidenceHigh
	case "medium", "Medium", "MEDIUM":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// SearchResult is a single ranked candidate from the hybrid chunk path.
//
// # Description
//
// Candidates come from the semantic arm (cosine similarity over dense
// vectors), the keyword arm (BM25 full-text match), or both. Score semantics
// depend on the stage: raw arm score before fusion, RRF score after fusion,
// normalized judge score after re-ranking.
type SearchResult struct {
	// Content is the chunk text.
	Content string `json:"content"`

	// FileName is the originating upload.
	FileName string `json:"file_name"`

	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int `json:"chunk_index"`

	// PageNumber is the source page, 0 if unknown.
	PageNumber int `json:"page_number,omitempty"`

	// Score is the relevance score for the current stage.
	Score float64 `json:"score"`

	// Source tags which retrieval arm produced the candidate:
	// "semantic", "keyword", or "hybrid" when fused from both.
	Source string `json:"source"`

	// Metadata carries optional structural context from ingestion.
	Metadata *ChunkMetadata `json:"metadata,omitempty"`
}

// ChunkMetadata is structural context attached to a chunk at ingestion time.
type ChunkMetadata struct {
	// SectionPath is the heading hierarchy joined by " > ".
	SectionPath string `json:"section_path,omitempty"`

	// ElementType tags the structural element ("paragraph", "table",
	// "definition", "list").
	ElementType string `json:"element_type,omitempty"`

	// IsDefinition marks defined-terms chunks.
	IsDefinition bool `json:"is_definition,omitempty"`

	// HasCrossReference marks chunks citing other articles.
	HasCrossReference bool `json:"has_cross_reference,omitempty"`
}

// resultKey identifies a candidate across both retrieval arms for fusion.
func (r *SearchResult) resultKey() string {
	return r.FileName + "#" + strconv.Itoa(r.ChunkIndex)
}

// RetrievalSource is the normalized source shape both retrieval paths
// converge to before context assembly.
//
// # Description
//
// Index is assigned at assembly time, 1-based in presentation order, and is
// not stable across candidate-set changes. NodeID or ChunkIndex preserves the
// origin identity for traceability.
type RetrievalSource struct {
	// Index is the 1-based citation number. Zero until assembly.
	Index int `json:"index"`

	// NodeID is set for tree-path sources.
	NodeID string `json:"node_id,omitempty"`

	// ChunkIndex is set for hybrid-path sources.
	ChunkIndex int `json:"chunk_index,omitempty"`

	// DocumentID identifies the owning document.
	DocumentID string `json:"document_id,omitempty"`

	// FileName is the originating upload, used for source labels.
	FileName string `json:"file_name,omitempty"`

	// SectionPath is the breadcrumb from tree root to node, joined by " > ".
	SectionPath string `json:"section_path,omitempty"`

	// PageStart and PageEnd are the inclusive page range.
	PageStart int `json:"page_start,omitempty"`
	PageEnd   int `json:"page_end,omitempty"`

	// Content is the excerpt. Assembly truncates the stored copy to a fixed
	// character budget; the LLM context may use a longer excerpt.
	Content string `json:"content"`

	// FileURL is an optional short-lived signed link populated by the
	// caller's storage layer. This core only carries it through.
	FileURL string `json:"file_url,omitempty"`

	// Similarity is the relevance score from the producing stage.
	Similarity float64 `json:"similarity,omitempty"`
}

// RetrievalResult is the outcome of one retrieval pass (one tree, or the
// fused hybrid candidate set).
type RetrievalResult struct {
	// NodeIDs are the selected node identifiers, in selection order.
	NodeIDs []string `json:"node_ids,omitempty"`

	// Reasoning is the delegated reasoning step's free-text justification.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the normalized confidence label.
	Confidence Confidence `json:"confidence"`

	// Sources are the resolved sources in selection order.
	Sources []RetrievalSource `json:"sources"`

	// Content is the concatenated excerpt text for prompt assembly.
	Content string `json:"content,omitempty"`
}

// CitationMap maps an original 1-based reference number to its new
// contiguous 1-based number. Built once per response and used for exactly
// one rewrite pass; numbers absent from the map are left untouched.
type CitationMap map[int]int

// =============================================================================
// Configuration
// =============================================================================

// SearchConfig holds tunables for the hybrid search engine.
//
// All values are immutable after construction; components never read
// configuration from mutable global state.
type SearchConfig struct {
	// TopK is the number of results returned to the caller.
	// Default: 5
	TopK int

	// InitialTopK is the per-arm candidate count before fusion, larger than
	// TopK to leave room for fusion and re-ranking.
	// Default: 15
	InitialTopK int

	// RRFK is the reciprocal rank fusion smoothing constant.
	// Default: 60
	RRFK int

	// MinSimilarity is the floor applied after fusion/re-ranking, and the
	// floor passed to the semantic-only fallback.
	// Default: 0.3
	MinSimilarity float64

	// EnableReranking toggles the LLM judge re-ranking stage.
	// Default: true
	EnableReranking bool

	// RerankModel is the judge model name.
	// Default: "gpt-4o-mini"
	RerankModel string

	// RerankMaxTokens bounds the judge response.
	// Default: 200
	RerankMaxTokens int
}

// DefaultSearchConfig returns the default hybrid search configuration.
//
// Values can be overridden via environment variables:
//   - SEARCH_TOP_K (default: 5)
//   - SEARCH_INITIAL_TOP_K (default: 15)
//   - SEARCH_RRF_K (default: 60)
//   - SEARCH_MIN_SIMILARITY (default: 0.3)
//   - SEARCH_ENABLE_RERANKING (default: true)
//   - SEARCH_RERANK_MODEL (default: "gpt-4o-mini")
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:            getEnvInt("SEARCH_TOP_K", 5),
		InitialTopK:     getEnvInt("SEARCH_INITIAL_TOP_K", 15),
		RRFK:            getEnvInt("SEARCH_RRF_K", 60),
		MinSimilarity:   getEnvFloat("SEARCH_MIN_SIMILARITY", 0.3),
		EnableReranking: getEnvBool("SEARCH_ENABLE_RERANKING", true),
		RerankModel:     getEnvString("SEARCH_RERANK_MODEL", "gpt-4o-mini"),
		RerankMaxTokens: getEnvInt("SEARCH_RERANK_MAX_TOKENS", 200),
	}
}

// TreeConfig holds tunables for the tree retriever.
type TreeConfig struct {
	// Model is the reasoning model used for section selection.
	// Default: "gpt-4o-mini"
	Model string

	// MaxSources caps how many selected nodes are resolved per tree.
	// Default: 5
	MaxSources int

	// SummaryChars truncates each node summary in the serialized outline.
	// Default: 250
	SummaryChars int

	// OutlineTokenBudget bounds the serialized outline sent to the
	// reasoning step. Outlines exceeding the budget are hard-truncated.
	// Default: 6000
	OutlineTokenBudget int

	// ReasoningMaxTokens bounds the reasoning response.
	// Default: 1024
	ReasoningMaxTokens int

	// Parallelism bounds the fan-out for multi-document retrieval.
	// Default: 4
	Parallelism int

	// TimeoutMs is the per-tree deadline for the reasoning call.
	// Default: 30000
	TimeoutMs int
}

// DefaultTreeConfig returns the default tree retrieval configuration.
//
// Values can be overridden via environment variables:
//   - TREE_REASONING_MODEL (default: "gpt-4o-mini")
//   - TREE_MAX_SOURCES (default: 5)
//   - TREE_SUMMARY_CHARS (default: 250)
//   - TREE_OUTLINE_TOKEN_BUDGET (default: 6000)
//   - TREE_REASONING_MAX_TOKENS (default: 1024)
//   - TREE_PARALLELISM (default: 4)
//   - TREE_TIMEOUT_MS (default: 30000)
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		Model:              getEnvString("TREE_REASONING_MODEL", "gpt-4o-mini"),
		MaxSources:         getEnvInt("TREE_MAX_SOURCES", 5),
		SummaryChars:       getEnvInt("TREE_SUMMARY_CHARS", 250),
		OutlineTokenBudget: getEnvInt("TREE_OUTLINE_TOKEN_BUDGET", 6000),
		ReasoningMaxTokens: getEnvInt("TREE_REASONING_MAX_TOKENS", 1024),
		Parallelism:        getEnvInt("TREE_PARALLELISM", 4),
		TimeoutMs:          getEnvInt("TREE_TIMEOUT_MS", 30000),
	}
}

// AssembleConfig holds tunables for context assembly.
type AssembleConfig struct {
	// ExcerptChars is the per-source display/storage budget. Truncated
	// excerpts get an ellipsis marker appended.
	// Default: 500
	ExcerptChars int

	// ContextChars is the per-source budget for the LLM context block,
	// independent of (and typically larger than) ExcerptChars.
	// Default: 2000
	ContextChars int
}

// DefaultAssembleConfig returns the default assembly configuration.
//
// Values can be overridden via environment variables:
//   - ASSEMBLE_EXCERPT_CHARS (default: 500)
//   - ASSEMBLE_CONTEXT_CHARS (default: 2000)
func DefaultAssembleConfig() AssembleConfig {
	return AssembleConfig{
		ExcerptChars: getEnvInt("ASSEMBLE_EXCERPT_CHARS", 500),
		ContextChars: getEnvInt("ASSEMBLE_CONTEXT_CHARS", 2000),
	}
}

// =============================================================================
// Env Helpers
// =============================================================================

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if not set/invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set/invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
