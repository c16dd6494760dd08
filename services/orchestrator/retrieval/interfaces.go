// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval implements the retrieval-and-citation core for legal
// document question answering.
//
// # Description
//
// The package provides the full pipeline between a raw user query and the
// numbered, citation-addressable context handed to answer generation:
//
//   - OffTopicGate: pattern pre-filter for unambiguous non-domain queries
//   - LegalQueryExpander: synonym and cross-reference query augmentation
//   - HybridSearchEngine: semantic + keyword retrieval fused with RRF,
//     with optional LLM judge re-ranking
//   - TreeRetriever: reasoning-delegated section selection over a
//     hierarchical document tree
//   - ConfidenceGate: decision table on whether to answer at all
//   - ContextAssembler: numbered context block rendering
//   - CitationProcessor: citation extraction, source filtering, and stable
//     renumbering over the completed answer text
//
// # Architecture
//
// External collaborators (embedding service, chunk store, reasoning model,
// answer generation) sit behind the small interfaces in this file so tests
// can substitute fakes. No component holds a lock across an I/O boundary;
// configuration is immutable after construction.
//
// # Thread Safety
//
// All implementations in this package are safe for concurrent use.
package retrieval

import (
	"context"

	"github.com/counselops/lexsearch/services/orchestrator/doctree"
)

// EmbeddingProvider defines the interface for computing text embeddings.
//
// # Description
//
// EmbeddingProvider wraps calls to the embedding model to convert text into
// dense vectors for semantic search. Implementations truncate over-long
// input before calling the backend and return a typed error on failure.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type EmbeddingProvider interface {
	// Embed computes a vector embedding for the given text.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout.
	//   - text: The text to embed. Must be non-empty; implementations
	//     truncate input exceeding the model limit.
	//
	// # Outputs
	//
	//   - []float32: The embedding vector (fixed dimensionality per model).
	//   - error: Non-nil on empty input, non-2xx backend response, or an
	//     empty result.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher defines the boundary to the chunk store's two retrieval arms.
//
// # Description
//
// The hybrid engine obtains the two ranked candidate lists independently and
// performs fusion itself, so the store only needs a semantic variant and a
// keyword variant. Both return up to limit candidates ranked best-first.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChunkSearcher interface {
	// SemanticSearch returns candidates ranked by vector similarity.
	// minSimilarity drops candidates below the floor at the store level;
	// pass 0 to disable.
	SemanticSearch(ctx context.Context, vector []float32, scope SearchScope, limit int, minSimilarity float64) ([]SearchResult, error)

	// KeywordSearch returns candidates ranked by lexical (BM25) match.
	KeywordSearch(ctx context.Context, query string, scope SearchScope, limit int) ([]SearchResult, error)
}

// SearchScope restricts retrieval to an owner and optionally to documents.
type SearchScope struct {
	// OwnerID is the uploading user. Required.
	OwnerID string

	// DocumentIDs optionally restricts the search to specific documents.
	DocumentIDs []string
}

// TreeStore defines the boundary to persisted document trees.
//
// # Description
//
// Trees are built at ingestion time by an external pipeline and persisted per
// document. This core only reads them.
type TreeStore interface {
	// GetTree loads the indexed tree for a document.
	GetTree(ctx context.Context, documentID string) (*doctree.DocumentTree, error)
}

// GenerateFunc is a function type for delegated LLM text generation.
//
// # Description
//
// Using a function type instead of an interface allows callers to pass a
// simple closure over whatever LLM client they constructed, eliminating
// adapter structs. The tree retriever and the judge re-ranker both expect
// deterministic decoding (temperature 0) from the wrapped backend.
//
// # Example
//
//	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
//	    temp := float32(0)
//	    params := llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
//	    return client.Generate(ctx, prompt, params)
//	}
//	retriever := NewTreeRetriever(generate, DefaultTreeConfig())
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)
