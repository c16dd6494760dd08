// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lexsearch.orchestrator.retrieval")

// HybridSearchEngine issues semantic and keyword retrieval against the chunk
// store and fuses the results with Reciprocal Rank Fusion.
//
// # Description
//
// The two arms run independently and each return up to InitialTopK
// candidates; fusion, optional judge re-ranking, the minimum-similarity
// floor, and metadata filters are applied in that order. Filters run last so
// they never distort fused ranks.
//
// Degradation ladder:
//   - keyword arm fails: fuse the semantic list alone, log at Warn.
//   - semantic arm fails: retry semantic-only with the MinSimilarity floor
//     (the documented chunk-store fallback); if that also fails, return a
//     RetrievalError.
//   - judge re-ranking fails in any way: keep the RRF order.
//
// # Thread Safety
//
// HybridSearchEngine is safe for concurrent use.
type HybridSearchEngine struct {
	store    ChunkSearcher
	embedder EmbeddingProvider
	reranker *JudgeReranker
	config   SearchConfig
}

// SearchFilters are the optional post-fusion metadata filters.
type SearchFilters struct {
	// SectionContains keeps candidates whose section path contains the
	// given substring (case-insensitive).
	SectionContains string

	// ElementType keeps candidates of the given structural element type.
	ElementType string
}

// NewHybridSearchEngine creates a hybrid search engine.
//
// # Inputs
//
//   - store: The chunk store boundary.
//   - embedder: The embedding provider for the semantic arm.
//   - reranker: Optional judge re-ranker; nil disables re-ranking
//     regardless of config.
//   - config: Search configuration (use DefaultSearchConfig() for defaults).
func NewHybridSearchEngine(store ChunkSearcher, embedder EmbeddingProvider, reranker *JudgeReranker, config SearchConfig) *HybridSearchEngine {
	return &HybridSearchEngine{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		config:   validateSearchConfig(config),
	}
}

// validateSearchConfig validates and corrects search configuration values.
// Logs warnings for invalid values and applies defaults.
func validateSearchConfig(config SearchConfig) SearchConfig {
	defaults := DefaultSearchConfig()

	if config.TopK < 1 {
		slog.Warn("Invalid TopK config, using default",
			"provided", config.TopK, "default", defaults.TopK)
		config.TopK = defaults.TopK
	}
	if config.InitialTopK < config.TopK {
		slog.Warn("InitialTopK below TopK, using default",
			"provided", config.InitialTopK, "default", defaults.InitialTopK)
		config.InitialTopK = defaults.InitialTopK
	}
	if config.RRFK < 1 {
		slog.Warn("Invalid RRFK config, using default",
			"provided", config.RRFK, "default", defaults.RRFK)
		config.RRFK = defaults.RRFK
	}
	if config.MinSimilarity < 0 || config.MinSimilarity > 1 {
		slog.Warn("Invalid MinSimilarity config, using default",
			"provided", config.MinSimilarity, "default", defaults.MinSimilarity)
		config.MinSimilarity = defaults.MinSimilarity
	}
	return config
}

// Search runs the full hybrid retrieval pipeline for one query.
//
// # Description
//
// Embeds the query, obtains both ranked candidate lists, fuses with RRF,
// optionally re-ranks with the LLM judge (only when the fused count exceeds
// TopK), applies the minimum-similarity floor, applies metadata filters,
// and returns the top TopK.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: The (already expanded) query text. Must be non-empty.
//   - scope: Owner and optional document restriction.
//   - filters: Optional metadata filters; pass nil for none.
//
// # Outputs
//
//   - []SearchResult: Up to TopK candidates, best first.
//   - error: ErrEmptyQuery on empty input, an embedding error if the vector
//     could not be computed, or a RetrievalError once every fallback has
//     been exhausted.
func (e *HybridSearchEngine) Search(ctx context.Context, query string, scope SearchScope, filters *SearchFilters) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "HybridSearchEngine.Search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, err
	}

	fused, similarityScale, err := e.gatherAndFuse(ctx, query, vector, scope, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "all retrieval arms failed")
		return nil, err
	}

	// Re-rank only when there is something to cut; a list at or under TopK
	// gains nothing from a judge call.
	if e.config.EnableReranking && e.reranker != nil && len(fused) > e.config.TopK {
		reranked, applied := e.reranker.Rerank(ctx, query, fused)
		span.SetAttributes(attribute.Bool("search.reranked", applied))
		fused = reranked
		if applied {
			similarityScale = true
		}
	}

	fused = e.applyMinSimilarity(fused, similarityScale)
	fused = applyMetadataFilters(fused, filters)

	if len(fused) > e.config.TopK {
		fused = fused[:e.config.TopK]
	}
	span.SetAttributes(attribute.Int("search.results", len(fused)))
	return fused, nil
}

// gatherAndFuse obtains both candidate lists and fuses them, degrading one
// arm at a time before giving up. The returned bool reports whether the
// result scores are on the [0,1] similarity scale (true for the
// semantic-only store fallback) rather than the RRF scale.
func (e *HybridSearchEngine) gatherAndFuse(ctx context.Context, query string, vector []float32, scope SearchScope, span trace.Span) ([]SearchResult, bool, error) {
	semantic, semErr := e.store.SemanticSearch(ctx, vector, scope, e.config.InitialTopK, 0)
	keyword, kwErr := e.store.KeywordSearch(ctx, query, scope, e.config.InitialTopK)

	switch {
	case semErr == nil && kwErr == nil:
		span.SetAttributes(
			attribute.Int("search.semantic_candidates", len(semantic)),
			attribute.Int("search.keyword_candidates", len(keyword)),
		)
		return FuseRRF(semantic, keyword, e.config.RRFK), false, nil

	case semErr == nil:
		slog.Warn("Keyword search failed, fusing semantic arm only", "error", kwErr)
		span.SetAttributes(attribute.String("search.degraded", "keyword_arm"))
		return FuseRRF(semantic, nil, e.config.RRFK), false, nil

	default:
		// Semantic arm failed. The documented fallback is a semantic-only
		// retry with the minimum-similarity floor applied at the store.
		slog.Warn("Hybrid search failed, falling back to semantic-only with similarity floor",
			"semanticError", semErr, "keywordError", kwErr)
		span.SetAttributes(attribute.String("search.degraded", "semantic_fallback"))

		fallback, fbErr := e.store.SemanticSearch(ctx, vector, scope, e.config.InitialTopK, e.config.MinSimilarity)
		if fbErr != nil {
			return nil, false, &RetrievalError{Op: "semantic_search", Err: fbErr}
		}
		return fallback, true, nil
	}
}

// applyMinSimilarity drops candidates below the configured floor.
//
// The floor only makes sense for scores in [0,1] similarity space (store
// similarity or normalized judge scores). Raw RRF scores top out at
// 2/(k+1), far below any sensible similarity floor, so un-reranked fused
// lists pass through unfiltered.
func (e *HybridSearchEngine) applyMinSimilarity(results []SearchResult, similarityScale bool) []SearchResult {
	if e.config.MinSimilarity <= 0 || !similarityScale {
		return results
	}

	kept := results[:0:0]
	for _, r := range results {
		if r.Score >= e.config.MinSimilarity {
			kept = append(kept, r)
		}
	}
	return kept
}

// applyMetadataFilters runs the final-pass structural filters.
func applyMetadataFilters(results []SearchResult, filters *SearchFilters) []SearchResult {
	if filters == nil || (filters.SectionContains == "" && filters.ElementType == "") {
		return results
	}

	kept := results[:0:0]
	for _, r := range results {
		if filters.SectionContains != "" {
			if r.Metadata == nil || !strings.Contains(
				strings.ToLower(r.Metadata.SectionPath),
				strings.ToLower(filters.SectionContains),
			) {
				continue
			}
		}
		if filters.ElementType != "" {
			if r.Metadata == nil || r.Metadata.ElementType != filters.ElementType {
				continue
			}
		}
		kept = append(kept, r)
	}
	return kept
}
