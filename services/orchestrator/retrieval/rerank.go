// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// JudgeReranker delegates candidate scoring to an external LLM judge.
//
// # Description
//
// The judge receives every fused candidate in a single batched call and
// returns one 0-10 integer score per candidate as a JSON array. Scores are
// normalized to [0,1] and replace the RRF scores before a re-sort. Any
// failure - judge call error, unparseable output, or a score count that does
// not match the candidate count - keeps the RRF order: re-ranking never
// fails the request.
//
// # Thread Safety
//
// JudgeReranker is safe for concurrent use.
type JudgeReranker struct {
	generate  GenerateFunc
	maxTokens int
}

// NewJudgeReranker creates a re-ranker over the given generate function.
// The wrapped backend must use deterministic decoding (temperature 0).
func NewJudgeReranker(generate GenerateFunc, maxTokens int) *JudgeReranker {
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &JudgeReranker{generate: generate, maxTokens: maxTokens}
}

// judgeExcerptChars bounds each candidate excerpt in the judge prompt.
const judgeExcerptChars = 300

// Rerank scores and re-sorts the candidates, falling back to the input
// order on any judge failure.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: The (expanded) user query.
//   - results: Fused candidates, best first.
//
// # Outputs
//
//   - []SearchResult: Candidates sorted by normalized judge score, or the
//     input slice unchanged when re-ranking was skipped.
//   - bool: True if judge scores were applied.
func (j *JudgeReranker) Rerank(ctx context.Context, query string, results []SearchResult) ([]SearchResult, bool) {
	ctx, span := tracer.Start(ctx, "JudgeReranker.Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.candidates", len(results)))

	if len(results) == 0 || j.generate == nil {
		return results, false
	}

	prompt := j.buildJudgePrompt(query, results)
	response, err := j.generate(ctx, prompt, j.maxTokens)
	if err != nil {
		slog.Warn("Judge re-ranking call failed, keeping RRF order", "error", err)
		span.SetAttributes(attribute.String("rerank.skip_reason", "judge_error"))
		return results, false
	}

	var scores []float64
	if err := DecodeLooseArray(response, &scores); err != nil {
		slog.Warn("Judge response was not a score array, keeping RRF order", "error", err)
		span.SetAttributes(attribute.String("rerank.skip_reason", "parse_error"))
		return results, false
	}

	if len(scores) != len(results) {
		slog.Warn("Judge score count mismatch, keeping RRF order",
			"scores", len(scores), "candidates", len(results))
		span.SetAttributes(attribute.String("rerank.skip_reason", "count_mismatch"))
		return results, false
	}

	allZero := true
	reranked := make([]SearchResult, len(results))
	copy(reranked, results)
	for i := range reranked {
		reranked[i].Score = scores[i] / 10.0
		if scores[i] != 0 {
			allZero = false
		}
	}
	if allZero {
		// Well-formed but degenerate output is accepted and applied; the
		// downstream min-similarity filter decides what survives.
		slog.Warn("Judge returned a degenerate all-zero score vector", "candidates", len(results))
	}

	sort.SliceStable(reranked, func(a, b int) bool {
		return reranked[a].Score > reranked[b].Score
	})
	return reranked, true
}

// buildJudgePrompt renders the single batched scoring prompt. The response
// contract is a bare JSON array of numbers, one per document, in order.
func (j *JudgeReranker) buildJudgePrompt(query string, results []SearchResult) string {
	var docs strings.Builder
	for i, r := range results {
		excerpt := r.Content
		if len(excerpt) > judgeExcerptChars {
			excerpt = excerpt[:judgeExcerptChars]
		}
		docs.WriteString(fmt.Sprintf("[%d] %s...\n", i, excerpt))
	}

	return fmt.Sprintf(`Score each document's relevance to the query (0-10). Return ONLY a JSON array of numbers.

Query: "%s"

Documents:
%s
Return: [score1, score2, ...]`, query, docs.String())
}
