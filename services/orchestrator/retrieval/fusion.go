// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"sort"
)

// FuseRRF combines the semantic and keyword candidate lists with
// Reciprocal Rank Fusion.
//
// # Description
//
// For each candidate appearing at 1-based rank r in a list, RRF contributes
// 1/(k+r) to its fused score; contributions from both lists are summed for
// candidates present in both. Candidates are identified across lists by
// (file_name, chunk_index). Output is sorted descending by fused score with
// ties broken by original semantic rank (semantic-only and dual-listed
// candidates order ahead of keyword-only candidates at equal score).
//
// The function is deterministic: fixed inputs and k always produce the same
// output order.
//
// # Inputs
//
//   - semantic: Candidates ranked by vector similarity, best first.
//   - keyword: Candidates ranked by lexical match, best first.
//   - k: The smoothing constant (60 by convention).
//
// # Outputs
//
//   - []SearchResult: Fused candidates, best first, with Score set to the
//     RRF score and Source set to "hybrid" for candidates found in both
//     lists.
func FuseRRF(semantic, keyword []SearchResult, k int) []SearchResult {
	if k <= 0 {
		k = 60
	}

	type fused struct {
		result       SearchResult
		score        float64
		semanticRank int // 1-based, 0 if absent from the semantic list
		keywordRank  int // 1-based, 0 if absent from the keyword list
	}

	byKey := make(map[string]*fused, len(semantic)+len(keyword))
	var order []string // insertion order for deterministic iteration

	for i, r := range semantic {
		rank := i + 1
		key := r.resultKey()
		byKey[key] = &fused{
			result:       r,
			score:        1.0 / float64(k+rank),
			semanticRank: rank,
		}
		order = append(order, key)
	}

	for i, r := range keyword {
		rank := i + 1
		key := r.resultKey()
		if f, ok := byKey[key]; ok {
			f.score += 1.0 / float64(k+rank)
			f.keywordRank = rank
			f.result.Source = "hybrid"
			continue
		}
		byKey[key] = &fused{
			result:      r,
			score:       1.0 / float64(k+rank),
			keywordRank: rank,
		}
		order = append(order, key)
	}

	candidates := make([]*fused, 0, len(order))
	for _, key := range order {
		candidates = append(candidates, byKey[key])
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		// Tie-break by original semantic rank; candidates absent from the
		// semantic list sort after those present in it.
		ri, rj := candidates[i].semanticRank, candidates[j].semanticRank
		if ri == 0 {
			return false
		}
		if rj == 0 {
			return true
		}
		return ri < rj
	})

	results := make([]SearchResult, len(candidates))
	for i, f := range candidates {
		f.result.Score = f.score
		results[i] = f.result
	}
	return results
}
