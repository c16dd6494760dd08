// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// CitationProcessor extracts cited reference numbers from a completed
// answer, filters unused sources, and renumbers citations contiguously.
//
// # Description
//
// Runs exactly once per response, after the generation stream has fully
// completed - it is a pure function over text, never a per-token operation.
// The rewrite uses two passes through unique placeholder tokens so that
// numeric collisions (renumbering [2]→[1] while [1]→[2]) can never let a
// later replacement touch the output of an earlier one. Citation markers
// whose number maps to no source are left byte-for-byte untouched: they are
// not valid source references and must not be deleted or corrupted.
//
// # Thread Safety
//
// CitationProcessor is stateless and safe for concurrent use.
type CitationProcessor struct{}

// NewCitationProcessor creates a citation processor.
func NewCitationProcessor() *CitationProcessor {
	return &CitationProcessor{}
}

// ProcessedCitations is the processor's output.
type ProcessedCitations struct {
	// FilteredResponse is the answer text with surviving citations
	// renumbered contiguously from 1.
	FilteredResponse string `json:"filtered_response"`

	// FilteredSources are the cited sources, re-indexed 1..n in original
	// relative order.
	FilteredSources []RetrievalSource `json:"filtered_sources"`

	// Map records oldIndex → newIndex for the rewrite that was applied.
	// Empty when the no-citation fallback was taken.
	Map CitationMap `json:"citation_map,omitempty"`
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// fallbackSourceCount is how many leading sources are kept when the model
// cited nothing.
const fallbackSourceCount = 3

// Process filters and renumbers citations for one completed response.
//
// # Inputs
//
//   - responseText: The full generated answer.
//   - sources: The numbered sources that were offered to the generator
//     (Index set by assembly).
//
// # Outputs
//
//   - ProcessedCitations: Rewritten text, filtered sources, and the
//     citation map. When the response cites nothing (or nothing that maps
//     to a source), the text is returned unmodified with the top
//     fallbackSourceCount sources renumbered from 1 - evidence is never
//     hidden just because the model omitted citation syntax.
func (p *CitationProcessor) Process(responseText string, sources []RetrievalSource) ProcessedCitations {
	cited := extractCitedNumbers(responseText)
	if len(cited) == 0 {
		return fallbackTopSources(responseText, sources)
	}

	citedSet := make(map[int]bool, len(cited))
	for _, n := range cited {
		citedSet[n] = true
	}

	// Filter to cited sources, preserving original relative order, and
	// build the old → new mapping in filtered order.
	var filtered []RetrievalSource
	citationMap := make(CitationMap)
	for _, src := range sources {
		if citedSet[src.Index] {
			citationMap[src.Index] = len(filtered) + 1
			src.Index = len(filtered) + 1
			filtered = append(filtered, src)
		}
	}

	if len(filtered) == 0 {
		// Defensive branch: every cited number pointed outside the source
		// list. Fall back rather than returning an answer with no evidence.
		return fallbackTopSources(responseText, sources)
	}

	return ProcessedCitations{
		FilteredResponse: rewriteCitations(responseText, citationMap),
		FilteredSources:  filtered,
		Map:              citationMap,
	}
}

// extractCitedNumbers returns the distinct bracketed integers in the text,
// sorted ascending.
func extractCitedNumbers(text string) []int {
	seen := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			seen[n] = true
		}
	}
	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// rewriteCitations applies the citation map in two passes.
//
// Pass one replaces each mapped [oldIndex] with a unique placeholder keyed
// by the new index, highest old index first so shorter numbers never match
// inside longer ones. Pass two replaces every placeholder with its final
// [newIndex] form. Unmapped markers are never touched.
func rewriteCitations(text string, citationMap CitationMap) string {
	oldIndices := make([]int, 0, len(citationMap))
	for old := range citationMap {
		oldIndices = append(oldIndices, old)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(oldIndices)))

	for _, old := range oldIndices {
		placeholder := citationPlaceholder(citationMap[old])
		text = strings.ReplaceAll(text, fmt.Sprintf("[%d]", old), placeholder)
	}
	for _, old := range oldIndices {
		newIdx := citationMap[old]
		text = strings.ReplaceAll(text, citationPlaceholder(newIdx), fmt.Sprintf("[%d]", newIdx))
	}
	return text
}

// citationPlaceholder builds a collision-proof intermediate token. The NUL
// delimiters cannot occur in generated text.
func citationPlaceholder(newIndex int) string {
	return "\x00CITE:" + strconv.Itoa(newIndex) + "\x00"
}

// fallbackTopSources keeps the leading sources renumbered from 1 and the
// response text unmodified.
func fallbackTopSources(responseText string, sources []RetrievalSource) ProcessedCitations {
	n := fallbackSourceCount
	if len(sources) < n {
		n = len(sources)
	}
	filtered := make([]RetrievalSource, n)
	for i := 0; i < n; i++ {
		src := sources[i]
		src.Index = i + 1
		filtered[i] = src
	}
	return ProcessedCitations{
		FilteredResponse: responseText,
		FilteredSources:  filtered,
	}
}
