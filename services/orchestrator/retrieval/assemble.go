// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"fmt"
	"strings"
)

// ContextAssembler renders selected sources into a numbered,
// citation-addressable context block for answer generation.
//
// # Description
//
// Sources arrive already fusion/selection-ordered; assembly assigns 1-based
// indices strictly by input order and emits each source as a labeled block
// the downstream generator is instructed to cite by bracketed number, e.g.
// [2]. Two character budgets apply per source: a longer one for the LLM
// context block and a shorter display/storage budget on the returned
// numbered sources.
//
// # Thread Safety
//
// ContextAssembler is immutable after construction and safe for
// concurrent use.
type ContextAssembler struct {
	config AssembleConfig
}

// AssembledContext is the assembler's output.
type AssembledContext struct {
	// ContextText is the numbered context block for the generation prompt.
	ContextText string `json:"context_text"`

	// NumberedSources are the input sources with Index assigned and
	// Content truncated to the display/storage budget.
	NumberedSources []RetrievalSource `json:"numbered_sources"`
}

// NewContextAssembler creates an assembler.
func NewContextAssembler(config AssembleConfig) *ContextAssembler {
	defaults := DefaultAssembleConfig()
	if config.ExcerptChars < 1 {
		config.ExcerptChars = defaults.ExcerptChars
	}
	if config.ContextChars < 1 {
		config.ContextChars = defaults.ContextChars
	}
	return &ContextAssembler{config: config}
}

// Assemble numbers the sources and renders the context block.
//
// # Inputs
//
//   - sources: Selected sources in presentation order.
//
// # Outputs
//
//   - AssembledContext: The rendered block and the numbered source list.
//     Indices are re-assigned from 1 on every call; they are not stable
//     across candidate-set changes.
func (a *ContextAssembler) Assemble(sources []RetrievalSource) AssembledContext {
	var sb strings.Builder
	numbered := make([]RetrievalSource, len(sources))

	for i, src := range sources {
		src.Index = i + 1

		sb.WriteString(fmt.Sprintf("[%d] %s", src.Index, sourceLabel(src)))
		if src.PageStart > 0 {
			if src.PageEnd > src.PageStart {
				sb.WriteString(fmt.Sprintf(" (pages %d-%d)", src.PageStart, src.PageEnd))
			} else {
				sb.WriteString(fmt.Sprintf(" (page %d)", src.PageStart))
			}
		}
		sb.WriteString("\n")
		sb.WriteString(truncateExcerpt(src.Content, a.config.ContextChars))
		sb.WriteString("\n\n")

		// The stored copy carries the shorter display excerpt.
		src.Content = truncateExcerpt(src.Content, a.config.ExcerptChars)
		numbered[i] = src
	}

	return AssembledContext{
		ContextText:     strings.TrimRight(sb.String(), "\n"),
		NumberedSources: numbered,
	}
}

// sourceLabel combines the origin file and breadcrumb into the block label.
func sourceLabel(src RetrievalSource) string {
	switch {
	case src.FileName != "" && src.SectionPath != "":
		return src.FileName + " - " + src.SectionPath
	case src.SectionPath != "":
		return src.SectionPath
	case src.FileName != "":
		return src.FileName
	default:
		return "Document"
	}
}

// truncateExcerpt cuts content to the budget, appending an ellipsis marker
// when truncated.
func truncateExcerpt(content string, budget int) string {
	if len(content) <= budget {
		return content
	}
	return content[:budget] + "..."
}
