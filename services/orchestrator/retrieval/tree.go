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
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/counselops/lexsearch/services/orchestrator/doctree"
)

// TreeRetriever selects relevant document sections by delegating reasoning
// over a simplified hierarchical outline, instead of nearest-neighbor search
// over flat chunks.
//
// # Description
//
// Retrieval against one tree runs in five steps:
//
//  1. Serialize the tree to a simplified outline (node id, title, page
//     range, truncated summary, direct child titles) in document order.
//     Full node text is never sent; the outline is hard-truncated to a
//     token-budget-driven character ceiling for very large trees.
//  2. Send one structured prompt (outline + query) to the reasoning model.
//  3. Parse the structured result defensively (see llmjson.go). A result
//     that still cannot be parsed yields an empty, low-confidence
//     RetrievalResult - "no sources found" is a valid outcome downstream,
//     not an error.
//  4. Resolve each selected node id (capped at MaxSources) by identity
//     lookup against the indexed tree; hallucinated ids are skipped and
//     logged without disturbing the order of the rest. Breadcrumbs come
//     from the tree's parent index.
//  5. Concatenate resolved node texts in selection order.
//
// # Thread Safety
//
// TreeRetriever is safe for concurrent use.
type TreeRetriever struct {
	generate GenerateFunc
	config   TreeConfig
}

// NewTreeRetriever creates a tree retriever over the given generate
// function. The wrapped backend must use deterministic decoding
// (temperature 0).
func NewTreeRetriever(generate GenerateFunc, config TreeConfig) *TreeRetriever {
	return &TreeRetriever{generate: generate, config: validateTreeConfig(config)}
}

// validateTreeConfig validates and corrects tree configuration values.
func validateTreeConfig(config TreeConfig) TreeConfig {
	defaults := DefaultTreeConfig()

	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.MaxSources < 1 {
		slog.Warn("Invalid MaxSources config, using default",
			"provided", config.MaxSources, "default", defaults.MaxSources)
		config.MaxSources = defaults.MaxSources
	}
	if config.SummaryChars < 1 {
		config.SummaryChars = defaults.SummaryChars
	}
	if config.OutlineTokenBudget < 1 {
		config.OutlineTokenBudget = defaults.OutlineTokenBudget
	}
	if config.ReasoningMaxTokens < 1 {
		config.ReasoningMaxTokens = defaults.ReasoningMaxTokens
	}
	if config.Parallelism < 1 {
		slog.Warn("Invalid Parallelism config, using default",
			"provided", config.Parallelism, "default", defaults.Parallelism)
		config.Parallelism = defaults.Parallelism
	}
	if config.TimeoutMs < 1 {
		config.TimeoutMs = defaults.TimeoutMs
	}
	return config
}

// sourceSeparator joins resolved node texts in the concatenated content.
const sourceSeparator = "\n\n---\n\n"

// treeSelection is the structured result expected from the reasoning call.
type treeSelection struct {
	NodeIDs    []string `json:"node_ids"`
	Reasoning  string   `json:"reasoning"`
	Confidence string   `json:"confidence"`
}

// Retrieve runs tree retrieval for a single document.
//
// # Inputs
//
//   - ctx: Context for cancellation; the configured per-tree timeout is
//     applied on top.
//   - tree: The indexed document tree.
//   - query: The user query. Must be non-empty.
//
// # Outputs
//
//   - *RetrievalResult: Selected sources in selection order. An empty
//     low-confidence result when the reasoning output was unusable.
//   - error: ErrEmptyQuery, or the reasoning call's transport error. Parse
//     failures are not errors.
func (t *TreeRetriever) Retrieve(ctx context.Context, tree *doctree.DocumentTree, query string) (*RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "TreeRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tree.document_id", tree.DocumentID),
		attribute.Int("tree.nodes", tree.Len()),
	)

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	outline := t.SerializeOutline(tree)
	prompt := t.buildSelectionPrompt(outline, query)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	response, err := t.generate(ctx, prompt, t.config.ReasoningMaxTokens)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("tree reasoning call failed: %w", err)
	}

	var selection treeSelection
	if err := DecodeLooseObject(response, &selection); err != nil {
		// Unusable reasoning output degrades to "nothing found".
		slog.Warn("Failed to parse tree selection, returning empty result",
			"documentId", tree.DocumentID, "error", err)
		span.SetAttributes(attribute.Bool("tree.parse_failed", true))
		return &RetrievalResult{Confidence: ConfidenceLow}, nil
	}

	result := t.resolve(tree, &selection)
	span.SetAttributes(
		attribute.Int("tree.selected", len(selection.NodeIDs)),
		attribute.Int("tree.resolved", len(result.Sources)),
		attribute.String("tree.confidence", string(result.Confidence)),
	)
	return result, nil
}

// RetrieveAcrossDocuments runs tree retrieval over N independent trees with
// bounded fan-out.
//
// # Description
//
// Each tree's retrieval runs in its own goroutine (at most
// config.Parallelism at once) with no shared mutable state; results land in
// a per-tree slot and are merged only after every branch completes. One
// tree's failure never cancels its siblings: errors are logged and that
// slot stays empty. Final global source ordering is the input tree order;
// presentation indices are re-assigned at assembly time regardless.
//
// # Outputs
//
//   - []*RetrievalResult: One result per input tree that succeeded, in
//     input order.
func (t *TreeRetriever) RetrieveAcrossDocuments(ctx context.Context, trees []*doctree.DocumentTree, query string) []*RetrievalResult {
	ctx, span := tracer.Start(ctx, "TreeRetriever.RetrieveAcrossDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("tree.documents", len(trees)))

	slots := make([]*RetrievalResult, len(trees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.Parallelism)
	for i, tree := range trees {
		g.Go(func() error {
			result, err := t.Retrieve(gctx, tree, query)
			if err != nil {
				// Accumulate partial results; never propagate so sibling
				// branches keep running.
				slog.Warn("Tree retrieval failed for document, continuing with siblings",
					"documentId", tree.DocumentID, "error", err)
				return nil
			}
			slots[i] = result
			return nil
		})
	}
	// Join barrier. Errors are swallowed above, so Wait only reflects
	// context cancellation of the whole group.
	_ = g.Wait()

	results := make([]*RetrievalResult, 0, len(trees))
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	span.SetAttributes(attribute.Int("tree.succeeded", len(results)))
	return results
}

// SerializeOutline renders the simplified tree outline in document order.
//
// # Description
//
// Each node contributes one line with its id, title, page range, truncated
// summary, and direct child titles. The rendered outline is measured with
// the reasoning model's tokenizer and hard-truncated to a character ceiling
// derived from the token budget when the tree is large.
func (t *TreeRetriever) SerializeOutline(tree *doctree.DocumentTree) string {
	var sb strings.Builder

	tree.Walk(func(node *doctree.TreeNode, depth int) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(fmt.Sprintf("- [%s] %s (pages %d-%d)", node.NodeID, node.Title, node.StartIndex, node.EndIndex))
		if node.Summary != "" {
			summary := node.Summary
			if len(summary) > t.config.SummaryChars {
				summary = summary[:t.config.SummaryChars] + "..."
			}
			sb.WriteString(": " + summary)
		}
		if len(node.Children) > 0 {
			titles := make([]string, len(node.Children))
			for i, child := range node.Children {
				titles[i] = child.Title
			}
			sb.WriteString(" | children: " + strings.Join(titles, "; "))
		}
		sb.WriteString("\n")
		return true
	})

	outline := sb.String()

	// Hard ceiling: measure with the model tokenizer and cut proportionally
	// when over budget. The cut is approximate by design; the outline is a
	// hint for section selection, not a lossless representation.
	tokens := llms.CountTokens(t.config.Model, outline)
	if tokens > t.config.OutlineTokenBudget {
		ceiling := len(outline) * t.config.OutlineTokenBudget / tokens
		if ceiling < len(outline) {
			outline = outline[:ceiling]
			slog.Debug("Truncated tree outline to token budget",
				"documentId", tree.DocumentID, "tokens", tokens, "budget", t.config.OutlineTokenBudget)
		}
	}
	return outline
}

// buildSelectionPrompt renders the single structured section-selection prompt.
func (t *TreeRetriever) buildSelectionPrompt(outline, query string) string {
	return fmt.Sprintf(`You are a legal research assistant. Given a document outline and a question, select the sections most likely to contain the answer.

Document outline (each line: [node_id] title (page range): summary | children):
%s

Question: %s

Respond with JSON only:
{"node_ids": ["most relevant node id", "next", ...], "reasoning": "why these sections", "confidence": "high|medium|low"}

Rules:
- Select at most %d node ids, ordered most relevant first.
- Use only node ids that appear in the outline.
- confidence is "high" only when a section unambiguously covers the question.`,
		outline, query, t.config.MaxSources)
}

// resolve maps selected node ids back into sources via identity lookup.
func (t *TreeRetriever) resolve(tree *doctree.DocumentTree, selection *treeSelection) *RetrievalResult {
	result := &RetrievalResult{
		NodeIDs:    selection.NodeIDs,
		Reasoning:  selection.Reasoning,
		Confidence: NormalizeConfidence(selection.Confidence),
	}

	var contentParts []string
	for _, nodeID := range selection.NodeIDs {
		if len(result.Sources) >= t.config.MaxSources {
			break
		}
		node := tree.Node(nodeID)
		if node == nil {
			// The reasoning step hallucinated an id. Skip it without
			// disturbing the indices or order of the rest.
			slog.Warn("Selected node id not found in tree, skipping",
				"documentId", tree.DocumentID, "nodeId", nodeID)
			continue
		}

		content := node.Text
		if content == "" {
			content = node.Summary
		}

		result.Sources = append(result.Sources, RetrievalSource{
			NodeID:      node.NodeID,
			DocumentID:  tree.DocumentID,
			FileName:    tree.FileName,
			SectionPath: doctree.PathString(tree.Breadcrumb(node.NodeID)),
			PageStart:   node.StartIndex,
			PageEnd:     node.EndIndex,
			Content:     content,
		})
		if content != "" {
			contentParts = append(contentParts, content)
		}
	}

	result.Content = strings.Join(contentParts, sourceSeparator)
	return result
}
