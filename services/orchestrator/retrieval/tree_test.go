// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselops/lexsearch/services/orchestrator/doctree"
)

// taxLawTree builds the indexed tree used throughout these tests:
//
//	c9  Chapter 9 - Anti-Abuse Provisions
//	  n12  Article 50 - General Anti-Abuse Rule
//	  n13  Article 51 - Corporate Tax Avoidance
//	c10 Chapter 10 - Administration
//	  n15  Article 52 - Record Keeping
func taxLawTree(t *testing.T) *doctree.DocumentTree {
	t.Helper()
	tree := &doctree.DocumentTree{
		DocumentID: "doc-1",
		FileName:   "corporate-tax-law.pdf",
		Structure: []*doctree.TreeNode{
			{
				NodeID: "c9", Title: "Chapter 9 - Anti-Abuse Provisions",
				StartIndex: 60, EndIndex: 68,
				Summary: "Provisions countering arrangements lacking economic substance.",
				Children: []*doctree.TreeNode{
					{
						NodeID: "n12", Title: "Article 50 - General Anti-Abuse Rule",
						StartIndex: 61, EndIndex: 63,
						Summary: "The general anti-abuse rule and its corporate tax advantage test.",
						Text:    "A transaction may be disregarded where obtaining a corporate tax advantage was a main purpose.",
					},
					{
						NodeID: "n13", Title: "Article 51 - Corporate Tax Avoidance",
						StartIndex: 64, EndIndex: 68,
						Summary: "Counteraction of tax avoidance arrangements.",
					},
				},
			},
			{
				NodeID: "c10", Title: "Chapter 10 - Administration",
				StartIndex: 69, EndIndex: 80,
				Children: []*doctree.TreeNode{
					{
						NodeID: "n15", Title: "Article 52 - Record Keeping",
						StartIndex: 70, EndIndex: 74,
						Text: "A taxable person shall maintain records for seven years.",
					},
				},
			},
		},
	}
	require.NoError(t, tree.Index())
	return tree
}

func testTreeConfig() TreeConfig {
	return TreeConfig{
		Model:              "gpt-4o-mini",
		MaxSources:         5,
		SummaryChars:       250,
		OutlineTokenBudget: 6000,
		ReasoningMaxTokens: 1024,
		Parallelism:        4,
		TimeoutMs:          30000,
	}
}

func TestRetrieve_SelectsAndResolves(t *testing.T) {
	response := `{"node_ids": ["n12", "n13"], "reasoning": "anti-abuse articles cover the question", "confidence": "high"}`
	retriever := NewTreeRetriever(staticGenerate(response, nil), testTreeConfig())

	result, err := retriever.Retrieve(context.Background(), taxLawTree(t), "How does the GAAR work?")
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)

	assert.Equal(t, ConfidenceHigh, result.Confidence)
	assert.Equal(t, "anti-abuse articles cover the question", result.Reasoning)

	first := result.Sources[0]
	assert.Equal(t, "n12", first.NodeID)
	assert.Equal(t, "doc-1", first.DocumentID)
	assert.Equal(t, "corporate-tax-law.pdf", first.FileName)
	assert.Equal(t, 61, first.PageStart)
	assert.Equal(t, 63, first.PageEnd)
	assert.Contains(t, first.Content, "main purpose")
	assert.Contains(t, first.SectionPath, "Chapter 9")
	assert.Contains(t, first.SectionPath, "Article 50")

	// n13 has no text; its summary stands in.
	assert.Equal(t, "Counteraction of tax avoidance arrangements.", result.Sources[1].Content)

	// Concatenated content joins resolved texts in selection order.
	parts := strings.Split(result.Content, "\n\n---\n\n")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "main purpose")
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	retriever := NewTreeRetriever(staticGenerate("{}", nil), testTreeConfig())
	_, err := retriever.Retrieve(context.Background(), taxLawTree(t), "  ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRetrieve_ReasoningTransportError(t *testing.T) {
	backendErr := errors.New("model backend unreachable")
	retriever := NewTreeRetriever(staticGenerate("", backendErr), testTreeConfig())
	_, err := retriever.Retrieve(context.Background(), taxLawTree(t), "query")
	assert.ErrorIs(t, err, backendErr)
}

// Unparseable reasoning output is not an error: it degrades to an empty
// low-confidence result the gate declines downstream.
func TestRetrieve_ParseFailureDegrades(t *testing.T) {
	retriever := NewTreeRetriever(staticGenerate("I could not find relevant sections.", nil), testTreeConfig())
	result, err := retriever.Retrieve(context.Background(), taxLawTree(t), "query")
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
	assert.Equal(t, ConfidenceLow, result.Confidence)
}

// Hallucinated node ids are skipped without disturbing the rest.
func TestRetrieve_HallucinatedIDSkipped(t *testing.T) {
	response := `{"node_ids": ["n12", "article-99", "n15"], "reasoning": "r", "confidence": "medium"}`
	retriever := NewTreeRetriever(staticGenerate(response, nil), testTreeConfig())

	result, err := retriever.Retrieve(context.Background(), taxLawTree(t), "query")
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "n12", result.Sources[0].NodeID)
	assert.Equal(t, "n15", result.Sources[1].NodeID)
}

func TestRetrieve_MaxSourcesCap(t *testing.T) {
	response := `{"node_ids": ["c9", "n12", "n13", "c10", "n15"], "reasoning": "r", "confidence": "high"}`
	config := testTreeConfig()
	config.MaxSources = 2
	retriever := NewTreeRetriever(staticGenerate(response, nil), config)

	result, err := retriever.Retrieve(context.Background(), taxLawTree(t), "query")
	require.NoError(t, err)
	assert.Len(t, result.Sources, 2)
}

func TestRetrieve_UnknownConfidenceDegradesToLow(t *testing.T) {
	response := `{"node_ids": ["n12"], "reasoning": "r", "confidence": "very sure"}`
	retriever := NewTreeRetriever(staticGenerate(response, nil), testTreeConfig())

	result, err := retriever.Retrieve(context.Background(), taxLawTree(t), "query")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, result.Confidence)
}

func TestSerializeOutline(t *testing.T) {
	retriever := NewTreeRetriever(nil, testTreeConfig())
	outline := retriever.SerializeOutline(taxLawTree(t))

	// Document order, one line per node, children indented.
	lines := strings.Split(strings.TrimRight(outline, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "- [c9]"))
	assert.True(t, strings.HasPrefix(lines[1], "  - [n12]"))
	assert.True(t, strings.HasPrefix(lines[3], "- [c10]"))

	assert.Contains(t, lines[1], "(pages 61-63)")
	assert.Contains(t, lines[1], "general anti-abuse rule")
	assert.Contains(t, lines[0], "children: Article 50 - General Anti-Abuse Rule; Article 51 - Corporate Tax Avoidance")

	// Node text never leaks into the outline.
	assert.NotContains(t, outline, "main purpose")
}

func TestSerializeOutline_SummaryTruncation(t *testing.T) {
	tree := &doctree.DocumentTree{
		DocumentID: "doc-2",
		Structure: []*doctree.TreeNode{
			{NodeID: "a", Title: "Long", Summary: strings.Repeat("s", 600)},
		},
	}
	require.NoError(t, tree.Index())

	config := testTreeConfig()
	config.SummaryChars = 250
	outline := NewTreeRetriever(nil, config).SerializeOutline(tree)
	assert.Contains(t, outline, strings.Repeat("s", 250)+"...")
	assert.NotContains(t, outline, strings.Repeat("s", 251))
}

func TestSerializeOutline_TokenBudgetCeiling(t *testing.T) {
	nodes := make([]*doctree.TreeNode, 400)
	for i := range nodes {
		nodes[i] = &doctree.TreeNode{
			NodeID:  fmt.Sprintf("n%d", i),
			Title:   fmt.Sprintf("Article %d - Some Lengthy Provision Title", i),
			Summary: strings.Repeat("summary text ", 20),
		}
	}
	tree := &doctree.DocumentTree{DocumentID: "doc-3", Structure: nodes}
	require.NoError(t, tree.Index())

	config := testTreeConfig()
	config.OutlineTokenBudget = 500
	small := NewTreeRetriever(nil, config).SerializeOutline(tree)

	config.OutlineTokenBudget = 1000000
	full := NewTreeRetriever(nil, config).SerializeOutline(tree)

	assert.Less(t, len(small), len(full))
}

// =============================================================================
// Multi-document fan-out
// =============================================================================

func TestRetrieveAcrossDocuments(t *testing.T) {
	trees := make([]*doctree.DocumentTree, 3)
	for i := range trees {
		tree := taxLawTree(t)
		tree.DocumentID = fmt.Sprintf("doc-%d", i)
		trees[i] = tree
	}

	response := `{"node_ids": ["n12"], "reasoning": "r", "confidence": "high"}`
	retriever := NewTreeRetriever(staticGenerate(response, nil), testTreeConfig())

	results := retriever.RetrieveAcrossDocuments(context.Background(), trees, "query")
	require.Len(t, results, 3)
	for i, result := range results {
		require.Len(t, result.Sources, 1)
		assert.Equal(t, fmt.Sprintf("doc-%d", i), result.Sources[0].DocumentID)
	}
}

// One tree's failure must not cancel its siblings.
func TestRetrieveAcrossDocuments_PartialFailure(t *testing.T) {
	trees := make([]*doctree.DocumentTree, 3)
	for i := range trees {
		tree := taxLawTree(t)
		tree.DocumentID = fmt.Sprintf("doc-%d", i)
		trees[i] = tree
	}

	var mu sync.Mutex
	calls := 0
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		mu.Lock()
		call := calls
		calls++
		mu.Unlock()
		if call == 1 {
			return "", errors.New("transient backend failure")
		}
		return `{"node_ids": ["n15"], "reasoning": "r", "confidence": "medium"}`, nil
	}

	retriever := NewTreeRetriever(generate, testTreeConfig())
	results := retriever.RetrieveAcrossDocuments(context.Background(), trees, "query")

	// Two of three succeed; input order is preserved among survivors.
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, "n15", result.Sources[0].NodeID)
	}
}

// TestRetrieveAcrossDocuments_BoundedParallelism verifies at most
// config.Parallelism reasoning calls run concurrently.
func TestRetrieveAcrossDocuments_BoundedParallelism(t *testing.T) {
	trees := make([]*doctree.DocumentTree, 10)
	for i := range trees {
		tree := taxLawTree(t)
		tree.DocumentID = fmt.Sprintf("doc-%d", i)
		trees[i] = tree
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	block := make(chan struct{})
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		<-block

		mu.Lock()
		inFlight--
		mu.Unlock()
		return `{"node_ids": ["n12"], "reasoning": "r", "confidence": "high"}`, nil
	}

	config := testTreeConfig()
	config.Parallelism = 2
	retriever := NewTreeRetriever(generate, config)

	done := make(chan []*RetrievalResult)
	go func() {
		done <- retriever.RetrieveAcrossDocuments(context.Background(), trees, "query")
	}()

	close(block)
	results := <-done

	require.Len(t, results, 10)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
