// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/counselops/lexsearch/services/llm"
	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/doctree"
	"github.com/counselops/lexsearch/services/orchestrator/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeChunkStore struct {
	semantic []retrieval.SearchResult
	keyword  []retrieval.SearchResult
}

func (f *fakeChunkStore) SemanticSearch(ctx context.Context, vector []float32, scope retrieval.SearchScope, limit int, minSimilarity float64) ([]retrieval.SearchResult, error) {
	return f.semantic, nil
}

func (f *fakeChunkStore) KeywordSearch(ctx context.Context, query string, scope retrieval.SearchScope, limit int) ([]retrieval.SearchResult, error) {
	return f.keyword, nil
}

type fakeTreeStore struct {
	trees map[string]*doctree.DocumentTree
}

func (f *fakeTreeStore) GetTree(ctx context.Context, documentID string) (*doctree.DocumentTree, error) {
	tree, ok := f.trees[documentID]
	if !ok {
		return nil, retrieval.ErrTreeNotFound
	}
	return tree, nil
}

// fakeLLM is mutex-guarded because tree retrieval fans out concurrently.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	prompts  []string
	tokens   []string
}

func (f *fakeLLM) record(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.record(prompt)
	return f.response, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams, callback llm.StreamCallback) (string, error) {
	f.record(prompt)
	if f.err != nil {
		return "", f.err
	}
	tokens := f.tokens
	if len(tokens) == 0 {
		tokens = []string{f.response}
	}
	var full strings.Builder
	for _, tok := range tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return full.String(), err
		}
		full.WriteString(tok)
	}
	_ = callback(llm.StreamEvent{Type: llm.StreamEventDone})
	return full.String(), nil
}

// =============================================================================
// Helpers
// =============================================================================

func hybridChunks(n int) []retrieval.SearchResult {
	out := make([]retrieval.SearchResult, n)
	for i := range out {
		out[i] = retrieval.SearchResult{
			Content:    fmt.Sprintf("Chunk %d discusses the general anti-abuse rule.", i+1),
			FileName:   "tax_code.pdf",
			ChunkIndex: i,
			PageNumber: 40 + i,
			Score:      1.0 - float64(i)*0.05,
			Source:     "hybrid",
			Metadata:   &retrieval.ChunkMetadata{SectionPath: "Chapter 9 > Article 50"},
		}
	}
	return out
}

func gaarTree(t *testing.T, documentID string) *doctree.DocumentTree {
	t.Helper()
	tree := &doctree.DocumentTree{
		DocumentID: documentID,
		FileName:   "tax_code.pdf",
		Structure: []*doctree.TreeNode{
			{
				NodeID:     "c9",
				Title:      "Chapter 9: Anti-Abuse Provisions",
				StartIndex: 40,
				EndIndex:   48,
				Children: []*doctree.TreeNode{
					{
						NodeID:     "n12",
						Title:      "Article 50: General Anti-Abuse Rule",
						StartIndex: 41,
						EndIndex:   43,
						Summary:    "Disregards arrangements whose main purpose is a tax advantage.",
						Text:       "An arrangement shall be disregarded where its main purpose is obtaining a tax advantage.",
					},
				},
			},
		},
	}
	require.NoError(t, tree.Index())
	return tree
}

// selectionJSON is what the tree reasoning fake returns.
func selectionJSON(confidence string, nodeIDs ...string) string {
	quoted := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`{"node_ids": [%s], "reasoning": "matched the anti-abuse chapter", "confidence": %q}`,
		strings.Join(quoted, ","), confidence)
}

type serviceFixture struct {
	svc       *AskService
	answerLLM *fakeLLM
	treeLLM   *fakeLLM
	treeStore *fakeTreeStore
	store     *fakeChunkStore
}

func newTestService(t *testing.T) *serviceFixture {
	t.Helper()

	store := &fakeChunkStore{}
	treeStore := &fakeTreeStore{trees: map[string]*doctree.DocumentTree{}}
	answerLLM := &fakeLLM{response: "The GAAR disregards abusive arrangements [1]."}
	treeLLM := &fakeLLM{response: selectionJSON("high", "n12")}

	config := retrieval.SearchConfig{TopK: 5, InitialTopK: 15, RRFK: 60, MinSimilarity: 0.3}
	hybrid := retrieval.NewHybridSearchEngine(store, &fakeEmbedder{}, nil, config)

	treeGen := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return treeLLM.Generate(ctx, prompt, llm.GenerationParams{})
	}
	treeConfig := retrieval.TreeConfig{MaxSources: 5, SummaryChars: 250,
		OutlineTokenBudget: 6000, ReasoningMaxTokens: 1024, Parallelism: 4, TimeoutMs: 30000}
	treeRetriever := retrieval.NewTreeRetriever(treeGen, treeConfig)

	return &serviceFixture{
		svc:       NewAskService(hybrid, treeRetriever, treeStore, answerLLM, nil),
		answerLLM: answerLLM,
		treeLLM:   treeLLM,
		treeStore: treeStore,
		store:     store,
	}
}

func askReq(query string) *datatypes.AskRequest {
	return &datatypes.AskRequest{Query: query, OwnerID: "user-1"}
}

// =============================================================================
// Process
// =============================================================================

func TestProcess_HybridAnswerFiltersCitations(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)
	f.store.keyword = hybridChunks(3)
	f.answerLLM.response = "The rule applies broadly [1]. Record keeping differs [3]."

	resp, err := f.svc.Process(context.Background(), askReq("when does the general anti-abuse rule apply"))
	require.NoError(t, err)

	assert.False(t, resp.Declined)
	assert.Equal(t, "hybrid", resp.Strategy)
	assert.Equal(t, "high", resp.Confidence)

	// Source [2] was never cited: it is filtered out and [3] renumbers to [2].
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Index)
	assert.Equal(t, 2, resp.Sources[1].Index)
	assert.Contains(t, resp.Answer, "[1]")
	assert.Contains(t, resp.Answer, "[2]")
	assert.NotContains(t, resp.Answer, "[3]")
	assert.GreaterOrEqual(t, resp.ProcessingTimeMs, int64(0))
}

func TestProcess_OffTopicDeclinesWithoutRetrieval(t *testing.T) {
	f := newTestService(t)

	resp, err := f.svc.Process(context.Background(), askReq("what is the capital of France"))
	require.NoError(t, err)

	assert.True(t, resp.Declined)
	assert.Equal(t, "off_topic", resp.DeclineReason)
	assert.Zero(t, f.answerLLM.callCount(), "declined queries must not reach the generator")
}

func TestProcess_NoEvidenceDeclines(t *testing.T) {
	f := newTestService(t)
	// Both arms empty: the gate sees zero sources at low confidence.

	resp, err := f.svc.Process(context.Background(), askReq("what does article 99 say"))
	require.NoError(t, err)

	assert.True(t, resp.Declined)
	assert.Equal(t, "no_sources", resp.DeclineReason)
	assert.Contains(t, resp.Answer, "couldn't find anything")
	assert.Zero(t, f.answerLLM.callCount())
}

func TestProcess_SingleChunkIsMediumConfidence(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(1)
	f.answerLLM.response = "Only one passage is relevant [1]."

	resp, err := f.svc.Process(context.Background(), askReq("what does article 50 say"))
	require.NoError(t, err)

	// Medium confidence with one source fails the gate's two-source
	// threshold and declines with the partial-match message.
	assert.True(t, resp.Declined)
	assert.Equal(t, "insufficient_confidence", resp.DeclineReason)
	assert.Equal(t, "medium", resp.Confidence)
}

func TestProcess_TreeStrategyUsesTrees(t *testing.T) {
	f := newTestService(t)
	f.treeStore.trees["doc-1"] = gaarTree(t, "doc-1")
	f.answerLLM.response = "Arrangements with a tax-advantage purpose are disregarded [1]."

	req := askReq("when is an arrangement disregarded")
	req.Strategy = "tree"
	req.DocumentIDs = []string{"doc-1"}

	resp, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, resp.Declined)
	assert.Equal(t, "tree", resp.Strategy)
	assert.Equal(t, "high", resp.Confidence)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "tax_code.pdf", resp.Sources[0].FileName)
	assert.Equal(t, 1, f.treeLLM.callCount(), "tree reasoning runs once per document")
}

func TestProcess_TreeStrategyFallsBackToHybrid(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)

	req := askReq("when is an arrangement disregarded")
	req.Strategy = "tree"
	req.DocumentIDs = []string{"doc-without-tree"}

	resp, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "hybrid", resp.Strategy)
	assert.Zero(t, f.treeLLM.callCount())
}

func TestProcess_AutoPrefersTreeWhenAvailable(t *testing.T) {
	f := newTestService(t)
	f.treeStore.trees["doc-1"] = gaarTree(t, "doc-1")
	f.store.semantic = hybridChunks(3)

	req := askReq("when is an arrangement disregarded")
	req.DocumentIDs = []string{"doc-1"}

	resp, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tree", resp.Strategy)
}

func TestProcess_AutoWithoutDocumentsUsesHybrid(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)

	resp, err := f.svc.Process(context.Background(), askReq("when is an arrangement disregarded"))
	require.NoError(t, err)
	assert.Equal(t, "hybrid", resp.Strategy)
	assert.Zero(t, f.treeLLM.callCount())
}

func TestProcess_MergesConfidenceAcrossTrees(t *testing.T) {
	f := newTestService(t)
	f.treeStore.trees["doc-1"] = gaarTree(t, "doc-1")
	f.treeStore.trees["doc-2"] = gaarTree(t, "doc-2")
	// The shared fake returns high-confidence selections for both trees.
	f.answerLLM.response = "Both documents address this [1][2]."

	req := askReq("when is an arrangement disregarded")
	req.Strategy = "tree"
	req.DocumentIDs = []string{"doc-1", "doc-2"}

	resp, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "high", resp.Confidence)
	assert.Len(t, resp.Sources, 2)
	assert.Equal(t, 2, f.treeLLM.callCount())
}

func TestProcess_ValidationErrors(t *testing.T) {
	f := newTestService(t)

	_, err := f.svc.Process(context.Background(), &datatypes.AskRequest{Query: "   ", OwnerID: "u"})
	assert.ErrorContains(t, err, "validation failed")

	bad := askReq("a question")
	bad.Strategy = "graph"
	_, err = f.svc.Process(context.Background(), bad)
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestProcess_GenerationFailurePropagates(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)
	f.answerLLM.err = errors.New("backend down")

	_, err := f.svc.Process(context.Background(), askReq("what does article 50 say"))
	assert.ErrorContains(t, err, "answer generation failed")
}

func TestProcess_PromptContainsNumberedContext(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)

	_, err := f.svc.Process(context.Background(), askReq("what does article 50 say"))
	require.NoError(t, err)

	require.Len(t, f.answerLLM.prompts, 1)
	prompt := f.answerLLM.prompts[0]
	assert.Contains(t, prompt, "[1]")
	assert.Contains(t, prompt, "[3]")
	assert.Contains(t, prompt, "what does article 50 say")
	assert.Contains(t, prompt, "bracketed number")
}

// =============================================================================
// ProcessStream
// =============================================================================

func TestProcessStream_ForwardsTokens(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)
	f.answerLLM.tokens = []string{"The rule ", "applies ", "[1]."}

	var received []string
	resp, err := f.svc.ProcessStream(context.Background(), askReq("when does the rule apply"),
		func(event llm.StreamEvent) error {
			if event.Type == llm.StreamEventToken {
				received = append(received, event.Content)
			}
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"The rule ", "applies ", "[1]."}, received)
	assert.Equal(t, "The rule applies [1].", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 1, resp.Sources[0].Index)
}

func TestProcessStream_DeclineEmitsNoTokens(t *testing.T) {
	f := newTestService(t)

	tokenCount := 0
	resp, err := f.svc.ProcessStream(context.Background(), askReq("write code to parse a tax form"),
		func(event llm.StreamEvent) error {
			tokenCount++
			return nil
		})
	require.NoError(t, err)

	assert.True(t, resp.Declined)
	assert.Equal(t, "off_topic", resp.DeclineReason)
	assert.Zero(t, tokenCount)
}

func TestProcessStream_CallbackAbortReturnsPartial(t *testing.T) {
	f := newTestService(t)
	f.store.semantic = hybridChunks(3)
	f.answerLLM.tokens = []string{"Partial ", "answer ", "[1]."}

	abort := errors.New("client gone")
	calls := 0
	resp, err := f.svc.ProcessStream(context.Background(), askReq("when does the rule apply"),
		func(event llm.StreamEvent) error {
			calls++
			if calls == 2 {
				return abort
			}
			return nil
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, abort)
	// The partial text still comes back citation-processed.
	require.NotNil(t, resp)
	assert.Equal(t, "Partial ", resp.Answer)
}

// =============================================================================
// ProcessCitations and Conversions
// =============================================================================

func TestProcessCitations_FiltersAndMaps(t *testing.T) {
	f := newTestService(t)
	sources := []datatypes.AskSource{
		{Index: 1, FileName: "a.pdf", Excerpt: "first"},
		{Index: 2, FileName: "b.pdf", Excerpt: "second"},
		{Index: 3, FileName: "c.pdf", Excerpt: "third"},
	}

	resp := f.svc.ProcessCitations("See [3] for the definition.", sources)

	assert.Equal(t, "See [1] for the definition.", resp.FilteredResponse)
	require.Len(t, resp.FilteredSources, 1)
	assert.Equal(t, "c.pdf", resp.FilteredSources[0].FileName)
	assert.Equal(t, map[string]int{"3": 1}, resp.CitationMap)
}

func TestProcessCitations_NoCitationsFallsBack(t *testing.T) {
	f := newTestService(t)
	sources := []datatypes.AskSource{
		{Index: 1, FileName: "a.pdf"},
		{Index: 2, FileName: "b.pdf"},
	}

	resp := f.svc.ProcessCitations("An answer with no markers.", sources)

	assert.Equal(t, "An answer with no markers.", resp.FilteredResponse)
	assert.Len(t, resp.FilteredSources, 2)
	assert.Empty(t, resp.CitationMap)
}

func TestSourceConversionRoundTrip(t *testing.T) {
	internal := []retrieval.RetrievalSource{
		{
			Index:       2,
			FileName:    "tax_code.pdf",
			SectionPath: "Chapter 9 > Article 50",
			PageStart:   41,
			PageEnd:     43,
			Content:     "excerpt text",
			FileURL:     "https://signed.example/x",
			Similarity:  0.92,
		},
	}

	wire := SourcesToWire(internal)
	back := WireToSources(wire)

	require.Len(t, back, 1)
	assert.Equal(t, internal[0], back[0])
	assert.Equal(t, "excerpt text", wire[0].Excerpt)

	assert.Nil(t, SourcesToWire(nil))
	assert.Nil(t, WireToSources(nil))
}
