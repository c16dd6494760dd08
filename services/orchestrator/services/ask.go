// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating the retrieval pipeline (gates, expansion, search, assembly)
//   - Delegating answer generation to the LLM client
//   - Post-processing generated answers (citation filtering and renumbering)
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/counselops/lexsearch/services/llm"
	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/doctree"
	"github.com/counselops/lexsearch/services/orchestrator/observability"
	"github.com/counselops/lexsearch/services/orchestrator/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// askTracer is the OpenTelemetry tracer for AskService operations.
var askTracer = otel.Tracer("lexsearch.orchestrator.services.ask")

// =============================================================================
// AskService
// =============================================================================

// AskService answers questions over a user's uploaded legal documents.
// It orchestrates the full retrieval-and-answer pipeline:
//   - Off-topic gate: rejects out-of-domain queries before any retrieval
//   - Query expansion: adds statutory synonyms and reference variants
//   - Strategy selection: tree-guided retrieval when document trees exist,
//     hybrid chunk search otherwise
//   - Confidence gate: declines gracefully when the evidence is weak
//   - Context assembly and answer generation with numbered citations
//   - Citation post-processing: filters sources down to what was cited
//
// The service is stateless - all state is passed in via requests or lives in
// the backing stores. This allows horizontal scaling of the orchestrator.
//
// Usage:
//
//	service := NewAskService(hybrid, treeRetriever, treeStore, llmClient, metrics)
//	resp, err := service.Process(ctx, &req)
type AskService struct {
	hybrid        *retrieval.HybridSearchEngine
	treeRetriever *retrieval.TreeRetriever
	treeStore     retrieval.TreeStore
	llmClient     llm.LLMClient
	metrics       *observability.RetrievalMetrics

	offTopic  *retrieval.OffTopicGate
	expander  *retrieval.LegalQueryExpander
	gate      *retrieval.ConfidenceGate
	assembler *retrieval.ContextAssembler
	citations *retrieval.CitationProcessor
}

// NewAskService creates an AskService with the provided dependencies.
//
// # Inputs
//
//   - hybrid: The hybrid chunk search engine. Must not be nil.
//   - treeRetriever: The tree-guided retriever. Must not be nil.
//   - treeStore: The document tree store. Must not be nil.
//   - llmClient: The answer generation backend. Must not be nil.
//   - metrics: Retrieval metrics; nil disables metrics recording.
//
// The gates, expander, assembler, and citation processor are constructed
// internally with their defaults - they are stateless and carry no
// deployment-specific configuration.
func NewAskService(
	hybrid *retrieval.HybridSearchEngine,
	treeRetriever *retrieval.TreeRetriever,
	treeStore retrieval.TreeStore,
	llmClient llm.LLMClient,
	metrics *observability.RetrievalMetrics,
) *AskService {
	return &AskService{
		hybrid:        hybrid,
		treeRetriever: treeRetriever,
		treeStore:     treeStore,
		llmClient:     llmClient,
		metrics:       metrics,
		offTopic:      retrieval.NewOffTopicGate(),
		expander:      retrieval.NewLegalQueryExpander(),
		gate:          retrieval.NewConfidenceGate(),
		assembler:     retrieval.NewContextAssembler(retrieval.DefaultAssembleConfig()),
		citations:     retrieval.NewCitationProcessor(),
	}
}

// answerMaxTokens bounds the generated answer.
const answerMaxTokens = 2048

// answerTemperature keeps generation close to the provided context.
const answerTemperature = float32(0.2)

// =============================================================================
// Core Processing Methods
// =============================================================================

// preparedAsk carries the retrieval outcome into the generation stage. When
// Decline is non-nil, retrieval refused and generation must not run.
type preparedAsk struct {
	Prompt     string
	Numbered   []retrieval.RetrievalSource
	Strategy   string
	Confidence retrieval.Confidence
	Decline    *datatypes.AskResponse
}

// Process answers one question end-to-end and returns the final response
// with filtered, contiguously renumbered sources.
//
// # Description
//
// The processing flow is:
//  1. Validate the request
//  2. Off-topic gate (decline without retrieval on match)
//  3. Expand the query and select the retrieval strategy
//  4. Retrieve evidence (tree or hybrid path)
//  5. Confidence gate (decline gracefully on weak evidence)
//  6. Assemble numbered context and generate the answer
//  7. Filter and renumber citations
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing. Should have a
//     reasonable timeout set (recommended: 2-3 minutes for complex queries).
//   - req: The AskRequest. Must have non-empty Query and OwnerID.
//
// # Outputs
//
//   - *datatypes.AskResponse: The answer or a graceful decline. Declined
//     responses are not errors; check resp.Declined.
//   - error: Non-nil only for pipeline failures (validation, retrieval
//     exhaustion, LLM failure).
func (s *AskService) Process(ctx context.Context, req *datatypes.AskRequest) (*datatypes.AskResponse, error) {
	ctx, span := askTracer.Start(ctx, "AskService.Process")
	defer span.End()
	start := time.Now()

	prep, err := s.prepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if prep.Decline != nil {
		prep.Decline.ProcessingTimeMs = time.Since(start).Milliseconds()
		return prep.Decline, nil
	}

	answer, err := s.generate(ctx, prep.Prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	resp := s.finalize(answer, prep)
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.String("ask.strategy", resp.Strategy),
		attribute.Int("ask.sources_count", len(resp.Sources)),
	)
	return resp, nil
}

// ProcessStream answers one question with token streaming.
//
// # Description
//
// Runs the same retrieval pipeline as Process, then streams generation
// tokens through onEvent. After the stream completes, the accumulated text
// goes through the citation pass and the final response (with filtered
// sources) is returned so the handler can emit a terminal event.
//
// Declined questions do not stream; the decline response is returned
// immediately and onEvent is never called.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - req: The AskRequest.
//   - onEvent: Receives token events during generation. Returning a non-nil
//     error aborts the stream.
//
// # Outputs
//
//   - *datatypes.AskResponse: The final post-citation response, or the
//     decline. On mid-stream failure the accumulated partial answer is
//     still citation-processed and returned alongside the error.
//   - error: Non-nil on pipeline or stream failure.
func (s *AskService) ProcessStream(ctx context.Context, req *datatypes.AskRequest, onEvent llm.StreamCallback) (*datatypes.AskResponse, error) {
	ctx, span := askTracer.Start(ctx, "AskService.ProcessStream")
	defer span.End()
	start := time.Now()

	prep, err := s.prepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if prep.Decline != nil {
		prep.Decline.ProcessingTimeMs = time.Since(start).Milliseconds()
		return prep.Decline, nil
	}

	temp := answerTemperature
	maxTokens := answerMaxTokens
	params := llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
	answer, streamErr := s.llmClient.GenerateStream(ctx, prep.Prompt, params, onEvent)
	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "streaming generation failed")
		if answer == "" {
			return nil, fmt.Errorf("streaming generation failed: %w", streamErr)
		}
		// Partial text is still worth a citation pass so the caller can
		// show what was produced with coherent source numbering.
	}

	resp := s.finalize(answer, prep)
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, streamErr
}

// ProcessCitations runs the citation pass on externally generated text.
// It backs the standalone citation endpoint used by frontends that manage
// their own generation.
func (s *AskService) ProcessCitations(responseText string, sources []datatypes.AskSource) datatypes.ProcessCitationsResponse {
	processed := s.citations.Process(responseText, WireToSources(sources))
	if s.metrics != nil {
		s.metrics.RecordCitationRewrite(len(processed.Map) == 0)
	}

	resp := datatypes.ProcessCitationsResponse{
		FilteredResponse: processed.FilteredResponse,
		FilteredSources:  SourcesToWire(processed.FilteredSources),
	}
	if len(processed.Map) > 0 {
		resp.CitationMap = make(map[string]int, len(processed.Map))
		for oldIdx, newIdx := range processed.Map {
			resp.CitationMap[fmt.Sprintf("%d", oldIdx)] = newIdx
		}
	}
	return resp
}

// =============================================================================
// Pipeline Stages
// =============================================================================

// prepare runs everything up to (but not including) answer generation.
func (s *AskService) prepare(ctx context.Context, req *datatypes.AskRequest) (*preparedAsk, error) {
	ctx, span := askTracer.Start(ctx, "AskService.prepare")
	defer span.End()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	span.SetAttributes(
		attribute.String("ask.owner_id", req.OwnerID),
		attribute.String("ask.strategy_requested", req.Strategy),
		attribute.Int("ask.document_count", len(req.DocumentIDs)),
	)

	if verdict := s.offTopic.Check(req.Query); verdict.IsOffTopic {
		span.SetAttributes(attribute.String("ask.off_topic_category", verdict.Category))
		slog.Info("Off-topic gate declined query", "category", verdict.Category)
		s.recordDecline("off_topic")
		return &preparedAsk{Decline: &datatypes.AskResponse{
			Answer:        verdict.Reason,
			Declined:      true,
			DeclineReason: "off_topic",
		}}, nil
	}

	expanded := s.expander.Expand(req.Query)
	if expanded != req.Query {
		span.SetAttributes(attribute.Bool("ask.query_expanded", true))
	}

	retrievalStart := time.Now()
	result, strategy, err := s.retrieve(ctx, req, expanded)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordRetrievalDuration(strategy, time.Since(retrievalStart).Seconds())
	}
	span.SetAttributes(
		attribute.String("ask.strategy", strategy),
		attribute.String("ask.confidence", string(result.Confidence)),
		attribute.Int("ask.sources_count", len(result.Sources)),
	)

	if decision := s.gate.ShouldProceed(result); !decision.Proceed {
		s.recordDecline(decision.Reason)
		return &preparedAsk{Decline: &datatypes.AskResponse{
			Answer:        decision.DeclineMessage,
			Declined:      true,
			DeclineReason: decision.Reason,
			Strategy:      strategy,
			Confidence:    string(result.Confidence),
		}}, nil
	}

	assembled := s.assembler.Assemble(result.Sources)
	return &preparedAsk{
		Prompt:     buildAnswerPrompt(req.Query, assembled.ContextText),
		Numbered:   assembled.NumberedSources,
		Strategy:   strategy,
		Confidence: result.Confidence,
	}, nil
}

// retrieve selects the retrieval path and returns the merged result plus
// the strategy actually used.
//
// Auto selection prefers the tree path when the request names documents and
// at least one of them has a persisted tree; everything else goes through
// hybrid chunk search. An explicit "tree" request with no loadable trees
// falls back to hybrid rather than failing.
func (s *AskService) retrieve(ctx context.Context, req *datatypes.AskRequest, expanded string) (*retrieval.RetrievalResult, string, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = "auto"
	}

	if strategy == "tree" || strategy == "auto" {
		trees := s.loadTrees(ctx, req.DocumentIDs)
		if len(trees) > 0 {
			return s.retrieveFromTrees(ctx, trees, req.Query), "tree", nil
		}
		if strategy == "tree" {
			slog.Warn("Tree strategy requested but no trees found, falling back to hybrid",
				"documentIds", req.DocumentIDs)
			if s.metrics != nil {
				s.metrics.RecordFallback("tree_unavailable")
			}
		}
	}

	result, err := s.retrieveHybrid(ctx, req, expanded)
	if err != nil {
		return nil, "hybrid", err
	}
	return result, "hybrid", nil
}

// loadTrees loads whichever of the named documents have persisted trees.
// Missing trees are skipped silently; other load errors are logged and
// skipped so one bad document does not block the rest.
func (s *AskService) loadTrees(ctx context.Context, documentIDs []string) []*doctree.DocumentTree {
	trees := make([]*doctree.DocumentTree, 0, len(documentIDs))
	for _, docID := range documentIDs {
		tree, err := s.treeStore.GetTree(ctx, docID)
		if err != nil {
			if !errors.Is(err, retrieval.ErrTreeNotFound) {
				slog.Warn("Failed to load document tree", "documentId", docID, "error", err)
			}
			continue
		}
		trees = append(trees, tree)
	}
	return trees
}

// retrieveFromTrees fans retrieval out across the trees and merges the
// per-tree results. The merged confidence is the best per-tree label:
// strong evidence in one document should not be diluted by weak documents,
// and the gate still sees the full source count.
func (s *AskService) retrieveFromTrees(ctx context.Context, trees []*doctree.DocumentTree, query string) *retrieval.RetrievalResult {
	results := s.treeRetriever.RetrieveAcrossDocuments(ctx, trees, query)

	merged := &retrieval.RetrievalResult{Confidence: retrieval.ConfidenceLow}
	var contentParts []string
	for _, r := range results {
		if r == nil {
			continue
		}
		merged.NodeIDs = append(merged.NodeIDs, r.NodeIDs...)
		merged.Sources = append(merged.Sources, r.Sources...)
		if r.Content != "" {
			contentParts = append(contentParts, r.Content)
		}
		if confidenceRank(r.Confidence) > confidenceRank(merged.Confidence) {
			merged.Confidence = r.Confidence
		}
	}
	merged.Content = strings.Join(contentParts, "\n\n---\n\n")
	return merged
}

// retrieveHybrid runs hybrid chunk search and shapes the candidates into a
// retrieval result. The hybrid path has no reasoning step to self-assess,
// so confidence is derived from the evidence count: three or more surviving
// candidates rate high, one or two medium, none low. The thresholds line up
// with the gate's decision table so a single strong match still proceeds.
func (s *AskService) retrieveHybrid(ctx context.Context, req *datatypes.AskRequest, expanded string) (*retrieval.RetrievalResult, error) {
	scope := retrieval.SearchScope{OwnerID: req.OwnerID, DocumentIDs: req.DocumentIDs}
	var filters *retrieval.SearchFilters
	if req.SectionContains != "" || req.ElementType != "" {
		filters = &retrieval.SearchFilters{
			SectionContains: req.SectionContains,
			ElementType:     req.ElementType,
		}
	}

	candidates, err := s.hybrid.Search(ctx, expanded, scope, filters)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}

	result := &retrieval.RetrievalResult{Confidence: retrieval.ConfidenceLow}
	switch {
	case len(candidates) >= 3:
		result.Confidence = retrieval.ConfidenceHigh
	case len(candidates) >= 1:
		result.Confidence = retrieval.ConfidenceMedium
	}

	var contentParts []string
	for _, c := range candidates {
		src := retrieval.RetrievalSource{
			ChunkIndex: c.ChunkIndex,
			FileName:   c.FileName,
			Content:    c.Content,
			Similarity: c.Score,
		}
		if c.PageNumber > 0 {
			src.PageStart = c.PageNumber
			src.PageEnd = c.PageNumber
		}
		if c.Metadata != nil {
			src.SectionPath = c.Metadata.SectionPath
		}
		result.Sources = append(result.Sources, src)
		contentParts = append(contentParts, c.Content)
	}
	result.Content = strings.Join(contentParts, "\n\n---\n\n")
	return result, nil
}

// generate runs a single non-streaming generation call.
func (s *AskService) generate(ctx context.Context, prompt string) (string, error) {
	temp := answerTemperature
	maxTokens := answerMaxTokens
	params := llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
	return s.llmClient.Generate(ctx, prompt, params)
}

// finalize runs the citation pass and shapes the wire response.
func (s *AskService) finalize(answer string, prep *preparedAsk) *datatypes.AskResponse {
	processed := s.citations.Process(answer, prep.Numbered)
	if s.metrics != nil {
		s.metrics.RecordCitationRewrite(len(processed.Map) == 0)
	}

	return &datatypes.AskResponse{
		Answer:     processed.FilteredResponse,
		Sources:    SourcesToWire(processed.FilteredSources),
		Strategy:   prep.Strategy,
		Confidence: string(prep.Confidence),
	}
}

func (s *AskService) recordDecline(reason string) {
	if s.metrics != nil {
		s.metrics.RecordDecline(reason)
	}
}

// confidenceRank orders confidence labels for merging.
func confidenceRank(c retrieval.Confidence) int {
	switch c {
	case retrieval.ConfidenceHigh:
		return 3
	case retrieval.ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// buildAnswerPrompt renders the answer generation prompt. The context block
// arrives pre-numbered; the instructions bind the generator to it and to
// bracketed citations so the downstream citation pass can resolve them.
func buildAnswerPrompt(query, contextText string) string {
	var b strings.Builder
	b.WriteString("You are a careful legal research assistant. Answer the question using ONLY the numbered sources below.\n\n")
	b.WriteString("Sources:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Cite sources by their bracketed number, e.g. [2], immediately after each claim they support.\n")
	b.WriteString("- If the sources do not answer the question, say so plainly instead of guessing.\n")
	b.WriteString("- Quote exact statutory language when the question turns on precise wording.\n\n")
	b.WriteString("Answer:")
	return b.String()
}

// =============================================================================
// Wire Conversions
// =============================================================================

// SourcesToWire converts internal retrieval sources to the wire shape.
func SourcesToWire(sources []retrieval.RetrievalSource) []datatypes.AskSource {
	if len(sources) == 0 {
		return nil
	}
	out := make([]datatypes.AskSource, len(sources))
	for i, s := range sources {
		out[i] = datatypes.AskSource{
			Index:       s.Index,
			FileName:    s.FileName,
			SectionPath: s.SectionPath,
			PageStart:   s.PageStart,
			PageEnd:     s.PageEnd,
			Excerpt:     s.Content,
			FileURL:     s.FileURL,
			Similarity:  s.Similarity,
		}
	}
	return out
}

// WireToSources converts wire sources back to the internal shape. Used by
// the standalone citation endpoint, which receives sources from the caller.
func WireToSources(sources []datatypes.AskSource) []retrieval.RetrievalSource {
	if len(sources) == 0 {
		return nil
	}
	out := make([]retrieval.RetrievalSource, len(sources))
	for i, s := range sources {
		out[i] = retrieval.RetrievalSource{
			Index:       s.Index,
			FileName:    s.FileName,
			SectionPath: s.SectionPath,
			PageStart:   s.PageStart,
			PageEnd:     s.PageEnd,
			Content:     s.Excerpt,
			FileURL:     s.FileURL,
			Similarity:  s.Similarity,
		}
	}
	return out
}
