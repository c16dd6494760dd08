// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage implements the Weaviate-backed chunk and tree stores.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/doctree"
	"github.com/counselops/lexsearch/services/orchestrator/retrieval"
)

var tracer = otel.Tracer("lexsearch.orchestrator.storage")

// WeaviateChunkStore implements retrieval.ChunkSearcher over the LegalChunk
// class.
//
// # Description
//
// The semantic arm runs a nearVector query and reports certainty (always in
// [0,1], unlike distance which varies by metric); the keyword arm runs BM25
// over the content property. Both arms push the owner filter down, and the
// optional document restriction when present.
//
// # Thread Safety
//
// WeaviateChunkStore is safe for concurrent use.
type WeaviateChunkStore struct {
	client *weaviate.Client
}

// NewWeaviateChunkStore creates a chunk store over the given client.
func NewWeaviateChunkStore(client *weaviate.Client) *WeaviateChunkStore {
	return &WeaviateChunkStore{client: client}
}

// chunkFields are the properties retrieved by both arms.
var chunkFields = []graphql.Field{
	{Name: "content"},
	{Name: "file_name"},
	{Name: "document_id"},
	{Name: "chunk_index"},
	{Name: "page_number"},
	{Name: "section_path"},
	{Name: "element_type"},
	{Name: "is_definition"},
	{Name: "has_cross_reference"},
}

// scopeFilter builds the owner (and optional document) restriction.
func scopeFilter(scope retrieval.SearchScope) *filters.WhereBuilder {
	ownerFilter := filters.Where().
		WithPath([]string{"owner_id"}).
		WithOperator(filters.Equal).
		WithValueString(scope.OwnerID)

	if len(scope.DocumentIDs) == 0 {
		return ownerFilter
	}

	docFilters := make([]*filters.WhereBuilder, len(scope.DocumentIDs))
	for i, id := range scope.DocumentIDs {
		docFilters[i] = filters.Where().
			WithPath([]string{"document_id"}).
			WithOperator(filters.Equal).
			WithValueString(id)
	}
	docFilter := docFilters[0]
	if len(docFilters) > 1 {
		docFilter = filters.Where().
			WithOperator(filters.Or).
			WithOperands(docFilters)
	}

	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{ownerFilter, docFilter})
}

// SemanticSearch implements retrieval.ChunkSearcher.
func (s *WeaviateChunkStore) SemanticSearch(ctx context.Context, vector []float32, scope retrieval.SearchScope, limit int, minSimilarity float64) ([]retrieval.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateChunkStore.SemanticSearch")
	defer span.End()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)
	if minSimilarity > 0 {
		nearVector = nearVector.WithCertainty(float32(minSimilarity))
	}

	fields := append(chunkFields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "certainty"}},
	})

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.LegalChunkClassName).
		WithFields(fields...).
		WithWhere(scopeFilter(scope)).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate semantic search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate semantic search error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LegalChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse semantic search results: %w", err)
	}

	return toSearchResults(parsed.Get.LegalChunk, "semantic"), nil
}

// KeywordSearch implements retrieval.ChunkSearcher.
func (s *WeaviateChunkStore) KeywordSearch(ctx context.Context, query string, scope retrieval.SearchScope, limit int) ([]retrieval.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateChunkStore.KeywordSearch")
	defer span.End()

	fields := append(chunkFields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "score"}},
	})

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.LegalChunkClassName).
		WithFields(fields...).
		WithWhere(scopeFilter(scope)).
		WithBM25(s.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate keyword search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate keyword search error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LegalChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keyword search results: %w", err)
	}

	return toSearchResults(parsed.Get.LegalChunk, "keyword"), nil
}

// toSearchResults converts chunk hits into the retrieval shape. For the
// semantic arm the score is certainty; for the keyword arm it is the BM25
// score string parsed as a float. Fusion ranks by position, so an
// unparseable BM25 score degrades to 0 without affecting order.
func toSearchResults(hits []datatypes.LegalChunkResult, source string) []retrieval.SearchResult {
	results := make([]retrieval.SearchResult, len(hits))
	for i, hit := range hits {
		score := hit.Additional.Certainty
		if source == "keyword" {
			score, _ = strconv.ParseFloat(hit.Additional.Score, 64)
		}
		results[i] = retrieval.SearchResult{
			Content:    hit.Content,
			FileName:   hit.FileName,
			ChunkIndex: hit.ChunkIndex,
			PageNumber: hit.PageNumber,
			Score:      score,
			Source:     source,
			Metadata: &retrieval.ChunkMetadata{
				SectionPath:       hit.SectionPath,
				ElementType:       hit.ElementType,
				IsDefinition:      hit.IsDefinition,
				HasCrossReference: hit.HasCrossReference,
			},
		}
	}
	return results
}

// =============================================================================
// Tree Store
// =============================================================================

// WeaviateTreeStore implements retrieval.TreeStore over the DocumentTree
// class. Trees are written once at ingestion and read whole per request.
type WeaviateTreeStore struct {
	client *weaviate.Client
}

// NewWeaviateTreeStore creates a tree store over the given client.
func NewWeaviateTreeStore(client *weaviate.Client) *WeaviateTreeStore {
	return &WeaviateTreeStore{client: client}
}

// GetTree implements retrieval.TreeStore.
//
// # Outputs
//
//   - *doctree.DocumentTree: The parsed, indexed tree.
//   - error: retrieval.ErrTreeNotFound when no record exists for the
//     document id; otherwise the underlying query or parse error.
func (s *WeaviateTreeStore) GetTree(ctx context.Context, documentID string) (*doctree.DocumentTree, error) {
	ctx, span := tracer.Start(ctx, "WeaviateTreeStore.GetTree")
	defer span.End()

	docFilter := filters.Where().
		WithPath([]string{"document_id"}).
		WithOperator(filters.Equal).
		WithValueString(documentID)

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.DocumentTreeClassName).
		WithFields(
			graphql.Field{Name: "document_id"},
			graphql.Field{Name: "file_name"},
			graphql.Field{Name: "tree_json"},
		).
		WithWhere(docFilter).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate tree lookup failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate tree lookup error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentTreeQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tree lookup results: %w", err)
	}
	if len(parsed.Get.DocumentTree) == 0 {
		return nil, retrieval.ErrTreeNotFound
	}

	record := parsed.Get.DocumentTree[0]
	tree, err := doctree.Load([]byte(record.TreeJSON))
	if err != nil {
		slog.Error("Persisted tree is corrupt", "documentId", documentID, "error", err)
		return nil, fmt.Errorf("failed to load tree for document %s: %w", documentID, err)
	}
	if tree.DocumentID == "" {
		tree.DocumentID = record.DocumentID
	}
	if tree.FileName == "" {
		tree.FileName = record.FileName
	}
	return tree, nil
}

// PutTree persists a tree for a document, replacing any prior record.
// Used by the ingestion path.
func (s *WeaviateTreeStore) PutTree(ctx context.Context, ownerID string, tree *doctree.DocumentTree, treeJSON string) error {
	ctx, span := tracer.Start(ctx, "WeaviateTreeStore.PutTree")
	defer span.End()

	props := datatypes.DocumentTreeProperties{
		DocumentID: tree.DocumentID,
		OwnerID:    ownerID,
		FileName:   tree.FileName,
		TreeJSON:   treeJSON,
		NodeCount:  tree.Len(),
	}

	_, err := s.client.Data().Creator().
		WithClassName(datatypes.DocumentTreeClassName).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to persist tree for document %s: %w", tree.DocumentID, err)
	}
	return nil
}
