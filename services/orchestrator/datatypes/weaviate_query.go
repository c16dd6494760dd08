// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("LegalChunk").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[LegalChunkQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, c := range parsed.Get.LegalChunk {
//	    fmt.Println(c.FileName, c.ChunkIndex)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Query Response Types
// =============================================================================

// LegalChunkQueryResponse represents the response from querying LegalChunk.
type LegalChunkQueryResponse struct {
	Get struct {
		LegalChunk []LegalChunkResult `json:"LegalChunk"`
	} `json:"Get"`
}

// LegalChunkResult is a single chunk hit from either retrieval arm.
//
// Certainty is populated by nearVector queries only; BM25 hits carry a
// score string in _additional.score instead.
type LegalChunkResult struct {
	Content           string `json:"content"`
	FileName          string `json:"file_name"`
	DocumentID        string `json:"document_id"`
	ChunkIndex        int    `json:"chunk_index"`
	PageNumber        int    `json:"page_number"`
	SectionPath       string `json:"section_path"`
	ElementType       string `json:"element_type"`
	IsDefinition      bool   `json:"is_definition"`
	HasCrossReference bool   `json:"has_cross_reference"`
	Additional        struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
		Score     string  `json:"score"`
	} `json:"_additional"`
}

// DocumentTreeQueryResponse represents the response from querying DocumentTree.
type DocumentTreeQueryResponse struct {
	Get struct {
		DocumentTree []DocumentTreeResult `json:"DocumentTree"`
	} `json:"Get"`
}

// DocumentTreeResult is a single persisted tree record.
type DocumentTreeResult struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	FileName   string `json:"file_name"`
	TreeJSON   string `json:"tree_json"`
	NodeCount  int    `json:"node_count"`
}

// =============================================================================
// Property Builders
// =============================================================================

// LegalChunkProperties is the write shape for chunk ingestion.
type LegalChunkProperties struct {
	Content           string
	FileName          string
	DocumentID        string
	OwnerID           string
	ChunkIndex        int
	PageNumber        int
	SectionPath       string
	ElementType       string
	IsDefinition      bool
	HasCrossReference bool
}

// ToMap converts the properties to the map form the Weaviate data API expects.
func (p *LegalChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":             p.Content,
		"file_name":           p.FileName,
		"document_id":         p.DocumentID,
		"owner_id":            p.OwnerID,
		"chunk_index":         p.ChunkIndex,
		"page_number":         p.PageNumber,
		"section_path":        p.SectionPath,
		"element_type":        p.ElementType,
		"is_definition":       p.IsDefinition,
		"has_cross_reference": p.HasCrossReference,
	}
}

// DocumentTreeProperties is the write shape for tree persistence.
type DocumentTreeProperties struct {
	DocumentID string
	OwnerID    string
	FileName   string
	TreeJSON   string
	NodeCount  int
}

// ToMap converts the properties to the map form the Weaviate data API expects.
func (p *DocumentTreeProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"document_id": p.DocumentID,
		"owner_id":    p.OwnerID,
		"file_name":   p.FileName,
		"tree_json":   p.TreeJSON,
		"node_count":  p.NodeCount,
	}
}
