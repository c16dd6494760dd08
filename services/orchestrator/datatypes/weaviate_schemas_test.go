// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// GetLegalChunkSchema Tests
// =============================================================================

func TestGetLegalChunkSchema_ReturnsValidClass(t *testing.T) {
	schema := GetLegalChunkSchema()

	require.NotNil(t, schema)
	assert.Equal(t, LegalChunkClassName, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer,
		"embeddings are computed externally, never by Weaviate")
}

func TestGetLegalChunkSchema_HasRequiredProperties(t *testing.T) {
	schema := GetLegalChunkSchema()

	names := propertyNames(schema)
	required := []string{
		"content", "file_name", "document_id", "owner_id",
		"chunk_index", "page_number", "section_path", "element_type",
		"is_definition", "has_cross_reference",
	}
	for _, name := range required {
		assert.Contains(t, names, name, "missing property %s", name)
	}
}

func TestGetLegalChunkSchema_FilterableMetadata(t *testing.T) {
	schema := GetLegalChunkSchema()

	// Scope and metadata filters push down to these properties.
	filterable := []string{"owner_id", "document_id", "section_path", "element_type"}
	for _, name := range filterable {
		prop := findProperty(t, schema, name)
		require.NotNil(t, prop.IndexFilterable, "%s must set IndexFilterable", name)
		assert.True(t, *prop.IndexFilterable, "%s must be filterable", name)
	}
}

func TestGetLegalChunkSchema_ContentIsWordTokenized(t *testing.T) {
	schema := GetLegalChunkSchema()

	prop := findProperty(t, schema, "content")
	assert.Equal(t, "word", prop.Tokenization,
		"BM25 keyword search needs word tokenization over content")
}

func TestGetLegalChunkSchema_InvertedIndexConfig(t *testing.T) {
	schema := GetLegalChunkSchema()

	require.NotNil(t, schema.InvertedIndexConfig)
	assert.True(t, schema.InvertedIndexConfig.IndexNullState)
	assert.True(t, schema.InvertedIndexConfig.IndexTimestamps)
}

// =============================================================================
// GetDocumentTreeSchema Tests
// =============================================================================

func TestGetDocumentTreeSchema_ReturnsValidClass(t *testing.T) {
	schema := GetDocumentTreeSchema()

	require.NotNil(t, schema)
	assert.Equal(t, DocumentTreeClassName, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)
}

func TestGetDocumentTreeSchema_HasRequiredProperties(t *testing.T) {
	schema := GetDocumentTreeSchema()

	names := propertyNames(schema)
	for _, name := range []string{"document_id", "owner_id", "file_name", "tree_json", "node_count"} {
		assert.Contains(t, names, name, "missing property %s", name)
	}
}

func TestGetDocumentTreeSchema_DocumentIDFilterable(t *testing.T) {
	schema := GetDocumentTreeSchema()

	prop := findProperty(t, schema, "document_id")
	require.NotNil(t, prop.IndexFilterable)
	assert.True(t, *prop.IndexFilterable, "tree lookup filters on document_id")
}

// =============================================================================
// Cross-Schema Tests
// =============================================================================

func TestSchemas_AllHaveNoneVectorizer(t *testing.T) {
	for _, schema := range []*models.Class{GetLegalChunkSchema(), GetDocumentTreeSchema()} {
		assert.Equal(t, "none", schema.Vectorizer, "class %s", schema.Class)
	}
}

func TestSchemas_PropertiesHaveDescriptions(t *testing.T) {
	for _, schema := range []*models.Class{GetLegalChunkSchema(), GetDocumentTreeSchema()} {
		for _, prop := range schema.Properties {
			assert.NotEmpty(t, prop.Description,
				"property %s.%s has no description", schema.Class, prop.Name)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func propertyNames(schema *models.Class) []string {
	names := make([]string, 0, len(schema.Properties))
	for _, prop := range schema.Properties {
		names = append(names, prop.Name)
	}
	return names
}

func findProperty(t *testing.T, schema *models.Class, name string) *models.Property {
	t.Helper()
	for _, prop := range schema.Properties {
		if prop.Name == name {
			return prop
		}
	}
	t.Fatalf("property %s not found on %s", name, schema.Class)
	return nil
}
