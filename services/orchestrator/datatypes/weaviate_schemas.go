// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Class names used throughout the orchestrator.
const (
	LegalChunkClassName   = "LegalChunk"
	DocumentTreeClassName = "DocumentTree"
)

// GetLegalChunkSchema returns the schema for ingested document chunks.
//
// # Description
//
// LegalChunk carries both retrieval arms: the dense vector supplied at
// ingestion time (Vectorizer "none" - embeddings are computed externally)
// and the BM25 inverted index over content. Structural metadata from the
// ingestion pipeline is filterable so post-fusion metadata filters can be
// pushed down when needed.
func GetLegalChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       LegalChunkClassName,
		Description: "A chunk of an uploaded legal document with structural metadata.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "file_name",
				DataType:        []string{"text"},
				Description:     "The originating upload's file name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the owning document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "owner_id",
				DataType:        []string{"text"},
				Description:     "The uploading user. Every query filters on this.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "chunk_index",
				DataType:    []string{"int"},
				Description: "The chunk's position within its document.",
			},
			{
				Name:        "page_number",
				DataType:    []string{"int"},
				Description: "Source page, 0 when unknown.",
			},
			{
				Name:            "section_path",
				DataType:        []string{"text"},
				Description:     "Heading hierarchy joined by ' > '.",
				IndexFilterable: indexFilterable,
				Tokenization:    "word",
			},
			{
				Name:            "element_type",
				DataType:        []string{"text"},
				Description:     "Structural element: paragraph, table, definition, list.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "is_definition",
				DataType:    []string{"boolean"},
				Description: "Marks defined-terms chunks.",
			},
			{
				Name:        "has_cross_reference",
				DataType:    []string{"boolean"},
				Description: "Marks chunks citing other articles.",
			},
		},
	}
}

// GetDocumentTreeSchema returns the schema for persisted document trees.
//
// The tree structure is stored as one JSON blob per document. Trees are
// written once at ingestion and read whole, so no vector or per-node
// indexing is needed.
func GetDocumentTreeSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       DocumentTreeClassName,
		Description: "The hierarchical structure of an ingested document, serialized as JSON.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the document this tree describes.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "owner_id",
				DataType:        []string{"text"},
				Description:     "The uploading user.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "file_name",
				DataType:        []string{"text"},
				Description:     "The originating upload's file name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "tree_json",
				DataType:    []string{"text"},
				Description: "The serialized tree structure.",
			},
			{
				Name:        "node_count",
				DataType:    []string{"int"},
				Description: "Total nodes in the tree, for observability.",
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetLegalChunkSchema,
		GetDocumentTreeSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The client returns an error when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
