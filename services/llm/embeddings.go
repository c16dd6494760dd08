// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// maxEmbedChars is the input ceiling guarding the embedding model's token
// limit. Longer input is truncated, not rejected.
const maxEmbedChars = 32000

// EmbeddingError wraps embedding backend failures so callers can
// distinguish them from retrieval-store failures.
type EmbeddingError struct {
	// Model is the embedding model name.
	Model string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (model %s): %v", e.Model, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// OpenAIEmbeddingClient computes dense embeddings via the OpenAI API.
//
// # Description
//
// The client embeds one text per call (queries are embedded individually in
// the retrieval path). Input exceeding maxEmbedChars is truncated with a
// debug log; an empty input, transport failure, or empty result is an
// EmbeddingError.
//
// # Thread Safety
//
// OpenAIEmbeddingClient is safe for concurrent use.
type OpenAIEmbeddingClient struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbeddingClient creates an embedding client.
//
// Configuration:
//   - OPENAI_API_KEY (or /run/secrets/openai_api_key)
//   - EMBEDDING_MODEL (default: "text-embedding-3-small", 1536 dimensions)
func NewOpenAIEmbeddingClient() (*OpenAIEmbeddingClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
	}

	model := openai.EmbeddingModel(os.Getenv("EMBEDDING_MODEL"))
	if model == "" {
		model = openai.SmallEmbedding3
	}
	slog.Info("Initializing OpenAI embedding client", "model", model)
	return &OpenAIEmbeddingClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Embed computes the embedding vector for the given text.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - text: The text to embed. Must be non-empty after trimming.
//
// # Outputs
//
//   - []float32: The embedding vector (1536 dimensions for
//     text-embedding-3-small).
//   - error: An *EmbeddingError on empty input, backend failure, or an
//     empty result.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEmbeddingClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("embedding.model", string(c.model)))

	if strings.TrimSpace(text) == "" {
		return nil, &EmbeddingError{Model: string(c.model), Err: fmt.Errorf("empty input")}
	}
	if len(text) > maxEmbedChars {
		slog.Debug("Truncating embedding input", "originalLen", len(text), "truncatedLen", maxEmbedChars)
		text = text[:maxEmbedChars]
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		span.RecordError(err)
		return nil, &EmbeddingError{Model: string(c.model), Err: err}
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &EmbeddingError{Model: string(c.model), Err: fmt.Errorf("backend returned no embedding")}
	}

	span.SetAttributes(attribute.Int("embedding.dimensions", len(resp.Data[0].Embedding)))
	return resp.Data[0].Embedding, nil
}
