// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/counselops/lexsearch/services/llm"
	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/observability"
	"github.com/counselops/lexsearch/services/orchestrator/retrieval"
	"github.com/counselops/lexsearch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var askTracer = otel.Tracer("lexsearch.orchestrator.handlers")

// HandleAsk answers a question over the caller's uploaded documents.
//
// # Description
//
// POST /v1/ask. Binds the request, delegates the full pipeline to the
// AskService, and maps pipeline errors onto HTTP status codes. Declines
// (off-topic, weak evidence) are 200 responses with Declined set - they are
// answers, not failures.
//
// # Error Mapping
//
//   - validation / empty query → 400
//   - retrieval exhaustion (stores unreachable) → 503
//   - embedding or LLM failure → 502
//   - anything else → 500
func HandleAsk(svc *services.AskService, metrics *observability.RetrievalMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := askTracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()

		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			recordOutcome(metrics, observability.EndpointAsk, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("ask.owner_id", req.OwnerID),
			attribute.String("ask.strategy", req.Strategy),
		)

		resp, err := svc.Process(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, code := classifyAskError(err)
			recordOutcome(metrics, observability.EndpointAsk, code)
			slog.Error("Ask pipeline failed", "ownerId", req.OwnerID, "error", err)
			c.JSON(status, gin.H{"error": sanitizeAskError(err, code)})
			return
		}

		if metrics != nil {
			metrics.RecordRequest(observability.EndpointAsk, true)
		}
		span.SetAttributes(
			attribute.Bool("ask.declined", resp.Declined),
			attribute.Int("ask.sources_count", len(resp.Sources)),
		)
		c.JSON(http.StatusOK, resp)
	}
}

// classifyAskError maps a pipeline error onto an HTTP status and a metrics
// error code.
func classifyAskError(err error) (int, observability.ErrorCode) {
	var embErr *llm.EmbeddingError
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery),
		strings.Contains(err.Error(), "validation failed"):
		return http.StatusBadRequest, observability.ErrorCodeValidation
	case errors.As(err, &embErr):
		return http.StatusBadGateway, observability.ErrorCodeEmbedding
	case retrieval.IsRetrievalError(err):
		return http.StatusServiceUnavailable, observability.ErrorCodeRetrieval
	case strings.Contains(err.Error(), "generation failed"):
		return http.StatusBadGateway, observability.ErrorCodeLLMError
	default:
		return http.StatusInternalServerError, observability.ErrorCodeInternal
	}
}

// sanitizeAskError returns a client-safe message. Validation errors carry
// their detail (the caller caused them); everything else gets a generic
// message so backend internals never leak.
func sanitizeAskError(err error, code observability.ErrorCode) string {
	switch code {
	case observability.ErrorCodeValidation:
		return err.Error()
	case observability.ErrorCodeRetrieval:
		return "Document search is temporarily unavailable. Please retry shortly."
	case observability.ErrorCodeEmbedding, observability.ErrorCodeLLMError:
		return "The language model backend failed to respond. Please retry shortly."
	default:
		return "Internal error while answering the question."
	}
}

// recordOutcome records a failed request plus its categorized error.
func recordOutcome(metrics *observability.RetrievalMetrics, endpoint observability.Endpoint, code observability.ErrorCode) {
	if metrics == nil {
		return
	}
	metrics.RecordRequest(endpoint, false)
	metrics.RecordError(endpoint, code)
}
