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

	"github.com/counselops/lexsearch/services/llm"
	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/observability"
	"github.com/counselops/lexsearch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// errClientGone aborts the generation stream once the client has
// disconnected; there is no one left to send tokens to.
var errClientGone = errors.New("client disconnected")

// HandleAskStream answers a question with token-by-token SSE streaming.
//
// # Description
//
// POST /v1/ask/stream. Runs the same pipeline as HandleAsk but streams
// generation tokens as SSE "token" events. The terminal "done" event
// carries the full citation-processed answer: streaming clients render
// tokens live, then swap in the filtered text and sources from the done
// event so citation numbers match the final source list.
//
// Event order: status → token* → done, or status → error on failure.
// Declined questions emit no tokens - just the done event with the decline.
//
// # Limitations
//
//   - Headers are committed before the pipeline runs, so pipeline failures
//     surface as "error" events, not HTTP status codes. Only binding
//     failures produce a non-200 response.
func HandleAskStream(svc *services.AskService, metrics *observability.RetrievalMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := askTracer.Start(c.Request.Context(), "HandleAskStream")
		defer span.End()

		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			recordOutcome(metrics, observability.EndpointAskStream, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			span.RecordError(err)
			recordOutcome(metrics, observability.EndpointAskStream, observability.ErrorCodeInternal)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
			return
		}

		if metrics != nil {
			metrics.StreamStarted(observability.EndpointAskStream)
			defer metrics.StreamEnded(observability.EndpointAskStream)
		}

		if err := writer.WriteStatus("Searching your documents..."); err != nil {
			slog.Warn("Client gone before stream start", "error", err)
			return
		}

		clientGone := c.Request.Context().Done()
		onEvent := func(event llm.StreamEvent) error {
			select {
			case <-clientGone:
				return errClientGone
			default:
			}
			if event.Type == llm.StreamEventToken && event.Content != "" {
				return writer.WriteToken(event.Content)
			}
			return nil
		}

		resp, err := svc.ProcessStream(ctx, &req, onEvent)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, errClientGone) {
				recordOutcome(metrics, observability.EndpointAskStream, observability.ErrorCodeClientDisconnect)
				slog.Info("Stream aborted by client disconnect", "ownerId", req.OwnerID)
				return
			}
			_, code := classifyAskError(err)
			recordOutcome(metrics, observability.EndpointAskStream, code)
			slog.Error("Streaming ask failed", "ownerId", req.OwnerID, "error", err)

			// A partial answer is still delivered with its citation pass
			// applied, then the stream is marked failed.
			if resp != nil && resp.Answer != "" {
				_ = writer.WriteDone(resp)
			}
			_ = writer.WriteError(sanitizeAskError(err, code))
			return
		}

		if metrics != nil {
			metrics.RecordRequest(observability.EndpointAskStream, true)
		}
		span.SetAttributes(
			attribute.Bool("ask.declined", resp.Declined),
			attribute.Int("ask.sources_count", len(resp.Sources)),
		)
		if err := writer.WriteDone(resp); err != nil {
			slog.Warn("Failed to write done event", "error", err)
		}
	}
}
