// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/observability"
	"github.com/counselops/lexsearch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HandleProcessCitations filters and renumbers citations in generated text.
//
// # Description
//
// POST /v1/citations/process. Exposes the post-generation citation pass as
// a standalone operation for frontends that run their own generation (for
// example against a local model) but still want sources filtered down to
// what the answer actually cites, with contiguous numbering.
//
// The pass is pure text processing - no stores or models are touched - so
// the only failure mode is a malformed request body.
func HandleProcessCitations(svc *services.AskService, metrics *observability.RetrievalMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := askTracer.Start(c.Request.Context(), "HandleProcessCitations")
		defer span.End()

		var req datatypes.ProcessCitationsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			recordOutcome(metrics, observability.EndpointCitations, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		resp := svc.ProcessCitations(req.ResponseText, req.Sources)
		if metrics != nil {
			metrics.RecordRequest(observability.EndpointCitations, true)
		}
		span.SetAttributes(
			attribute.Int("citations.sources_in", len(req.Sources)),
			attribute.Int("citations.sources_out", len(resp.FilteredSources)),
		)
		c.JSON(http.StatusOK, resp)
	}
}
