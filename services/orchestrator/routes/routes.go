// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/counselops/lexsearch/services/orchestrator/handlers"
	"github.com/counselops/lexsearch/services/orchestrator/observability"
	"github.com/counselops/lexsearch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// SetupRoutes registers all HTTP routes on the router.
func SetupRoutes(router *gin.Engine, client *weaviate.Client, askService *services.AskService,
	metrics *observability.RetrievalMetrics) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadyCheck(client))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/ask", handlers.HandleAsk(askService, metrics))
		v1.POST("/ask/stream", handlers.HandleAskStream(askService, metrics))
		v1.POST("/citations/process", handlers.HandleProcessCitations(askService, metrics))
	}
}
