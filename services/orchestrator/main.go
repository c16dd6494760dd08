// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/counselops/lexsearch/services/llm"
	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/counselops/lexsearch/services/orchestrator/observability"
	"github.com/counselops/lexsearch/services/orchestrator/retrieval"
	"github.com/counselops/lexsearch/services/orchestrator/routes"
	"github.com/counselops/lexsearch/services/orchestrator/services"
	"github.com/counselops/lexsearch/services/orchestrator/storage"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

var globalLLMClient llm.LLMClient

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "lexsearch-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("lexsearch-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildWeaviateClient parses WEAVIATE_SERVICE_URL and connects. The URL is
// trimmed first because Podman sometimes passes the surrounding quotes
// through literally.
func buildWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid", "url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	weaviateClient := buildWeaviateClient()
	if weaviateClient == nil {
		// Every retrieval path needs the chunk store; there is no
		// lightweight mode for this service.
		log.Fatalf("FATAL: WEAVIATE_SERVICE_URL not set or invalid")
	}
	datatypes.EnsureWeaviateSchema(weaviateClient)

	log.Println("Configuring the LLM Client")
	llmBackendType := os.Getenv("LLM_BACKEND_TYPE")

	switch llmBackendType {
	case "ollama":
		globalLLMClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "openai":
		globalLLMClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai")
		globalLLMClient, err = llm.NewOpenAIClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	embedder, err := llm.NewOpenAIEmbeddingClient()
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	// Delegated reasoning (tree selection, judge re-ranking) wants
	// deterministic decoding regardless of the answer-generation settings.
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		temp := float32(0)
		params := llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
		return globalLLMClient.Generate(ctx, prompt, params)
	}

	searchConfig := retrieval.DefaultSearchConfig()
	var reranker *retrieval.JudgeReranker
	if searchConfig.EnableReranking {
		reranker = retrieval.NewJudgeReranker(generate, searchConfig.RerankMaxTokens)
	}

	chunkStore := storage.NewWeaviateChunkStore(weaviateClient)
	treeStore := storage.NewWeaviateTreeStore(weaviateClient)
	hybrid := retrieval.NewHybridSearchEngine(chunkStore, embedder, reranker, searchConfig)
	treeRetriever := retrieval.NewTreeRetriever(generate, retrieval.DefaultTreeConfig())

	askService := services.NewAskService(hybrid, treeRetriever, treeStore,
		globalLLMClient, observability.DefaultMetrics)

	router := gin.Default()
	router.Use(otelgin.Middleware("lexsearch-orchestrator"))

	routes.SetupRoutes(router, weaviateClient, askService, observability.DefaultMetrics)

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
