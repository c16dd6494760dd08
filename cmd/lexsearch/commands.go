// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/counselops/lexsearch/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

var (
	ownerID         string
	documentIDs     []string
	strategy        string
	sectionContains string
	elementType     string
	stream          bool
	responseFile    string
	sourcesFile     string
)

// httpClient allows several minutes for reasoning-heavy questions.
var httpClient = &http.Client{Timeout: 4 * time.Minute}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Asks a question over your uploaded legal documents",
	Long: `Sends a question to the orchestrator, which retrieves evidence from the
document store (tree-guided or hybrid chunk search) and generates an answer
with numbered citations into the retrieved sources.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAskCommand,
}

var citationsCmd = &cobra.Command{
	Use:   "process-citations",
	Short: "Filters and renumbers citations in externally generated text",
	Run:   runCitationsCommand,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Checks orchestrator liveness and readiness",
	Run:   runHealthCommand,
}

// getOrchestratorBaseURL returns the standard address for the orchestrator.
func getOrchestratorBaseURL() string {
	if url := os.Getenv("LEXSEARCH_ORCHESTRATOR_URL"); url != "" {
		return url
	}
	return "http://localhost:12210"
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	req := datatypes.AskRequest{
		Query:           question,
		OwnerID:         ownerID,
		DocumentIDs:     documentIDs,
		Strategy:        strategy,
		SectionContains: sectionContains,
		ElementType:     elementType,
	}

	if stream {
		runStreamingAsk(&req)
		return
	}

	var resp datatypes.AskResponse
	if err := postJSON("/v1/ask", &req, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}
	printAnswer(&resp)
}

// runStreamingAsk consumes the SSE stream, echoing tokens as they arrive,
// then re-prints sources from the terminal done event so the numbering
// matches the citation-processed answer.
func runStreamingAsk(req *datatypes.AskRequest) {
	body, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("Error encoding request: %v", err)
	}

	httpResp, err := httpClient.Post(getOrchestratorBaseURL()+"/v1/ask/stream",
		"application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Error contacting orchestrator: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(httpResp.Body)
		log.Fatalf("Orchestrator returned status %d: %s", httpResp.StatusCode, string(errBody))
	}

	var final *datatypes.AskResponse
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		switch event.Type {
		case "token":
			fmt.Print(event.Content)
		case "error":
			fmt.Println()
			log.Fatalf("Stream failed: %s", event.Error)
		case "done":
			final = event.Answer
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Stream read failed: %v", err)
	}
	fmt.Println()

	if final != nil {
		printSources(final.Sources)
	}
}

func runCitationsCommand(cmd *cobra.Command, args []string) {
	responseText, err := readResponseText()
	if err != nil {
		log.Fatalf("Error reading response text: %v", err)
	}

	sourcesData, err := os.ReadFile(sourcesFile)
	if err != nil {
		log.Fatalf("Error reading sources file: %v", err)
	}
	var sources []datatypes.AskSource
	if err := json.Unmarshal(sourcesData, &sources); err != nil {
		log.Fatalf("Error parsing sources file: %v", err)
	}

	req := datatypes.ProcessCitationsRequest{ResponseText: responseText, Sources: sources}
	var resp datatypes.ProcessCitationsResponse
	if err := postJSON("/v1/citations/process", &req, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Println(resp.FilteredResponse)
	printSources(resp.FilteredSources)
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	for _, path := range []string{"/health", "/ready"} {
		resp, err := httpClient.Get(getOrchestratorBaseURL() + path)
		if err != nil {
			fmt.Printf("%-8s unreachable: %v\n", path, err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		fmt.Printf("%-8s %d %s\n", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func readResponseText() (string, error) {
	if responseFile != "" {
		data, err := os.ReadFile(responseFile)
		return string(data), err
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

func postJSON(path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpResp, err := httpClient.Post(getOrchestratorBaseURL()+path,
		"application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contacting orchestrator: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("orchestrator returned status %d: %s", httpResp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, resp)
}

func printAnswer(resp *datatypes.AskResponse) {
	if resp.Declined {
		fmt.Printf("Declined (%s):\n%s\n", resp.DeclineReason, resp.Answer)
		return
	}
	fmt.Printf("\nAnswer:\n%s\n", resp.Answer)
	printSources(resp.Sources)
	if resp.Strategy != "" {
		fmt.Printf("\n(strategy: %s, confidence: %s, %d ms)\n",
			resp.Strategy, resp.Confidence, resp.ProcessingTimeMs)
	}
}

func printSources(sources []datatypes.AskSource) {
	if len(sources) == 0 {
		fmt.Println("\n(No sources cited)")
		return
	}
	fmt.Println("\nSources:")
	for _, src := range sources {
		label := src.FileName
		if src.SectionPath != "" {
			label += ": " + src.SectionPath
		}
		pages := ""
		if src.PageStart > 0 {
			if src.PageEnd > src.PageStart {
				pages = fmt.Sprintf(" (pages %d-%d)", src.PageStart, src.PageEnd)
			} else {
				pages = fmt.Sprintf(" (page %d)", src.PageStart)
			}
		}
		fmt.Printf("[%d] %s%s\n", src.Index, label, pages)
	}
}
