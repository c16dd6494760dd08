// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lexsearch",
	Short: "A CLI for the LexSearch legal document retrieval service",
	Long: `LexSearch answers questions over uploaded legal documents using
retrieval-augmented generation with verifiable numbered citations.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(citationsCmd)
	rootCmd.AddCommand(healthCmd)

	askCmd.Flags().StringVar(&ownerID, "owner", "", "Owner ID scoping retrieval (required)")
	askCmd.Flags().StringSliceVar(&documentIDs, "documents", nil, "Restrict retrieval to these document IDs")
	askCmd.Flags().StringVar(&strategy, "strategy", "auto", "Retrieval strategy: auto, tree, or hybrid")
	askCmd.Flags().StringVar(&sectionContains, "section", "", "Keep only chunks whose section path contains this text")
	askCmd.Flags().StringVar(&elementType, "element-type", "", "Keep only chunks of this structural element type")
	askCmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer token by token")
	_ = askCmd.MarkFlagRequired("owner")

	citationsCmd.Flags().StringVar(&responseFile, "response-file", "", "File holding the generated answer text (default: stdin)")
	citationsCmd.Flags().StringVar(&sourcesFile, "sources-file", "", "JSON file holding the numbered sources (required)")
	_ = citationsCmd.MarkFlagRequired("sources-file")
}
