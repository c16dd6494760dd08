// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_NumbersSourcesInOrder(t *testing.T) {
	assembler := NewContextAssembler(DefaultAssembleConfig())
	assembled := assembler.Assemble([]RetrievalSource{
		{FileName: "corporate-tax-law.pdf", SectionPath: "Chapter 9 > Article 50", PageStart: 61, PageEnd: 63, Content: "the GAAR text"},
		{FileName: "corporate-tax-law.pdf", SectionPath: "Chapter 10 > Article 52", PageStart: 70, PageEnd: 70, Content: "record keeping text"},
	})

	require.Len(t, assembled.NumberedSources, 2)
	assert.Equal(t, 1, assembled.NumberedSources[0].Index)
	assert.Equal(t, 2, assembled.NumberedSources[1].Index)

	assert.Contains(t, assembled.ContextText, "[1] corporate-tax-law.pdf - Chapter 9 > Article 50 (pages 61-63)")
	assert.Contains(t, assembled.ContextText, "[2] corporate-tax-law.pdf - Chapter 10 > Article 52 (page 70)")
	assert.Contains(t, assembled.ContextText, "the GAAR text")

	// [1] renders before [2].
	assert.Less(t, strings.Index(assembled.ContextText, "[1]"), strings.Index(assembled.ContextText, "[2]"))
}

func TestAssemble_IndicesReassignedEachCall(t *testing.T) {
	assembler := NewContextAssembler(DefaultAssembleConfig())
	sources := []RetrievalSource{{Index: 7, FileName: "a.pdf", Content: "x"}}
	assembled := assembler.Assemble(sources)
	assert.Equal(t, 1, assembled.NumberedSources[0].Index)
}

// The LLM context gets the longer excerpt; the stored source carries the
// shorter display excerpt with an ellipsis marker.
func TestAssemble_DualExcerptBudgets(t *testing.T) {
	assembler := NewContextAssembler(AssembleConfig{ExcerptChars: 10, ContextChars: 30})
	long := strings.Repeat("a", 100)
	assembled := assembler.Assemble([]RetrievalSource{{FileName: "a.pdf", Content: long}})

	assert.Contains(t, assembled.ContextText, strings.Repeat("a", 30)+"...")
	assert.NotContains(t, assembled.ContextText, strings.Repeat("a", 31))
	assert.Equal(t, strings.Repeat("a", 10)+"...", assembled.NumberedSources[0].Content)
}

func TestAssemble_ShortContentNotTruncated(t *testing.T) {
	assembler := NewContextAssembler(DefaultAssembleConfig())
	assembled := assembler.Assemble([]RetrievalSource{{FileName: "a.pdf", Content: "short"}})
	assert.Equal(t, "short", assembled.NumberedSources[0].Content)
	assert.NotContains(t, assembled.ContextText, "...")
}

func TestAssemble_LabelFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		source RetrievalSource
		want   string
	}{
		{"file and section", RetrievalSource{FileName: "a.pdf", SectionPath: "Ch 1"}, "a.pdf - Ch 1"},
		{"section only", RetrievalSource{SectionPath: "Ch 1"}, "Ch 1"},
		{"file only", RetrievalSource{FileName: "a.pdf"}, "a.pdf"},
		{"neither", RetrievalSource{}, "Document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sourceLabel(tt.source))
		})
	}
}

func TestAssemble_Empty(t *testing.T) {
	assembled := NewContextAssembler(DefaultAssembleConfig()).Assemble(nil)
	assert.Empty(t, assembled.ContextText)
	assert.Empty(t, assembled.NumberedSources)
}

// TestAssemble_DoesNotMutateInput guards against aliasing: callers reuse
// the source slice after assembly.
func TestAssemble_DoesNotMutateInput(t *testing.T) {
	long := strings.Repeat("b", 1000)
	sources := []RetrievalSource{{FileName: "a.pdf", Content: long}}
	NewContextAssembler(AssembleConfig{ExcerptChars: 10, ContextChars: 20}).Assemble(sources)
	assert.Equal(t, long, sources[0].Content)
	assert.Zero(t, sources[0].Index)
}
