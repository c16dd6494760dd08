// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLooseObject_CleanJSON(t *testing.T) {
	var sel treeSelection
	err := DecodeLooseObject(`{"node_ids": ["n12"], "reasoning": "covers it", "confidence": "high"}`, &sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"n12"}, sel.NodeIDs)
	assert.Equal(t, "high", sel.Confidence)
}

func TestDecodeLooseObject_CodeFences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"json fence", "```json\n{\"node_ids\": [\"n12\"], \"confidence\": \"medium\"}\n```"},
		{"bare fence", "```\n{\"node_ids\": [\"n12\"], \"confidence\": \"medium\"}\n```"},
		{"fence with prose around it", "Sure, here is my selection:\n```json\n{\"node_ids\": [\"n12\"], \"confidence\": \"medium\"}\n```\nLet me know if you need more."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sel treeSelection
			require.NoError(t, DecodeLooseObject(tt.raw, &sel))
			assert.Equal(t, []string{"n12"}, sel.NodeIDs)
		})
	}
}

func TestDecodeLooseObject_PythonTokens(t *testing.T) {
	var sel treeSelection
	err := DecodeLooseObject(`{"node_ids": ["n12"], "reasoning": None, "confidence": "low"}`, &sel)
	require.NoError(t, err)
	assert.Empty(t, sel.Reasoning)
}

func TestDecodeLooseObject_TrailingCommas(t *testing.T) {
	var sel treeSelection
	err := DecodeLooseObject(`{"node_ids": ["n12", "n15",], "confidence": "high",}`, &sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"n12", "n15"}, sel.NodeIDs)
}

func TestDecodeLooseObject_LiteralNewlineInString(t *testing.T) {
	raw := "{\"node_ids\": [\"n12\"], \"reasoning\": \"first line\nsecond line\", \"confidence\": \"high\"}"
	var sel treeSelection
	err := DecodeLooseObject(raw, &sel)
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", sel.Reasoning)
}

func TestDecodeLooseObject_SurroundingProse(t *testing.T) {
	raw := `Based on the outline, the relevant sections are:

{"node_ids": ["c9", "n12"], "reasoning": "anti-abuse chapter", "confidence": "high"}

Hope that helps!`
	var sel treeSelection
	err := DecodeLooseObject(raw, &sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"c9", "n12"}, sel.NodeIDs)
}

func TestDecodeLooseObject_NoObject(t *testing.T) {
	var sel treeSelection
	assert.Error(t, DecodeLooseObject("I am unable to select any sections.", &sel))
	assert.Error(t, DecodeLooseObject("", &sel))
}

func TestDecodeLooseObject_Garbage(t *testing.T) {
	var sel treeSelection
	assert.Error(t, DecodeLooseObject(`{"node_ids": [unquoted garbage}`, &sel))
}

func TestDecodeLooseArray(t *testing.T) {
	var scores []float64
	require.NoError(t, DecodeLooseArray("```json\n[8, 3, 0, 9.5,]\n```", &scores))
	assert.Equal(t, []float64{8, 3, 0, 9.5}, scores)

	assert.Error(t, DecodeLooseArray("no array here", &scores))
}

func TestEscapeNewlinesInStrings_PreservesEscapes(t *testing.T) {
	// An already-escaped \n must not be double-escaped, and formatting
	// newlines between tokens must survive.
	in := "{\n  \"a\": \"x\\ny\",\n  \"b\": \"p\nq\"\n}"
	out := escapeNewlinesInStrings(in)
	assert.Equal(t, "{\n  \"a\": \"x\\ny\",\n  \"b\": \"p\\nq\"\n}", out)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSONObject(`prefix {"a":1} suffix`))
	assert.Equal(t, "", ExtractJSONObject("no braces"))
	assert.Equal(t, "", ExtractJSONObject("} reversed {"))
}
