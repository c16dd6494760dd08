// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// This file contains the best-effort parser for JSON embedded in LLM output.
// Reasoning and judge responses are expected to contain a JSON object or
// array, but models wrap it in code fences, emit Python null tokens, leave
// trailing commas, and put literal newlines inside string values. The
// helpers below normalize those failure modes before decoding; when they
// still cannot produce valid JSON the caller degrades to an empty result
// rather than raising.

var codeFencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
var noneTokenPattern = regexp.MustCompile(`\b(None|NaN|undefined)\b`)

// StripCodeFences unwraps a fenced code block, returning the inner content.
// Input without a fence is returned unchanged.
func StripCodeFences(s string) string {
	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// ExtractJSONObject returns the substring from the first '{' to the last
// '}', or an empty string if no object delimiters are present.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// ExtractJSONArray returns the substring from the first '[' to the last
// ']', or an empty string if no array delimiters are present.
func ExtractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// normalizeNullTokens replaces language-specific null tokens (None, NaN,
// undefined) with JSON null. Best-effort: a literal "None" inside a string
// value survives only if quoted normally, which is acceptable for this
// parser's purpose.
func normalizeNullTokens(s string) string {
	return noneTokenPattern.ReplaceAllString(s, "null")
}

// removeTrailingCommas strips commas that directly precede an object or
// array closer.
func removeTrailingCommas(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// escapeNewlinesInStrings rewrites literal newline characters that appear
// inside JSON string values as \n escapes. Tracks string state so newlines
// between tokens (formatting whitespace) are left alone.
func escapeNewlinesInStrings(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			sb.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			sb.WriteRune(r)
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
			sb.WriteRune(r)
		case '\n':
			if inString {
				sb.WriteString(`\n`)
			} else {
				sb.WriteRune(r)
			}
		case '\r':
			if inString {
				sb.WriteString(`\r`)
			} else {
				sb.WriteRune(r)
			}
		case '\t':
			if inString {
				sb.WriteString(`\t`)
			} else {
				sb.WriteRune(r)
			}
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// DecodeLooseObject decodes a JSON object embedded in LLM output into v.
//
// # Description
//
// Applies the normalization pipeline (fence stripping, object extraction,
// null-token normalization, trailing-comma removal) and attempts a decode;
// on failure it additionally escapes literal newlines inside string values
// and retries once.
//
// # Inputs
//
//   - raw: The LLM response text.
//   - v: Decode target, as for json.Unmarshal.
//
// # Outputs
//
//   - error: Non-nil if no object could be decoded after normalization.
func DecodeLooseObject(raw string, v any) error {
	candidate := ExtractJSONObject(StripCodeFences(raw))
	if candidate == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	return decodeLoose(candidate, v)
}

// DecodeLooseArray decodes a JSON array embedded in LLM output into v.
// Same normalization pipeline as DecodeLooseObject.
func DecodeLooseArray(raw string, v any) error {
	candidate := ExtractJSONArray(StripCodeFences(raw))
	if candidate == "" {
		return fmt.Errorf("no JSON array found in response")
	}
	return decodeLoose(candidate, v)
}

func decodeLoose(candidate string, v any) error {
	cleaned := removeTrailingCommas(normalizeNullTokens(candidate))
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	// Second attempt: the common remaining failure is a literal newline
	// inside a string value.
	repaired := escapeNewlinesInStrings(cleaned)
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("failed to decode LLM JSON after normalization: %w", err)
	}
	return nil
}
