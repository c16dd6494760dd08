// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"fmt"
	"regexp"
	"strings"
)

// LegalQueryExpander rewrites a raw query into a retrieval-optimized query
// using legal synonym and cross-reference rules.
//
// # Description
//
// Expansion is a pure function: deterministic, no I/O, never fails, and
// monotonic - the expanded query always contains the original query as a
// prefix, and expansion never removes information. Two rules apply:
//
//   - Cross-reference augmentation: "chapter N" appends "Article N" and
//     "article N" appends "Chapter N", because legal cross-references are
//     bidirectional in this domain's source documents.
//   - Synonym augmentation: canonical legal phrases found in the lower-cased
//     query append all their synonyms as additional search terms.
//
// # Thread Safety
//
// LegalQueryExpander is immutable after construction and safe for
// concurrent use.
//
// # Example
//
//	expander := NewLegalQueryExpander()
//	expanded := expander.Expand("What does Chapter 9 say about the GAAR?")
//	// "What does Chapter 9 say about the GAAR? Article 9 ..."
type LegalQueryExpander struct {
	rules []synonymRule
}

// synonymRule maps a canonical legal phrase to the alternate terminology the
// source documents and practitioners use for the same concept. Matching is
// case-insensitive on the canonical phrase. Rules are an ordered slice, not a
// map, so expansion output is byte-for-byte deterministic.
type synonymRule struct {
	canonical string
	synonyms  []string
}

var chapterRefPattern = regexp.MustCompile(`(?i)chapter\s+(\d+)`)
var articleRefPattern = regexp.MustCompile(`(?i)article\s+(\d+)`)

var legalSynonyms = []synonymRule{
	{"permanent establishment", []string{"fixed place of business", "PE"}},
	{"taxable person", []string{"taxpayer", "person subject to tax"}},
	{"taxable income", []string{"tax base", "chargeable income"}},
	{"exempt income", []string{"exemption", "income excluded from tax"}},
	{"withholding tax", []string{"tax withheld at source"}},
	{"transfer pricing", []string{"arm's length principle", "related party transactions"}},
	{"free zone", []string{"qualifying free zone person", "designated zone"}},
	{"tax loss", []string{"loss relief", "losses carried forward"}},
	{"anti-abuse", []string{"general anti-abuse rule", "GAAR"}},
	{"tax group", []string{"fiscal unity", "group relief"}},
	{"small business relief", []string{"small business exemption"}},
	{"resident person", []string{"tax residency", "residence"}},
	{"accounting period", []string{"tax period", "financial year"}},
}

// NewLegalQueryExpander creates an expander with the built-in synonym rules.
func NewLegalQueryExpander() *LegalQueryExpander {
	return &LegalQueryExpander{rules: legalSynonyms}
}

// NewLegalQueryExpanderWithRules creates an expander with a custom rule set.
// Intended for tests and per-corpus overrides.
func NewLegalQueryExpanderWithRules(rules []synonymRule) *LegalQueryExpander {
	return &LegalQueryExpander{rules: rules}
}

// Expand rewrites the query with cross-reference and synonym augmentation.
//
// # Inputs
//
//   - query: The raw user query.
//
// # Outputs
//
//   - string: The expanded query. Always begins with the original query;
//     equal to it when no rule matched.
func (e *LegalQueryExpander) Expand(query string) string {
	var sb strings.Builder
	sb.WriteString(query)

	// Chapter/Article cross-references are bidirectional.
	for _, match := range chapterRefPattern.FindAllStringSubmatch(query, -1) {
		sb.WriteString(fmt.Sprintf(" Article %s", match[1]))
	}
	for _, match := range articleRefPattern.FindAllStringSubmatch(query, -1) {
		sb.WriteString(fmt.Sprintf(" Chapter %s", match[1]))
	}

	lower := strings.ToLower(query)
	for _, rule := range e.rules {
		if strings.Contains(lower, rule.canonical) {
			for _, syn := range rule.synonyms {
				sb.WriteString(" ")
				sb.WriteString(syn)
			}
		}
	}

	return sb.String()
}
