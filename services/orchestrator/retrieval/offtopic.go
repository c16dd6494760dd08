// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"regexp"
)

// OffTopicGate is a pattern-based pre-filter that rejects obviously
// out-of-domain queries before any retrieval work is spent.
//
// # Description
//
// The gate applies a deliberately minimal set of regex patterns for
// unambiguous non-domain intents. Anything not matched passes through to
// retrieval: the design prefers false negatives (wasted retrieval) over
// false positives (wrongly refusing an answerable domain question), because
// keyword-based domain classification rejected valid legal jargon it didn't
// enumerate. This component stays small by policy; it is not meant to grow
// into a full classifier.
//
// # Thread Safety
//
// OffTopicGate is immutable after construction and safe for concurrent use.
type OffTopicGate struct {
	patterns []offTopicPattern
}

// OffTopicVerdict is the gate's decision for one query.
type OffTopicVerdict struct {
	// IsOffTopic is true when a pattern matched.
	IsOffTopic bool `json:"is_off_topic"`

	// Category names the matched intent class ("code_generation",
	// "general_knowledge", "vat"). Empty when on-topic.
	Category string `json:"category,omitempty"`

	// Reason is a short human-readable explanation for the decline message.
	Reason string `json:"reason,omitempty"`
}

type offTopicPattern struct {
	re       *regexp.Regexp
	category string
	reason   string
}

// offTopicPatterns match only unambiguous non-domain intents. VAT gets its
// own pattern because users routinely confuse it with corporate tax: it is a
// neighboring, differently-taxed regime these documents do not cover.
var offTopicPatterns = []offTopicPattern{
	{
		re:       regexp.MustCompile(`(?i)\b(write|generate|debug|fix)\b.{0,40}\b(code|script|program|function|sql|python|javascript)\b`),
		category: "code_generation",
		reason:   "The assistant answers questions about your uploaded legal documents, not programming requests.",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(capital of|weather (in|today)|recipe for|who won|lyrics|horoscope)\b`),
		category: "general_knowledge",
		reason:   "This looks like a general-knowledge question unrelated to your uploaded legal documents.",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(vat|value[- ]added tax)\b`),
		category: "vat",
		reason:   "VAT is governed by separate legislation not covered by these documents; this assistant covers corporate tax.",
	},
}

// NewOffTopicGate creates a gate with the built-in pattern set.
func NewOffTopicGate() *OffTopicGate {
	return &OffTopicGate{patterns: offTopicPatterns}
}

// Check classifies the query against the pattern set.
//
// # Inputs
//
//   - query: The raw user query.
//
// # Outputs
//
//   - OffTopicVerdict: First matching pattern wins; the zero verdict
//     (on-topic) when nothing matches.
func (g *OffTopicGate) Check(query string) OffTopicVerdict {
	for _, p := range g.patterns {
		if p.re.MatchString(query) {
			return OffTopicVerdict{
				IsOffTopic: true,
				Category:   p.category,
				Reason:     p.reason,
			}
		}
	}
	return OffTopicVerdict{}
}
