// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"log/slog"
)

// GateDecision is the confidence gate's verdict for one retrieval result.
type GateDecision struct {
	// Proceed is true when the evidence justifies attempting an answer.
	Proceed bool `json:"proceed"`

	// Reason is a stable machine-readable code: "high_confidence",
	// "medium_confidence", "no_sources", "insufficient_confidence", or
	// "default_proceed".
	Reason string `json:"reason"`

	// DeclineMessage is the user-facing explanation, set only when
	// Proceed is false.
	DeclineMessage string `json:"decline_message,omitempty"`
}

// gateRule is one row of the confidence gate's decision table.
// Rules are evaluated in order; the first match wins.
type gateRule struct {
	confidence Confidence
	minSources int
	proceed    bool
	reason     string
}

// gateRules is the decision table from the retrieval design:
//
//	high   + ≥1 source  → proceed
//	medium + ≥2 sources → proceed
//	low    + anything   → decline
//	any    + <threshold → decline
//	everything else     → proceed (bias toward attempting an answer)
//
// An explicit table rather than nested conditionals so each threshold is
// independently testable.
var gateRules = []gateRule{
	{confidence: ConfidenceHigh, minSources: 1, proceed: true, reason: "high_confidence"},
	{confidence: ConfidenceMedium, minSources: 2, proceed: true, reason: "medium_confidence"},
}

// ConfidenceGate decides whether retrieved evidence is strong enough to
// answer, and synthesizes a graceful decline message otherwise.
//
// # Thread Safety
//
// ConfidenceGate is stateless and safe for concurrent use.
type ConfidenceGate struct{}

// NewConfidenceGate creates a confidence gate.
func NewConfidenceGate() *ConfidenceGate {
	return &ConfidenceGate{}
}

// ShouldProceed evaluates the decision table for one retrieval result.
//
// # Inputs
//
//   - result: The merged retrieval result.
//
// # Outputs
//
//   - GateDecision: Proceed/decline with a reason code, and a
//     context-aware decline message when declining.
func (g *ConfidenceGate) ShouldProceed(result *RetrievalResult) GateDecision {
	sourceCount := 0
	confidence := ConfidenceLow
	if result != nil {
		sourceCount = len(result.Sources)
		confidence = result.Confidence
	}

	for _, rule := range gateRules {
		if confidence == rule.confidence && sourceCount >= rule.minSources {
			return GateDecision{Proceed: rule.proceed, Reason: rule.reason}
		}
	}

	// Low confidence, or a source count below the matched confidence's
	// threshold, declines with a message shaped by what we did find.
	if confidence == ConfidenceLow || sourceCount == 0 {
		slog.Info("Confidence gate declining", "confidence", confidence, "sources", sourceCount)
		return GateDecision{
			Proceed:        false,
			Reason:         declineReason(sourceCount),
			DeclineMessage: declineMessage(sourceCount),
		}
	}
	if confidence == ConfidenceMedium && sourceCount < 2 {
		slog.Info("Confidence gate declining", "confidence", confidence, "sources", sourceCount)
		return GateDecision{
			Proceed:        false,
			Reason:         declineReason(sourceCount),
			DeclineMessage: declineMessage(sourceCount),
		}
	}

	// Any combination the table doesn't cover proceeds: attempting an
	// answer beats over-refusing.
	return GateDecision{Proceed: true, Reason: "default_proceed"}
}

func declineReason(sourceCount int) string {
	if sourceCount == 0 {
		return "no_sources"
	}
	return "insufficient_confidence"
}

func declineMessage(sourceCount int) string {
	if sourceCount == 0 {
		return "I couldn't find anything in your uploaded documents that addresses this question. " +
			"Try rephrasing it, or check that the relevant document has been uploaded."
	}
	return "I found some related passages in your documents but I'm not confident they answer " +
		"your question. Would you like me to show the partial matches anyway?"
}
