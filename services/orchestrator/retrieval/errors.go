// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"errors"
	"fmt"
)

// RetrievalError wraps failures from the chunk store boundary.
//
// # Description
//
// RetrievalError distinguishes store-level failures (unreachable backend,
// query errors) from the recoverable degradations the pipeline handles
// internally. When the hybrid engine returns a RetrievalError, every
// documented fallback has already been attempted.
//
// # Example
//
//	results, err := engine.Search(ctx, query, scope, 5)
//	if err != nil {
//	    var re *RetrievalError
//	    if errors.As(err, &re) {
//	        // Store unreachable after fallback - surface a graceful message
//	    }
//	}
type RetrievalError struct {
	// Op names the failing operation ("semantic_search", "keyword_search").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError checks if an error is (or wraps) a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// ErrEmptyQuery is returned when an empty query reaches a component that
// requires text. This is a precondition failure, fatal for the current
// request only.
var ErrEmptyQuery = errors.New("query text is empty")

// ErrTreeNotFound is returned by TreeStore implementations when no persisted
// tree exists for a document id.
var ErrTreeNotFound = errors.New("document tree not found")
