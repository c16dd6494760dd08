// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package doctree provides the hierarchical document index used by tree retrieval.
//
// # Description
//
// A DocumentTree is built once at ingestion time (outside this service) and
// persisted as JSON. This package loads that JSON into an immutable, id-indexed
// tree that retrieval walks many times per query. Nodes carry section titles,
// inclusive page ranges, optional summaries, and optional full text.
//
// # Thread Safety
//
// Trees are read-only after Load/Index. All methods are safe for concurrent use
// as long as callers do not mutate nodes.
package doctree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TreeNode is a single section in the document hierarchy.
//
// # Description
//
// Nodes form a tree (not a graph): each node exclusively owns its Children,
// and a node's StartIndex..EndIndex page range is assumed to contain the
// ranges of all its children. NodeID is the stable identity used for
// cross-referencing and citation mapping.
//
// # JSON Serialization
//
//	{
//	    "node_id": "n12",
//	    "title": "Article 50 - General Anti-Abuse Rule",
//	    "start_index": 41,
//	    "end_index": 43,
//	    "summary": "general anti-abuse rule",
//	    "children": []
//	}
type TreeNode struct {
	// NodeID is unique within a tree and stable across loads.
	NodeID string `json:"node_id"`

	// Title is the section heading text.
	Title string `json:"title"`

	// StartIndex and EndIndex are the inclusive physical page range.
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`

	// Summary is a short abstract generated at ingestion. May be empty.
	Summary string `json:"summary,omitempty"`

	// Text is the full section text. Large sections may omit it to bound
	// token usage upstream.
	Text string `json:"text,omitempty"`

	// Children are the ordered subsections. Empty for leaf nodes.
	Children []*TreeNode `json:"children,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n *TreeNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// DocumentTree is the immutable per-document hierarchical index.
type DocumentTree struct {
	// DocumentID identifies the source document this tree was built from.
	DocumentID string `json:"document_id"`

	// FileName is the original upload name, used for source labels.
	FileName string `json:"file_name,omitempty"`

	// Structure holds the ordered top-level sections.
	Structure []*TreeNode `json:"structure"`

	// byID maps node_id to its node. Built once by Index().
	byID map[string]*TreeNode

	// parent maps node_id to its parent node (nil for top-level nodes).
	parent map[string]*TreeNode
}

// Load parses a persisted tree JSON document and indexes it.
//
// # Description
//
// Decodes the JSON produced at ingestion time and builds the id lookup
// index in the same pass. The returned tree is ready for retrieval.
//
// # Inputs
//
//   - data: JSON bytes in the DocumentTree schema.
//
// # Outputs
//
//   - *DocumentTree: The indexed tree.
//   - error: Non-nil if the JSON is malformed or contains duplicate node ids.
func Load(data []byte) (*DocumentTree, error) {
	var tree DocumentTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse document tree JSON: %w", err)
	}
	if err := tree.Index(); err != nil {
		return nil, err
	}
	return &tree, nil
}

// Index builds the node_id lookup tables for the tree.
//
// # Description
//
// Walks the structure once in pre-order and records an id → node map plus an
// id → parent map. Lookup after Index is O(1) per node, and breadcrumb
// construction is O(depth). Index must be called before Node, Breadcrumb, or
// Walk on a tree built by hand (Load calls it for you).
//
// # Outputs
//
//   - error: Non-nil if two nodes share a node_id.
func (t *DocumentTree) Index() error {
	t.byID = make(map[string]*TreeNode)
	t.parent = make(map[string]*TreeNode)

	var walk func(node *TreeNode, parent *TreeNode) error
	walk = func(node *TreeNode, parent *TreeNode) error {
		if node == nil {
			return nil
		}
		if _, exists := t.byID[node.NodeID]; exists {
			return fmt.Errorf("duplicate node id %q in document tree %s", node.NodeID, t.DocumentID)
		}
		t.byID[node.NodeID] = node
		if parent != nil {
			t.parent[node.NodeID] = parent
		}
		for _, child := range node.Children {
			if err := walk(child, node); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range t.Structure {
		if err := walk(root, nil); err != nil {
			return err
		}
	}
	return nil
}

// Node returns the node with the given id, or nil if absent.
//
// The reasoning step upstream may hallucinate ids, so a nil return is an
// expected outcome, not an error.
func (t *DocumentTree) Node(nodeID string) *TreeNode {
	if t.byID == nil {
		return nil
	}
	return t.byID[nodeID]
}

// Len returns the total number of nodes in the tree.
func (t *DocumentTree) Len() int {
	return len(t.byID)
}

// Walk visits every node in document order (pre-order traversal).
//
// The visitor receives the node and its depth (0 for top-level sections).
// Returning false stops the walk early.
func (t *DocumentTree) Walk(visit func(node *TreeNode, depth int) bool) {
	var walk func(node *TreeNode, depth int) bool
	walk = func(node *TreeNode, depth int) bool {
		if !visit(node, depth) {
			return false
		}
		for _, child := range node.Children {
			if !walk(child, depth+1) {
				return false
			}
		}
		return true
	}
	for _, root := range t.Structure {
		if !walk(root, 0) {
			return
		}
	}
}

// Granularity classifies a section title for breadcrumb construction.
type Granularity int

const (
	// GranularityChapter covers chapter/part level headings.
	GranularityChapter Granularity = iota
	// GranularitySection covers article/section level headings.
	GranularitySection
	// GranularityOther covers anything else (subsections, annexes, tables).
	GranularityOther
)

// chapterPrefixes and sectionPrefixes classify heading titles. Legal source
// documents in this domain use "Chapter"/"Part" for the top level and
// "Article"/"Section" below it.
var chapterPrefixes = []string{"chapter", "part", "title "}
var sectionPrefixes = []string{"article", "section", "§", "clause"}

// ClassifyTitle returns the breadcrumb granularity for a section title.
func ClassifyTitle(title string) Granularity {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, p := range chapterPrefixes {
		if strings.HasPrefix(lower, p) {
			return GranularityChapter
		}
	}
	for _, p := range sectionPrefixes {
		if strings.HasPrefix(lower, p) {
			return GranularitySection
		}
	}
	return GranularityOther
}

// Breadcrumb reconstructs the ancestor title path for a node.
//
// # Description
//
// Walks from the tree root down to the node using the parent index recorded
// by Index, collecting titles in order. Chapter-level titles reset the
// breadcrumb; article/section-level titles replace the deepest prior entry
// of the same granularity; other titles append. This matches the hierarchy
// semantics of the source documents, where a flat ingestion pass may emit
// chapters and articles as siblings rather than nested nodes.
//
// # Inputs
//
//   - nodeID: The node to build the path for.
//
// # Outputs
//
//   - []string: Ancestor titles from root to node, e.g.
//     ["Chapter 9", "Article 50 - General Anti-Abuse Rule"].
//     Nil if the node id is not in the tree.
func (t *DocumentTree) Breadcrumb(nodeID string) []string {
	node := t.Node(nodeID)
	if node == nil {
		return nil
	}

	// Collect the ancestor chain root-first.
	var chain []*TreeNode
	for cur := node; cur != nil; cur = t.parent[cur.NodeID] {
		chain = append([]*TreeNode{cur}, chain...)
	}

	var crumbs []string
	for _, cur := range chain {
		switch ClassifyTitle(cur.Title) {
		case GranularityChapter:
			crumbs = []string{cur.Title}
		case GranularitySection:
			// Replace the deepest prior section-level entry, if any.
			replaced := false
			for i := len(crumbs) - 1; i >= 0; i-- {
				if ClassifyTitle(crumbs[i]) == GranularitySection {
					crumbs = append(crumbs[:i], cur.Title)
					replaced = true
					break
				}
			}
			if !replaced {
				crumbs = append(crumbs, cur.Title)
			}
		default:
			crumbs = append(crumbs, cur.Title)
		}
	}
	return crumbs
}

// PathString joins a breadcrumb with the standard separator.
func PathString(crumbs []string) string {
	return strings.Join(crumbs, " > ")
}
