// Package mimetree models a MIME message as an explicit recursive tree and
// provides a generic pre-order walker over it. Multipart/mixed,
// multipart/related and multipart/alternative are all just nodes with
// children; consumers apply their own predicates while walking.
package mimetree

import "strings"

// Header is a single MIME header name/value pair. Names compare
// case-insensitively; values are kept verbatim.
type Header struct {
	Name  string
	Value string
}

// Node is one part of a MIME message. A leaf carries either an inline Body
// or an AttachmentID referencing a body that must be fetched separately;
// a multipart node carries children and no body of its own.
type Node struct {
	MediaType    string
	Filename     string
	Headers      []Header
	Body         []byte
	AttachmentID string
	Children     []*Node
}

// Header returns the value of the first header with the given name,
// compared case-insensitively, or "" if the node has no such header.
func (n *Node) Header(name string) string {
	for _, h := range n.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Walk visits every node in the tree exactly once, parent before children,
// with no filtering. The visitor sees nodes in depth-first order.
func Walk(n *Node, visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, child := range n.Children {
		Walk(child, visit)
	}
}

// FindFirst walks the tree and returns the first node satisfying pred,
// or nil if no node matches.
func FindFirst(n *Node, pred func(*Node) bool) *Node {
	var found *Node
	Walk(n, func(node *Node) {
		if found == nil && pred(node) {
			found = node
		}
	})
	return found
}
