package convert

import (
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// nodeNavigator implements xpath.NodeNavigator over a parsed HTML tree.
type nodeNavigator struct {
	node *html.Node
	attr int // 1-based attribute index, 0 when on the element itself
}

func newNodeNavigator(root *html.Node) *nodeNavigator {
	return &nodeNavigator{node: root}
}

func (n *nodeNavigator) onAttr() bool {
	return n.node.Type == html.ElementNode && n.attr > 0 && n.attr <= len(n.node.Attr)
}

func (n *nodeNavigator) NodeType() xpath.NodeType {
	switch n.node.Type {
	case html.DocumentNode:
		return xpath.RootNode
	case html.TextNode:
		return xpath.TextNode
	case html.CommentNode:
		return xpath.CommentNode
	}
	if n.onAttr() {
		return xpath.AttributeNode
	}
	return xpath.ElementNode
}

func (n *nodeNavigator) LocalName() string {
	if n.onAttr() {
		return n.node.Attr[n.attr-1].Key
	}
	if n.node.Type == html.ElementNode {
		return n.node.Data
	}
	return ""
}

func (n *nodeNavigator) Prefix() string { return "" }

func (n *nodeNavigator) Value() string {
	if n.onAttr() {
		return n.node.Attr[n.attr-1].Val
	}
	switch n.node.Type {
	case html.TextNode, html.CommentNode:
		return n.node.Data
	}
	return ""
}

func (n *nodeNavigator) Copy() xpath.NodeNavigator {
	cp := *n
	return &cp
}

func (n *nodeNavigator) MoveToRoot() {
	for n.node.Parent != nil {
		n.node = n.node.Parent
	}
	n.attr = 0
}

func (n *nodeNavigator) MoveToParent() bool {
	if n.attr > 0 {
		n.attr = 0
		return true
	}
	if n.node.Parent == nil {
		return false
	}
	n.node = n.node.Parent
	return true
}

func (n *nodeNavigator) MoveToNextAttribute() bool {
	if n.node.Type != html.ElementNode || n.attr >= len(n.node.Attr) {
		return false
	}
	n.attr++
	return true
}

func (n *nodeNavigator) MoveToChild() bool {
	if n.attr > 0 || n.node.FirstChild == nil {
		return false
	}
	n.node = n.node.FirstChild
	return true
}

func (n *nodeNavigator) MoveToFirst() bool {
	if n.attr > 0 || n.node.Parent == nil || n.node.PrevSibling == nil {
		return false
	}
	n.node = n.node.Parent.FirstChild
	return true
}

func (n *nodeNavigator) MoveToNext() bool {
	if n.attr > 0 || n.node.NextSibling == nil {
		return false
	}
	n.node = n.node.NextSibling
	return true
}

func (n *nodeNavigator) MoveToPrevious() bool {
	if n.attr > 0 || n.node.PrevSibling == nil {
		return false
	}
	n.node = n.node.PrevSibling
	return true
}

func (n *nodeNavigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*nodeNavigator)
	if !ok {
		return false
	}
	n.node, n.attr = o.node, o.attr
	return true
}

func (n *nodeNavigator) String() string { return n.Value() }
