// Package tree reads, writes and reconciles indented descriptions of a
// subtree of the store.
//
// A description looks like:
//
//	/app: service
//	    replicas = 3
//	    tags = ['a', 'b']
//	    current -> /app/v2
//	    /v2
//	        image = "registry/app:2"
//
// Node lines start with "/", properties use "name = literal" and links use
// "name -> /absolute/path". Indentation nests nodes; every level must be
// indented by the same width.
package tree

import (
	"github.com/aretw0/canopy/pkg/core"
)

// TypeProperty holds the type given on a node line as "/name: type".
const TypeProperty = "type"

// Node is one declared node. Link properties are kept in Props under their
// marked name ("name ->").
type Node struct {
	Name     string
	Props    core.Props
	Children []*Node
}

// NewNode creates an empty node.
func NewNode(name string) *Node {
	return &Node{Name: name, Props: core.Props{}}
}

// Child returns the child called name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddChild appends c. It reports false if a child of that name already exists.
func (n *Node) AddChild(c *Node) bool {
	if n.Child(c.Name) != nil {
		return false
	}
	n.Children = append(n.Children, c)
	return true
}

// Type returns the node type, if one was declared.
func (n *Node) Type() string {
	t, _ := n.Props[TypeProperty].(string)
	return t
}
