// Package core holds the domain types shared by every canopy component:
// node properties, stats, ACLs, watch kinds and the driver contract.
package core

import (
	"path"
	"strings"
	"time"
)

// Props represents the decoded key-value pairs stored in a node payload.
type Props map[string]any

// Clone returns a shallow copy of p. A nil map clones to an empty one.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// LinkSuffix marks a property whose value is a path standing in for a child.
const LinkSuffix = " ->"

// Stat is the metadata the store keeps for a node.
type Stat struct {
	Version        int32
	CVersion       int32
	AVersion       int32
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
	Created        time.Time
	Modified       time.Time
}

// Ephemeral reports whether the node is owned by a session.
func (s Stat) Ephemeral() bool {
	return s.EphemeralOwner != 0
}

// Permission bits, numerically identical to the store's.
const (
	PermRead   int32 = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// ACL is a single access control entry.
type ACL struct {
	Perms  int32  `json:"perms" yaml:"perms"`
	Scheme string `json:"scheme" yaml:"scheme"`
	ID     string `json:"id" yaml:"id"`
}

// WorldACL grants perms to everyone.
func WorldACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "world", ID: "anyone"}}
}

var (
	// ReadACL is the world-readable default used for registered servers.
	ReadACL = WorldACL(PermRead)
	// OpenACL is the default for nodes created by imports.
	OpenACL = WorldACL(PermAll)
)

// EqualACL compares two ACL lists ignoring order.
func EqualACL(a, b []ACL) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[ACL]int, len(a))
	for _, e := range a {
		seen[e]++
	}
	for _, e := range b {
		if seen[e] == 0 {
			return false
		}
		seen[e]--
	}
	return true
}

// CreateFlags modify how a node is created.
type CreateFlags int32

const (
	FlagEphemeral CreateFlags = 1
	FlagSequence  CreateFlags = 2
)

// Kind is the change kind a watch observes.
type Kind int

const (
	KindChildren Kind = iota
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindChildren:
		return "children"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Join joins a base path and a child name.
func Join(base, name string) string {
	if base == "/" {
		return "/" + name
	}
	return base + "/" + name
}

// Split returns the parent path and the last element of p.
func Split(p string) (string, string) {
	p = Clean(p)
	if p == "/" {
		return "/", ""
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// Clean normalises p into an absolute path without a trailing slash.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
