package tree

import (
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
)

// Action says what happened, or would happen, to a node.
type Action int

const (
	ActionAdd Action = iota
	ActionUpdate
	ActionDelete
	ActionExtra
	ActionKeep
	ActionACL
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionExtra:
		return "extra"
	case ActionKeep:
		return "keep"
	case ActionACL:
		return "acl"
	default:
		return "unknown"
	}
}

// PropKind classifies a property difference.
type PropKind int

const (
	PropAdded PropKind = iota
	PropRemoved
	PropModified
)

// PropChange is a single property difference. Link names carry their
// marker, as stored.
type PropChange struct {
	Kind PropKind
	Name string
	Old  any
	New  any
}

// Change is one reported step of a reconciliation or deletion.
type Change struct {
	Action Action
	Path   string
	Props  []PropChange
	ACL    [2][]core.ACL
	Reason string
	DryRun bool
}

// Reporter receives changes as they are made.
type Reporter interface {
	Report(Change)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(Change)

func (f ReporterFunc) Report(c Change) { f(c) }

// Summary counts what a reconciliation did.
type Summary struct {
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
	Kept      int
	Extra     int
	Changes   []Change
}

// HasChanges reports whether anything was, or would be, written.
func (s *Summary) HasChanges() bool {
	return s.Created+s.Updated+s.Deleted > 0
}

func (s *Summary) record(c Change, r Reporter) {
	switch c.Action {
	case ActionAdd:
		s.Created++
	case ActionUpdate, ActionACL:
		s.Updated++
	case ActionDelete:
		s.Deleted++
	case ActionKeep:
		s.Kept++
	case ActionExtra:
		s.Extra++
	}
	s.Changes = append(s.Changes, c)
	if r != nil {
		r.Report(c)
	}
}

// DiffProps compares two property maps as they would be stored. The
// result is ordered by property name.
func DiffProps(old, updated core.Props) []PropChange {
	old, updated = normalized(old), normalized(updated)

	names := make(map[string]struct{}, len(old)+len(updated))
	for k := range old {
		names[k] = struct{}{}
	}
	for k := range updated {
		names[k] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var out []PropChange
	for _, k := range sorted {
		ov, inOld := old[k]
		nv, inNew := updated[k]
		switch {
		case !inOld:
			out = append(out, PropChange{Kind: PropAdded, Name: k, New: nv})
		case !inNew:
			out = append(out, PropChange{Kind: PropRemoved, Name: k, Old: ov})
		case !cmp.Equal(ov, nv):
			out = append(out, PropChange{Kind: PropModified, Name: k, Old: ov, New: nv})
		}
	}
	return out
}

// normalized passes props through the codec so that values compare the
// way the store would hold them.
func normalized(props core.Props) core.Props {
	if len(props) == 0 {
		return core.Props{}
	}
	data, err := codec.Encode(props)
	if err != nil {
		return props
	}
	return codec.Decode(data)
}
