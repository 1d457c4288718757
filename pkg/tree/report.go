package tree

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/aretw0/canopy/pkg/core"
)

// TextReporter writes one line per change, coloured when w is a terminal.
type TextReporter struct {
	mu     sync.Mutex
	w      io.Writer
	add    *color.Color
	remove *color.Color
	modify *color.Color
	note   *color.Color
}

// NewTextReporter returns a reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	r := &TextReporter{
		w:      w,
		add:    color.New(color.FgGreen),
		remove: color.New(color.FgRed),
		modify: color.New(color.FgYellow),
		note:   color.New(color.FgCyan),
	}
	r.SetColor(isTerminal(w))
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// SetColor forces colour on or off.
func (r *TextReporter) SetColor(on bool) {
	for _, c := range []*color.Color{r.add, r.remove, r.modify, r.note} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

func (r *TextReporter) Report(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := func(done, planned string) string {
		if c.DryRun {
			return planned
		}
		return done
	}

	switch c.Action {
	case ActionAdd:
		r.add.Fprintf(r.w, "%s %s\n", verb("added", "would add"), c.Path)
		r.props(c.Props)
	case ActionUpdate:
		r.modify.Fprintf(r.w, "%s %s\n", verb("updated", "would update"), c.Path)
		r.props(c.Props)
	case ActionDelete:
		r.remove.Fprintf(r.w, "%s %s\n", verb("deleted", "would delete"), c.Path)
	case ActionExtra:
		r.note.Fprintf(r.w, "extra %s\n", c.Path)
	case ActionKeep:
		r.note.Fprintf(r.w, "kept %s: %s\n", c.Path, c.Reason)
	case ActionACL:
		r.modify.Fprintf(r.w, "%s %s: %s -> %s\n", verb("acl", "would set acl"), c.Path, formatACL(c.ACL[0]), formatACL(c.ACL[1]))
	}
}

func (r *TextReporter) props(changes []PropChange) {
	for _, pc := range changes {
		switch pc.Kind {
		case PropAdded:
			r.add.Fprintf(r.w, "  + %s\n", propLineText(pc.Name, pc.New))
		case PropRemoved:
			r.remove.Fprintf(r.w, "  - %s\n", propLineText(pc.Name, pc.Old))
		case PropModified:
			oldText, oldOK := pc.Old.(string)
			newText, newOK := pc.New.(string)
			if oldOK && newOK && (strings.Contains(oldText, "\n") || strings.Contains(newText, "\n")) {
				r.modify.Fprintf(r.w, "  ~ %s:\n", pc.Name)
				r.textDiff(oldText, newText)
				continue
			}
			r.modify.Fprintf(r.w, "  ~ %s: %s -> %s\n", pc.Name, Repr(pc.Old), Repr(pc.New))
		}
	}
}

func (r *TextReporter) textDiff(a, b string) {
	for _, line := range strings.SplitAfter(Diff(a, b), "\n") {
		if line == "" {
			continue
		}
		c := r.note
		switch line[0] {
		case '+':
			c = r.add
		case '-':
			c = r.remove
		}
		c.Fprintf(r.w, "      %s", line)
	}
}

func propLineText(name string, v any) string {
	if strings.HasSuffix(name, core.LinkSuffix) {
		return fmt.Sprintf("%s %v", name, v)
	}
	return fmt.Sprintf("%s = %s", name, Repr(v))
}

func formatACL(acl []core.ACL) string {
	parts := make([]string, len(acl))
	for i, e := range acl {
		parts[i] = fmt.Sprintf("%s:%s:%s", e.Scheme, e.ID, permString(e.Perms))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func permString(p int32) string {
	var b strings.Builder
	for _, f := range []struct {
		bit  int32
		flag byte
	}{{core.PermRead, 'r'}, {core.PermWrite, 'w'}, {core.PermCreate, 'c'}, {core.PermDelete, 'd'}, {core.PermAdmin, 'a'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.flag)
		}
	}
	return b.String()
}
