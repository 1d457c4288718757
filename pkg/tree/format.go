package tree

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
)

const indentUnit = "    "

var typeToken = regexp.MustCompile(`^\S+$`)

// Repr renders v the way it is written in a tree description, so that
// ParseLiteral(Repr(v)) gives v back.
func Repr(v any) string {
	var b strings.Builder
	writeRepr(&b, v)
	return b.String()
}

func writeRepr(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if x {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case string:
		writeString(b, x)
	case int:
		b.WriteString(strconv.Itoa(x))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float32:
		b.WriteString(formatFloat(float64(x)))
	case float64:
		b.WriteString(formatFloat(x))
	case time.Time:
		writeString(b, x.Format(time.RFC3339Nano))
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, e)
		}
		b.WriteByte(']')
	case []string:
		list := make([]any, len(x))
		for i, s := range x {
			list[i] = s
		}
		writeRepr(b, list)
	case core.Props:
		writeRepr(b, map[string]any(x))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeString(b, k)
			b.WriteString(": ")
			writeRepr(b, x[k])
		}
		b.WriteByte('}')
	default:
		writeString(b, fmt.Sprint(x))
	}
}

// formatFloat follows Python's float repr: shortest digits, exponent form
// outside [1e-4, 1e16), and always a decimal point or exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func writeString(b *strings.Builder, s string) {
	quote := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		quote = '"'
	}
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
}

// Format renders the children of root as a tree description.
func Format(root *Node) string {
	var b strings.Builder
	for _, c := range root.Children {
		writeNode(&b, c, 0)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *Node, depth int) {
	pad := strings.Repeat(indentUnit, depth)
	props := n.Props
	b.WriteString(pad)
	b.WriteByte('/')
	b.WriteString(n.Name)
	if t, ok := headerType(props); ok {
		b.WriteString(": ")
		b.WriteString(t)
		props = props.Clone()
		delete(props, TypeProperty)
	}
	b.WriteByte('\n')

	plain, links := codec.SplitLinks(props)
	for _, name := range plain {
		fmt.Fprintf(b, "%s%s%s = %s\n", pad, indentUnit, name, Repr(props[name]))
	}
	for _, name := range links {
		target, _ := codec.LinkTarget(props, name)
		fmt.Fprintf(b, "%s%s%s -> %s\n", pad, indentUnit, name, target)
	}

	children := append([]*Node(nil), n.Children...)
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		writeNode(b, c, depth+1)
	}
}

// headerType reports whether the type property can be written on the node line.
func headerType(props core.Props) (string, bool) {
	t, ok := props[TypeProperty].(string)
	if !ok || !typeToken.MatchString(t) {
		return "", false
	}
	return t, true
}
