package tree

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/canopy/pkg/core"
)

// ErrParse matches every *ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports a malformed line. Nothing is applied when parsing fails.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

const tabWidth = 8

var (
	nodeLine     = regexp.MustCompile(`^/([^\s/]+?)\s*:\s+(\S+)$`)
	bareNodeLine = regexp.MustCompile(`^/([^\s/]+)$`)
	linkStart    = regexp.MustCompile(`^[^\s=]+\s*->`)
	linkLine     = regexp.MustCompile(`^([^\s=]+)\s*->\s*(/\S*)$`)
	propLine     = regexp.MustCompile(`^([^\s=]+)\s*=\s*(.+)$`)
)

type lineKind int

const (
	lineNode lineKind = iota
	lineProp
)

// Parse reads a tree description. The returned root is synthetic: its
// children are the top-level nodes of the text.
func Parse(text string) (*Node, error) {
	p := &parser{root: NewNode("")}
	p.stack = []*Node{p.root}
	p.prevLevel = -1

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if err := p.line(n, sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	return p.root, nil
}

type parser struct {
	root      *Node
	stack     []*Node
	unit      int
	prevLevel int
	prevKind  lineKind
}

func (p *parser) line(n int, raw string) error {
	fail := func(reason string) error {
		return &ParseError{Line: n, Text: raw, Reason: reason}
	}

	indent, body := measure(raw)
	body = strings.TrimRight(body, " \t\r")
	if body == "" || strings.HasPrefix(body, "#") {
		return nil
	}

	level := 0
	if indent > 0 {
		if p.unit == 0 {
			p.unit = indent
		}
		if indent%p.unit != 0 {
			return fail("inconsistent indentation")
		}
		level = indent / p.unit
	}

	switch {
	case level > p.prevLevel+1:
		return fail("indented more than one level")
	case level == p.prevLevel+1 && p.prevLevel >= 0 && p.prevKind != lineNode:
		return fail("indented under a property")
	}
	parent := p.stack[level]

	if strings.HasPrefix(body, "/") {
		child, err := parseNode(body)
		if err != nil {
			return fail(err.Error())
		}
		if !parent.AddChild(child) {
			return fail(fmt.Sprintf("duplicate node %q", child.Name))
		}
		p.stack = append(p.stack[:level+1], child)
		p.prevLevel, p.prevKind = level, lineNode
		return nil
	}

	if level == 0 {
		return fail("property outside of a node")
	}

	name, value, err := parseProperty(body)
	if err != nil {
		return fail(err.Error())
	}
	if _, dup := parent.Props[name]; dup {
		return fail(fmt.Sprintf("duplicate property %q", name))
	}
	parent.Props[name] = value
	p.stack = p.stack[:level+1]
	p.prevLevel, p.prevKind = level, lineProp
	return nil
}

func parseNode(body string) (*Node, error) {
	if m := nodeLine.FindStringSubmatch(body); m != nil {
		n := NewNode(m[1])
		n.Props[TypeProperty] = m[2]
		return n, nil
	}
	if m := bareNodeLine.FindStringSubmatch(body); m != nil {
		return NewNode(m[1]), nil
	}
	return nil, errors.New("malformed node line")
}

func parseProperty(body string) (string, any, error) {
	if linkStart.MatchString(body) {
		m := linkLine.FindStringSubmatch(body)
		if m == nil {
			return "", nil, errors.New("malformed link line")
		}
		return m[1] + core.LinkSuffix, core.Clean(m[2]), nil
	}
	m := propLine.FindStringSubmatch(body)
	if m == nil {
		return "", nil, errors.New("unrecognized line")
	}
	v, err := ParseLiteral(m[2])
	if err != nil {
		return "", nil, err
	}
	return m[1], v, nil
}

// measure returns the indentation width of raw, with tabs advancing to the
// next multiple of eight, and the rest of the line.
func measure(raw string) (int, string) {
	width := 0
	for i, r := range raw {
		switch r {
		case ' ':
			width++
		case '\t':
			width += tabWidth - width%tabWidth
		default:
			return width, raw[i:]
		}
	}
	return width, ""
}
