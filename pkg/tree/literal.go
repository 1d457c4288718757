package tree

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	exprparser "github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/parser/lexer"
)

// minIntDigits is the magnitude of math.MinInt64. It does not fit in an
// int64, so the literal is read as maxIntDigits and fixed up when negated.
const (
	minIntDigits = "9223372036854775808"
	maxIntDigits = "9223372036854775807"
)

// ParseLiteral reads a Python-style literal: numbers, quoted strings,
// True/False, None, and lists or dicts of literals. Anything that would
// need evaluation (names, operators, calls) is rejected.
func ParseLiteral(src string) (any, error) {
	l := &literalReader{src: []rune(src), minInt: map[int]bool{}}
	if err := l.markMinInt(); err != nil {
		return nil, fmt.Errorf("invalid literal: %w", err)
	}
	t, err := exprparser.Parse(string(l.src))
	if err != nil {
		return nil, fmt.Errorf("invalid literal: %w", err)
	}
	return l.literal(t.Node)
}

// literalReader walks an expr AST, checking it against the source text
// where the AST alone loses information.
type literalReader struct {
	src []rune
	// minInt holds the offsets of integers that stand for math.MinInt64.
	minInt map[int]bool
}

// markMinInt rewrites "-9223372036854775808" in place so that expr can
// parse it. The replacement has the same length, which keeps every node
// location valid.
func (l *literalReader) markMinInt() error {
	tokens, err := lexer.Lex(file.NewSource(string(l.src)))
	if err != nil {
		return err
	}
	for i, tok := range tokens {
		if i == 0 || !tok.Is(lexer.Number) || tok.Value != minIntDigits || !tokens[i-1].Is(lexer.Operator, "-") {
			continue
		}
		copy(l.src[tok.From:tok.To], []rune(maxIntDigits))
		l.minInt[tok.From] = true
	}
	return nil
}

// quoted reports whether n was written as a quoted string. expr turns bare
// names and numbers in key position into string nodes too.
func (l *literalReader) quoted(n ast.Node) bool {
	from := n.Location().From
	if from < 0 || from >= len(l.src) {
		return false
	}
	return l.src[from] == '\'' || l.src[from] == '"'
}

func (l *literalReader) literal(node ast.Node) (any, error) {
	switch n := node.(type) {
	case *ast.IntegerNode:
		return int64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.NilNode:
		return nil, nil
	case *ast.IdentifierNode:
		return identifier(n.Value)
	case *ast.UnaryNode:
		return l.unary(n)
	case *ast.ArrayNode:
		list := make([]any, 0, len(n.Nodes))
		for _, elem := range n.Nodes {
			v, err := l.literal(elem)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case *ast.MapNode:
		m := make(map[string]any, len(n.Pairs))
		for _, p := range n.Pairs {
			pair, ok := p.(*ast.PairNode)
			if !ok {
				return nil, fmt.Errorf("unsupported dict entry %s", p)
			}
			key, ok := pair.Key.(*ast.StringNode)
			if !ok || !l.quoted(key) {
				return nil, fmt.Errorf("dict keys must be quoted strings, got %s", pair.Key)
			}
			if _, dup := m[key.Value]; dup {
				return nil, fmt.Errorf("duplicate dict key %q", key.Value)
			}
			v, err := l.literal(pair.Value)
			if err != nil {
				return nil, err
			}
			m[key.Value] = v
		}
		return m, nil
	default:
		return nil, fmt.Errorf("not a literal: %s", node)
	}
}

func identifier(name string) (any, error) {
	switch name {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	case "nan":
		return math.NaN(), nil
	case "inf":
		return math.Inf(1), nil
	default:
		return nil, fmt.Errorf("not a literal: %s", name)
	}
}

func (l *literalReader) unary(n *ast.UnaryNode) (any, error) {
	if n.Operator == "-" {
		if i, ok := n.Node.(*ast.IntegerNode); ok && l.minInt[i.Location().From] {
			return int64(math.MinInt64), nil
		}
	}
	v, err := l.literal(n.Node)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "-":
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
	case "+":
		switch v.(type) {
		case int64, float64:
			return v, nil
		}
	}
	return nil, fmt.Errorf("operator %q is not allowed on %v", n.Operator, v)
}
