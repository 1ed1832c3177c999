package markup

import (
	"fmt"
	"strings"
	"unicode"
)

// SegKind classifies a piece of text or attribute value.
type SegKind int

const (
	SegText SegKind = iota // literal text
	SegRef                 // ${name}, a live binding
	SegExpr                // {{ expr }}, a literal rendered at expansion time
	SegStmt                // {% stmt %}, a control statement
)

func (k SegKind) String() string {
	switch k {
	case SegText:
		return "text"
	case SegRef:
		return "ref"
	case SegExpr:
		return "expr"
	case SegStmt:
		return "stmt"
	}
	return "none"
}

// Segment is one lexical unit of text. For SegRef, SegExpr and SegStmt,
// Text holds the trimmed inner source and Raw the source with delimiters.
type Segment struct {
	Kind      SegKind
	Text      string
	Raw       string
	TrimLeft  bool // {%- ...
	TrimRight bool // ... -%}
}

type stateFn func(*lexer) stateFn

// lexer splits text into segments. It follows the state-function style:
// each state scans from p1 and returns the next state.
type lexer struct {
	src    string
	p0, p1 int
	segs   []Segment
	err    error
}

// lexSegments splits s into literal text and ${...}, {{...}} and {%...%}
// directives. Whitespace inside delimiters is not significant.
func lexSegments(s string) ([]Segment, error) {
	l := &lexer{src: s}
	for state := lexText; state != nil; {
		state = state(l)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.segs, nil
}

func (l *lexer) emitText() {
	if l.p1 > l.p0 {
		l.segs = append(l.segs, Segment{Kind: SegText, Text: l.src[l.p0:l.p1], Raw: l.src[l.p0:l.p1]})
	}
	l.p0 = l.p1
}

func (l *lexer) fail(format string, args ...any) stateFn {
	l.err = errorf(l.src[l.p0:], format, args...)
	return nil
}

func lexText(l *lexer) stateFn {
	for l.p1 < len(l.src) {
		rest := l.src[l.p1:]
		switch {
		case strings.HasPrefix(rest, "${"):
			l.emitText()
			return lexRef
		case strings.HasPrefix(rest, "{{"):
			l.emitText()
			return lexExpr
		case strings.HasPrefix(rest, "{%"):
			l.emitText()
			return lexStmt
		}
		l.p1++
	}
	l.emitText()
	return nil
}

// lexRef scans ${...}, counting braces so that a subscript such as
// ${children[{{ loop.index0 }}]} stays one segment.
func lexRef(l *lexer) stateFn {
	l.p1 += 2
	depth := 1
	for ; l.p1 < len(l.src); l.p1++ {
		switch l.src[l.p1] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 {
			inner := strings.TrimSpace(l.src[l.p0+2 : l.p1])
			l.p1++
			l.segs = append(l.segs, Segment{Kind: SegRef, Text: inner, Raw: l.src[l.p0:l.p1]})
			l.p0 = l.p1
			if inner == "" {
				return l.fail("empty ${} reference")
			}
			return lexText
		}
	}
	return l.fail("no closing '}' for ${")
}

func lexExpr(l *lexer) stateFn {
	end := strings.Index(l.src[l.p1+2:], "}}")
	if end < 0 {
		return l.fail("no closing '}}' for {{")
	}
	l.p1 += 2 + end + 2
	inner := strings.TrimSpace(l.src[l.p0+2 : l.p1-2])
	l.segs = append(l.segs, Segment{Kind: SegExpr, Text: inner, Raw: l.src[l.p0:l.p1]})
	l.p0 = l.p1
	if inner == "" {
		return l.fail("empty {{ }} expression")
	}
	return lexText
}

func lexStmt(l *lexer) stateFn {
	end := strings.Index(l.src[l.p1+2:], "%}")
	if end < 0 {
		return l.fail("no closing '%%}' for {%%")
	}
	l.p1 += 2 + end + 2
	inner := l.src[l.p0+2 : l.p1-2]
	seg := Segment{Kind: SegStmt, Raw: l.src[l.p0:l.p1]}
	if strings.HasPrefix(inner, "-") {
		seg.TrimLeft = true
		inner = inner[1:]
	}
	if strings.HasSuffix(inner, "-") {
		seg.TrimRight = true
		inner = inner[:len(inner)-1]
	}
	seg.Text = strings.TrimSpace(inner)
	l.segs = append(l.segs, seg)
	l.p0 = l.p1
	return lexText
}

// Ref is a parsed ${...} reference: a name with an optional subscript.
type Ref struct {
	Name      string
	Subscript string // inner text of [...], with any {{ }} removed
	HasSub    bool
}

// parseRef parses the inner text of a ${...} segment.
//
//	ref ::= ID | ID '[' sub ']'
//	sub ::= '{{' expr '}}' | expr
func parseRef(s string) (Ref, error) {
	i := 0
	for i < len(s) && isIdent(rune(s[i])) {
		i++
	}
	if i == 0 || unicode.IsDigit(rune(s[0])) {
		return Ref{}, fmt.Errorf("%q is not a valid reference", s)
	}
	r := Ref{Name: s[:i]}
	rest := strings.TrimSpace(s[i:])
	if rest == "" {
		return r, nil
	}
	if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return Ref{}, fmt.Errorf("%q is not a valid reference", s)
	}
	sub := strings.TrimSpace(rest[1 : len(rest)-1])
	if strings.HasPrefix(sub, "{{") && strings.HasSuffix(sub, "}}") {
		sub = strings.TrimSpace(sub[2 : len(sub)-2])
	}
	if sub == "" {
		return Ref{}, fmt.Errorf("%q has an empty subscript", s)
	}
	r.Subscript, r.HasSub = sub, true
	return r, nil
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isIdentString(s string) bool {
	if s == "" || unicode.IsDigit(rune(s[0])) {
		return false
	}
	for _, r := range s {
		if !isIdent(r) {
			return false
		}
	}
	return true
}
