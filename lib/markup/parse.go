package markup

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// NodeType classifies template nodes.
type NodeType int

const (
	TextNode NodeType = iota
	ElementNode
	LoopBlock
	RawNode // comments, doctypes and script/style bodies, copied verbatim
)

// Attr is an element attribute whose value has been split into segments.
type Attr struct {
	Key   string
	Value []Segment
}

// Loop is the header of a {% for %} block.
type Loop struct {
	Var        string
	KeyVar     string // set for "for k, v in coll.items()"
	Collection string
	Items      bool
	Index      int // position in Plan.Loops, set by Compile
}

// Node is a node of the parsed template tree.
type Node struct {
	Type     NodeType
	Tag      string
	ID       string // base id; a "-{{ loop.index0 }}" suffix is stripped
	Looped   bool   // expanded once per loop item as ID-index
	Void     bool
	Attrs    []Attr
	Text     []Segment
	Raw      string
	Children []*Node
	Loop     *Loop
	Fragment string // opening tag or statement source, for errors
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

var rawTextElements = map[string]bool{"script": true, "style": true}

// parser builds the node tree from the html tokenizer's token stream. Open
// elements and loops share one stack so that a loop must close inside the
// element that opened it.
type parser struct {
	z        *html.Tokenizer
	stack    []*Node
	trimNext bool
}

// Parse parses a template into its node tree. It is a pure function of src.
func Parse(src string) ([]*Node, error) {
	root := &Node{Type: ElementNode}
	p := &parser{
		z:     html.NewTokenizer(strings.NewReader(src)),
		stack: []*Node{root},
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return root.Children, nil
}

func (p *parser) top() *Node { return p.stack[len(p.stack)-1] }

func (p *parser) append(n *Node) {
	top := p.top()
	top.Children = append(top.Children, n)
}

func (p *parser) run() error {
	for {
		tt := p.z.Next()
		raw := string(p.z.Raw())
		switch tt {
		case html.ErrorToken:
			if errors.Is(p.z.Err(), io.EOF) {
				return p.finish()
			}
			return p.z.Err()
		case html.TextToken:
			if err := p.text(raw); err != nil {
				return err
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			p.trimNext = false
			if err := p.startTag(p.z.Token(), raw, tt == html.SelfClosingTagToken); err != nil {
				return err
			}
		case html.EndTagToken:
			p.trimNext = false
			if err := p.endTag(p.z.Token().Data); err != nil {
				return err
			}
		default:
			p.append(&Node{Type: RawNode, Raw: raw})
		}
	}
}

func (p *parser) finish() error {
	for i := len(p.stack) - 1; i > 0; i-- {
		if n := p.stack[i]; n.Type == LoopBlock {
			return errorf(n.Fragment, "the for loop is never closed; add {%% endfor %%}")
		}
	}
	p.stack = p.stack[:1]
	return nil
}

func (p *parser) text(raw string) error {
	if top := p.top(); top.Type == ElementNode && rawTextElements[top.Tag] {
		p.append(&Node{Type: RawNode, Raw: raw})
		return nil
	}
	segs, err := lexSegments(raw)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if seg.Kind == SegStmt {
			if err := p.statement(seg); err != nil {
				return err
			}
			continue
		}
		if seg.Kind == SegText && p.trimNext {
			seg.Text = strings.TrimLeft(seg.Text, " \t\r\n")
			seg.Raw = seg.Text
			if seg.Text == "" {
				continue
			}
		}
		p.trimNext = false
		p.appendSegment(seg)
	}
	return nil
}

func (p *parser) appendSegment(seg Segment) {
	top := p.top()
	if n := len(top.Children); n > 0 && top.Children[n-1].Type == TextNode {
		last := top.Children[n-1]
		last.Text = append(last.Text, seg)
		return
	}
	p.append(&Node{Type: TextNode, Text: []Segment{seg}})
}

// trimTrailing implements {%- by removing the whitespace that ends the
// current container's last text node.
func (p *parser) trimTrailing() {
	top := p.top()
	n := len(top.Children)
	if n == 0 || top.Children[n-1].Type != TextNode {
		return
	}
	last := top.Children[n-1]
	for len(last.Text) > 0 {
		seg := &last.Text[len(last.Text)-1]
		if seg.Kind != SegText {
			return
		}
		seg.Text = strings.TrimRight(seg.Text, " \t\r\n")
		seg.Raw = seg.Text
		if seg.Text != "" {
			return
		}
		last.Text = last.Text[:len(last.Text)-1]
	}
	top.Children = top.Children[:n-1]
}

func (p *parser) statement(seg Segment) error {
	if seg.TrimLeft {
		p.trimTrailing()
	}
	fields := strings.Fields(seg.Text)
	if len(fields) == 0 {
		return errorf(seg.Raw, "empty control statement")
	}
	switch fields[0] {
	case "for":
		loop, err := parseFor(seg)
		if err != nil {
			return err
		}
		n := &Node{Type: LoopBlock, Loop: loop, Fragment: seg.Raw}
		p.append(n)
		p.stack = append(p.stack, n)
	case "endfor":
		top := p.top()
		if top.Type != LoopBlock {
			if top.Type == ElementNode && top.Tag != "" {
				return errorf(seg.Raw, "{%% endfor %%} found while <%s> is still open inside the loop", top.Tag)
			}
			return errorf(seg.Raw, "{%% endfor %%} without a matching {%% for %%}")
		}
		p.stack = p.stack[:len(p.stack)-1]
	default:
		return errorf(seg.Raw, "unsupported control statement %q; only for loops are supported", fields[0])
	}
	p.trimNext = seg.TrimRight
	return nil
}

// parseFor parses "for v in coll" and "for k, v in coll.items()".
func parseFor(seg Segment) (*Loop, error) {
	body := strings.TrimSpace(strings.TrimPrefix(seg.Text, "for"))
	vars, coll, ok := strings.Cut(body, " in ")
	if !ok {
		return nil, errorf(seg.Raw, "malformed for loop; expected {%% for item in collection %%}")
	}
	loop := &Loop{Collection: strings.TrimSpace(coll)}
	if c, found := strings.CutSuffix(loop.Collection, ".items()"); found {
		loop.Collection, loop.Items = strings.TrimSpace(c), true
	}
	names := strings.Split(vars, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	switch {
	case len(names) == 1 && !loop.Items:
		loop.Var = names[0]
	case len(names) == 2 && loop.Items:
		loop.KeyVar, loop.Var = names[0], names[1]
	default:
		return nil, errorf(seg.Raw, "malformed for loop; use {%% for item in list %%} or {%% for key, item in dict.items() %%}")
	}
	for _, name := range []string{loop.Var, loop.KeyVar, loop.Collection} {
		if name != "" && !isIdentString(name) {
			return nil, errorf(seg.Raw, "%q is not a valid name in a for loop", name)
		}
	}
	if loop.Var == "loop" || loop.KeyVar == "loop" {
		return nil, errorf(seg.Raw, "the loop variable may not be called \"loop\"")
	}
	return loop, nil
}

func (p *parser) startTag(tok html.Token, raw string, selfClosing bool) error {
	n := &Node{
		Type:     ElementNode,
		Tag:      tok.Data,
		Void:     voidElements[tok.Data] || selfClosing,
		Fragment: raw,
	}
	for _, a := range tok.Attr {
		segs, err := lexSegments(a.Val)
		if err != nil {
			var te *TemplateError
			if errors.As(err, &te) {
				te.Fragment, te.Attr = raw, a.Key
			}
			return err
		}
		for _, seg := range segs {
			if seg.Kind == SegStmt {
				return &TemplateError{
					Message:  "control statements are not allowed inside the `" + a.Key + "` attribute",
					Fragment: raw,
					Attr:     a.Key,
				}
			}
		}
		n.Attrs = append(n.Attrs, Attr{Key: a.Key, Value: segs})
	}
	p.append(n)
	if !n.Void {
		p.stack = append(p.stack, n)
	}
	return nil
}

// endTag closes the nearest open element with the given tag. Unmatched end
// tags are ignored; a loop may not be closed implicitly.
func (p *parser) endTag(tag string) error {
	for i := len(p.stack) - 1; i > 0; i-- {
		n := p.stack[i]
		if n.Type == LoopBlock {
			if p.matches(tag, i) {
				return errorf(n.Fragment, "</%s> closes an element opened outside the for loop; add {%% endfor %%} first", tag)
			}
			return nil
		}
		if n.Tag == tag {
			p.stack = p.stack[:i]
			return nil
		}
	}
	return nil
}

func (p *parser) matches(tag string, below int) bool {
	for i := below - 1; i > 0; i-- {
		if p.stack[i].Type == ElementNode && p.stack[i].Tag == tag {
			return true
		}
	}
	return false
}
