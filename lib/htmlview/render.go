package htmlview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/a-h/templ"
	"github.com/yosssi/gohtml"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/vishalbelsare/panel/lib/markup"
)

// Document renders the current state of root: every top-level node with
// its expanded template, the latest attribute values and its children
// placed into their slots.
func (t *Toolkit) Document(root string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, n := range t.tops[root] {
			if err := ctx.Err(); err != nil {
				return err
			}
			tree, err := t.tree(n)
			if err != nil {
				return err
			}
			if err := html.Render(w, tree); err != nil {
				return err
			}
		}
		return nil
	})
}

// HTML renders root to a string.
func (t *Toolkit) HTML(root string) (string, error) {
	var buf bytes.Buffer
	if err := t.Document(root).Render(context.Background(), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Pretty renders root to an indented string.
func (t *Toolkit) Pretty(root string) (string, error) {
	s, err := t.HTML(root)
	if err != nil {
		return "", err
	}
	return gohtml.Format(s), nil
}

// tree builds the HTML for n and its descendants. t.mu must be held.
func (t *Toolkit) tree(n *Node) (*html.Node, error) {
	wrapper := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: n.id}, {Key: "data-kind", Val: n.kind}},
	}
	src, _ := n.props["html"].(string)
	body := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	frag, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return nil, fmt.Errorf("htmlview: %s: %w", n.id, err)
	}
	for _, c := range frag {
		wrapper.AppendChild(c)
	}

	for _, id := range sortedKeys(n.attrs) {
		el := findByID(wrapper, id+"-"+n.id)
		if el == nil {
			continue
		}
		attrs := n.attrs[id]
		for _, attr := range sortedKeys(attrs) {
			v := markup.FormatValue(attrs[attr])
			if attr == markup.ContentAttr {
				for el.FirstChild != nil {
					el.RemoveChild(el.FirstChild)
				}
				el.AppendChild(&html.Node{Type: html.TextNode, Data: v})
				continue
			}
			setAttr(el, attr, v)
		}
	}

	slots := children(n.props["children"])
	for _, slot := range sortedKeys(slots) {
		el := findByID(wrapper, slot+"-"+n.id)
		if el == nil {
			continue
		}
		for _, ref := range slots[slot] {
			child, ok := t.nodes[nodeKey{n.root, ref}]
			if !ok {
				continue
			}
			sub, err := t.tree(child)
			if err != nil {
				return nil, err
			}
			el.AppendChild(sub)
		}
	}
	return wrapper, nil
}

// children accepts the children property as the engine sends it and as a
// decoder produces it.
func children(v any) map[string][]string {
	switch x := v.(type) {
	case map[string][]string:
		return x
	case map[string]any:
		out := make(map[string][]string, len(x))
		for k, refs := range x {
			if list, ok := refs.([]any); ok {
				for _, r := range list {
					if s, ok := r.(string); ok {
						out[k] = append(out[k], s)
					}
				}
			}
		}
		return out
	}
	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
