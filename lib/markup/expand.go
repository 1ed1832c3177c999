package markup

import (
	"fmt"
	"html"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// LoopRecord is the outcome of expanding one looped node: one id per item
// of the collection, in iteration order.
type LoopRecord struct {
	Base       string
	Collection string
	IDs        []string
	Keys       []string // item keys for dict loops, nil for lists
}

// Referent is implemented by values that render as their own view node
// rather than as text. A child slot holding a Referent expands to nothing;
// the toolkit places the child's node there.
type Referent interface {
	Ref() string
}

// FormatValue renders a property value as attribute or text content.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// Eval substitutes the current values of the binding's properties into its
// template. Method bindings evaluate to the empty string.
func (b AttrBinding) Eval(values map[string]any) string {
	if len(b.Params) == 0 {
		return ""
	}
	var out strings.Builder
	s := b.Template
	for {
		i := strings.IndexByte(s, '{')
		if i < 0 {
			out.WriteString(s)
			return out.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			out.WriteString(s)
			return out.String()
		}
		name := s[i+1 : i+j]
		if contains(b.Params, name) {
			out.WriteString(s[:i])
			out.WriteString(FormatValue(values[name]))
		} else {
			out.WriteString(s[:i+j+1])
		}
		s = s[i+j+1:]
	}
}

type expandScope struct {
	loop  *LoopTemplate
	index int
	key   string
	item  any
	size  int
}

type expander struct {
	plan    *Plan
	values  map[string]any
	suffix  string
	out     strings.Builder
	records map[string]*LoopRecord
	order   []string
}

// Expand renders the template for the given property values. Node ids get
// "-suffix" appended when suffix is not empty; looped nodes get "-index"
// before that. Bound attributes and text are filled in with their current
// values, callback attributes are dropped and child slots are left for the
// toolkit to fill. Expand is a pure function of its inputs.
func (p *Plan) Expand(values map[string]any, suffix string) (string, []LoopRecord, error) {
	e := &expander{plan: p, values: values, suffix: suffix, records: map[string]*LoopRecord{}}
	for _, l := range p.Loops {
		for _, n := range l.Nodes {
			e.records[n.ID] = &LoopRecord{Base: n.ID, Collection: l.Collection}
			e.order = append(e.order, n.ID)
		}
	}
	if err := e.nodes(p.Nodes, nil); err != nil {
		return "", nil, err
	}
	records := make([]LoopRecord, 0, len(e.order))
	for _, id := range e.order {
		records = append(records, *e.records[id])
	}
	return e.out.String(), records, nil
}

func (e *expander) nodes(nodes []*Node, sc *expandScope) error {
	for _, n := range nodes {
		var err error
		switch n.Type {
		case RawNode:
			e.out.WriteString(n.Raw)
		case TextNode:
			err = e.text(n.Text, sc)
		case ElementNode:
			err = e.element(n, sc)
		case LoopBlock:
			err = e.loop(n)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *expander) loop(n *Node) error {
	if n.Loop.Index >= len(e.plan.Loops) {
		return errorf(n.Fragment, "loop was not compiled")
	}
	lt := &e.plan.Loops[n.Loop.Index]
	coll := e.values[lt.Collection]
	if lt.Keyed {
		m, ok := coll.(map[string]any)
		if coll != nil && !ok {
			return fmt.Errorf("panel: loop over %s: want map[string]any, got %T", lt.Collection, coll)
		}
		keys := slices.Sorted(maps.Keys(m))
		for i, k := range keys {
			sc := &expandScope{loop: lt, index: i, key: k, item: m[k], size: len(keys)}
			if err := e.nodes(n.Children, sc); err != nil {
				return err
			}
		}
		for _, ln := range lt.Nodes {
			e.records[ln.ID].Keys = keys
		}
		return nil
	}
	items, err := listItems(coll)
	if err != nil {
		return fmt.Errorf("panel: loop over %s: %w", lt.Collection, err)
	}
	for i, item := range items {
		sc := &expandScope{loop: lt, index: i, item: item, size: len(items)}
		if err := e.nodes(n.Children, sc); err != nil {
			return err
		}
	}
	return nil
}

func listItems(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("want a list, got %T", v)
}

func (e *expander) id(n *Node, sc *expandScope) string {
	id := n.ID
	if n.Looped && sc != nil {
		id = id + "-" + strconv.Itoa(sc.index)
		rec := e.records[n.ID]
		rec.IDs = append(rec.IDs, id)
	}
	if e.suffix != "" {
		id += "-" + e.suffix
	}
	return id
}

func (e *expander) element(n *Node, sc *expandScope) error {
	e.out.WriteString("<" + n.Tag)
	if n.ID != "" {
		e.out.WriteString(` id="` + html.EscapeString(e.id(n, sc)) + `"`)
	}
	callbacks := map[string]bool{}
	for _, cb := range e.plan.Callbacks[n.ID] {
		callbacks[cb.Attr] = true
	}
	for _, a := range n.Attrs {
		if a.Key == "id" || callbacks[a.Key] {
			continue
		}
		v, err := e.attrValue(a.Value, sc)
		if err != nil {
			return err
		}
		e.out.WriteString(" " + a.Key + `="` + html.EscapeString(v) + `"`)
	}
	e.out.WriteString(">")
	if n.Void {
		return nil
	}
	if err := e.nodes(n.Children, sc); err != nil {
		return err
	}
	e.out.WriteString("</" + n.Tag + ">")
	return nil
}

func (e *expander) attrValue(segs []Segment, sc *expandScope) (string, error) {
	var b strings.Builder
	for _, seg := range segs {
		switch seg.Kind {
		case SegText:
			b.WriteString(html.UnescapeString(seg.Text))
		case SegRef:
			r, err := parseRef(seg.Text)
			if err != nil {
				return "", err
			}
			b.WriteString(FormatValue(e.values[r.Name]))
		case SegExpr:
			v, err := e.literal(seg, sc)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
		}
	}
	return b.String(), nil
}

func (e *expander) text(segs []Segment, sc *expandScope) error {
	for _, seg := range segs {
		switch seg.Kind {
		case SegText:
			e.out.WriteString(seg.Raw)
		case SegExpr:
			v, err := e.literal(seg, sc)
			if err != nil {
				return err
			}
			e.out.WriteString(html.EscapeString(v))
		case SegRef:
			r, err := parseRef(seg.Text)
			if err != nil {
				return err
			}
			e.out.WriteString(html.EscapeString(e.content(r, sc)))
		}
	}
	return nil
}

// content renders a ${...} reference found in element content.
func (e *expander) content(r Ref, sc *expandScope) string {
	var v any
	switch {
	case e.plan.isMethod(r.Name):
		return ""
	case sc != nil && r.Name == sc.loop.Var && !r.HasSub:
		v = sc.item
	case sc != nil && r.HasSub && r.Name == sc.loop.Collection:
		v = sc.item
	default:
		v = e.values[r.Name]
	}
	switch x := v.(type) {
	case Referent:
		return ""
	case []any, map[string]any:
		if e.plan.isSlot(r.Name) {
			return ""
		}
		return FormatValue(x)
	}
	return FormatValue(v)
}

func (e *expander) literal(seg Segment, sc *expandScope) (string, error) {
	name := seg.Text
	if sc != nil {
		switch name {
		case "loop.index0":
			return strconv.Itoa(sc.index), nil
		case "loop.index":
			return strconv.Itoa(sc.index + 1), nil
		case "loop.length":
			return strconv.Itoa(sc.size), nil
		case sc.loop.Var:
			return FormatValue(sc.item), nil
		}
		if sc.loop.KeyVar != "" && name == sc.loop.KeyVar {
			return sc.key, nil
		}
	}
	v, ok := e.values[name]
	if !ok {
		return "", errorf(seg.Raw, "no value for {{ %s }}", name)
	}
	return FormatValue(v), nil
}

func (p *Plan) isMethod(name string) bool {
	for _, cbs := range p.Callbacks {
		for _, cb := range cbs {
			if cb.Method == name {
				return true
			}
		}
	}
	return false
}

func (p *Plan) isSlot(name string) bool {
	for _, coll := range p.Children {
		if coll == name {
			return true
		}
	}
	return false
}
