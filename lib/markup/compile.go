// Package markup compiles annotated HTML templates into binding plans.
//
// A template is ordinary markup with three kinds of annotations:
//
//	<div id="d" style="width: ${w}px">   attribute bound to property w
//	<div id="c">${children}</div>        child slot bound to property children
//	<button id="b" onclick=${_click}>    DOM event bound to method _click
//
// plus a narrow loop construct that is expanded once per item of a
// collection property:
//
//	<select id="select">
//	{%- for option in options %}
//	  <option id="option">{{ option }}</option>
//	{%- endfor %}
//	</select>
//
// Compile validates the template against the component's declared
// properties and methods and returns a Plan. Every problem is reported as a
// *TemplateError naming the offending node, attribute and property or
// method, before any component instance exists.
package markup

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ParamKind is the shape of a declared property as far as templates care.
type ParamKind int

const (
	KindScalar ParamKind = iota
	KindList
	KindDict
	KindChild
)

// IsCollection reports whether a loop may iterate over the kind.
func (k ParamKind) IsCollection() bool { return k == KindList || k == KindDict }

// Schema is the set of names a template may reference.
type Schema struct {
	Params  map[string]ParamKind
	Methods map[string]bool
}

// AttrBinding binds a node attribute to one or more properties. Template
// is the attribute value with each ${name} replaced by {name}.
type AttrBinding struct {
	Attr     string
	Params   []string
	Template string
}

// NodeCallback binds an event attribute of a node to a method.
type NodeCallback struct {
	Attr   string
	Method string
}

// InlineCallback is a NodeCallback together with its node id.
type InlineCallback struct {
	Node   string
	Attr   string
	Method string
}

// RefKind says how a looped node's content refers to the loop.
type RefKind int

const (
	RefNone      RefKind = iota
	RefLoopVar           // ${option}
	RefSubscript         // ${children[{{ loop.index0 }}]}
)

// LoopNode is an id-bearing node inside a loop body.
type LoopNode struct {
	ID  string
	Ref RefKind
}

// LoopTemplate is the static description of one {% for %} block.
type LoopTemplate struct {
	Parent     string
	Var        string
	KeyVar     string
	Collection string
	Keyed      bool
	Nodes      []LoopNode
	Fragment   string
}

// ContentAttr is the attribute name used for scalar properties inserted as
// element content.
const ContentAttr = "content"

// Plan is the compiled, immutable form of a template.
type Plan struct {
	Nodes     []*Node
	Attrs     map[string][]AttrBinding
	Callbacks map[string][]NodeCallback
	Inline    []InlineCallback
	Events    map[string][]string
	Children  map[string]string
	Loops     []LoopTemplate
	Looped    []string
	IDs       []string
	// Literals lists the properties whose value is baked into the expanded
	// markup ({{ name }} literals and loop collections). A change to any of
	// them requires the markup to be expanded again.
	Literals []string
}

// Params returns every property referenced by an attribute binding, in
// first-use order.
func (p *Plan) Params() []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range p.IDs {
		for _, b := range p.Attrs[id] {
			for _, name := range b.Params {
				if !seen[name] {
					seen[name] = true
					out = append(out, name)
				}
			}
		}
	}
	return out
}

// IsLooped reports whether id is the base id of a looped node.
func (p *Plan) IsLooped(id string) bool {
	for _, l := range p.Looped {
		if l == id {
			return true
		}
	}
	return false
}

// LoopFor returns the loop whose body contains the node id.
func (p *Plan) LoopFor(id string) (LoopTemplate, bool) {
	for _, l := range p.Loops {
		for _, n := range l.Nodes {
			if n.ID == id {
				return l, true
			}
		}
	}
	return LoopTemplate{}, false
}

// BaseID maps an expanded node id such as "option-3" back to its base id
// and loop index. Ids that are not looped are returned with index -1.
func (p *Plan) BaseID(id string) (string, int) {
	if p.hasID(id) && !p.IsLooped(id) {
		return id, -1
	}
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return id, -1
	}
	base := id[:i]
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 || !p.IsLooped(base) {
		return id, -1
	}
	return base, n
}

func (p *Plan) hasID(id string) bool {
	for _, x := range p.IDs {
		if x == id {
			return true
		}
	}
	return false
}

type scope struct {
	loop *LoopTemplate
	node *Node
}

func (s *scope) names(name string) bool {
	return s != nil && (name == s.loop.Var || (s.loop.KeyVar != "" && name == s.loop.KeyVar))
}

type compiler struct {
	schema   Schema
	plan     *Plan
	ids      map[string]*Node
	literals map[string]bool
}

// Compile parses and validates src against schema. events is the DOM-event
// map (node id -> event names) declared next to the template. Compiling the
// same inputs twice yields equal plans.
func Compile(src string, schema Schema, events map[string][]string) (*Plan, error) {
	nodes, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c := &compiler{
		schema: schema,
		plan: &Plan{
			Nodes:     nodes,
			Attrs:     map[string][]AttrBinding{},
			Callbacks: map[string][]NodeCallback{},
			Events:    map[string][]string{},
			Children:  map[string]string{},
		},
		ids:      map[string]*Node{},
		literals: map[string]bool{},
	}
	for name := range schema.Params {
		if schema.Methods[name] {
			return nil, &TemplateError{
				Message: fmt.Sprintf("`%s` is declared both as a property and as a method", name),
				Name:    name,
			}
		}
	}
	if err := c.walk(nodes, nil, nil); err != nil {
		return nil, err
	}
	if err := c.checkLoopIDs(); err != nil {
		return nil, err
	}
	if err := c.events(events); err != nil {
		return nil, err
	}
	for _, id := range c.plan.IDs {
		if c.ids[id].Looped {
			c.plan.Looped = append(c.plan.Looped, id)
		}
	}
	c.plan.Literals = sortedKeys(c.literals)
	return c.plan, nil
}

func (c *compiler) walk(nodes []*Node, parent *Node, sc *scope) error {
	for _, n := range nodes {
		switch n.Type {
		case ElementNode:
			if err := c.element(n, sc); err != nil {
				return err
			}
		case LoopBlock:
			if err := c.loop(n, parent, sc); err != nil {
				return err
			}
		case TextNode:
			if parent == nil {
				if err := c.topLevelText(n, sc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *compiler) topLevelText(n *Node, sc *scope) error {
	for _, seg := range n.Text {
		switch seg.Kind {
		case SegRef:
			return errorf(seg.Raw, "%s is not inside any element; wrap it in an element with an id", seg.Raw)
		case SegExpr:
			if err := c.expr(seg, sc, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

var loopIndexSuffix = regexp.MustCompile(`-?\{\{\s*loop\.index0\s*\}\}$`)

func (c *compiler) element(n *Node, sc *scope) error {
	if err := c.nodeID(n, sc); err != nil {
		return err
	}
	for _, a := range n.Attrs {
		if a.Key == "id" {
			continue
		}
		if err := c.attr(n, a, sc); err != nil {
			return err
		}
	}
	if err := c.content(n, sc); err != nil {
		return err
	}
	return c.walk(n.Children, n, sc)
}

func (c *compiler) nodeID(n *Node, sc *scope) error {
	for _, a := range n.Attrs {
		if a.Key != "id" {
			continue
		}
		var raw strings.Builder
		for _, seg := range a.Value {
			if seg.Kind == SegRef {
				return &TemplateError{
					Message:  fmt.Sprintf("the id of a <%s> node cannot be bound to %s; ids must be static", n.Tag, seg.Raw),
					Fragment: n.Fragment,
					Attr:     "id",
				}
			}
			raw.WriteString(seg.Raw)
		}
		id := raw.String()
		if sc != nil && loopIndexSuffix.MatchString(id) {
			id = loopIndexSuffix.ReplaceAllString(id, "")
		}
		if strings.Contains(id, "{{") {
			return &TemplateError{
				Message:  fmt.Sprintf("the id %q of a <%s> node may only use {{ loop.index0 }} as a suffix inside a loop", raw.String(), n.Tag),
				Fragment: n.Fragment,
				Attr:     "id",
			}
		}
		if id == "" {
			return errorf(n.Fragment, "the <%s> node has an empty id", n.Tag)
		}
		if prev, dup := c.ids[id]; dup {
			return &TemplateError{
				Message:  fmt.Sprintf("duplicate node id %q; it is already used by %s", id, strings.TrimSpace(prev.Fragment)),
				Fragment: n.Fragment,
				Attr:     "id",
			}
		}
		n.ID = id
		n.Looped = sc != nil
		c.ids[id] = n
		c.plan.IDs = append(c.plan.IDs, id)
		if sc != nil {
			sc.loop.Nodes = append(sc.loop.Nodes, LoopNode{ID: id})
		}
	}
	return nil
}

func (c *compiler) attr(n *Node, a Attr, sc *scope) error {
	var refs []Ref
	hasExpr := false
	for _, seg := range a.Value {
		switch seg.Kind {
		case SegRef:
			r, err := parseRef(seg.Text)
			if err != nil {
				return &TemplateError{Message: err.Error(), Fragment: n.Fragment, Attr: a.Key}
			}
			refs = append(refs, r)
		case SegExpr:
			hasExpr = true
			if err := c.expr(seg, sc, n.Fragment); err != nil {
				return err
			}
		}
	}
	if len(refs) == 0 {
		return nil
	}
	if hasExpr {
		return &TemplateError{
			Message:  fmt.Sprintf("the `%s` attribute mixes {{ }} literals with ${} bindings; use one or the other", a.Key),
			Fragment: n.Fragment,
			Attr:     a.Key,
		}
	}
	var params []string
	for _, r := range refs {
		isParam := c.schema.Params != nil && hasKey(c.schema.Params, r.Name)
		isMethod := c.schema.Methods[r.Name]
		switch {
		case r.HasSub:
			return &TemplateError{
				Message:  fmt.Sprintf("the `%s` attribute of the <%s> node subscripts `%s`; subscripts are only allowed as element content inside a loop", a.Key, n.Tag, r.Name),
				Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
			}
		case sc.names(r.Name):
			return &TemplateError{
				Message:  fmt.Sprintf("the `%s` attribute of the <%s> node references the loop variable `%s`; use the literal {{ %s }} instead", a.Key, n.Tag, r.Name, r.Name),
				Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
			}
		case isMethod:
			if len(a.Value) != 1 {
				return &TemplateError{
					Message:  fmt.Sprintf("the `%s` callback referencing the `%s` method must be the whole attribute value", a.Key, r.Name),
					Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
				}
			}
			if n.ID == "" {
				return &TemplateError{
					Message: fmt.Sprintf("Found <%s> node with the `%s` callback referencing the `%s` method. "+
						"Callbacks can only be attached to nodes with an id, add an id to the node, e.g. <%s id=\"...\">.",
						n.Tag, a.Key, r.Name, n.Tag),
					Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
				}
			}
			c.plan.Callbacks[n.ID] = append(c.plan.Callbacks[n.ID], NodeCallback{Attr: a.Key, Method: r.Name})
			c.plan.Inline = append(c.plan.Inline, InlineCallback{Node: n.ID, Attr: a.Key, Method: r.Name})
			c.plan.Attrs[n.ID] = append(c.plan.Attrs[n.ID], AttrBinding{Attr: a.Key, Params: []string{}, Template: "{" + r.Name + "}"})
			return nil
		case isParam:
			if n.ID == "" {
				return &TemplateError{
					Message: fmt.Sprintf("Found <%s> node with the `%s` attribute referencing the `%s` parameter. "+
						"Either add an id to the node, e.g. <%s id=\"...\">, or insert the parameter as a literal, i.e. {{ %s }}.",
						n.Tag, a.Key, r.Name, n.Tag, r.Name),
					Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
				}
			}
			if sc != nil {
				return &TemplateError{
					Message:  fmt.Sprintf("the `%s` attribute of the looped <%s> node binds `%s`; inside a loop use the literal {{ %s }}", a.Key, n.Tag, r.Name, r.Name),
					Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
				}
			}
			if !contains(params, r.Name) {
				params = append(params, r.Name)
			}
		default:
			return &TemplateError{
				Message:  fmt.Sprintf("the `%s` attribute of the <%s> node references `%s`, which is neither a declared parameter nor a method", a.Key, n.Tag, r.Name),
				Fragment: n.Fragment, Name: r.Name, Attr: a.Key,
			}
		}
	}
	c.plan.Attrs[n.ID] = append(c.plan.Attrs[n.ID], AttrBinding{Attr: a.Key, Params: params, Template: bindingTemplate(a.Value)})
	return nil
}

// content handles ${...} references among the direct text children of n.
func (c *compiler) content(n *Node, sc *scope) error {
	var segs []Segment
	onlyRefsAndSpace := true
	for _, child := range n.Children {
		if child.Type != TextNode {
			continue
		}
		for _, seg := range child.Text {
			switch seg.Kind {
			case SegRef:
				segs = append(segs, seg)
			case SegExpr:
				if err := c.expr(seg, sc, n.Fragment); err != nil {
					return err
				}
				onlyRefsAndSpace = false
			case SegText:
				if strings.TrimSpace(seg.Text) != "" {
					onlyRefsAndSpace = false
				}
			}
		}
	}
	if len(segs) == 0 {
		return nil
	}
	var scalars []string
	for _, seg := range segs {
		r, err := parseRef(seg.Text)
		if err != nil {
			return &TemplateError{Message: err.Error(), Fragment: n.Fragment}
		}
		kind, isParam := c.schema.Params[r.Name]
		isMethod := c.schema.Methods[r.Name]
		slot := false
		refKind := RefNone
		switch {
		case r.HasSub:
			if sc == nil {
				return &TemplateError{
					Message:  fmt.Sprintf("%s subscripts `%s` outside of a for loop", seg.Raw, r.Name),
					Fragment: n.Fragment, Name: r.Name,
				}
			}
			if r.Name != sc.loop.Collection {
				return &TemplateError{
					Message: fmt.Sprintf("%s subscripts `%s` but the enclosing loop %s iterates over `%s`",
						seg.Raw, r.Name, strings.TrimSpace(sc.loop.Fragment), sc.loop.Collection),
					Fragment: n.Fragment, Name: r.Name,
				}
			}
			want := "loop.index0"
			if sc.loop.Keyed {
				want = sc.loop.KeyVar
			}
			if r.Subscript != want {
				return &TemplateError{
					Message:  fmt.Sprintf("%s must be subscripted with {{ %s }}", r.Name, want),
					Fragment: n.Fragment, Name: r.Name,
				}
			}
			slot, refKind = true, RefSubscript
		case sc.names(r.Name):
			if r.Name == sc.loop.KeyVar {
				return &TemplateError{
					Message:  fmt.Sprintf("the loop key `%s` cannot be bound with ${}; use {{ %s }}", r.Name, r.Name),
					Fragment: n.Fragment, Name: r.Name,
				}
			}
			r.Name = sc.loop.Collection
			slot, refKind = true, RefLoopVar
		case isMethod:
			if n.ID == "" {
				return &TemplateError{
					Message: fmt.Sprintf("Found <%s> node with the `onclick` callback referencing the `%s` method. "+
						"Callbacks can only be attached to nodes with an id, add an id to the node, e.g. <%s id=\"...\">.",
						n.Tag, r.Name, n.Tag),
					Fragment: n.Fragment, Name: r.Name, Attr: "onclick",
				}
			}
			if len(segs) != 1 || !onlyRefsAndSpace {
				return &TemplateError{
					Message:  fmt.Sprintf("the `%s` method must be the only content of the <%s> node", r.Name, n.Tag),
					Fragment: n.Fragment, Name: r.Name,
				}
			}
			c.plan.Callbacks[n.ID] = append(c.plan.Callbacks[n.ID], NodeCallback{Attr: "onclick", Method: r.Name})
			c.plan.Inline = append(c.plan.Inline, InlineCallback{Node: n.ID, Attr: "onclick", Method: r.Name})
			return nil
		case isParam && kind != KindScalar:
			slot = true
		case isParam:
			if sc != nil {
				return &TemplateError{
					Message:  fmt.Sprintf("the looped <%s> node binds `%s`; inside a loop use the literal {{ %s }}", n.Tag, r.Name, r.Name),
					Fragment: n.Fragment, Name: r.Name,
				}
			}
			if !contains(scalars, r.Name) {
				scalars = append(scalars, r.Name)
			}
			continue
		default:
			return &TemplateError{
				Message:  fmt.Sprintf("the <%s> node references `%s`, which is neither a declared parameter nor a method", n.Tag, r.Name),
				Fragment: n.Fragment, Name: r.Name,
			}
		}
		if !slot {
			continue
		}
		if n.ID == "" {
			return &TemplateError{
				Message: fmt.Sprintf("Found <%s> node with children referencing the `%s` parameter. "+
					"Child slots can only be attached to nodes with an id, add an id to the node, e.g. <%s id=\"...\">.",
					n.Tag, r.Name, n.Tag),
				Fragment: n.Fragment, Name: r.Name,
			}
		}
		if len(segs) != 1 || !onlyRefsAndSpace {
			return &TemplateError{
				Message:  fmt.Sprintf("the child slot %s must be the only content of the <%s> node", seg.Raw, n.Tag),
				Fragment: n.Fragment, Name: r.Name,
			}
		}
		c.plan.Children[n.ID] = r.Name
		if sc != nil {
			for i := range sc.loop.Nodes {
				if sc.loop.Nodes[i].ID == n.ID {
					sc.loop.Nodes[i].Ref = refKind
				}
			}
		}
		return nil
	}
	if n.ID == "" {
		return &TemplateError{
			Message: fmt.Sprintf("Found <%s> node with content referencing the `%s` parameter. "+
				"Either add an id to the node, e.g. <%s id=\"...\">, or insert the parameter as a literal, i.e. {{ %s }}.",
				n.Tag, scalars[0], n.Tag, scalars[0]),
			Fragment: n.Fragment, Name: scalars[0],
		}
	}
	var tmpl []Segment
	for _, child := range n.Children {
		if child.Type == TextNode {
			tmpl = append(tmpl, child.Text...)
		}
	}
	c.plan.Attrs[n.ID] = append(c.plan.Attrs[n.ID], AttrBinding{Attr: ContentAttr, Params: scalars, Template: bindingTemplate(tmpl)})
	return nil
}

func (c *compiler) loop(n *Node, parent *Node, sc *scope) error {
	l := n.Loop
	if sc != nil {
		return errorf(n.Fragment, "nested for loops are not supported")
	}
	if parent == nil {
		return &TemplateError{
			Message: fmt.Sprintf("Loop variable %s could not be expanded because the loop is not inside any node. "+
				"Wrap the loop in a node with an id, e.g. <div id=\"...\">.", l.Var),
			Fragment: n.Fragment,
			Name:     l.Collection,
		}
	}
	if parent.ID == "" {
		return &TemplateError{
			Message: fmt.Sprintf("Loop variable %s could not be expanded because the <%s> node it is declared in lacks an id. "+
				"Add an id to the node, e.g. <%s id=\"...\">, to allow loop expansion.", l.Var, parent.Tag, parent.Tag),
			Fragment: n.Fragment,
			Name:     l.Collection,
		}
	}
	kind, ok := c.schema.Params[l.Collection]
	if !ok {
		return &TemplateError{
			Message:  fmt.Sprintf("the for loop iterates over `%s`, which is not a declared parameter", l.Collection),
			Fragment: n.Fragment, Name: l.Collection,
		}
	}
	switch {
	case l.Items && kind != KindDict:
		return &TemplateError{
			Message:  fmt.Sprintf("`%s` is not a dict parameter; iterate it with {%% for item in %s %%}", l.Collection, l.Collection),
			Fragment: n.Fragment, Name: l.Collection,
		}
	case !l.Items && kind != KindList:
		hint := ""
		if kind == KindDict {
			hint = fmt.Sprintf("; iterate it with {%% for key, item in %s.items() %%}", l.Collection)
		}
		return &TemplateError{
			Message:  fmt.Sprintf("`%s` is not a list parameter%s", l.Collection, hint),
			Fragment: n.Fragment, Name: l.Collection,
		}
	}
	if c.schema.Params != nil {
		if _, clash := c.schema.Params[l.Var]; clash {
			return &TemplateError{
				Message:  fmt.Sprintf("the loop variable `%s` shadows a declared parameter", l.Var),
				Fragment: n.Fragment, Name: l.Var,
			}
		}
	}
	c.literals[l.Collection] = true
	lt := &LoopTemplate{
		Parent:     parent.ID,
		Var:        l.Var,
		KeyVar:     l.KeyVar,
		Collection: l.Collection,
		Keyed:      l.Items,
		Fragment:   n.Fragment,
	}
	inner := &scope{loop: lt, node: parent}
	if err := c.walk(n.Children, parent, inner); err != nil {
		return err
	}
	// Text directly inside the loop body belongs to the enclosing node.
	for _, child := range n.Children {
		if child.Type != TextNode {
			continue
		}
		for _, seg := range child.Text {
			switch seg.Kind {
			case SegRef:
				return errorf(n.Fragment, "%s in the loop body must be wrapped in an element with an id", seg.Raw)
			case SegExpr:
				if err := c.expr(seg, inner, n.Fragment); err != nil {
					return err
				}
			}
		}
	}
	l.Index = len(c.plan.Loops)
	c.plan.Loops = append(c.plan.Loops, *lt)
	return nil
}

// expr validates a {{ }} literal against the names in scope.
func (c *compiler) expr(seg Segment, sc *scope, fragment string) error {
	if fragment == "" {
		fragment = seg.Raw
	}
	name := seg.Text
	switch {
	case sc != nil && (name == "loop.index0" || name == "loop.index" || name == "loop.length"):
		return nil
	case sc.names(name):
		return nil
	case hasKey(c.schema.Params, name):
		c.literals[name] = true
		return nil
	}
	if sc == nil && strings.HasPrefix(name, "loop.") {
		return &TemplateError{Message: fmt.Sprintf("{{ %s }} is only available inside a for loop", name), Fragment: fragment, Name: name}
	}
	return &TemplateError{
		Message:  fmt.Sprintf("{{ %s }} does not name a declared parameter or loop variable", name),
		Fragment: fragment, Name: name,
	}
}

var trailingIndex = regexp.MustCompile(`^(.+)-(\d+)$`)

// checkLoopIDs rejects static ids that collide with the ids generated for
// looped nodes.
func (c *compiler) checkLoopIDs() error {
	for _, id := range c.plan.IDs {
		n := c.ids[id]
		if n.Looped {
			continue
		}
		m := trailingIndex.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		if base, ok := c.ids[m[1]]; ok && base.Looped {
			return &TemplateError{
				Message:  fmt.Sprintf("node id %q collides with the ids generated for the looped node %q", id, m[1]),
				Fragment: n.Fragment,
				Attr:     "id",
			}
		}
	}
	return nil
}

func (c *compiler) events(events map[string][]string) error {
	for _, id := range sortedKeys(events) {
		if _, ok := c.ids[id]; !ok {
			return &TemplateError{
				Message: fmt.Sprintf("DOM events %v are declared for node %q, which does not exist in the template", events[id], id),
				Name:    id,
			}
		}
		c.plan.Events[id] = append([]string(nil), events[id]...)
	}
	return nil
}

func bindingTemplate(segs []Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		if seg.Kind == SegRef {
			b.WriteString("{" + seg.Text + "}")
			continue
		}
		b.WriteString(seg.Raw)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func hasKey[V any](m map[string]V, k string) bool {
	_, ok := m[k]
	return ok
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
