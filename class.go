package panel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/vishalbelsare/panel/lib/markup"
)

// Method is a class method invoked for view events.
type Method func(ctx context.Context, c *Component, ev Event) error

// View properties the runtime sets on every component node. Properties may
// not be renamed onto them.
const (
	PropHTML      = "html"
	PropChildren  = "children"
	PropLooped    = "looped"
	PropEvents    = "events"
	PropCallbacks = "callbacks"
)

var reservedViewProps = []string{PropHTML, PropChildren, PropLooped, PropEvents, PropCallbacks}

// Class describes a kind of component: its properties, template, methods
// and scripts. Classes are built once with NewClass and are immutable.
type Class struct {
	name      string
	kind      string
	params    []Param
	index     map[string]int
	renames   *RenameTable
	template  string
	plan      *markup.Plan
	events    map[string][]string
	methods   map[string]Method
	scripts   map[string]string
	linked    map[string]bool
	data      map[string]bool
	callbacks callbackTable
}

// ClassBuilder accumulates a class definition. Errors are collected and
// reported together by Build.
type ClassBuilder struct {
	class *Class
	errs  []error
}

// NewClass starts the definition of a class.
//
// The class kind, the identity sent to toolkits, is derived from the name
// and the source location of the call, so two classes sharing a name in
// different places never collide:
//
//	var Slider = panel.NewClass("slider").
//	    Float("value", 0).Bounds("value", 0, 10).
//	    Template(`<input id="input" type="range" value="${value}">`).
//	    MustBuild()
func NewClass(name string) *ClassBuilder {
	return &ClassBuilder{class: &Class{
		name:    name,
		kind:    name + "-" + classHash(name, 1),
		index:   map[string]int{},
		renames: newRenameTable(),
		events:  map[string][]string{},
		methods: map[string]Method{},
		scripts: map[string]string{},
		linked:  map[string]bool{},
		data:    map[string]bool{},
	}}
}

func (b *ClassBuilder) fail(name, format string, args ...any) {
	b.errs = append(b.errs, &BindingError{
		Class: b.class.name,
		Name:  name,
		Msg:   fmt.Sprintf(format, args...),
		Err:   ErrNotDeclared,
	})
}

// Param declares a property.
func (b *ClassBuilder) Param(p Param) *ClassBuilder {
	if p.Name == "" {
		b.fail("", "property without a name")
		return b
	}
	if _, dup := b.class.index[p.Name]; dup {
		b.fail(p.Name, "property %q declared twice", p.Name)
		return b
	}
	b.class.index[p.Name] = len(b.class.params)
	b.class.params = append(b.class.params, p)
	return b
}

func (b *ClassBuilder) Any(name string, def any) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: Any, Default: def})
}

func (b *ClassBuilder) Bool(name string, def bool) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: Bool, Default: def})
}

func (b *ClassBuilder) Int(name string, def int) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: Int, Default: def})
}

func (b *ClassBuilder) Float(name string, def float64) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: Float, Default: def})
}

func (b *ClassBuilder) String(name, def string) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: String, Default: def})
}

func (b *ClassBuilder) List(name string, def []any) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: List, Default: def})
}

func (b *ClassBuilder) Dict(name string, def map[string]any) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: Dict, Default: def})
}

// Child declares a property holding a single child component.
func (b *ClassBuilder) Child(name string) *ClassBuilder {
	return b.Param(Param{Name: name, Kind: Child})
}

// Bounds restricts a numeric property to [min, max].
func (b *ClassBuilder) Bounds(name string, min, max float64) *ClassBuilder {
	i, ok := b.class.index[name]
	if !ok {
		b.fail(name, "bounds for undeclared property %q", name)
		return b
	}
	b.class.params[i].Min, b.class.params[i].Max = &min, &max
	return b
}

// Doc attaches documentation to a property.
func (b *ClassBuilder) Doc(name, doc string) *ClassBuilder {
	if i, ok := b.class.index[name]; ok {
		b.class.params[i].Doc = doc
	}
	return b
}

// Rename exposes prop to views under a different name.
func (b *ClassBuilder) Rename(prop, viewName string) *ClassBuilder {
	b.class.renames.toView[prop] = viewName
	return b
}

// Suppress keeps prop out of views entirely.
func (b *ClassBuilder) Suppress(prop string) *ClassBuilder {
	b.class.renames.suppressed[prop] = true
	return b
}

// Transform converts prop's value on its way to and from views.
func (b *ClassBuilder) Transform(prop string, tf TransformFunc) *ClassBuilder {
	b.class.renames.transforms[prop] = tf
	return b
}

// Template sets the annotated markup rendered for each instance.
func (b *ClassBuilder) Template(src string) *ClassBuilder {
	b.class.template = src
	return b
}

// DOMEvents asks views to forward the named events of a template node.
// They are delivered to a method called _<node>_<event>, when the class
// has one, and to handlers registered with Component.On.
func (b *ClassBuilder) DOMEvents(node string, events ...string) *ClassBuilder {
	for _, ev := range events {
		if !slices.Contains(b.class.events[node], ev) {
			b.class.events[node] = append(b.class.events[node], ev)
		}
	}
	return b
}

// Method declares a method that templates may bind as a callback.
func (b *ClassBuilder) Method(name string, fn Method) *ClassBuilder {
	if fn == nil {
		b.fail(name, "method %q has no implementation", name)
		return b
	}
	b.class.methods[name] = fn
	return b
}

// Script attaches view-side code. Properties the code assigns through
// data.<name> are accepted from views even when no template binding
// references them.
func (b *ClassBuilder) Script(name, code string) *ClassBuilder {
	b.class.scripts[name] = code
	return b
}

// Build validates the definition and compiles the template.
func (b *ClassBuilder) Build() (*Class, error) {
	c := b.class
	errs := append([]error(nil), b.errs...)

	for _, p := range c.params {
		if p.Default == nil && (p.Kind == Bool || p.Kind == Int || p.Kind == Float || p.Kind == String) {
			continue
		}
		if _, err := p.normalize(p.Default); err != nil {
			errs = append(errs, &BindingError{Class: c.name, Name: p.Name, Msg: "invalid default: " + err.Error(), Err: ErrInvalidValue})
		}
	}
	for _, prop := range append(sortedKeys(c.renames.toView), sortedKeys(c.renames.suppressed)...) {
		if _, ok := c.index[prop]; !ok {
			errs = append(errs, &BindingError{Class: c.name, Name: prop, Msg: fmt.Sprintf("rename of undeclared property %q", prop), Err: ErrNotDeclared})
		}
	}
	for _, prop := range sortedKeys(c.renames.transforms) {
		if _, ok := c.index[prop]; !ok {
			errs = append(errs, &BindingError{Class: c.name, Name: prop, Msg: fmt.Sprintf("transform of undeclared property %q", prop), Err: ErrNotDeclared})
		}
	}
	names := make([]string, len(c.params))
	for i, p := range c.params {
		names[i] = p.Name
	}
	if err := c.renames.build(names); err != nil {
		errs = append(errs, &BindingError{Class: c.name, Msg: err.Error()})
	}
	for _, reserved := range reservedViewProps {
		if p, ok := c.renames.PropName(reserved); ok {
			errs = append(errs, &BindingError{Class: c.name, Name: p, Msg: fmt.Sprintf("property %q uses the reserved view name %q", p, reserved)})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	schema := markup.Schema{Params: map[string]markup.ParamKind{}, Methods: map[string]bool{}}
	for _, p := range c.params {
		schema.Params[p.Name] = p.Kind.markup()
	}
	for name := range c.methods {
		schema.Methods[name] = true
	}
	plan, err := markup.Compile(c.template, schema, c.events)
	if err != nil {
		return nil, err
	}
	c.plan = plan
	c.callbacks = buildCallbacks(plan, c.methods)
	for _, name := range markup.LinkedProperties(c.scripts) {
		if _, ok := c.index[name]; ok {
			c.linked[name] = true
		}
	}
	// Properties rendered only through attribute bindings reach the view as
	// node updates; the rest, and anything a script reads, as data.
	bound := map[string]bool{}
	for _, name := range plan.Params() {
		bound[name] = true
	}
	for _, name := range markup.ReferencedProperties(c.scripts) {
		delete(bound, name)
	}
	for _, p := range c.params {
		if !bound[p.Name] {
			c.data[p.Name] = true
		}
	}
	return c, nil
}

// MustBuild is like Build but panics on error. Use it for package-level
// class definitions.
func (b *ClassBuilder) MustBuild() *Class {
	c, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("panel: class %s: %v", b.class.name, err))
	}
	return c
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Kind returns the class identity sent to toolkits.
func (c *Class) Kind() string { return c.kind }

// Params returns the declared properties in declaration order.
func (c *Class) Params() []Param { return slices.Clone(c.params) }

// Param returns the declaration of name.
func (c *Class) Param(name string) (Param, bool) {
	i, ok := c.index[name]
	if !ok {
		return Param{}, false
	}
	return c.params[i], true
}

// Plan returns the compiled template.
func (c *Class) Plan() *markup.Plan { return c.plan }

// Renames returns the class's rename and transform table.
func (c *Class) Renames() *RenameTable { return c.renames }

// Callbacks returns the class's callbacks for a node, inline first.
func (c *Class) Callbacks(node string) []Callback { return slices.Clone(c.callbacks[node]) }

// LinkedProperties returns the properties view scripts assign to.
func (c *Class) LinkedProperties() []string { return sortedKeys(c.linked) }

// Scripts returns a copy of the class's view scripts.
func (c *Class) Scripts() map[string]string {
	out := make(map[string]string, len(c.scripts))
	for k, v := range c.scripts {
		out[k] = v
	}
	return out
}

// paramNames returns the property names in declaration order.
func (c *Class) paramNames() []string {
	out := make([]string, len(c.params))
	for i, p := range c.params {
		out[i] = p.Name
	}
	return out
}

// slots returns the properties rendered as children, in declaration order.
func (c *Class) slots() []string {
	var out []string
	for _, p := range c.params {
		for _, coll := range c.plan.Children {
			if coll == p.Name {
				out = append(out, p.Name)
				break
			}
		}
	}
	return out
}

// viewEvents is the initial "events" property: DOM events declared by the
// class, marked true.
func (c *Class) viewEvents() map[string]map[string]bool {
	out := map[string]map[string]bool{}
	for node, evs := range c.plan.Events {
		out[node] = map[string]bool{}
		for _, ev := range evs {
			out[node][ev] = true
		}
	}
	return out
}

// classHash generates a deterministic hash from the class name and the
// source location of the NewClass call.
func classHash(name string, skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	var input string
	if ok {
		// Use base filename only for portability across environments
		input = fmt.Sprintf("%s:%d:%s", filepath.Base(file), line, name)
	} else {
		input = name
	}
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:4]) // 8 hex chars
}
