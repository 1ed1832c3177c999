package panel

import "fmt"

// TransformFunc converts a property value on its way to or from the view.
// A transform without FromView makes the property write-only: the view
// receives it but cannot change it.
type TransformFunc struct {
	ToView   func(any) any
	FromView func(any) (any, error)
}

// RenameTable maps property names to view-facing names and back, and
// applies value transforms. It is built once per class and never changes.
type RenameTable struct {
	toView     map[string]string
	fromView   map[string]string
	suppressed map[string]bool
	transforms map[string]TransformFunc
}

func newRenameTable() *RenameTable {
	return &RenameTable{
		toView:     map[string]string{},
		fromView:   map[string]string{},
		suppressed: map[string]bool{},
		transforms: map[string]TransformFunc{},
	}
}

// build fills the inverse map and checks it is a bijection over props.
func (t *RenameTable) build(props []string) error {
	t.fromView = map[string]string{}
	for _, p := range props {
		if t.suppressed[p] {
			continue
		}
		v := p
		if r, ok := t.toView[p]; ok {
			v = r
		}
		if other, dup := t.fromView[v]; dup {
			return fmt.Errorf("properties %q and %q both map to the view property %q", other, p, v)
		}
		t.fromView[v] = p
	}
	return nil
}

// ViewName returns the view-facing name of prop. ok is false when the
// property is suppressed.
func (t *RenameTable) ViewName(prop string) (name string, ok bool) {
	if t.suppressed[prop] {
		return "", false
	}
	if r, renamed := t.toView[prop]; renamed {
		return r, true
	}
	return prop, true
}

// PropName returns the property a view-facing name maps to.
func (t *RenameTable) PropName(viewName string) (string, bool) {
	p, ok := t.fromView[viewName]
	return p, ok
}

// Writable reports whether the view may change prop.
func (t *RenameTable) Writable(prop string) bool {
	if t.suppressed[prop] {
		return false
	}
	tf, ok := t.transforms[prop]
	return !ok || tf.ToView == nil || tf.FromView != nil
}

func (t *RenameTable) toViewValue(prop string, v any) any {
	if tf, ok := t.transforms[prop]; ok && tf.ToView != nil {
		return tf.ToView(v)
	}
	return exportValue(v)
}

func (t *RenameTable) fromViewValue(prop string, v any) (any, error) {
	if tf, ok := t.transforms[prop]; ok && tf.FromView != nil {
		return tf.FromView(v)
	}
	return v, nil
}

// ToView renames and transforms a map of property values for the view.
// Suppressed properties are dropped.
func (t *RenameTable) ToView(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for p, v := range props {
		name, ok := t.ViewName(p)
		if !ok {
			continue
		}
		out[name] = t.toViewValue(p, v)
	}
	return out
}

// FromView maps view-facing names back to properties. Unknown names and
// write-only properties are dropped.
func (t *RenameTable) FromView(view map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(view))
	for name, v := range view {
		p, ok := t.PropName(name)
		if !ok || !t.Writable(p) {
			continue
		}
		pv, err := t.fromViewValue(p, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out[p] = pv
	}
	return out, nil
}
