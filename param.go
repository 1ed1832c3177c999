package panel

import (
	"fmt"
	"math"
	"reflect"

	"github.com/vishalbelsare/panel/lib/markup"
)

// Kind is the declared type of a property.
type Kind int

const (
	Any Kind = iota
	Bool
	Int
	Float
	String
	List
	Dict
	Child
)

func (k Kind) String() string {
	switch k {
	case Any:
		return "any"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case List:
		return "list"
	case Dict:
		return "dict"
	case Child:
		return "child"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := Any; k <= Child; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return Any, fmt.Errorf("panel: unknown property kind %q", s)
}

func (k Kind) markup() markup.ParamKind {
	switch k {
	case List:
		return markup.KindList
	case Dict:
		return markup.KindDict
	case Child:
		return markup.KindChild
	}
	return markup.KindScalar
}

// convertible reports whether values of kind k can be copied into a
// property of kind to without a transform.
func (k Kind) convertible(to Kind) bool {
	return k == to || k == Any || to == Any || (k == Int && to == Float)
}

// Param declares one property of a class.
type Param struct {
	Name     string
	Kind     Kind
	Default  any
	Min, Max *float64 // bounds for Int and Float
	Doc      string
}

// normalize validates v against the declaration and converts it to the
// canonical representation: int, float64, string, bool, []any,
// map[string]any or *Component.
func (p Param) normalize(v any) (any, error) {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidValue, p.Name, fmt.Sprintf(format, args...))
	}
	switch p.Kind {
	case Any:
		return v, nil
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, bad("want bool, got %T", v)
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, bad("want string, got %T", v)
	case Int:
		n, ok := integer(v)
		if !ok {
			return nil, bad("want an integer in range, got %v (%T)", v, v)
		}
		if err := p.bounds(float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case Float:
		f, ok := number(v)
		if !ok {
			return nil, bad("want a number, got %T", v)
		}
		if err := p.bounds(f); err != nil {
			return nil, err
		}
		return f, nil
	case List:
		if v == nil {
			return []any(nil), nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, bad("want a list, got %T", v)
		}
		if l, ok := v.([]any); ok {
			return append([]any(nil), l...), nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	case Dict:
		if v == nil {
			return map[string]any(nil), nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, bad("want a map with string keys, got %T", v)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, nil
	case Child:
		switch c := v.(type) {
		case nil:
			return (*Component)(nil), nil
		case *Component:
			return c, nil
		}
		return nil, bad("want a *Component, got %T", v)
	}
	return nil, bad("unknown kind %v", p.Kind)
}

func (p Param) bounds(f float64) error {
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("%w: %s: %v is below the minimum %v", ErrInvalidValue, p.Name, f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("%w: %s: %v is above the maximum %v", ErrInvalidValue, p.Name, f, *p.Max)
	}
	return nil
}

// integer converts v to int without losing precision. Fractions,
// non-finite floats and values outside the int range are rejected.
func integer(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint:
		if uint64(n) > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		if uint64(n) > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float32:
		return integer(float64(n))
	case float64:
		// float64(math.MaxInt) rounds up to the first value out of range.
		if math.IsNaN(n) || n != math.Trunc(n) || n < math.MinInt || n >= float64(math.MaxInt) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// number accepts every numeric type msgpack and JSON decoders produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// equal compares property values. Components compare by identity, never by
// content.
func equal(a, b any) bool {
	switch x := a.(type) {
	case *Component:
		y, ok := b.(*Component)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) || (x == nil) != (y == nil) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) || (x == nil) != (y == nil) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// components returns the child components referenced by a property value,
// in order, without duplicates.
func components(v any) []*Component {
	var out []*Component
	seen := map[*Component]bool{}
	add := func(c *Component) {
		if c != nil && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	switch x := v.(type) {
	case *Component:
		add(x)
	case []any:
		for _, item := range x {
			if c, ok := item.(*Component); ok {
				add(c)
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(x) {
			if c, ok := x[k].(*Component); ok {
				add(c)
			}
		}
	}
	return out
}

// exportValue converts a property value to its view representation:
// components are replaced by their refs.
func exportValue(v any) any {
	switch x := v.(type) {
	case *Component:
		if x == nil {
			return nil
		}
		return x.ref
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = exportValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = exportValue(item)
		}
		return out
	}
	return v
}
