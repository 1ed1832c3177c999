package panel

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vishalbelsare/panel/lib/htmlview"
	"github.com/vishalbelsare/panel/lib/view"
)

var (
	leafClass = NewClass("leaf").
			String("text", "").
			Template(`<span id="t">${text}</span>`).
			MustBuild()

	listClass = NewClass("list").
			List("items", nil).
			Template(`<div id="list">{% for item in items %}<div id="item">${item}</div>{% endfor %}</div>`).
			MustBuild()

	boxClass = NewClass("box").
			Child("content").
			Template(`<div id="slot">${content}</div>`).
			MustBuild()

	sliderClass = NewClass("slider").
			Float("value", 0).
			Template(`<input id="input" type="range" value="${value}">`).
			MustBuild()
)

func newTestSession(t *testing.T, root string, opts ...SessionOption) *TestSession {
	t.Helper()
	ts, err := NewTestSession(root, opts...)
	if err != nil {
		t.Fatalf("NewTestSession() error = %v", err)
	}
	t.Cleanup(func() { ts.Close() })
	return ts
}

func leaf(text string) *Component {
	return leafClass.MustNew(map[string]any{"text": text})
}

func TestBindingUpdates(t *testing.T) {
	tests := []struct {
		name     string
		template string
		scripts  map[string]string
		initial  string
		want     func(ref string) []view.Update
	}{
		{
			name:     "whole attribute",
			template: `<div id="d" width=${w}></div>`,
			initial:  `width="3"`,
			want: func(string) []view.Update {
				return []view.Update{{Node: "d", Property: "width", Value: 5}}
			},
		},
		{
			name:     "attribute template",
			template: `<div id="d" style="width: ${w}px"></div>`,
			initial:  `style="width: 3px"`,
			want: func(string) []view.Update {
				return []view.Update{{Node: "d", Property: "style", Value: "width: 5px"}}
			},
		},
		{
			name:     "content",
			template: `<span id="s">${w}</span>`,
			initial:  `>3</span>`,
			want: func(string) []view.Update {
				return []view.Update{{Node: "s", Property: "content", Value: 5}}
			},
		},
		{
			name:     "content with text",
			template: `<span id="s">w = ${w}</span>`,
			initial:  `>w = 3</span>`,
			want: func(string) []view.Update {
				return []view.Update{{Node: "s", Property: "content", Value: "w = 5"}}
			},
		},
		{
			name:     "read by a script",
			template: `<div id="d" width=${w}></div>`,
			scripts:  map[string]string{"render": "console.log(data.w)"},
			initial:  `width="3"`,
			want: func(ref string) []view.Update {
				return []view.Update{
					{Node: ref, Property: "w", Value: 5},
					{Node: "d", Property: "width", Value: 5},
				}
			},
		},
		{
			name:     "literal",
			template: `<div id="d">{{ w }}</div>`,
			initial:  `>3</div>`,
			want: func(ref string) []view.Update {
				return []view.Update{
					{Node: ref, Property: "w", Value: 5},
					{Node: ref, Property: PropHTML, Value: `<div id="d-` + ref + `">5</div>`},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewClass("bar").Int("w", 3).Template(tt.template)
			for name, code := range tt.scripts {
				b.Script(name, code)
			}
			c := b.MustBuild().MustNew(nil)
			ts := newTestSession(t, "r1")
			if _, err := ts.Render(c); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			html, err := ts.Toolkit.HTML("r1")
			if err != nil {
				t.Fatalf("HTML() error = %v", err)
			}
			if !strings.Contains(html, tt.initial) {
				t.Errorf("initial HTML = %s, want it to contain %s", html, tt.initial)
			}

			ts.Toolkit.Reset()
			if err := c.Set("w", 5); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if diff := cmp.Diff(tt.want(c.Ref()), ts.Updates(c)); diff != "" {
				t.Errorf("updates mismatch (-want +got):\n%s", diff)
			}
			if got := len(ts.Toolkit.Batches()); got != 1 {
				t.Errorf("got %d batches, want 1", got)
			}

			// Setting the same value again sends nothing.
			ts.Toolkit.Reset()
			c.Set("w", 5)
			if got := ts.Toolkit.Batches(); len(got) != 0 {
				t.Errorf("unchanged Set() sent %v", got)
			}
		})
	}
}

func TestRenderedHTMLFollowsUpdates(t *testing.T) {
	c := NewClass("bar").Int("w", 3).Template(`<div id="d" width=${w}></div>`).MustBuild().MustNew(nil)
	result, err := TestRender(c)
	if err != nil {
		t.Fatalf("TestRender() error = %v", err)
	}
	if !result.HTMLContainsAll(`id="`+c.Ref()+`"`, `id="d-`+c.Ref()+`"`, `width="3"`) {
		t.Errorf("HTML = %s", result.HTML)
	}

	ts := newTestSession(t, "r1")
	ts.Render(c)
	c.Set("w", 8)
	html, _ := ts.Toolkit.HTML("r1")
	if !strings.Contains(html, `width="8"`) {
		t.Errorf("HTML after update = %s, want width=\"8\"", html)
	}
	n, _ := ts.HTMLNode(c)
	if v, ok := n.Attr("d", "width"); !ok || v != 8 {
		t.Errorf("Attr(d, width) = %v, %v, want 8", v, ok)
	}
}

func TestLoopChildrenReplaced(t *testing.T) {
	a, b, c := leaf("a"), leaf("b"), leaf("c")
	l := listClass.MustNew(map[string]any{"items": []any{a, b}})
	ts := newTestSession(t, "r1")
	if _, err := ts.Render(l); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if created, _ := ts.Toolkit.Counts(); created != 3 {
		t.Fatalf("created %d nodes, want 3", created)
	}
	n, _ := ts.HTMLNode(l)
	if diff := cmp.Diff(map[string][]string{"item-0": {a.Ref()}, "item-1": {b.Ref()}}, n.Prop(PropChildren)); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	ts.Toolkit.Reset()
	if err := l.Set("items", []any{c}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	created, destroyed := ts.Toolkit.Counts()
	if created != 1 || destroyed != 2 {
		t.Errorf("Counts() = %d created, %d destroyed, want 1 and 2", created, destroyed)
	}
	if diff := cmp.Diff(map[string][]string{"item": {"item-0"}}, n.Prop(PropLooped)); diff != "" {
		t.Errorf("looped mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string][]string{"item-0": {c.Ref()}}, n.Prop(PropChildren)); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
	for _, gone := range []*Component{a, b} {
		if _, ok := ts.HTMLNode(gone); ok {
			t.Errorf("%s still has a node", gone)
		}
		if _, ok := ts.Lookup(gone.Ref()); ok {
			t.Errorf("%s is still bound", gone)
		}
	}
	html, _ := ts.Toolkit.HTML("r1")
	if !strings.Contains(html, `<span id="t-`+c.Ref()+`">c</span>`) {
		t.Errorf("HTML = %s, want the new child", html)
	}
	if got := len(ts.Registry.Components("r1")); got != 2 {
		t.Errorf("registry holds %d components, want 2", got)
	}
}

func TestLoopChildrenKeepTheirNodes(t *testing.T) {
	a, b, c := leaf("a"), leaf("b"), leaf("c")
	l := listClass.MustNew(map[string]any{"items": []any{a, b}})
	ts := newTestSession(t, "r1")
	ts.Render(l)

	tests := []struct {
		name      string
		items     []any
		created   int
		destroyed int
		children  map[string][]string
	}{
		{"append", []any{a, b, c}, 1, 0, map[string][]string{"item-0": {a.Ref()}, "item-1": {b.Ref()}, "item-2": {c.Ref()}}},
		{"reorder", []any{b, a, c}, 0, 0, map[string][]string{"item-0": {b.Ref()}, "item-1": {a.Ref()}, "item-2": {c.Ref()}}},
		{"remove middle", []any{b, c}, 0, 1, map[string][]string{"item-0": {b.Ref()}, "item-1": {c.Ref()}}},
		{"same child twice", []any{c, c}, 0, 1, map[string][]string{"item-0": {c.Ref()}, "item-1": {c.Ref()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.Toolkit.Reset()
			l.Set("items", tt.items)
			created, destroyed := ts.Toolkit.Counts()
			if created != tt.created || destroyed != tt.destroyed {
				t.Errorf("Counts() = %d created, %d destroyed, want %d and %d", created, destroyed, tt.created, tt.destroyed)
			}
			n, _ := ts.HTMLNode(l)
			if diff := cmp.Diff(tt.children, n.Prop(PropChildren)); diff != "" {
				t.Errorf("children mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if _, ok := ts.HTMLNode(a); ok {
		t.Errorf("a should be gone after it left the loop")
	}
}

func TestChildSlot(t *testing.T) {
	a := leaf("a")
	box := boxClass.MustNew(map[string]any{"content": a})
	ts := newTestSession(t, "r1")
	ts.Render(box)
	if _, ok := ts.HTMLNode(a); !ok {
		t.Fatal("child was not rendered")
	}
	html, _ := ts.Toolkit.HTML("r1")
	if !strings.Contains(html, `<div id="slot-`+box.Ref()+`"><div id="`+a.Ref()+`"`) {
		t.Errorf("HTML = %s, want the child inside the slot", html)
	}

	box.Set("content", nil)
	if _, ok := ts.HTMLNode(a); ok {
		t.Error("child survived being removed from its slot")
	}
}

func TestSharedChildIsRefCounted(t *testing.T) {
	a := leaf("a")
	p1 := boxClass.MustNew(map[string]any{"content": a})
	p2 := boxClass.MustNew(map[string]any{"content": a})
	ts := newTestSession(t, "r1")
	ts.Render(p1)
	ts.Render(p2)
	if created, _ := ts.Toolkit.Counts(); created != 3 {
		t.Errorf("created %d nodes, want 3", created)
	}

	ts.Cleanup(p1)
	if _, ok := ts.HTMLNode(a); !ok {
		t.Fatal("child removed while another parent still holds it")
	}
	ts.Cleanup(p2)
	if _, ok := ts.HTMLNode(a); ok {
		t.Error("child survived its last parent")
	}
	if got := ts.Toolkit.Live("r1"); got != 0 {
		t.Errorf("Live() = %d, want 0", got)
	}
}

func TestPromoteChild(t *testing.T) {
	a := leaf("a")
	box := boxClass.MustNew(map[string]any{"content": a})
	ts := newTestSession(t, "r1")
	ts.Render(box)
	if _, err := ts.Render(a); err != nil {
		t.Fatalf("Render() of a rendered child error = %v", err)
	}
	ts.Cleanup(box)
	if _, ok := ts.HTMLNode(a); !ok {
		t.Error("promoted child removed with its parent")
	}
}

func TestSelfContainment(t *testing.T) {
	box := boxClass.MustNew(nil)
	box.Set("content", box)
	ts := newTestSession(t, "r1")
	if _, err := ts.Render(box); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got := ts.Toolkit.Live("r1"); got != 1 {
		t.Errorf("Live() = %d, want 1", got)
	}
}

func TestRenderErrors(t *testing.T) {
	ts := newTestSession(t, "r1")
	c := leaf("x")
	if _, err := ts.Render(c); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if _, err := ts.Render(c); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Render() error = %v, want ErrAlreadyBound", err)
	}

	gone := leaf("gone")
	gone.Destroy()
	if _, err := ts.Render(gone); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Render() of a destroyed component error = %v, want ErrDestroyed", err)
	}

	ts.Close()
	if _, err := ts.Render(leaf("late")); !errors.Is(err, ErrSessionClosed) || !IsBindingError(err) {
		t.Errorf("Render() after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestViewChangeIsNotEchoed(t *testing.T) {
	reg := NewRegistry(WithLogger(DiscardLogger()))
	tk := htmlview.New()
	for _, root := range []string{"r1", "r2"} {
		s, err := reg.NewSession(root, tk)
		if err != nil {
			t.Fatalf("NewSession(%s) error = %v", root, err)
		}
		defer s.Close()
	}
	c := sliderClass.MustNew(nil)
	for _, root := range []string{"r1", "r2"} {
		s, _ := reg.Session(root)
		if _, err := s.Render(c); err != nil {
			t.Fatalf("Render() in %s error = %v", root, err)
		}
	}

	tk.Reset()
	if err := tk.SetProperty("r1", c.Ref(), "value", 4.0); err != nil {
		t.Fatalf("SetProperty() error = %v", err)
	}
	if got := c.Get("value"); got != 4.0 {
		t.Errorf("value = %v, want 4", got)
	}
	want := []htmlview.Batch{{Root: "r2", Node: c.Ref(), Updates: []view.Update{{Node: "input", Property: "value", Value: 4.0}}}}
	if diff := cmp.Diff(want, tk.Batches()); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}

	// A change made in process reaches every root.
	tk.Reset()
	c.Set("value", 6.0)
	roots := map[string]bool{}
	for _, b := range tk.Batches() {
		roots[b.Root] = true
	}
	if !roots["r1"] || !roots["r2"] || len(tk.Batches()) != 2 {
		t.Errorf("batches = %+v, want one per root", tk.Batches())
	}
}

func TestHoldMergesUpdates(t *testing.T) {
	c := NewClass("rect").
		Int("w", 1).Int("h", 1).
		Template(`<div id="d" style="width: ${w}px; height: ${h}px"></div>`).
		MustBuild().MustNew(nil)
	ts := newTestSession(t, "r1")
	ts.Render(c)

	tests := []struct {
		name   string
		change func()
		want   string
	}{
		{"update", func() { c.Update(map[string]any{"w": 2, "h": 3}) }, "width: 2px; height: 3px"},
		{"hold", func() {
			release := ts.Hold()
			c.Set("w", 4)
			c.Set("h", 5)
			c.Set("w", 6)
			release()
		}, "width: 6px; height: 5px"},
		{"batch", func() {
			ts.Batch(func() {
				c.Set("w", 7)
				c.Set("h", 8)
			})
		}, "width: 7px; height: 8px"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.Toolkit.Reset()
			tt.change()
			want := []htmlview.Batch{{Root: "r1", Node: c.Ref(), Updates: []view.Update{{Node: "d", Property: "style", Value: tt.want}}}}
			if diff := cmp.Diff(want, ts.Toolkit.Batches()); diff != "" {
				t.Errorf("batches mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	c := NewClass("rect").Int("w", 1).Int("h", 1).MustBuild().MustNew(nil)
	var all, onlyW [][]Change
	c.Watch(func(ch []Change) { all = append(all, ch) })
	unwatch := c.Watch(func(ch []Change) { onlyW = append(onlyW, ch) }, "w")

	c.Update(map[string]any{"h": 2, "w": 3})
	c.Set("h", 4)
	unwatch()
	c.Set("w", 5)

	want := [][]Change{
		{{Name: "w", Old: 1, New: 3}, {Name: "h", Old: 1, New: 2}},
		{{Name: "h", Old: 2, New: 4}},
		{{Name: "w", Old: 3, New: 5}},
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("watch all mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]Change{{{Name: "w", Old: 1, New: 3}}}, onlyW); diff != "" {
		t.Errorf("watch w mismatch (-want +got):\n%s", diff)
	}
}

func TestUnbindRenderedReleasesChildren(t *testing.T) {
	tests := []struct {
		name     string
		after    func(t *testing.T, ts *TestSession, l *Component)
		wantLive int
	}{
		{"left alone", func(*testing.T, *TestSession, *Component) {}, 1},
		{"then Cleanup", func(_ *testing.T, ts *TestSession, l *Component) { ts.Cleanup(l) }, 0},
		{"then Close", func(_ *testing.T, ts *TestSession, _ *Component) { ts.Close() }, 0},
		{"then Render", func(t *testing.T, ts *TestSession, l *Component) {
			if _, err := ts.Render(l); err != nil {
				t.Fatalf("Render() after Unbind error = %v", err)
			}
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := leaf("a"), leaf("b")
			l := listClass.MustNew(map[string]any{"items": []any{a, b}})
			ts := newTestSession(t, "r1")
			if _, err := ts.Render(l); err != nil {
				t.Fatalf("Render() error = %v", err)
			}

			Unbind(l, "r1")
			for _, child := range []*Component{a, b} {
				if child.view("r1") != nil {
					t.Errorf("%s is still bound after its parent was unbound", child)
				}
			}
			if got := len(ts.Registry.Components("r1")); got != 0 {
				t.Errorf("Components() = %d, want 0", got)
			}

			tt.after(t, ts, l)
			if got := ts.Toolkit.Live("r1"); got != tt.wantLive {
				t.Errorf("Live() = %d, want %d", got, tt.wantLive)
			}
		})
	}
}

func TestCleanupAndClose(t *testing.T) {
	a, b := leaf("a"), leaf("b")
	l := listClass.MustNew(map[string]any{"items": []any{a, b}})
	ts := newTestSession(t, "r1")
	ts.Render(l)

	ts.Cleanup(l)
	if got := ts.Toolkit.Live("r1"); got != 0 {
		t.Errorf("Live() after Cleanup = %d, want 0", got)
	}
	if got := ts.Registry.Components("r1"); len(got) != 0 {
		t.Errorf("registry still holds %v", got)
	}

	ts.Render(l)
	ts.Close()
	if got := ts.Toolkit.Live("r1"); got != 0 {
		t.Errorf("Live() after Close = %d, want 0", got)
	}
	if _, ok := ts.Registry.Session("r1"); ok {
		t.Error("closed session still registered")
	}
	if err := ts.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDestroy(t *testing.T) {
	c := leaf("a")
	ts := newTestSession(t, "r1")
	ts.Render(c)
	c.Destroy()
	if _, ok := ts.HTMLNode(c); ok {
		t.Error("destroyed component still has a node")
	}
	if err := c.Set("text", "b"); err != nil {
		t.Errorf("Set() on a destroyed component error = %v", err)
	}
	if got := c.Get("text"); got != "b" {
		t.Errorf("text = %v, want b", got)
	}
}
