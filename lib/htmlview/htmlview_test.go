package htmlview

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vishalbelsare/panel/lib/view"
)

type foreignNode string

func (f foreignNode) ID() string { return string(f) }

func mustCreate(t *testing.T, tk *Toolkit, desc view.Descriptor, props map[string]any) *Node {
	t.Helper()
	n, err := tk.CreateViewNode(desc, props)
	if err != nil {
		t.Fatalf("CreateViewNode(%s) error = %v", desc.Ref, err)
	}
	return n.(*Node)
}

func TestCreateViewNode(t *testing.T) {
	tk := New()
	props := map[string]any{"html": "<p></p>"}
	n := mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, props)
	props["html"] = "changed"

	if n.ID() != "a" || n.Kind() != "leaf" || n.Root() != "r1" {
		t.Errorf("node = %s/%s/%s", n.ID(), n.Kind(), n.Root())
	}
	if got := n.Prop("html"); got != "<p></p>" {
		t.Errorf("html = %v, want the props copied at creation", got)
	}

	tests := []struct {
		name string
		desc view.Descriptor
		ok   bool
	}{
		{"same ref in the same root", view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, false},
		{"same ref in another root", view.Descriptor{Kind: "leaf", Ref: "a", Root: "r2"}, true},
		{"foreign parent", view.Descriptor{Kind: "leaf", Ref: "b", Root: "r1", Parent: foreignNode("x")}, false},
		{"child", view.Descriptor{Kind: "leaf", Ref: "c", Root: "r1", Parent: n}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tk.CreateViewNode(tt.desc, nil)
			if (err == nil) != tt.ok {
				t.Errorf("CreateViewNode() error = %v, want ok %v", err, tt.ok)
			}
		})
	}
	if got := tk.Live("r1"); got != 2 {
		t.Errorf("Live(r1) = %d, want 2", got)
	}
	if created, _ := tk.Counts(); created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
}

func TestUpdateViewNode(t *testing.T) {
	tk := New()
	n := mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, nil)

	delta := []view.Update{
		{Node: "a", Property: "value", Value: 3},
		{Node: "input", Property: "value", Value: "3"},
		{Node: "input", Property: "disabled", Value: true},
	}
	if err := tk.UpdateViewNode(n, delta); err != nil {
		t.Fatalf("UpdateViewNode() error = %v", err)
	}
	delta[0].Value = 99

	if got := n.Prop("value"); got != 3 {
		t.Errorf("value = %v, want 3", got)
	}
	if v, ok := n.Attr("input", "disabled"); !ok || v != true {
		t.Errorf("Attr(input, disabled) = %v, %v", v, ok)
	}
	if _, ok := n.Attr("input", "hidden"); ok {
		t.Error("Attr(input, hidden) found, want it unset")
	}

	want := []Batch{{Root: "r1", Node: "a", Updates: []view.Update{
		{Node: "a", Property: "value", Value: 3},
		{Node: "input", Property: "value", Value: "3"},
		{Node: "input", Property: "disabled", Value: true},
	}}}
	if diff := cmp.Diff(want, tk.Batches()); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}

	if err := tk.UpdateViewNode(foreignNode("a"), delta); err == nil {
		t.Error("UpdateViewNode() of a foreign node succeeded")
	}
	tk.Reset()
	if got := tk.Batches(); len(got) != 0 {
		t.Errorf("batches after Reset = %v", got)
	}
}

func TestDestroyViewNode(t *testing.T) {
	tk := New()
	n := mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, nil)
	var fired int
	tk.Subscribe(n, "*", func(view.Event) { fired++ })

	for i := 0; i < 2; i++ {
		if err := tk.DestroyViewNode(n); err != nil {
			t.Fatalf("DestroyViewNode() #%d error = %v", i, err)
		}
	}
	if !n.Destroyed() {
		t.Error("Destroyed() = false")
	}
	if _, destroyed := tk.Counts(); destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", destroyed)
	}
	if got := tk.Live("r1"); got != 0 {
		t.Errorf("Live(r1) = %d, want 0", got)
	}
	if _, ok := tk.Node("r1", "a"); ok {
		t.Error("Node(r1, a) still found")
	}
	if err := tk.UpdateViewNode(n, []view.Update{{Node: "a", Property: "x", Value: 1}}); err == nil {
		t.Error("UpdateViewNode() of a destroyed node succeeded")
	}
	if err := tk.Fire("r1", "a", view.Event{Name: "click"}); err == nil {
		t.Error("Fire() on a destroyed node succeeded")
	}
	if fired != 0 {
		t.Errorf("subscriber called %d times", fired)
	}

	// The ref is free again.
	mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, nil)
}

func TestFire(t *testing.T) {
	tk := New()
	n := mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, nil)

	var got []string
	tk.Subscribe(n, "*", func(ev view.Event) { got = append(got, "all:"+ev.Name+":"+ev.Ref) })
	unsub := tk.Subscribe(n, "click", func(ev view.Event) { got = append(got, "click:"+ev.Node) })
	tk.Subscribe(n, "value", func(ev view.Event) { got = append(got, "value") })

	if err := tk.Click("r1", "a", "button"); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if err := tk.SetProperty("r1", "a", "value", 2); err != nil {
		t.Fatalf("SetProperty() error = %v", err)
	}
	unsub()
	if err := tk.Fire("r1", "a", view.Event{Kind: view.EventDOM, Ref: "other", Name: "click"}); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}

	want := []string{
		"all:click:a", "click:button",
		"all:value:a", "value",
		"all:click:other",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if err := tk.Fire("r2", "a", view.Event{Name: "click"}); err == nil {
		t.Error("Fire() in an unknown root succeeded")
	}
	if unsub := tk.Subscribe(foreignNode("a"), "*", func(view.Event) {}); unsub == nil {
		t.Error("Subscribe() on a foreign node returned a nil unsubscribe")
	}
}

func TestApplyLink(t *testing.T) {
	tk := New()
	n := mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, nil)
	spec := view.LinkSpec{Source: "a", Property: "value", Target: "b", Code: "target.x = source.value"}
	if err := tk.ApplyLink(n, spec); err != nil {
		t.Fatalf("ApplyLink() error = %v", err)
	}
	if diff := cmp.Diff([]view.LinkSpec{spec}, tk.Links()); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
	tk.Reset()
	if got := tk.Links(); len(got) != 0 {
		t.Errorf("links after Reset = %v", got)
	}
}

func TestHTML(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, tk *Toolkit)
		want  string
	}{
		{
			name: "empty root",
			build: func(*testing.T, *Toolkit) {},
			want:  "",
		},
		{
			name: "template only",
			build: func(t *testing.T, tk *Toolkit) {
				mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"},
					map[string]any{"html": `<p id="t-a">hi</p>`})
			},
			want: `<div id="a" data-kind="leaf"><p id="t-a">hi</p></div>`,
		},
		{
			name: "attribute and content updates",
			build: func(t *testing.T, tk *Toolkit) {
				n := mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"},
					map[string]any{"html": `<p id="t-a" class="x">old</p>`})
				tk.UpdateViewNode(n, []view.Update{
					{Node: "t", Property: "content", Value: "new"},
					{Node: "t", Property: "class", Value: "y"},
					{Node: "missing", Property: "class", Value: "z"},
				})
			},
			want: `<div id="a" data-kind="leaf"><p id="t-a" class="y">new</p></div>`,
		},
		{
			name: "children in slots",
			build: func(t *testing.T, tk *Toolkit) {
				p := mustCreate(t, tk, view.Descriptor{Kind: "box", Ref: "p", Root: "r1"},
					map[string]any{"html": `<div id="slot-p"></div>`})
				mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "c", Root: "r1", Parent: p},
					map[string]any{"html": `<span id="x-c">c</span>`})
				tk.UpdateViewNode(p, []view.Update{{Node: "p", Property: "children", Value: map[string]any{
					"slot": []any{"c", "gone"},
				}}})
			},
			want: `<div id="p" data-kind="box"><div id="slot-p"><div id="c" data-kind="leaf"><span id="x-c">c</span></div></div></div>`,
		},
		{
			name: "top-level nodes in creation order",
			build: func(t *testing.T, tk *Toolkit) {
				mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "b", Root: "r1"}, map[string]any{"html": "B"})
				mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "a", Root: "r1"}, map[string]any{"html": "A"})
				mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "z", Root: "r2"}, map[string]any{"html": "Z"})
			},
			want: `<div id="b" data-kind="leaf">B</div><div id="a" data-kind="leaf">A</div>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New()
			tt.build(t, tk)
			got, err := tk.HTML("r1")
			if err != nil {
				t.Fatalf("HTML() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HTML() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPretty(t *testing.T) {
	tk := New()
	p := mustCreate(t, tk, view.Descriptor{Kind: "box", Ref: "p", Root: "r1"},
		map[string]any{"html": `<div id="slot-p"></div>`})
	mustCreate(t, tk, view.Descriptor{Kind: "leaf", Ref: "c", Root: "r1", Parent: p},
		map[string]any{"html": `<span id="x-c">c</span>`})
	tk.UpdateViewNode(p, []view.Update{{Node: "p", Property: "children", Value: map[string][]string{"slot": {"c"}}}})

	got, err := tk.Pretty("r1")
	if err != nil {
		t.Fatalf("Pretty() error = %v", err)
	}
	if !strings.Contains(got, "\n") || !strings.Contains(got, `data-kind="leaf"`) {
		t.Errorf("Pretty() = %q", got)
	}
}
