package panel

import (
	"context"
	"strings"
	"sync"

	"github.com/vishalbelsare/panel/lib/htmlview"
	"github.com/vishalbelsare/panel/lib/view"
)

// TestSession is an immediate session over an in-memory toolkit. Dispatch
// errors are collected instead of logged.
type TestSession struct {
	*Session
	Registry *Registry
	Toolkit  *htmlview.Toolkit

	mu   sync.Mutex
	errs []error
}

// NewTestSession opens root in a fresh registry with a discarding logger.
//
//	ts, err := panel.NewTestSession("root")
//	node, err := ts.Render(slider)
//	ts.Toolkit.SetProperty("root", slider.Ref(), "value", 4)
func NewTestSession(root string, opts ...SessionOption) (*TestSession, error) {
	ts := &TestSession{Toolkit: htmlview.New()}
	ts.Registry = NewRegistry(WithLogger(DiscardLogger()))
	ts.Registry.OnError = func(err error) {
		ts.mu.Lock()
		ts.errs = append(ts.errs, err)
		ts.mu.Unlock()
	}
	s, err := ts.Registry.NewSession(root, ts.Toolkit, opts...)
	if err != nil {
		return nil, err
	}
	ts.Session = s
	return ts, nil
}

// Errors returns the dispatch errors reported so far.
func (ts *TestSession) Errors() []error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]error(nil), ts.errs...)
}

// HTMLNode returns the toolkit node of c.
func (ts *TestSession) HTMLNode(c *Component) (*htmlview.Node, bool) {
	return ts.Toolkit.Node(ts.root, c.ref)
}

// Fire delivers a view event to c's node as the toolkit would.
func (ts *TestSession) Fire(c *Component, ev Event) error {
	return ts.Toolkit.Fire(ts.root, c.ref, ev)
}

// Updates returns every update delivered to c's node since the last
// Toolkit.Reset, flattened in delivery order.
func (ts *TestSession) Updates(c *Component) []view.Update {
	var out []view.Update
	for _, b := range ts.Toolkit.Batches() {
		if b.Node == c.ref {
			out = append(out, b.Updates...)
		}
	}
	return out
}

// TestResult holds the result of rendering a component for testing.
type TestResult struct {
	HTML string
	Node *htmlview.Node
}

// TestRender renders c into a throwaway session and returns its HTML.
//
//	result, err := panel.TestRender(slider)
//	if !result.HTMLContains(`value="3"`) {
//	    t.Fatal("missing value")
//	}
func TestRender(c *Component) (*TestResult, error) {
	return TestRenderWithContext(context.Background(), c)
}

// TestRenderWithContext is TestRender with a context for the HTML render.
func TestRenderWithContext(ctx context.Context, c *Component) (*TestResult, error) {
	ts, err := NewTestSession("test")
	if err != nil {
		return nil, err
	}
	defer ts.Close()
	if _, err := ts.Render(c); err != nil {
		return nil, err
	}
	var b strings.Builder
	if err := ts.Toolkit.Document("test").Render(ctx, &b); err != nil {
		return nil, err
	}
	n, _ := ts.Toolkit.Node("test", c.ref)
	return &TestResult{HTML: b.String(), Node: n}, nil
}

// HTMLContains checks if the HTML contains a substring.
func (r *TestResult) HTMLContains(substr string) bool {
	return strings.Contains(r.HTML, substr)
}

// HTMLContainsAll checks if the HTML contains all the given substrings.
func (r *TestResult) HTMLContainsAll(substrs ...string) bool {
	for _, s := range substrs {
		if !strings.Contains(r.HTML, s) {
			return false
		}
	}
	return true
}

// HTMLContainsAny checks if the HTML contains any of the given substrings.
func (r *TestResult) HTMLContainsAny(substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(r.HTML, s) {
			return true
		}
	}
	return false
}
