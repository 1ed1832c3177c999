package panel

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vishalbelsare/panel/lib/htmlview"
	"github.com/vishalbelsare/panel/lib/view"
)

func TestRegistrySessions(t *testing.T) {
	reg := NewRegistry(WithLogger(DiscardLogger()))
	tk := htmlview.New()
	for _, root := range []string{"b", "a"} {
		if _, err := reg.NewSession(root, tk); err != nil {
			t.Fatalf("NewSession(%s) error = %v", root, err)
		}
	}
	if _, err := reg.NewSession("a", tk); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("NewSession(a) again error = %v, want ErrAlreadyBound", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, reg.Roots()); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}

	s, _ := reg.Session("a")
	c := leaf("x")
	if _, err := s.Render(c); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got, ok := reg.Lookup("a", c.Ref()); !ok || got != c {
		t.Errorf("Lookup(a) = %v, %v", got, ok)
	}
	if _, ok := reg.Lookup("b", c.Ref()); ok {
		t.Error("Lookup(b) found a component rendered under a")
	}

	if err := reg.CloseSession("a"); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if err := reg.CloseSession("a"); err != nil {
		t.Errorf("CloseSession() of a closed root error = %v", err)
	}
	if got := reg.Components("a"); len(got) != 0 {
		t.Errorf("Components(a) = %v after close", got)
	}
	if err := reg.ReceiveViewChange("a", c.Ref(), "text", "y"); err != nil {
		t.Errorf("ReceiveViewChange() on a closed root error = %v, want it dropped", err)
	}
	if got := c.Get("text"); got != "x" {
		t.Errorf("text = %v, want x", got)
	}

	var reported []error
	reg.OnError = func(err error) { reported = append(reported, err) }
	reg.Dispatch(context.Background(), "a", Event{Kind: view.EventDOM, Ref: c.Ref(), Name: "click"})
	if len(reported) != 1 || !IsStale(reported[0]) {
		t.Errorf("reported = %v, want one stale error", reported)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := reg.Roots(); len(got) != 0 {
		t.Errorf("roots after Close = %v", got)
	}
}

func TestRegistryTokens(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	reg := NewRegistry(WithKey(key), WithLogger(DiscardLogger()))
	tok, err := reg.Token("root-1")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	tests := []struct {
		name    string
		reg     *Registry
		tok     string
		maxAge  time.Duration
		want    string
		wantErr error
	}{
		{"valid", reg, tok, 0, "root-1", nil},
		{"valid within max age", reg, tok, time.Hour, "root-1", nil},
		{"no key", NewRegistry(), tok, 0, "", ErrNoKey},
		{"other key", NewRegistry(WithKey(bytes.Repeat([]byte{8}, 32))), tok, 0, "", ErrSignatureInvalid},
		{"garbage", reg, "not-a-token", 0, "", ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.reg.ParseToken(tt.tok, tt.maxAge)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseToken() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseToken() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewRegistry().Token("r"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Token() without a key error = %v, want ErrNoKey", err)
	}

	short := NewRegistry(WithKey([]byte("short")))
	tok, err = short.Token("root-2")
	if err != nil {
		t.Fatalf("Token() with a short key error = %v", err)
	}
	if got, err := short.ParseToken(tok, 0); err != nil || got != "root-2" {
		t.Errorf("ParseToken() with a short key = %q, %v", got, err)
	}
	if _, err := reg.ParseToken(tok, 0); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("ParseToken() with another key error = %v, want ErrSignatureInvalid", err)
	}
}

func TestRenderHelper(t *testing.T) {
	c := leaf("hello")
	ts := newTestSession(t, "page")
	if _, err := ts.Render(c); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	if err := Render(w, r, ts.Toolkit.Document("page")); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type = %q", got)
	}
	if !strings.Contains(w.Body.String(), "hello") {
		t.Errorf("body = %q", w.Body.String())
	}

	result, err := TestRender(leaf("world"))
	if err != nil {
		t.Fatalf("TestRender() error = %v", err)
	}
	if !result.HTMLContainsAny("nope", "world") || result.HTMLContainsAny("nope") || result.HTMLContains("hello") {
		t.Errorf("HTML = %q", result.HTML)
	}
	if result.Node == nil {
		t.Error("TestRender() returned no node")
	}
}
