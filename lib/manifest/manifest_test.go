package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vishalbelsare/panel/lib/markup"
)

const sliderManifest = `
classes:
  - name: slider
    params:
      value: float
      w: int
    methods: [_reset]
    events:
      input: [change]
    template: |
      <div id="d" style="width: ${w}px">
        <input id="input" value="${value}">
        <button id="reset" onclick="${_reset}">reset</button>
      </div>
    scripts:
      render: "data.value = input.value"
`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	m, err := Parse("slider.panel.yaml", []byte(sliderManifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := m.Names(); !cmp.Equal(got, []string{"slider"}) {
		t.Errorf("Names() = %v, want [slider]", got)
	}
	c := m.Classes[0]
	if c.Params["w"] != "int" {
		t.Errorf("Params[w] = %q, want int", c.Params["w"])
	}
	if diff := cmp.Diff(map[string][]string{"input": {"change"}}, c.Events); diff != "" {
		t.Errorf("Events mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "missing name",
			data: "classes:\n  - params: {a: int}\n",
			want: "has no name",
		},
		{
			name: "duplicate class",
			data: "classes:\n  - name: a\n  - name: a\n",
			want: "declared twice",
		},
		{
			name: "template and file",
			data: "classes:\n  - name: a\n    template: x\n    template_file: a.html\n",
			want: "both template and template_file",
		},
		{
			name: "bad yaml",
			data: "classes: [",
			want: "m.panel.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("m.panel.yaml", []byte(tt.data))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		class    Class
		wantErrs int
		template bool // the problem is a TemplateError
	}{
		{
			name: "valid",
			class: Class{
				Name:     "ok",
				Params:   map[string]string{"w": "int"},
				Template: `<div id="d" style="width: ${w}px"></div>`,
			},
		},
		{
			name: "bound attribute without id",
			class: Class{
				Name:     "noid",
				Params:   map[string]string{"width": "int"},
				Template: `<div width=${width}></div>`,
			},
			wantErrs: 1,
			template: true,
		},
		{
			name: "unknown kind",
			class: Class{
				Name:   "kind",
				Params: map[string]string{"w": "complex"},
			},
			wantErrs: 1,
		},
		{
			name: "script assigns undeclared property",
			class: Class{
				Name:     "script",
				Params:   map[string]string{"w": "int"},
				Template: `<div id="d" style="width: ${w}px"></div>`,
				Scripts:  map[string]string{"render": "data.clicks += 1"},
			},
			wantErrs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Path: "m.panel.yaml", Classes: []Class{tt.class}}
			problems := m.Check()
			if len(problems) != tt.wantErrs {
				t.Fatalf("Check() = %v, want %d problems", problems, tt.wantErrs)
			}
			if tt.wantErrs == 0 {
				return
			}
			p := problems[0]
			if p.Class != tt.class.Name || p.File != "m.panel.yaml" {
				t.Errorf("problem = %+v, want class %s in m.panel.yaml", p, tt.class.Name)
			}
			var te *markup.TemplateError
			if got := errors.As(p, &te); got != tt.template {
				t.Errorf("errors.As(TemplateError) = %v, want %v (%v)", got, tt.template, p)
			}
		})
	}
}

func TestCheckTemplateFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "views", "d.html"), `<div id="d" style="width: ${w}px"></div>`)
	writeFile(t, filepath.Join(dir, "a.panel.yaml"), "classes:\n  - name: a\n    params: {w: int}\n    template_file: views/d.html\n")
	writeFile(t, filepath.Join(dir, "b.panel.yaml"), "classes:\n  - name: b\n    template_file: missing.html\n")
	writeFile(t, filepath.Join(dir, ".hidden", "c.panel.yaml"), "classes: [")

	c := New(Options{})
	files, err := c.Find(dir + "/...")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Find() = %v, want 2 files", files)
	}

	problems, err := c.Check(dir + "/...")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(problems) != 1 || problems[0].Class != "b" {
		t.Fatalf("Check() = %v, want one problem for class b", problems)
	}
	if !errors.Is(problems[0], os.ErrNotExist) {
		t.Errorf("problem = %v, want a missing file", problems[0])
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.panel.yaml")
	writeFile(t, path, "classes:\n  - name: a\n    params: {w: int}\n    template: '<div id=\"d\" style=\"width: ${w}px\"></div>'\n")

	old := DebounceDuration
	DebounceDuration = 10 * time.Millisecond
	defer func() { DebounceDuration = old }()

	reports := make(chan []Problem, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(Options{}).Watch(ctx, func(p []Problem, err error) {
			if err == nil {
				reports <- p
			}
		}, path)
	}()

	select {
	case p := <-reports:
		if len(p) != 0 {
			t.Fatalf("initial check = %v, want no problems", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the initial check")
	}

	writeFile(t, path, "classes:\n  - name: a\n    params: {w: int}\n    template: '<div style=\"width: ${w}px\"></div>'\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-reports:
			if len(p) == 1 {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("Watch() error = %v", err)
				}
				return
			}
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for the re-check")
		}
	}
}
