// Package manifest reads YAML class manifests and checks their templates
// without running any Go code.
//
// A manifest lists classes the way NewClass declares them:
//
//	classes:
//	  - name: slider
//	    params:
//	      value: float
//	      options: list
//	    methods: [_reset]
//	    events:
//	      input: [change]
//	    template_file: slider.html
//	    scripts:
//	      render: "data.value = input.value"
//
// Check compiles every template against its declared properties and
// methods and reports each problem with the file and class it came from.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vishalbelsare/panel/lib/markup"
)

// Manifest is one manifest file.
type Manifest struct {
	Path    string  `yaml:"-"`
	Classes []Class `yaml:"classes"`
}

// Class declares one component class.
type Class struct {
	Name         string              `yaml:"name"`
	Params       map[string]string   `yaml:"params"` // name -> kind
	Methods      []string            `yaml:"methods"`
	Events       map[string][]string `yaml:"events"`
	Template     string              `yaml:"template"`
	TemplateFile string              `yaml:"template_file"` // relative to the manifest
	Scripts      map[string]string   `yaml:"scripts"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse parses manifest data. path is used to resolve template files.
func Parse(path string, data []byte) (*Manifest, error) {
	m := &Manifest{Path: path}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	seen := map[string]bool{}
	for i, c := range m.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("%s: class %d has no name", path, i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%s: class %q declared twice", path, c.Name)
		}
		seen[c.Name] = true
		if c.Template != "" && c.TemplateFile != "" {
			return nil, fmt.Errorf("%s: class %q sets both template and template_file", path, c.Name)
		}
	}
	return m, nil
}

// Files returns the template files the manifest refers to, resolved.
func (m *Manifest) Files() []string {
	var out []string
	for _, c := range m.Classes {
		if c.TemplateFile != "" {
			out = append(out, m.resolve(c.TemplateFile))
		}
	}
	return out
}

func (m *Manifest) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(m.Path), name)
}

// Schema converts the declared properties and methods.
func (c Class) Schema() (markup.Schema, error) {
	s := markup.Schema{Params: map[string]markup.ParamKind{}, Methods: map[string]bool{}}
	for name, kind := range c.Params {
		k, err := parseKind(kind)
		if err != nil {
			return markup.Schema{}, fmt.Errorf("property %q: %w", name, err)
		}
		s.Params[name] = k
	}
	for _, name := range c.Methods {
		s.Methods[name] = true
	}
	return s, nil
}

func parseKind(s string) (markup.ParamKind, error) {
	switch strings.ToLower(s) {
	case "", "any", "bool", "int", "float", "string":
		return markup.KindScalar, nil
	case "list":
		return markup.KindList, nil
	case "dict":
		return markup.KindDict, nil
	case "child":
		return markup.KindChild, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// Problem is one finding of Check.
type Problem struct {
	File  string
	Class string
	Err   error
}

func (p Problem) Error() string {
	if p.Class == "" {
		return fmt.Sprintf("%s: %v", p.File, p.Err)
	}
	return fmt.Sprintf("%s: %s: %v", p.File, p.Class, p.Err)
}

func (p Problem) Unwrap() error { return p.Err }

// Check compiles every class of the manifest. Classes whose scripts assign
// undeclared properties are reported too.
func (m *Manifest) Check() []Problem {
	var problems []Problem
	for _, c := range m.Classes {
		fail := func(err error) {
			problems = append(problems, Problem{File: m.Path, Class: c.Name, Err: err})
		}
		schema, err := c.Schema()
		if err != nil {
			fail(err)
			continue
		}
		src := c.Template
		if c.TemplateFile != "" {
			data, err := os.ReadFile(m.resolve(c.TemplateFile))
			if err != nil {
				fail(err)
				continue
			}
			src = string(data)
		}
		if _, err := markup.Compile(src, schema, c.Events); err != nil {
			fail(err)
		}
		for _, name := range markup.LinkedProperties(c.Scripts) {
			if _, ok := c.Params[name]; !ok {
				fail(fmt.Errorf("script assigns undeclared property %q", name))
			}
		}
	}
	return problems
}

// Names returns the class names in the manifest, sorted.
func (m *Manifest) Names() []string {
	out := make([]string, 0, len(m.Classes))
	for _, c := range m.Classes {
		out = append(out, c.Name)
	}
	slices.Sort(out)
	return out
}
