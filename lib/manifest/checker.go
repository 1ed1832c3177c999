package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSuffix is the file name suffix of manifests found by walking.
const DefaultSuffix = ".panel.yaml"

// Options configures the checker.
type Options struct {
	// Suffix selects the files a "dir/..." pattern picks up.
	Suffix string
	// Verbose writes one line per checked file to Out.
	Verbose bool
	Out     io.Writer
}

// Checker finds and checks manifests.
type Checker struct {
	opts Options
}

// New creates a new checker.
func New(opts Options) *Checker {
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Checker{opts: opts}
}

// Check loads and checks the manifests matched by patterns. A file that
// cannot be loaded is reported as a problem; err is only set when a
// pattern cannot be resolved.
func (c *Checker) Check(patterns ...string) ([]Problem, error) {
	files, err := c.Find(patterns...)
	if err != nil {
		return nil, err
	}
	var problems []Problem
	for _, file := range files {
		m, err := Load(file)
		if err != nil {
			problems = append(problems, Problem{File: file, Err: err})
			continue
		}
		found := m.Check()
		if c.opts.Verbose {
			fmt.Fprintf(c.opts.Out, "checked %s: %d classes, %d problems\n", file, len(m.Classes), len(found))
		}
		problems = append(problems, found...)
	}
	return problems, nil
}

// Find resolves patterns to manifest files. A pattern ending in "/..."
// walks the directory for files with the configured suffix; anything else
// names a file.
func (c *Checker) Find(patterns ...string) ([]string, error) {
	var files []string

	for _, pattern := range patterns {
		if !strings.HasSuffix(pattern, "/...") && pattern != "..." {
			files = append(files, pattern)
			continue
		}
		root := strings.TrimSuffix(strings.TrimSuffix(pattern, "..."), "/")
		if root == "" {
			root = "."
		}
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				// Skip hidden directories and vendor
				base := filepath.Base(path)
				if path != root && (strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") || base == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(info.Name(), c.opts.Suffix) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}
