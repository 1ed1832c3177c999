package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/vishalbelsare/panel/lib/manifest"
	"github.com/vishalbelsare/panel/lib/markup"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "check":
		ok, err := runCheck(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(1)
		}
	case "watch":
		if err := runWatch(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("panel version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`panel - reactive template tooling

Usage:
  panel <command> [arguments]

Commands:
  check [manifests]     Compile every class template listed in the manifests
  watch [manifests]     Check, then check again whenever a manifest or template changes
  version               Print version
  help                  Show this help

Options for check and watch:
  -v                    List every checked file

Manifests are YAML files; a pattern ending in /... finds every *.panel.yaml below it.

Examples:
  panel check ./...                       Check all manifests
  panel check ui/slider.panel.yaml        Check one manifest
  panel watch ./ui/...                    Re-check on every save`)
}

func parseArgs(args []string) (manifest.Options, []string) {
	opts := manifest.Options{Out: os.Stdout}
	var patterns []string
	for _, arg := range args {
		if arg == "-v" {
			opts.Verbose = true
		} else {
			patterns = append(patterns, arg)
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	return opts, patterns
}

func runCheck(args []string) (bool, error) {
	opts, patterns := parseArgs(args)
	problems, err := manifest.New(opts).Check(patterns...)
	if err != nil {
		return false, err
	}
	printProblems(os.Stderr, problems, colored(os.Stderr))
	return len(problems) == 0, nil
}

func runWatch(args []string) error {
	opts, patterns := parseArgs(args)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	color := colored(os.Stderr)
	return manifest.New(opts).Watch(ctx, func(problems []manifest.Problem, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		if len(problems) == 0 {
			fmt.Fprintln(os.Stderr, paint(color, green, "ok"))
			return
		}
		printProblems(os.Stderr, problems, color)
	}, patterns...)
}

const (
	red    = "\033[31;1m"
	green  = "\033[32m"
	yellow = "\033[33m"
	reset  = "\033[m"
)

func colored(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(color bool, code, s string) string {
	if !color {
		return s
	}
	return code + s + reset
}

// printProblems writes one block per problem. Template errors show the
// offending fragment under the message.
func printProblems(w io.Writer, problems []manifest.Problem, color bool) {
	for _, p := range problems {
		where := p.File
		if p.Class != "" {
			where += ": " + p.Class
		}
		var te *markup.TemplateError
		if !errors.As(p.Err, &te) {
			fmt.Fprintf(w, "%s: %s\n", where, paint(color, red, p.Err.Error()))
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", where, paint(color, red, te.Message))
		if frag := strings.TrimSpace(te.Fragment); frag != "" {
			fmt.Fprintf(w, "    %s\n", paint(color, yellow, frag))
		}
	}
	if len(problems) > 0 {
		fmt.Fprintf(w, "%d problem(s)\n", len(problems))
	}
}
