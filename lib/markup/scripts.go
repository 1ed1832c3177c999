package markup

import (
	"maps"
	"regexp"
	"slices"
)

// assignment matches data.<name> followed by any JavaScript assignment
// operator, but not by a comparison such as == or <=.
var assignment = regexp.MustCompile(`data\.([A-Za-z_][A-Za-z0-9_]*)\s*(?:\*\*|>>>|>>|<<|&&|\|\||\?\?|[-+*/\\%&^|])?=(?:[^=]|$)`)

// LinkedProperties returns the properties that view scripts assign to, in
// sorted order. Such properties change in the view even when no template
// attribute binds them, so the synchronizer must accept them.
func LinkedProperties(scripts map[string]string) []string {
	seen := map[string]bool{}
	for _, src := range scripts {
		for _, m := range assignment.FindAllStringSubmatch(src, -1) {
			seen[m[1]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

var reference = regexp.MustCompile(`data\.([A-Za-z_][A-Za-z0-9_]*)`)

// ReferencedProperties returns every property view scripts read or write
// through data.<name>, in sorted order.
func ReferencedProperties(scripts map[string]string) []string {
	seen := map[string]bool{}
	for _, src := range scripts {
		for _, m := range reference.FindAllStringSubmatch(src, -1) {
			seen[m[1]] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
