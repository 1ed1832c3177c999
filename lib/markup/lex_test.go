package markup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLexSegments(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Segment
	}{
		{
			name: "plain text",
			src:  "hello",
			want: []Segment{{Kind: SegText, Text: "hello", Raw: "hello"}},
		},
		{
			name: "reference with spaces",
			src:  "width: ${ w }px",
			want: []Segment{
				{Kind: SegText, Text: "width: ", Raw: "width: "},
				{Kind: SegRef, Text: "w", Raw: "${ w }"},
				{Kind: SegText, Text: "px", Raw: "px"},
			},
		},
		{
			name: "subscript keeps nested braces",
			src:  "${children[{{ loop.index0 }}]}",
			want: []Segment{
				{Kind: SegRef, Text: "children[{{ loop.index0 }}]", Raw: "${children[{{ loop.index0 }}]}"},
			},
		},
		{
			name: "literal",
			src:  "{{option}}",
			want: []Segment{{Kind: SegExpr, Text: "option", Raw: "{{option}}"}},
		},
		{
			name: "statement with whitespace control",
			src:  "{%- for x in xs -%}",
			want: []Segment{
				{Kind: SegStmt, Text: "for x in xs", Raw: "{%- for x in xs -%}", TrimLeft: true, TrimRight: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lexSegments(tt.src)
			if err != nil {
				t.Fatalf("lexSegments(%q) error: %v", tt.src, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("lexSegments(%q) mismatch (-want +got):\n%s", tt.src, diff)
			}
		})
	}
}

func TestLexSegmentsErrors(t *testing.T) {
	for _, src := range []string{"${a", "{{ a", "{% for", "${}", "{{ }}"} {
		if _, err := lexSegments(src); err == nil {
			t.Errorf("lexSegments(%q) should fail", src)
		}
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in   string
		want Ref
	}{
		{"width", Ref{Name: "width"}},
		{"children[{{ loop.index0 }}]", Ref{Name: "children", Subscript: "loop.index0", HasSub: true}},
		{"items[ key ]", Ref{Name: "items", Subscript: "key", HasSub: true}},
	}
	for _, tt := range tests {
		got, err := parseRef(tt.in)
		if err != nil {
			t.Errorf("parseRef(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "1", "a b", "a[]", "a[0"} {
		if _, err := parseRef(bad); err == nil {
			t.Errorf("parseRef(%q) should fail", bad)
		}
	}
}
