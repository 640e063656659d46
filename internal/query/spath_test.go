package query

import (
	"testing"

	"github.com/ohler55/ojg/oj"
	"github.com/theory/jsonpath"
)

func TestToJSONPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a", `$["a"]`},
		{"a.b", `$["a"]["b"]`},
		{"a{}.c", `$["a"][*]["c"]`},
		{"a{1}", `$["a"][1]`},
		{"a{-1}", `$["a"][-1]`},
		{"$.a[0]", "$.a[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := toJSONPath(tt.in); got != tt.want {
				t.Errorf("toJSONPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSelectValue(t *testing.T) {
	doc, err := oj.ParseString(`{"a": [{"c": 1}, {"c": 2}], "b": "x"}`)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		path string
		want string
		list bool
	}{
		{"b", "x", false},
		{"a{}.c", "1 2", true},
		{"a{1}.c", "2", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			jp, err := jsonpath.Parse(toJSONPath(tt.path))
			if err != nil {
				t.Fatal(err)
			}
			v := selectValue(jp, doc)
			if got := joinCell(v, " ").AsText(); got != tt.want {
				t.Errorf("selectValue(%s) = %q, want %q", tt.path, got, tt.want)
			}
			if isList := len(v.List) > 0; isList != tt.list {
				t.Errorf("selectValue(%s) list = %v, want %v", tt.path, isList, tt.list)
			}
		})
	}
}
