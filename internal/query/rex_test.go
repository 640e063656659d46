package query

import "testing"

func TestParseSed(t *testing.T) {
	tests := []struct {
		expr string
		in   string
		want string
		ok   bool
	}{
		{`s/a/b/`, "aaa", "baa", true},
		{`s/a/b/g`, "aaa", "bbb", true},
		{`s/A/b/gi`, "aAa", "bbb", true},
		{`s/(\w+)@(\w+)/\2 at \1/`, "joe@host", "host at joe", true},
		{`s/\//-/g`, "a/b/c", "a-b-c", true},
		{`s/a/b`, "", "", false},
		{`s/a/b/x`, "", "", false},
		{`y/a/b/`, "", "", false},
		{`s/(/b/`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sed, ok := parseSed(tt.expr)
			if ok != tt.ok {
				t.Fatalf("parseSed(%q) ok = %v, want %v", tt.expr, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got := sed.apply(tt.in); got != tt.want {
				t.Errorf("apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
