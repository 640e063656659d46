package querylang

import "testing"

func TestMatch(t *testing.T) {
	row := Row{
		"status":    StrValue("error"),
		"errorCode": NumValue(403),
		"x":         NumValue(4),
		"test":      NumValue(13),
		"code":      StrValue("99"),
		"host":      StrValue("WEB01"),
		"tags":      ListValue([]Value{StrValue("a"), StrValue("b")}),
		"empty":     NullValue(),
		"name":      StrValue("abc"),
	}
	tests := []struct {
		filter string
		want   bool
	}{
		{`status="error" errorCode IN (403,404)`, true},
		{`status="critical" errorCode IN (403,404)`, false},
		{`x=4 test IN (10,13)`, true},
		{`x=5 test IN (10,13)`, false},
		{`x=4.0`, true},
		{`code>=500`, false},
		{`code<100`, true},
		{`name<abd`, true},
		{`host=web*`, true},
		{`host=*01`, true},
		{`host!=web*`, false},
		{`host!=db*`, true},
		{`tags=b`, true},
		{`tags=c`, false},
		{`tags!=b`, false},
		{`tags!=c`, true},
		{`tags=a*`, true},
		{`missing=1`, false},
		{`missing!=1`, false},
		{`NOT missing=1`, true},
		{`host`, true},
		{`empty`, false},
		{`missing`, false},
		{`EXISTS host`, true},
		{`x=4 OR missing=1`, true},
		{`x=5 OR (status=error AND NOT tags=z)`, true},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			n := mustSearch(t, tt.filter)
			if got := Match(n, row); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", n, got, tt.want)
			}
		})
	}
}

func TestMatchNilFilter(t *testing.T) {
	if !Match(nil, Row{}) {
		t.Error("nil filter should match every row")
	}
}

func TestMatchEvalExpression(t *testing.T) {
	n, err := ParseExprString(`x * 2 > 7`)
	if err != nil {
		t.Fatal(err)
	}
	if !Match(n, Row{"x": NumValue(4)}) {
		t.Error("expected match")
	}
	if Match(n, Row{"x": StrValue("four")}) {
		t.Error("evaluation error should not match")
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"web*", "web01", true},
		{"web*", "WEB01", true},
		{"*.log", "app.log", true},
		{"*.log", "applog", false},
		{"a*c", "abbbc", true},
		{"a.c", "abc", false},
		{"(x)*", "(x)yz", true},
		{"*", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.s, func(t *testing.T) {
			if got := GlobMatch(tt.pattern, tt.s); got != tt.want {
				t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
			}
		})
	}
}
