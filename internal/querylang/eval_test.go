package querylang

import (
	"errors"
	"testing"
	"time"
)

func testRow() Row {
	return Row{
		"x":      NumValue(4),
		"y":      NumValue(1),
		"a":      StrValue("foo"),
		"b":      NumValue(2),
		"status": StrValue("b"),
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		expr string
		want string
		kind Kind
	}{
		// Arithmetic and precedence.
		{`round(1+2/ (1+2) - 14/2, 0)`, "-5", KindNumber},
		{`1 + 2 * 3`, "7", KindNumber},
		{`(1 + 2) * 3`, "9", KindNumber},
		{`10 % 3`, "1", KindNumber},
		{`-x + 1`, "-3", KindNumber},
		{`x / 0`, "", KindNull},
		{`missing + 1`, "", KindNull},
		{`"a" + "b"`, "ab", KindText},
		{`a + 1`, "foo1", KindText},

		// Comparisons and logic.
		{`x > 3 AND y < 2`, "true", KindBool},
		{`x == 4`, "true", KindBool},
		{`missing > 1`, "false", KindBool},
		{`NOT x == 4`, "false", KindBool},
		{`status IN ("a", "b")`, "true", KindBool},

		// Conditionals.
		{`if(x > 3, "big", "small")`, "big", KindText},
		{`case(x == 1, "one", x == 4, "four")`, "four", KindText},
		{`case(x == 1, "one", "other")`, "other", KindText},

		// Coercion and nulls.
		{`coalesce(missing, "", "z")`, "z", KindText},
		{`isnull(nope)`, "true", KindBool},
		{`typeof(1)`, "Number", KindText},
		{`typeof("x")`, "String", KindText},
		{`tonumber("ff", 16)`, "255", KindNumber},
		{`tonumber("abc")`, "", KindNull},
		{`tostring(1234567, "commas")`, "1,234,567", KindText},

		// Math.
		{`abs(-3)`, "3", KindNumber},
		{`floor(2.7)`, "2", KindNumber},
		{`ceil(2.1)`, "3", KindNumber},
		{`pow(2, 10)`, "1024", KindNumber},
		{`round(2.5)`, "2", KindNumber},
		{`round(3.5)`, "4", KindNumber},
		{`round(-2.5)`, "-2", KindNumber},
		{`round(1.25, 1)`, "1.2", KindNumber},
		{`min(3, 1, 2)`, "1", KindNumber},
		{`max(3, "7", 2)`, "7", KindNumber},
		{`median(1, 2, 3, 4)`, "2.5", KindNumber},
		{`dcount(1, 1, 2)`, "2", KindNumber},
		{`mode(1, 2, 2)`, "2", KindNumber},
		{`mode(3, 3, 1, 1)`, "1", KindNumber},

		// Strings.
		{`concat(a, "-", b)`, "foo-2", KindText},
		{`upper(a)`, "FOO", KindText},
		{`capitalize("hELLO")`, "Hello", KindText},
		{`substr("hello", 2, 3)`, "ell", KindText},
		{`substr("hello", -3)`, "llo", KindText},
		{`len("héllo")`, "5", KindNumber},
		{`replace("a.b.c", ".", "-")`, "a-b-c", KindText},
		{`trim("  x ")`, "x", KindText},
		{`ltrim("xxabc", "x")`, "xabc", KindText},
		{`rtrim("abc.com", ".com")`, "abc", KindText},
		{`match("abc123", "\d+")`, "true", KindBool},
		{`not_match("abc", "\d+")`, "true", KindBool},
		{`urlencode("a b&c")`, "a%20b%26c", KindText},
		{`urldecode("a%20b")`, "a b", KindText},
		{`defang("http://1.2.3.4")`, "http[:]//1[.]2[.]3[.]4", KindText},
		{`fang("1[.]2")`, "1.2", KindText},

		// Multivalue.
		{`mvcount(split("a,b,c", ","))`, "3", KindNumber},
		{`mvindex(split("a,b,c", ","), -1)`, "c", KindText},
		{`mvindex(split("a,b,c", ","), 0, 1)`, "a b", KindList},
		{`mvjoin(split("a,b", ","), "|")`, "a|b", KindText},
		{`mvjoin(mvdedup(split("b,a,b", ",")), ",")`, "b,a", KindText},
		{`mvjoin(mvsort(split("3,10,2", ",")), ",")`, "2,3,10", KindText},
		{`mvcount(mvappend(x, split("a,b", ",")))`, "3", KindNumber},
		{`mvjoin(upper(split("a,b", ",")), ",")`, "A,B", KindText},

		// Time.
		{`strftime(0, "%Y-%m-%d")`, "1970-01-01", KindText},
		{`strftime(86400, "%s")`, "86400", KindText},
		{`strptime("2024-01-02", "%Y-%m-%d")`, "1704153600", KindNumber},
	}

	e := NewEvaluator()
	row := testRow()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			n, err := ParseExprString(tt.expr)
			if err != nil {
				t.Fatalf("ParseExprString(%q) error: %v", tt.expr, err)
			}
			got, err := e.Eval(n, row)
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", tt.expr, err)
			}
			if got.Kind != tt.kind {
				t.Errorf("kind = %s, want %s (value %v)", got.Kind, tt.kind, got)
			}
			if got.AsText() != tt.want {
				t.Errorf("Eval(%q) = %q, want %q", tt.expr, got.AsText(), tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr error
	}{
		{`case(x == 1, "one", x == 2, "two")`, ErrNoMatchingCase},
		{`upper(case(x == 1, "one"))`, ErrNoMatchingCase},
		{`frobnicate(x)`, ErrUnknownFunction},
	}
	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			n, err := ParseExprString(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			_, err = e.Eval(n, testRow())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvalTypeErrors(t *testing.T) {
	for _, expr := range []string{`a * 2`, `abs("x")`, `round(1, 2, 3)`, `if(x, 1)`} {
		t.Run(expr, func(t *testing.T) {
			n, err := ParseExprString(expr)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := NewEvaluator().Eval(n, testRow()); err == nil {
				t.Errorf("Eval(%q) expected error", expr)
			}
		})
	}
}

func TestEvalIfIsLazy(t *testing.T) {
	n, err := ParseExprString(`if(x > 1, "ok", frobnicate())`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewEvaluator().Eval(n, testRow())
	if err != nil {
		t.Fatalf("untaken branch was evaluated: %v", err)
	}
	if got.AsText() != "ok" {
		t.Errorf("got %v", got)
	}
}

func TestEvalVars(t *testing.T) {
	n, err := ParseExprString(`threshold * 2 + x`)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEvaluator()
	got, err := e.EvalVars(n, testRow(), Vars{"threshold": NumValue(10), "x": NumValue(100)})
	if err != nil {
		t.Fatal(err)
	}
	// The row's x wins over the variable of the same name.
	if got.AsText() != "24" {
		t.Errorf("got %v, want 24", got)
	}
}

func TestEvalNow(t *testing.T) {
	e := NewEvaluator()
	fixed := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return fixed })
	n, err := ParseExprString(`now()`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Eval(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.AsText() != "1704153600" {
		t.Errorf("now() = %v", got)
	}
}

func TestRegisterFunc(t *testing.T) {
	e := NewEvaluator()
	e.RegisterFunc("Double", func(args []Value) (Value, error) {
		f, _ := args[0].AsNumber()
		return NumValue(f * 2), nil
	})
	if !e.HasFunc("double") || !e.HasFunc("case") || e.HasFunc("frobnicate") {
		t.Fatal("HasFunc mismatch")
	}
	n, err := ParseExprString(`double(x)`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Eval(n, testRow())
	if err != nil {
		t.Fatal(err)
	}
	if got.AsText() != "8" {
		t.Errorf("double(x) = %v", got)
	}
}

func TestMvIndex(t *testing.T) {
	list := ListValue([]Value{StrValue("a"), StrValue("b"), StrValue("c"), StrValue("d")})
	tests := []struct {
		name string
		idx  []int
		want string
	}{
		{"first", []int{0}, "a"},
		{"last", []int{-1}, "d"},
		{"out of range", []int{9}, ""},
		{"slice inclusive", []int{1, 2}, "b c"},
		{"negative slice", []int{-2, -1}, "c d"},
		{"clamped", []int{2, 99}, "c d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MvIndex(list, tt.idx...).AsText(); got != tt.want {
				t.Errorf("MvIndex(%v) = %q, want %q", tt.idx, got, tt.want)
			}
		})
	}
}

func TestStrftimeLayout(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	tests := []struct {
		format string
		want   string
	}{
		{"%Y-%m-%d %H:%M:%S", "2024-03-05 14:07:09"},
		{"%d/%b/%Y", "05/Mar/2024"},
		{"%F %T", "2024-03-05 14:07:09"},
		{"%s", "1709647629"},
		{"%Y%m%d", "20240305"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := Strftime(ts, tt.format); got != tt.want {
				t.Errorf("Strftime(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}
}
