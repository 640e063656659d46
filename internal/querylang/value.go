package querylang

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindNumber:
		return "Number"
	case KindText:
		return "String"
	case KindBool:
		return "Boolean"
	case KindList:
		return "List"
	default:
		return "Invalid"
	}
}

// Value is a single dataset cell or expression result.
// The zero Value is Null.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
	List []Value
}

// NullValue returns the Null value.
func NullValue() Value { return Value{} }

// NumValue creates a numeric Value.
func NumValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// StrValue creates a text Value.
func StrValue(s string) Value { return Value{Kind: KindText, Str: s} }

// BoolValue creates a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue creates a multivalue. Nested lists are flattened.
func ListValue(vs []Value) Value {
	flat := make([]Value, 0, len(vs))
	for _, v := range vs {
		if v.Kind == KindList {
			flat = append(flat, v.List...)
			continue
		}
		flat = append(flat, v)
	}
	return Value{Kind: KindList, List: flat}
}

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsEmpty reports whether v is Null or empty text.
func (v Value) IsEmpty() bool {
	return v.Kind == KindNull || (v.Kind == KindText && v.Str == "")
}

// AsNumber interprets v as a number. Text is parsed after trimming spaces,
// booleans map to 1 and 0, and a single-element list uses its element.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindText:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindList:
		if len(v.List) == 1 {
			return v.List[0].AsNumber()
		}
	}
	return 0, false
}

// AsText renders v as text. Null renders as the empty string, integral
// numbers without a fractional part, lists space-separated.
func (v Value) AsText() string {
	switch v.Kind {
	case KindNumber:
		return FormatNumber(v.Num)
	case KindText:
		return v.Str
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.AsText()
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// Truthy reports the boolean interpretation of v.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0 && !math.IsNaN(v.Num)
	case KindText:
		switch strings.ToLower(v.Str) {
		case "", "false", "0":
			return false
		}
		return true
	case KindList:
		return len(v.List) > 0
	default:
		return false
	}
}

// Values returns the elements of a list, or v itself as a one-element slice.
// Null yields an empty slice.
func (v Value) Values() []Value {
	switch v.Kind {
	case KindList:
		return v.List
	case KindNull:
		return nil
	default:
		return []Value{v}
	}
}

func (v Value) String() string {
	if v.Kind == KindText {
		return strconv.Quote(v.Str)
	}
	if v.Kind == KindNull {
		return "null"
	}
	if v.Kind == KindList {
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.AsText()
}

// Any converts v to a plain Go value suitable for serialization.
// Integral numbers become int64.
func (v Value) Any() any {
	switch v.Kind {
	case KindNumber:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1<<53 {
			return int64(v.Num)
		}
		return v.Num
	case KindText:
		return v.Str
	case KindBool:
		return v.Bool
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// FormatNumber renders a float without exponent and without trailing zeros.
func FormatNumber(n float64) string {
	if math.IsNaN(n) {
		return "NaN"
	}
	if math.IsInf(n, 0) {
		if n > 0 {
			return "Inf"
		}
		return "-Inf"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// FromAny converts a decoded cell (from a table file, JSON document, lookup
// database) into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StrValue(t)
	case []byte:
		return StrValue(string(t))
	case bool:
		return BoolValue(t)
	case float64:
		if math.IsNaN(t) {
			return NullValue()
		}
		return NumValue(t)
	case float32:
		return NumValue(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return NumValue(cast.ToFloat64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NumValue(f)
		}
		return StrValue(t.String())
	case time.Time:
		return NumValue(float64(t.Unix()))
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return ListValue(vs)
	case []string:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = StrValue(e)
		}
		return ListValue(vs)
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return StrValue(fmt.Sprint(t))
		}
		return StrValue(string(b))
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return StrValue(fmt.Sprint(t))
		}
		return StrValue(s)
	}
}

// Compare compares a and b. Both sides are compared numerically when both
// parse as numbers, otherwise as text. ok is false when either side is Null.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	if af, aok := a.AsNumber(); aok {
		if bf, bok := b.AsNumber(); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(a.AsText(), b.AsText()), true
}

// Equal reports whether a and b compare equal. Null equals nothing.
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Order is a total order for sorting: Null sorts after every other value,
// otherwise Compare applies.
func Order(a, b Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1
	case b.IsNull():
		return -1
	}
	c, _ := Compare(a, b)
	return c
}

// SortValues sorts vs in place using Order.
func SortValues(vs []Value) {
	slices.SortStableFunc(vs, Order)
}
