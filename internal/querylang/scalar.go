package querylang

import (
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ScalarFuncNames is the canonical list of built-in scalar function names,
// excluding if, case and now which take unevaluated arguments.
var ScalarFuncNames = []string{
	// Type coercion and null handling.
	"tonumber", "tostring", "typeof", "isnull", "isnotnull", "null", "coalesce",
	// Math (1-arg).
	"abs", "ceil", "ceiling", "floor", "sqrt", "log", "ln", "log10", "log2", "exp",
	// Math (other arity).
	"pow", "round", "random",
	// Multi-argument statistics.
	"min", "max", "avg", "mean", "sum", "range", "median", "mode", "dcount",
	// String.
	"concat", "replace", "upper", "lower", "capitalize", "trim", "ltrim", "rtrim",
	"substr", "len", "match", "not_match", "nomatch", "urlencode", "urldecode",
	"defang", "refang", "fang", "split",
	// Multivalue.
	"mvcount", "mvjoin", "mvindex", "mvappend", "mvdedup", "mvsort",
	// Time.
	"strftime", "strptime",
}

// registerBuiltins adds the built-in scalar function implementations.
func (e *Evaluator) registerBuiltins() {
	// Type coercion and null handling.
	e.funcs["tonumber"] = builtinToNumber
	e.funcs["tostring"] = builtinToString
	e.funcs["typeof"] = builtinTypeof
	e.funcs["isnull"] = builtinIsNull
	e.funcs["isnotnull"] = builtinIsNotNull
	e.funcs["null"] = builtinNull
	e.funcs["coalesce"] = builtinCoalesce

	// Math (1-arg).
	e.funcs["abs"] = mathFunc1("abs", math.Abs)
	e.funcs["ceil"] = mathFunc1("ceil", math.Ceil)
	e.funcs["ceiling"] = mathFunc1("ceiling", math.Ceil)
	e.funcs["floor"] = mathFunc1("floor", math.Floor)
	e.funcs["sqrt"] = mathFunc1("sqrt", math.Sqrt)
	e.funcs["log"] = builtinLog
	e.funcs["ln"] = mathFunc1("ln", math.Log)
	e.funcs["log10"] = mathFunc1("log10", math.Log10)
	e.funcs["log2"] = mathFunc1("log2", math.Log2)
	e.funcs["exp"] = mathFunc1("exp", math.Exp)

	// Math (other arity).
	e.funcs["pow"] = mathFunc2("pow", math.Pow)
	e.funcs["round"] = builtinRound
	e.funcs["random"] = builtinRandom

	// Multi-argument statistics over all argument values.
	e.funcs["min"] = statFunc("min", Min)
	e.funcs["max"] = statFunc("max", Max)
	e.funcs["avg"] = statFunc("avg", Mean)
	e.funcs["mean"] = statFunc("mean", Mean)
	e.funcs["sum"] = statFunc("sum", Sum)
	e.funcs["range"] = statFunc("range", Range)
	e.funcs["median"] = statFunc("median", Median)
	e.funcs["mode"] = builtinMode
	e.funcs["dcount"] = builtinDcount

	// String.
	e.funcs["concat"] = builtinConcat
	e.funcs["replace"] = builtinReplace
	e.funcs["upper"] = textFunc("upper", strings.ToUpper)
	e.funcs["lower"] = textFunc("lower", strings.ToLower)
	e.funcs["capitalize"] = textFunc("capitalize", capitalize)
	e.funcs["trim"] = trimFunc("trim", true, true)
	e.funcs["ltrim"] = trimFunc("ltrim", true, false)
	e.funcs["rtrim"] = trimFunc("rtrim", false, true)
	e.funcs["substr"] = builtinSubstr
	e.funcs["len"] = builtinLen
	e.funcs["match"] = matchFunc("match", false)
	e.funcs["not_match"] = matchFunc("not_match", true)
	e.funcs["nomatch"] = matchFunc("nomatch", true)
	e.funcs["urlencode"] = textFunc("urlencode", urlEncode)
	e.funcs["urldecode"] = textFunc("urldecode", urlDecode)
	e.funcs["defang"] = textFunc("defang", Defang)
	e.funcs["refang"] = textFunc("refang", Refang)
	e.funcs["fang"] = textFunc("fang", Refang)
	e.funcs["split"] = builtinSplit

	// Multivalue.
	e.funcs["mvcount"] = builtinMvcount
	e.funcs["mvjoin"] = builtinMvjoin
	e.funcs["mvindex"] = builtinMvindex
	e.funcs["mvappend"] = builtinMvappend
	e.funcs["mvdedup"] = builtinMvdedup
	e.funcs["mvsort"] = builtinMvsort

	// Time.
	e.funcs["strftime"] = builtinStrftime
	e.funcs["strptime"] = builtinStrptime
}

// --- Type coercion ---

func builtinToNumber(args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return Value{}, fmt.Errorf("tonumber requires 1 or 2 arguments, got %d", len(args))
	}
	v := args[0]
	if v.IsNull() {
		return NullValue(), nil
	}
	if len(args) == 2 {
		base, ok := args[1].AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("tonumber: base must be numeric")
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v.AsText()), int(base), 64)
		if err != nil {
			return NullValue(), nil
		}
		return NumValue(float64(n)), nil
	}
	if f, ok := v.AsNumber(); ok {
		return NumValue(f), nil
	}
	return NullValue(), nil
}

func builtinToString(args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return Value{}, fmt.Errorf("tostring requires 1 or 2 arguments, got %d", len(args))
	}
	v := args[0]
	if v.IsNull() {
		return NullValue(), nil
	}
	if len(args) == 2 {
		f, ok := v.AsNumber()
		if !ok {
			return StrValue(v.AsText()), nil
		}
		switch strings.ToLower(args[1].AsText()) {
		case "hex":
			return StrValue("0x" + strconv.FormatInt(int64(f), 16)), nil
		case "commas":
			return StrValue(withCommas(f)), nil
		}
	}
	return StrValue(v.AsText()), nil
}

func withCommas(f float64) string {
	s := strconv.FormatFloat(math.Abs(math.Round(f*100)/100), 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	var sb strings.Builder
	if f < 0 {
		sb.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(c)
	}
	if frac != "" {
		sb.WriteByte('.')
		sb.WriteString(frac)
	}
	return sb.String()
}

func builtinTypeof(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("typeof requires exactly 1 argument, got %d", len(args))
	}
	return StrValue(args[0].Kind.String()), nil
}

func builtinIsNull(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("isnull requires exactly 1 argument, got %d", len(args))
	}
	return BoolValue(args[0].IsNull()), nil
}

func builtinIsNotNull(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("isnotnull requires exactly 1 argument, got %d", len(args))
	}
	return BoolValue(!args[0].IsNull()), nil
}

func builtinNull(args []Value) (Value, error) {
	if len(args) != 0 {
		return Value{}, fmt.Errorf("null takes no arguments, got %d", len(args))
	}
	return NullValue(), nil
}

// builtinCoalesce returns the first argument that is neither null nor empty.
func builtinCoalesce(args []Value) (Value, error) {
	if len(args) == 0 {
		return Value{}, fmt.Errorf("coalesce requires at least 1 argument")
	}
	for _, a := range args {
		if !a.IsEmpty() {
			return a, nil
		}
	}
	return NullValue(), nil
}

// --- Math ---

// mathFunc1 creates a single-argument math function.
func mathFunc1(name string, fn func(float64) float64) ScalarFunc {
	return func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, fmt.Errorf("%s requires exactly 1 argument, got %d", name, len(args))
		}
		if args[0].IsNull() {
			return NullValue(), nil
		}
		f, ok := args[0].AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("%s requires a numeric argument, got %s", name, args[0])
		}
		return NumValue(fn(f)), nil
	}
}

// mathFunc2 creates a two-argument math function.
func mathFunc2(name string, fn func(float64, float64) float64) ScalarFunc {
	return func(args []Value) (Value, error) {
		if len(args) != 2 {
			return Value{}, fmt.Errorf("%s requires exactly 2 arguments, got %d", name, len(args))
		}
		if args[0].IsNull() || args[1].IsNull() {
			return NullValue(), nil
		}
		a, aok := args[0].AsNumber()
		b, bok := args[1].AsNumber()
		if !aok || !bok {
			return Value{}, fmt.Errorf("%s requires numeric arguments", name)
		}
		return NumValue(fn(a, b)), nil
	}
}

// builtinLog is log(x) (natural) or log(x, base).
func builtinLog(args []Value) (Value, error) {
	switch len(args) {
	case 1:
		return mathFunc1("log", math.Log)(args)
	case 2:
		return mathFunc2("log", func(x, base float64) float64 { return math.Log(x) / math.Log(base) })(args)
	}
	return Value{}, fmt.Errorf("log requires 1 or 2 arguments, got %d", len(args))
}

// builtinRound rounds half away from zero to an optional number of decimals.
func builtinRound(args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return Value{}, fmt.Errorf("round requires 1 or 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	x, ok := args[0].AsNumber()
	if !ok {
		return Value{}, fmt.Errorf("round requires a numeric argument, got %s", args[0])
	}
	decimals := 0.0
	if len(args) == 2 {
		d, ok := args[1].AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("round: decimals must be numeric")
		}
		decimals = math.Trunc(d)
	}
	return NumValue(RoundTo(x, int(decimals))), nil
}

// RoundTo rounds x half to even at d decimal places, so round(2.5) is 2.
func RoundTo(x float64, d int) float64 {
	p := math.Pow(10, float64(d))
	return math.RoundToEven(x*p) / p
}

// builtinRandom is random(), random(end), random(start, end) or
// random(start, end, step). The result is an integer drawn uniformly from
// start, start+step, ... <= end.
func builtinRandom(args []Value) (Value, error) {
	if len(args) > 3 {
		return Value{}, fmt.Errorf("random takes at most 3 arguments, got %d", len(args))
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		f, ok := a.AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("random requires numeric arguments")
		}
		nums[i] = f
	}
	return NumValue(RandomIn(nums...)), nil
}

// RandomIn draws a random integer. With no bounds it spans [0, 2^31-1].
func RandomIn(bounds ...float64) float64 {
	start, end, step := 0.0, float64(math.MaxInt32), 1.0
	switch len(bounds) {
	case 1:
		end = bounds[0]
	case 2:
		start, end = bounds[0], bounds[1]
	case 3:
		start, end, step = bounds[0], bounds[1], bounds[2]
	}
	if step <= 0 || end < start {
		return start
	}
	n := int64((end-start)/step) + 1
	return start + float64(rand.Int64N(n))*step
}

// statFunc creates a function over the numeric values of all arguments,
// list elements included.
func statFunc(name string, fn func([]float64) float64) ScalarFunc {
	return func(args []Value) (Value, error) {
		if len(args) == 0 {
			return Value{}, fmt.Errorf("%s requires at least 1 argument", name)
		}
		nums := Numbers(args)
		if len(nums) == 0 {
			return NullValue(), nil
		}
		return NumValue(fn(nums)), nil
	}
}

func builtinMode(args []Value) (Value, error) {
	if len(args) == 0 {
		return Value{}, fmt.Errorf("mode requires at least 1 argument")
	}
	return Mode(flatten(args)), nil
}

func builtinDcount(args []Value) (Value, error) {
	return NumValue(float64(DistinctCount(flatten(args)))), nil
}

// --- String ---

// textFunc creates a single-argument string function applied element-wise
// to multivalues.
func textFunc(name string, fn func(string) string) ScalarFunc {
	return func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, fmt.Errorf("%s requires exactly 1 argument, got %d", name, len(args))
		}
		return mapText(args[0], fn), nil
	}
}

// mapText applies fn to v's text, element-wise for lists. Null stays Null.
func mapText(v Value, fn func(string) string) Value {
	switch v.Kind {
	case KindNull:
		return v
	case KindList:
		out := make([]Value, len(v.List))
		for i, e := range v.List {
			out[i] = mapText(e, fn)
		}
		return Value{Kind: KindList, List: out}
	default:
		return StrValue(fn(v.AsText()))
	}
}

func builtinConcat(args []Value) (Value, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(a.AsText())
	}
	return StrValue(sb.String()), nil
}

// builtinReplace is replace(s, old, new) with literal matching.
func builtinReplace(args []Value) (Value, error) {
	if len(args) != 3 {
		return Value{}, fmt.Errorf("replace requires exactly 3 arguments, got %d", len(args))
	}
	oldS, newS := args[1].AsText(), args[2].AsText()
	return mapText(args[0], func(s string) string { return strings.ReplaceAll(s, oldS, newS) }), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// trimFunc trims whitespace, or with a second argument strips that literal
// prefix and/or suffix once.
func trimFunc(name string, left, right bool) ScalarFunc {
	return func(args []Value) (Value, error) {
		switch len(args) {
		case 1:
			return mapText(args[0], func(s string) string {
				switch {
				case left && right:
					return strings.TrimSpace(s)
				case left:
					return strings.TrimLeft(s, " \t\r\n")
				default:
					return strings.TrimRight(s, " \t\r\n")
				}
			}), nil
		case 2:
			chars := args[1].AsText()
			return mapText(args[0], func(s string) string {
				if left {
					s = strings.TrimPrefix(s, chars)
				}
				if right {
					s = strings.TrimSuffix(s, chars)
				}
				return s
			}), nil
		}
		return Value{}, fmt.Errorf("%s requires 1 or 2 arguments, got %d", name, len(args))
	}
}

// builtinSubstr is substr(s, start[, length]) with a 1-based start.
// A negative start counts from the end.
func builtinSubstr(args []Value) (Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return Value{}, fmt.Errorf("substr requires 2 or 3 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	runes := []rune(args[0].AsText())
	sf, ok := args[1].AsNumber()
	if !ok {
		return Value{}, fmt.Errorf("substr: start must be numeric")
	}
	start := int(sf)
	switch {
	case start > 0:
		start--
	case start < 0:
		start = len(runes) + start
	}
	start = max(0, min(start, len(runes)))
	end := len(runes)
	if len(args) == 3 {
		lf, ok := args[2].AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("substr: length must be numeric")
		}
		if lf < 0 {
			lf = 0
		}
		end = min(start+int(lf), len(runes))
	}
	return StrValue(string(runes[start:end])), nil
}

func builtinLen(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("len requires exactly 1 argument, got %d", len(args))
	}
	v := args[0]
	switch v.Kind {
	case KindNull:
		return NullValue(), nil
	case KindList:
		out := make([]Value, len(v.List))
		for i, e := range v.List {
			out[i] = NumValue(float64(len([]rune(e.AsText()))))
		}
		return Value{Kind: KindList, List: out}, nil
	}
	return NumValue(float64(len([]rune(v.AsText())))), nil
}

var regexCache sync.Map // pattern -> *regexp.Regexp

// CompileRegex compiles and caches a regular expression.
func CompileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

func matchFunc(name string, negate bool) ScalarFunc {
	return func(args []Value) (Value, error) {
		if len(args) != 2 {
			return Value{}, fmt.Errorf("%s requires exactly 2 arguments, got %d", name, len(args))
		}
		re, err := CompileRegex(args[1].AsText())
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", name, err)
		}
		if args[0].IsNull() {
			return BoolValue(negate), nil
		}
		matched := false
		for _, v := range args[0].Values() {
			if re.MatchString(v.AsText()) {
				matched = true
				break
			}
		}
		return BoolValue(matched != negate), nil
	}
}

func urlEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func urlDecode(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return out
}

// Defang neutralizes URLs and addresses: "." becomes "[.]" and ":" "[:]".
func Defang(s string) string {
	return strings.NewReplacer(".", "[.]", ":", "[:]").Replace(s)
}

// Refang reverses Defang.
func Refang(s string) string {
	return strings.NewReplacer("[.]", ".", "[:]", ":").Replace(s)
}

func builtinSplit(args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, fmt.Errorf("split requires exactly 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	parts := strings.Split(args[0].AsText(), args[1].AsText())
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = StrValue(p)
	}
	return Value{Kind: KindList, List: out}, nil
}

// --- Multivalue ---

func builtinMvcount(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("mvcount requires exactly 1 argument, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	return NumValue(float64(len(args[0].Values()))), nil
}

func builtinMvjoin(args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, fmt.Errorf("mvjoin requires exactly 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	return StrValue(JoinValues(args[0].Values(), args[1].AsText())), nil
}

// JoinValues joins the text of vs with sep.
func JoinValues(vs []Value, sep string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.AsText()
	}
	return strings.Join(parts, sep)
}

// builtinMvindex is mvindex(mv, start[, end]): 0-based, negative indexes
// count from the end, end inclusive.
func builtinMvindex(args []Value) (Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return Value{}, fmt.Errorf("mvindex requires 2 or 3 arguments, got %d", len(args))
	}
	idx := make([]int, 0, 2)
	for _, a := range args[1:] {
		f, ok := a.AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("mvindex: index must be numeric")
		}
		idx = append(idx, int(f))
	}
	return MvIndex(args[0], idx...), nil
}

// MvIndex picks one element (one index) or an inclusive slice (two indexes).
// Out-of-range picks yield Null.
func MvIndex(v Value, idx ...int) Value {
	vals := v.Values()
	n := len(vals)
	norm := func(i int) int {
		if i < 0 {
			return n + i
		}
		return i
	}
	start := norm(idx[0])
	if len(idx) == 1 {
		if start < 0 || start >= n {
			return NullValue()
		}
		return vals[start]
	}
	end := norm(idx[1])
	start = max(start, 0)
	end = min(end, n-1)
	if start > end {
		return NullValue()
	}
	if start == end {
		return vals[start]
	}
	return Value{Kind: KindList, List: append([]Value(nil), vals[start:end+1]...)}
}

func builtinMvappend(args []Value) (Value, error) {
	var out []Value
	for _, a := range args {
		out = append(out, a.Values()...)
	}
	return Value{Kind: KindList, List: out}, nil
}

func builtinMvdedup(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("mvdedup requires exactly 1 argument, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	return Value{Kind: KindList, List: Dedup(args[0].Values())}, nil
}

func builtinMvsort(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("mvsort requires exactly 1 argument, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	vals := append([]Value(nil), args[0].Values()...)
	SortValues(vals)
	return Value{Kind: KindList, List: vals}, nil
}

// --- Time ---

func builtinStrftime(args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, fmt.Errorf("strftime requires exactly 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	sec, ok := args[0].AsNumber()
	if !ok {
		return Value{}, fmt.Errorf("strftime: time must be numeric epoch seconds")
	}
	whole, frac := math.Modf(sec)
	t := time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return StrValue(Strftime(t, args[1].AsText())), nil
}

func builtinStrptime(args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, fmt.Errorf("strptime requires exactly 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return NullValue(), nil
	}
	t, err := time.ParseInLocation(StrftimeLayout(args[1].AsText()), args[0].AsText(), time.UTC)
	if err != nil {
		return NullValue(), nil
	}
	return NumValue(float64(t.Unix())), nil
}

// strftimeDirectives maps strftime conversions to Go layout fragments.
var strftimeDirectives = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'e': "_2",
	'H': "15", 'I': "03", 'M': "04", 'S': "05", 'p': "PM",
	'b': "Jan", 'h': "Jan", 'B': "January", 'a': "Mon", 'A': "Monday",
	'Z': "MST", 'z': "-0700", 'f': "000000", 'j': "002",
	'F': "2006-01-02", 'T': "15:04:05", '%': "%",
}

// StrftimeLayout converts a strftime format to a Go time layout.
// %s (epoch seconds) has no layout equivalent and is handled by Strftime.
func StrftimeLayout(format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		if frag, ok := strftimeDirectives[format[i]]; ok {
			sb.WriteString(frag)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(format[i])
	}
	return sb.String()
}

// Strftime formats t with a strftime format.
func Strftime(t time.Time, format string) string {
	parts := strings.Split(format, "%s")
	for i, p := range parts {
		parts[i] = t.Format(StrftimeLayout(p))
	}
	return strings.Join(parts, strconv.FormatInt(t.Unix(), 10))
}
