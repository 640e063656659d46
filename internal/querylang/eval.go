package querylang

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrNoMatchingCase is returned by case() when no condition holds and no
// default was given.
var ErrNoMatchingCase = errors.New("case: no condition matched and no default given")

// ErrUnknownFunction is returned when a call names an unregistered function.
var ErrUnknownFunction = errors.New("unknown function")

// Row is one dataset row. A missing key reads as Null.
type Row map[string]Value

// Vars holds eval variables bound earlier in the same query. A row column
// of the same name takes precedence.
type Vars map[string]Value

// ScalarFunc is a scalar function that operates on evaluated arguments.
type ScalarFunc func(args []Value) (Value, error)

// Evaluator evaluates expressions against a row of field values.
// It is safe for concurrent use once construction and RegisterFunc calls
// are done.
type Evaluator struct {
	funcs map[string]ScalarFunc
	now   func() time.Time
}

// NewEvaluator creates an Evaluator with the built-in scalar functions.
func NewEvaluator() *Evaluator {
	e := &Evaluator{
		funcs: make(map[string]ScalarFunc),
		now:   time.Now,
	}
	e.registerBuiltins()
	return e
}

// RegisterFunc adds a scalar function. Overwrites any existing function with the same name.
func (e *Evaluator) RegisterFunc(name string, fn ScalarFunc) {
	e.funcs[strings.ToLower(name)] = fn
}

// HasFunc reports whether name resolves to a function.
func (e *Evaluator) HasFunc(name string) bool {
	name = strings.ToLower(name)
	if _, ok := e.funcs[name]; ok {
		return true
	}
	_, ok := lazyFuncs[name]
	return ok
}

// SetClock replaces the clock used by now().
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Eval evaluates an expression against a row.
func (e *Evaluator) Eval(n Node, row Row) (Value, error) {
	return e.EvalVars(n, row, nil)
}

// EvalVars evaluates an expression against a row, resolving names missing
// from the row through vars.
func (e *Evaluator) EvalVars(n Node, row Row, vars Vars) (Value, error) {
	switch ex := n.(type) {
	case *Literal:
		return ex.Val, nil

	case *FieldRef:
		if v, ok := row[ex.Name]; ok {
			return v, nil
		}
		if v, ok := vars[ex.Name]; ok {
			return v, nil
		}
		return NullValue(), nil

	case *ExistsExpr:
		v, ok := row[ex.Field]
		return BoolValue(ok && !v.IsNull()), nil

	case *InExpr:
		v, err := e.EvalVars(ex.Field, row, vars)
		if err != nil {
			return Value{}, err
		}
		for _, cand := range ex.Values {
			c, err := e.EvalVars(cand, row, vars)
			if err != nil {
				return Value{}, err
			}
			if inMatch(v, c) {
				return BoolValue(true), nil
			}
		}
		return BoolValue(false), nil

	case *UnaryExpr:
		return e.evalUnary(ex, row, vars)

	case *BinaryExpr:
		return e.evalBinary(ex, row, vars)

	case *CallExpr:
		return e.evalCall(ex, row, vars)

	default:
		return Value{}, fmt.Errorf("unsupported expression type: %T", n)
	}
}

// inMatch compares trimmed text, element-wise for lists.
func inMatch(v, cand Value) bool {
	if v.IsNull() {
		return false
	}
	want := strings.TrimSpace(cand.AsText())
	for _, e := range v.Values() {
		if strings.TrimSpace(e.AsText()) == want {
			return true
		}
	}
	return false
}

func (e *Evaluator) evalUnary(u *UnaryExpr, row Row, vars Vars) (Value, error) {
	v, err := e.EvalVars(u.Operand, row, vars)
	if err != nil {
		return Value{}, err
	}
	switch u.Op {
	case OpNot:
		return BoolValue(!v.Truthy()), nil
	case OpNeg, OpPos:
		if v.IsNull() {
			return NullValue(), nil
		}
		f, ok := v.AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("unary sign requires a numeric operand: %s", v)
		}
		if u.Op == OpNeg {
			f = -f
		}
		return NumValue(f), nil
	}
	return Value{}, fmt.Errorf("unknown unary operator: %v", u.Op)
}

func (e *Evaluator) evalBinary(b *BinaryExpr, row Row, vars Vars) (Value, error) {
	left, err := e.EvalVars(b.Left, row, vars)
	if err != nil {
		return Value{}, err
	}
	right, err := e.EvalVars(b.Right, row, vars)
	if err != nil {
		return Value{}, err
	}

	switch b.Op {
	case OpAnd:
		return BoolValue(left.Truthy() && right.Truthy()), nil
	case OpOr:
		return BoolValue(left.Truthy() || right.Truthy()), nil
	}

	if b.Op.IsComparison() {
		return BoolValue(compareOp(b.Op, left, right)), nil
	}

	if left.IsNull() || right.IsNull() {
		return NullValue(), nil
	}
	lf, lok := left.AsNumber()
	rf, rok := right.AsNumber()
	if !lok || !rok {
		if b.Op == OpAdd {
			return StrValue(left.AsText() + right.AsText()), nil
		}
		return Value{}, fmt.Errorf("arithmetic requires numeric operands: %s %s %s", left, b.Op, right)
	}

	switch b.Op {
	case OpAdd:
		return NumValue(lf + rf), nil
	case OpSub:
		return NumValue(lf - rf), nil
	case OpMul:
		return NumValue(lf * rf), nil
	case OpDiv:
		if rf == 0 {
			return NullValue(), nil
		}
		return NumValue(lf / rf), nil
	case OpMod:
		if rf == 0 {
			return NullValue(), nil
		}
		return NumValue(math.Mod(lf, rf)), nil
	}
	return Value{}, fmt.Errorf("unknown arithmetic operator: %v", b.Op)
}

// compareOp applies a comparison operator. Null on either side is false.
func compareOp(op BinaryOp, left, right Value) bool {
	c, ok := Compare(left, right)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpLt:
		return c < 0
	case OpGt:
		return c > 0
	case OpLe:
		return c <= 0
	case OpGe:
		return c >= 0
	}
	return false
}

// lazyFunc receives unevaluated arguments.
type lazyFunc func(e *Evaluator, args []Node, row Row, vars Vars) (Value, error)

var lazyFuncs map[string]lazyFunc

func init() {
	lazyFuncs = map[string]lazyFunc{
		"if":   evalIf,
		"case": evalCase,
		"now": func(e *Evaluator, args []Node, _ Row, _ Vars) (Value, error) {
			if len(args) != 0 {
				return Value{}, fmt.Errorf("now takes no arguments, got %d", len(args))
			}
			return NumValue(float64(e.now().Unix())), nil
		},
	}
}

func (e *Evaluator) evalCall(fc *CallExpr, row Row, vars Vars) (Value, error) {
	if lf, ok := lazyFuncs[fc.Name]; ok {
		return lf(e, fc.Args, row, vars)
	}
	fn, ok := e.funcs[fc.Name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownFunction, fc.Name)
	}

	args := make([]Value, len(fc.Args))
	for i, argExpr := range fc.Args {
		val, err := e.EvalVars(argExpr, row, vars)
		if err != nil {
			return Value{}, fmt.Errorf("evaluating argument %d of %s: %w", i+1, fc.Name, err)
		}
		args[i] = val
	}

	return fn(args)
}

// evalIf implements if(cond, then, else); only the chosen branch is evaluated.
func evalIf(e *Evaluator, args []Node, row Row, vars Vars) (Value, error) {
	if len(args) != 3 {
		return Value{}, fmt.Errorf("if requires exactly 3 arguments, got %d", len(args))
	}
	cond, err := e.EvalVars(args[0], row, vars)
	if err != nil {
		return Value{}, err
	}
	if cond.Truthy() {
		return e.EvalVars(args[1], row, vars)
	}
	return e.EvalVars(args[2], row, vars)
}

// evalCase implements case(c1, v1, c2, v2, ..., [default]) as an ordered
// first match. A trailing odd argument is the default.
func evalCase(e *Evaluator, args []Node, row Row, vars Vars) (Value, error) {
	if len(args) == 0 {
		return Value{}, errors.New("case requires at least one condition")
	}
	pairs := len(args) / 2
	for i := range pairs {
		cond, err := e.EvalVars(args[2*i], row, vars)
		if err != nil {
			return Value{}, err
		}
		if cond.Truthy() {
			return e.EvalVars(args[2*i+1], row, vars)
		}
	}
	if len(args)%2 == 1 {
		return e.EvalVars(args[len(args)-1], row, vars)
	}
	return Value{}, ErrNoMatchingCase
}
