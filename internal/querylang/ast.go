// Package querylang parses SpeakQuery text into an immutable AST and
// evaluates that AST against dataset rows.
//
// It owns the lexical and syntactic layer (Tokenize, Parse, ParseExpr,
// ParseSearch), the typed Value model with its coercion rules, FilterBlock
// extraction for the pre-pipe search, and the expression interpreter used by
// eval, where, case and if.
//
// This package MUST NOT:
//   - Touch the filesystem or resolve index paths
//   - Execute directives
//   - Hold per-query mutable state
package querylang

import (
	"strings"
)

// Node is the interface for all AST nodes.
// The marker method prevents external types from implementing Node.
// Nodes are immutable after construction and may be shared.
type Node interface {
	node()
	// String returns a canonical representation that parses back to an
	// equal tree.
	String() string
}

// Literal is a constant operand.
type Literal struct {
	Val Value
}

func (*Literal) node() {}

func (l *Literal) String() string {
	if l.Val.Kind == KindText {
		return quoteString(l.Val.Str)
	}
	if l.Val.Kind == KindNull {
		return "null()"
	}
	return l.Val.AsText()
}

// FieldRef references a row field (or an eval variable of the same name).
type FieldRef struct {
	Name string
}

func (*FieldRef) node() {}

func (f *FieldRef) String() string {
	return f.Name
}

// BinaryOp identifies a binary operator.
type BinaryOp int

const (
	OpOr BinaryOp = iota
	OpAnd
	OpEq
	OpNeq
	OpLt
	OpGt
	OpLe
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

func (op BinaryOp) String() string {
	switch op {
	case OpOr:
		return "OR"
	case OpAnd:
		return "AND"
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpGe:
		return ">="
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	default:
		return "?"
	}
}

// IsComparison reports whether op is one of = != < > <= >=.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// BinaryExpr applies Op to Left and Right.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (*BinaryExpr) node() {}

func (b *BinaryExpr) String() string {
	return "(" + b.Left.String() + " " + b.Op.String() + " " + b.Right.String() + ")"
}

// UnaryOp identifies a prefix operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	OpPos
)

// UnaryExpr applies a prefix operator.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Node
}

func (*UnaryExpr) node() {}

func (u *UnaryExpr) String() string {
	switch u.Op {
	case OpNeg:
		return "-" + u.Operand.String()
	case OpPos:
		return "+" + u.Operand.String()
	default:
		return "NOT " + u.Operand.String()
	}
}

// CallExpr is a function call. Name is lowercased.
type CallExpr struct {
	Name string
	Args []Node
}

func (*CallExpr) node() {}

func (c *CallExpr) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

// InExpr is true when Field equals one of Values.
type InExpr struct {
	Field  Node
	Values []Node
}

func (*InExpr) node() {}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = v.String()
	}
	return e.Field.String() + " IN (" + strings.Join(parts, ", ") + ")"
}

// ExistsExpr is true when Field is present and non-null.
// It is produced by a bare field in search mode and by EXISTS field.
type ExistsExpr struct {
	Field string
}

func (*ExistsExpr) node() {}

func (e *ExistsExpr) String() string {
	return "EXISTS " + e.Field
}

// and joins two optional nodes with AND.
func and(left, right Node) Node {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	return &BinaryExpr{Op: OpAnd, Left: left, Right: right}
}

// Conjuncts flattens a tree of ANDs into its operands.
func Conjuncts(n Node) []Node {
	if b, ok := n.(*BinaryExpr); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Node{n}
}

// Disjuncts flattens a tree of ORs into its operands.
func Disjuncts(n Node) []Node {
	if b, ok := n.(*BinaryExpr); ok && b.Op == OpOr {
		return append(Disjuncts(b.Left), Disjuncts(b.Right)...)
	}
	return []Node{n}
}

// Walk calls fn for n and every descendant in depth-first order.
// Returning false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *BinaryExpr:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *UnaryExpr:
		Walk(t.Operand, fn)
	case *CallExpr:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	case *InExpr:
		Walk(t.Field, fn)
		for _, v := range t.Values {
			Walk(v, fn)
		}
	}
}

// Fields returns the distinct field names referenced by n, in first-seen order.
func Fields(n Node) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	Walk(n, func(x Node) bool {
		switch t := x.(type) {
		case *FieldRef:
			add(t.Name)
		case *ExistsExpr:
			add(t.Field)
		}
		return true
	})
	return out
}
