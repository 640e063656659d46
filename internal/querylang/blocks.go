package querylang

import (
	"slices"
	"strings"
	"time"

	"speakquery/internal/timeparse"
)

// Reserved search fields that select data rather than filter rows.
const (
	FieldIndex    = "index"
	FieldEarliest = "earliest"
	FieldLatest   = "latest"
)

// FilterBlock is one independent (index paths, time window, row filter) unit
// of the pre-pipe search. Blocks are resolved separately and their rows
// unioned.
type FilterBlock struct {
	Paths    []string // index path patterns, ordered, no duplicates
	Earliest *int64   // inclusive lower _epoch bound
	Latest   *int64   // inclusive upper _epoch bound
	Filter   Node     // row predicate; nil keeps every row
}

func (b FilterBlock) String() string {
	var parts []string
	for _, p := range b.Paths {
		parts = append(parts, "index="+quoteString(p))
	}
	if b.Earliest != nil {
		parts = append(parts, "earliest="+FormatNumber(float64(*b.Earliest)))
	}
	if b.Latest != nil {
		parts = append(parts, "latest="+FormatNumber(float64(*b.Latest)))
	}
	if b.Filter != nil {
		parts = append(parts, b.Filter.String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// reservedPredicate returns the reserved field name and literal text when n
// is `index=...`, `earliest=...` or `latest=...`.
func reservedPredicate(n Node) (field, text string, ok bool) {
	b, isBin := n.(*BinaryExpr)
	if !isBin || b.Op != OpEq {
		return "", "", false
	}
	ref, isRef := b.Left.(*FieldRef)
	lit, isLit := b.Right.(*Literal)
	if !isRef || !isLit {
		return "", "", false
	}
	switch name := strings.ToLower(ref.Name); name {
	case FieldIndex, FieldEarliest, FieldLatest:
		return name, lit.Val.AsText(), true
	}
	return "", "", false
}

// hasReserved reports whether n contains an index or time predicate.
func hasReserved(n Node) bool {
	found := false
	Walk(n, func(x Node) bool {
		if _, _, ok := reservedPredicate(x); ok {
			found = true
		}
		return !found
	})
	return found
}

// HasIndex reports whether n contains at least one index="..." predicate.
func HasIndex(n Node) bool {
	found := false
	Walk(n, func(x Node) bool {
		if f, _, ok := reservedPredicate(x); ok && f == FieldIndex {
			found = true
		}
		return !found
	})
	return found
}

// ExtractBlocks splits a search expression into FilterBlocks.
//
// OR branches that carry index or time predicates become separate blocks;
// AND merges blocks pairwise (paths unioned, the tighter bound wins, filters
// conjoined). An OR with no reserved predicates stays a single filter.
// Relative dates resolve against now.
func ExtractBlocks(search Node, now time.Time) ([]FilterBlock, error) {
	return extract(search, now)
}

func extract(n Node, now time.Time) ([]FilterBlock, error) {
	if field, text, ok := reservedPredicate(n); ok {
		switch field {
		case FieldIndex:
			return []FilterBlock{{Paths: []string{text}}}, nil
		case FieldEarliest:
			t, err := timeparse.Parse(text, now)
			if err != nil {
				return nil, err
			}
			return []FilterBlock{{Earliest: &t}}, nil
		default:
			t, err := timeparse.Parse(text, now)
			if err != nil {
				return nil, err
			}
			return []FilterBlock{{Latest: &t}}, nil
		}
	}

	if !hasReserved(n) {
		return []FilterBlock{{Filter: n}}, nil
	}

	switch t := n.(type) {
	case *BinaryExpr:
		switch t.Op {
		case OpOr:
			left, err := extract(t.Left, now)
			if err != nil {
				return nil, err
			}
			right, err := extract(t.Right, now)
			if err != nil {
				return nil, err
			}
			return append(left, right...), nil
		case OpAnd:
			left, err := extract(t.Left, now)
			if err != nil {
				return nil, err
			}
			right, err := extract(t.Right, now)
			if err != nil {
				return nil, err
			}
			out := make([]FilterBlock, 0, len(left)*len(right))
			for _, l := range left {
				for _, r := range right {
					out = append(out, mergeBlocks(l, r))
				}
			}
			return out, nil
		}
	case *UnaryExpr:
		if t.Op == OpNot {
			return nil, newSyntaxError(0, ErrNegatedIndex, "index and time bounds cannot be negated: %s", t.String())
		}
	}
	return nil, newSyntaxError(0, ErrUnexpectedToken, "index and time bounds must be top-level terms: %s", n.String())
}

// mergeBlocks conjoins two blocks.
func mergeBlocks(a, b FilterBlock) FilterBlock {
	out := FilterBlock{
		Paths:    slices.Clone(a.Paths),
		Earliest: a.Earliest,
		Latest:   a.Latest,
		Filter:   and(a.Filter, b.Filter),
	}
	for _, p := range b.Paths {
		if !slices.Contains(out.Paths, p) {
			out.Paths = append(out.Paths, p)
		}
	}
	if b.Earliest != nil && (out.Earliest == nil || *b.Earliest > *out.Earliest) {
		out.Earliest = b.Earliest
	}
	if b.Latest != nil && (out.Latest == nil || *b.Latest < *out.Latest) {
		out.Latest = b.Latest
	}
	return out
}
