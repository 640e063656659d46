package querylang

import (
	"strconv"
	"strings"
)

// Parser for SpeakQuery text.
//
// Grammar (EBNF):
//
//	query      = [ "search" ] search { "|" directive }
//	           | [ "|" ] generator { "|" directive }
//	generator  = ( "inputlookup" | "loadjob" ) arg*
//	directive  = NAME arg* | RAW                      -- RAW alone is a macro call
//	arg        = token | "[" query "]"                 -- brackets hold a subsearch
//
// Search mode (the pre-pipe expression, and the search directive):
//
//	search     = or_expr
//	or_expr    = and_expr ( "OR" and_expr )*
//	and_expr   = unary ( [ "AND" ] unary )*
//	unary      = "NOT" unary | primary
//	primary    = "(" or_expr ")" | "EXISTS" NAME | term
//	term       = NAME cmp_op value | NAME "IN" "(" value ( [","] value )* ")" | NAME
//	value      = STRING | adjacent run of WORD * / - + %
//
// Eval mode (eval, where, case/if bodies and unknown directives):
//
//	expr       = or ; or = and ( "OR" and )* ; and = not ( "AND" not )*
//	not        = "NOT" not | cmp
//	cmp        = add [ cmp_op add | "IN" "(" expr_list ")" ]
//	add        = mul ( ( "+" | "-" ) mul )*
//	mul        = unary ( ( "*" | "/" | "%" ) unary )*
//	unary      = ( "-" | "+" ) unary | primary
//	primary    = NUMBER | STRING | RAW | "true" | "false" | NAME "(" expr_list ")" | NAME | "(" expr ")"
//
// Precedence (highest to lowest): parentheses, NOT, AND (implicit or
// explicit), OR. In search mode barewords on the right of a comparison are
// literals; in eval mode they are field references.
type parser struct {
	toks []Token
	pos  int
	cur  Token
}

// MacroDirective is the Directive.Name given to a pipe segment consisting of
// a single backtick literal.
const MacroDirective = "`macro`"

// Query is a parsed query.
type Query struct {
	Search     Node         // pre-pipe filter; nil for generating or pipeline-only queries
	Source     *Directive   // generating directive (inputlookup, loadjob); nil otherwise
	Directives []*Directive // pipeline stages in source order
}

func (q *Query) String() string {
	var parts []string
	if q.Search != nil {
		parts = append(parts, q.Search.String())
	}
	if q.Source != nil {
		parts = append(parts, "| "+q.Source.String())
	}
	for _, d := range q.Directives {
		parts = append(parts, "| "+d.String())
	}
	return strings.Join(parts, " ")
}

// Directive is one pipeline stage.
type Directive struct {
	Name        string   // lowercased directive name, or MacroDirective
	Pos         int      // byte offset of the name
	Args        []Token  // argument tokens, subsearch brackets removed
	Subsearches []*Query // bracketed subsearches in source order
}

func (d *Directive) String() string {
	if d.Name == MacroDirective {
		return renderTokens(d.Args)
	}
	var sb strings.Builder
	sb.WriteString(d.Name)
	if len(d.Args) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(renderTokens(d.Args))
	}
	for _, sub := range d.Subsearches {
		sb.WriteString(" [")
		sb.WriteString(sub.String())
		sb.WriteByte(']')
	}
	return sb.String()
}

// renderTokens joins tokens with a space except where they were adjacent.
func renderTokens(toks []Token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 && !toks[i-1].Adjacent(t) {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text())
	}
	return sb.String()
}

var generators = map[string]bool{
	"inputlookup": true,
	"loadjob":     true,
}

// IsGenerating reports whether name is a directive that produces a dataset
// without a preceding search.
func IsGenerating(name string) bool {
	return generators[strings.ToLower(name)]
}

// Parse parses query text. Full-line # comments are ignored.
func Parse(input string) (*Query, error) {
	toks, err := Tokenize(StripComments(input))
	if err != nil {
		return nil, err
	}
	toks = toks[:len(toks)-1] // drop EOF
	if len(toks) == 0 {
		return nil, newSyntaxError(0, ErrEmptyQuery, "empty query")
	}
	return parseQuery(toks)
}

// segment is the token run between two top-level pipes.
type segment struct {
	toks    []Token
	pipePos int // position of the pipe that opened the segment, -1 for the first
}

// splitPipes splits toks at pipes outside parentheses and brackets.
func splitPipes(toks []Token) ([]segment, error) {
	var (
		segs  []segment
		open  []Token
		start int
		pipe  = -1
	)
	for i, t := range toks {
		switch t.Kind {
		case TokLParen, TokLBracket:
			open = append(open, t)
		case TokRParen, TokRBracket:
			want := TokLParen
			if t.Kind == TokRBracket {
				want = TokLBracket
			}
			if len(open) == 0 || open[len(open)-1].Kind != want {
				return nil, newSyntaxError(t.Pos, ErrUnmatchedParen, "unmatched closing %s", t.Kind)
			}
			open = open[:len(open)-1]
		case TokPipe:
			if len(open) == 0 {
				segs = append(segs, segment{toks: toks[start:i], pipePos: pipe})
				start = i + 1
				pipe = t.Pos
			}
		}
	}
	if len(open) > 0 {
		o := open[len(open)-1]
		return nil, newSyntaxError(o.Pos, ErrUnmatchedParen, "unmatched opening %s", o.Kind)
	}
	segs = append(segs, segment{toks: toks[start:], pipePos: pipe})
	return segs, nil
}

// parseQuery parses a full query: a search or a generating directive
// followed by directives.
func parseQuery(toks []Token) (*Query, error) {
	segs, err := splitPipes(toks)
	if err != nil {
		return nil, err
	}
	q := &Query{}

	first := segs[0].toks
	rest := segs[1:]
	if len(first) == 0 {
		// Leading pipe: the next segment must be a generator.
		if len(rest) == 0 {
			return nil, newSyntaxError(0, ErrEmptyQuery, "empty query")
		}
		if len(rest[0].toks) == 0 {
			return nil, newSyntaxError(rest[0].pipePos, ErrUnexpectedEOF, "expected directive after '|'")
		}
		first = rest[0].toks
		rest = rest[1:]
		if first[0].Kind != TokWord || !IsGenerating(first[0].Lit) {
			return nil, newSyntaxError(first[0].Pos, ErrUnexpectedToken,
				"query must begin with a search or a generating directive, got %q", first[0].Text())
		}
	}

	if len(first) > 1 && first[0].Kind == TokWord && strings.EqualFold(first[0].Lit, "search") {
		if _, isCmp := comparisonOp(first[1].Kind); !isCmp && first[1].Kind != TokIn {
			first = first[1:]
		}
	}

	if first[0].Kind == TokWord && IsGenerating(first[0].Lit) {
		src, err := parseDirective(first)
		if err != nil {
			return nil, err
		}
		q.Source = src
	} else {
		search, err := ParseSearch(first)
		if err != nil {
			return nil, err
		}
		if !HasIndex(search) {
			return nil, newSyntaxError(first[0].Pos, ErrNoIndex, "search must name at least one index")
		}
		q.Search = search
	}

	q.Directives, err = parseDirectives(rest)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ParsePipeline parses directives with no search in front, such as a macro
// body. A leading pipe is optional.
func ParsePipeline(input string) (*Query, error) {
	toks, err := Tokenize(StripComments(input))
	if err != nil {
		return nil, err
	}
	toks = toks[:len(toks)-1]
	if len(toks) == 0 {
		return nil, newSyntaxError(0, ErrEmptyQuery, "empty pipeline")
	}
	return parsePipeline(toks)
}

// parsePipeline parses a bare pipeline (the body of appendpipe).
func parsePipeline(toks []Token) (*Query, error) {
	segs, err := splitPipes(toks)
	if err != nil {
		return nil, err
	}
	if len(segs[0].toks) == 0 && len(segs) > 1 {
		segs = segs[1:]
	}
	dirs, err := parseDirectives(segs)
	if err != nil {
		return nil, err
	}
	return &Query{Directives: dirs}, nil
}

func parseDirectives(segs []segment) ([]*Directive, error) {
	dirs := make([]*Directive, 0, len(segs))
	for _, seg := range segs {
		if len(seg.toks) == 0 {
			return nil, newSyntaxError(seg.pipePos, ErrUnexpectedEOF, "expected directive after '|'")
		}
		d, err := parseDirective(seg.toks)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}

// parseDirective parses one pipe segment. Bracketed token runs become
// subsearches.
func parseDirective(toks []Token) (*Directive, error) {
	head := toks[0]
	if len(toks) == 1 && head.Kind == TokRaw {
		return &Directive{Name: MacroDirective, Pos: head.Pos, Args: toks}, nil
	}
	if head.Kind != TokWord {
		return nil, newSyntaxError(head.Pos, ErrUnexpectedToken, "expected directive name, got %q", head.Text())
	}

	d := &Directive{Name: strings.ToLower(head.Lit), Pos: head.Pos}
	for i := 1; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != TokLBracket {
			d.Args = append(d.Args, t)
			continue
		}
		end := matchingBracket(toks, i)
		inner := toks[i+1 : end]
		if len(inner) == 0 {
			return nil, newSyntaxError(t.Pos, ErrEmptyQuery, "empty subsearch")
		}
		var (
			sub *Query
			err error
		)
		if d.Name == "appendpipe" {
			sub, err = parsePipeline(inner)
		} else {
			sub, err = parseQuery(inner)
		}
		if err != nil {
			return nil, err
		}
		d.Subsearches = append(d.Subsearches, sub)
		i = end
	}
	return d, nil
}

// matchingBracket returns the index of the ']' closing toks[open].
// splitPipes has already verified nesting.
func matchingBracket(toks []Token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch toks[i].Kind {
		case TokLBracket:
			depth++
		case TokRBracket:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(toks) - 1
}

// newParser creates a parser over toks, appending EOF if needed.
func newParser(toks []Token) *parser {
	if len(toks) == 0 || toks[len(toks)-1].Kind != TokEOF {
		end := 0
		if len(toks) > 0 {
			end = toks[len(toks)-1].End
		}
		toks = append(toks[:len(toks):len(toks)], Token{Kind: TokEOF, Pos: end, End: end})
	}
	return &parser{toks: toks, cur: toks[0]}
}

// advance moves to the next token.
func (p *parser) advance() {
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	p.cur = p.toks[p.pos]
}

// peek returns the token after cur.
func (p *parser) peek() Token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

// expectEOF reports leftover tokens.
func (p *parser) expectEOF() error {
	switch p.cur.Kind {
	case TokEOF:
		return nil
	case TokRParen:
		return newSyntaxError(p.cur.Pos, ErrUnmatchedParen, "unmatched closing parenthesis")
	default:
		return newSyntaxError(p.cur.Pos, ErrUnexpectedToken, "unexpected token: %s", p.cur.Text())
	}
}

// ParseSearch parses tokens as a search-mode filter expression.
func ParseSearch(toks []Token) (Node, error) {
	p := newParser(toks)
	if p.cur.Kind == TokEOF {
		return nil, newSyntaxError(p.cur.Pos, ErrEmptyQuery, "empty search")
	}
	n, err := p.parseSearchOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return n, nil
}

// parseSearchOr parses: or_expr = and_expr ( "OR" and_expr )*
func (p *parser) parseSearchOr() (Node, error) {
	left, err := p.parseSearchAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokOr {
		p.advance()
		right, err := p.parseSearchAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

// parseSearchAnd parses: and_expr = unary ( [ "AND" ] unary )*
func (p *parser) parseSearchAnd() (Node, error) {
	left, err := p.parseSearchUnary()
	if err != nil {
		return nil, err
	}
	for p.isAndStart() {
		if p.cur.Kind == TokAnd {
			p.advance()
		}
		right, err := p.parseSearchUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

// isAndStart reports whether cur can begin another term of an implicit AND.
func (p *parser) isAndStart() bool {
	switch p.cur.Kind {
	case TokAnd, TokNot, TokLParen, TokWord, TokString:
		return true
	default:
		return false
	}
}

// parseSearchUnary parses: unary = "NOT" unary | primary
func (p *parser) parseSearchUnary() (Node, error) {
	if p.cur.Kind == TokNot {
		pos := p.cur.Pos
		p.advance()
		switch p.cur.Kind {
		case TokEOF:
			return nil, newSyntaxError(pos, ErrUnexpectedEOF, "expected expression after NOT")
		case TokOr, TokAnd, TokRParen:
			return nil, newSyntaxError(p.cur.Pos, ErrUnexpectedToken, "expected expression after NOT, got %s", p.cur.Kind)
		}
		term, err := p.parseSearchUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: term}, nil
	}
	return p.parseSearchPrimary()
}

// parseSearchPrimary parses: primary = "(" or_expr ")" | "EXISTS" NAME | term
func (p *parser) parseSearchPrimary() (Node, error) {
	switch p.cur.Kind {
	case TokLParen:
		open := p.cur.Pos
		p.advance()
		if p.cur.Kind == TokRParen {
			return nil, newSyntaxError(open, ErrEmptyQuery, "empty parentheses")
		}
		n, err := p.parseSearchOr()
		if err != nil {
			return nil, err
		}
		if p.cur.Kind != TokRParen {
			return nil, newSyntaxError(open, ErrUnmatchedParen, "unmatched opening parenthesis")
		}
		p.advance()
		return n, nil
	case TokEOF:
		return nil, newSyntaxError(p.cur.Pos, ErrUnexpectedEOF, "unexpected end of query")
	case TokRParen:
		return nil, newSyntaxError(p.cur.Pos, ErrUnmatchedParen, "unmatched closing parenthesis")
	case TokWord, TokString:
	default:
		return nil, newSyntaxError(p.cur.Pos, ErrUnexpectedToken, "unexpected %s", p.cur.Kind)
	}

	if p.cur.Kind == TokWord && strings.EqualFold(p.cur.Lit, "EXISTS") {
		if next := p.peek(); next.Kind == TokWord || next.Kind == TokString {
			p.advance()
			name := p.cur.Lit
			p.advance()
			return &ExistsExpr{Field: name}, nil
		}
	}

	name := p.cur.Lit
	p.advance()

	if op, ok := comparisonOp(p.cur.Kind); ok {
		opTok := p.cur
		p.advance()
		val, err := p.parseSearchValue(opTok)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: &FieldRef{Name: name}, Right: val}, nil
	}

	if p.cur.Kind == TokIn {
		inTok := p.cur
		p.advance()
		if p.cur.Kind != TokLParen {
			return nil, newSyntaxError(inTok.Pos, ErrUnexpectedToken, "expected '(' after IN")
		}
		open := p.cur.Pos
		p.advance()
		var vals []Node
		for p.cur.Kind != TokRParen {
			if p.cur.Kind == TokEOF {
				return nil, newSyntaxError(open, ErrUnmatchedParen, "unmatched opening parenthesis")
			}
			if p.cur.Kind == TokComma {
				p.advance()
				continue
			}
			v, err := p.parseSearchValue(inTok)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		p.advance() // consume ")"
		if len(vals) == 0 {
			return nil, newSyntaxError(open, ErrUnexpectedToken, "IN requires at least one value")
		}
		return &InExpr{Field: &FieldRef{Name: name}, Values: vals}, nil
	}

	return &ExistsExpr{Field: name}, nil
}

// parseSearchValue parses a literal on the right of a search comparison.
// Adjacent barewords and operators (logs/*, -24h, 2024-01-02) form one literal.
func (p *parser) parseSearchValue(after Token) (Node, error) {
	if p.cur.Kind == TokString || p.cur.Kind == TokRaw {
		lit := p.cur.Lit
		p.advance()
		return &Literal{Val: StrValue(lit)}, nil
	}
	if !isValueToken(p.cur.Kind) {
		if p.cur.Kind == TokEOF {
			return nil, newSyntaxError(after.Pos, ErrUnexpectedEOF, "expected value after %s", after.Kind)
		}
		return nil, newSyntaxError(p.cur.Pos, ErrUnexpectedToken, "expected value after %s, got %s", after.Kind, p.cur.Kind)
	}
	var sb strings.Builder
	prev := p.cur
	sb.WriteString(prev.Lit)
	p.advance()
	for isValueToken(p.cur.Kind) && prev.Adjacent(p.cur) {
		sb.WriteString(p.cur.Lit)
		prev = p.cur
		p.advance()
	}
	return &Literal{Val: StrValue(sb.String())}, nil
}

// isValueToken reports whether a token of kind k can be part of a bare literal.
func isValueToken(k TokenKind) bool {
	switch k {
	case TokWord, TokStar, TokSlash, TokMinus, TokPlus, TokPercent:
		return true
	}
	return false
}

// MergeAdjacent joins runs of adjacent bare tokens (words and arithmetic
// symbols with no whitespace between them) into single TokWord tokens.
// Directive argument parsers use it to read paths, spans and signed numbers.
func MergeAdjacent(toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		if n := len(out); n > 0 && isValueToken(t.Kind) && isValueToken(out[n-1].Kind) && out[n-1].Adjacent(t) {
			prev := out[n-1]
			out[n-1] = Token{Kind: TokWord, Lit: prev.Lit + t.Lit, Pos: prev.Pos, End: t.End}
			continue
		}
		out = append(out, t)
	}
	return out
}

func comparisonOp(k TokenKind) (BinaryOp, bool) {
	switch k {
	case TokEq:
		return OpEq, true
	case TokNeq:
		return OpNeq, true
	case TokLt:
		return OpLt, true
	case TokGt:
		return OpGt, true
	case TokLe:
		return OpLe, true
	case TokGe:
		return OpGe, true
	}
	return 0, false
}

// ParseExprString tokenizes and parses s as an eval-mode expression.
func ParseExprString(s string) (Node, error) {
	toks, err := Tokenize(s)
	if err != nil {
		return nil, err
	}
	return ParseExpr(toks)
}

// ParseExpr parses tokens as an eval-mode expression.
func ParseExpr(toks []Token) (Node, error) {
	p := newParser(toks)
	if p.cur.Kind == TokEOF {
		return nil, newSyntaxError(p.cur.Pos, ErrEmptyQuery, "empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return n, nil
}

// ParseExprPrefix parses the longest eval-mode expression at the start of
// toks and returns it with the number of tokens consumed. Directive parsers
// use it where an expression is followed by more arguments.
func ParseExprPrefix(toks []Token) (Node, int, error) {
	p := newParser(toks)
	if p.cur.Kind == TokEOF {
		return nil, 0, newSyntaxError(p.cur.Pos, ErrEmptyQuery, "empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, 0, err
	}
	return n, p.pos, nil
}

func (p *parser) parseExpr() (Node, error) {
	left, err := p.parseExprAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokOr {
		p.advance()
		right, err := p.parseExprAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprAnd() (Node, error) {
	left, err := p.parseExprNot()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokAnd {
		p.advance()
		right, err := p.parseExprNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprNot() (Node, error) {
	if p.cur.Kind == TokNot {
		p.advance()
		operand, err := p.parseExprNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: operand}, nil
	}
	return p.parseExprCmp()
}

func (p *parser) parseExprCmp() (Node, error) {
	left, err := p.parseExprAdd()
	if err != nil {
		return nil, err
	}
	if op, ok := comparisonOp(p.cur.Kind); ok {
		p.advance()
		right, err := p.parseExprAdd()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	if p.cur.Kind == TokIn {
		inTok := p.cur
		p.advance()
		if p.cur.Kind != TokLParen {
			return nil, newSyntaxError(inTok.Pos, ErrUnexpectedToken, "expected '(' after IN")
		}
		vals, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return nil, newSyntaxError(inTok.Pos, ErrUnexpectedToken, "IN requires at least one value")
		}
		return &InExpr{Field: left, Values: vals}, nil
	}
	return left, nil
}

func (p *parser) parseExprAdd() (Node, error) {
	left, err := p.parseExprMul()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokPlus || p.cur.Kind == TokMinus {
		op := OpAdd
		if p.cur.Kind == TokMinus {
			op = OpSub
		}
		p.advance()
		right, err := p.parseExprMul()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprMul() (Node, error) {
	left, err := p.parseExprUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.cur.Kind {
		case TokStar:
			op = OpMul
		case TokSlash:
			op = OpDiv
		case TokPercent:
			op = OpMod
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseExprUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseExprUnary() (Node, error) {
	switch p.cur.Kind {
	case TokMinus:
		p.advance()
		operand, err := p.parseExprUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*Literal); ok && lit.Val.Kind == KindNumber {
			return &Literal{Val: NumValue(-lit.Val.Num)}, nil
		}
		return &UnaryExpr{Op: OpNeg, Operand: operand}, nil
	case TokPlus:
		p.advance()
		operand, err := p.parseExprUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*Literal); ok && lit.Val.Kind == KindNumber {
			return lit, nil
		}
		return &UnaryExpr{Op: OpPos, Operand: operand}, nil
	}
	return p.parseExprPrimary()
}

func (p *parser) parseExprPrimary() (Node, error) {
	tok := p.cur
	switch tok.Kind {
	case TokLParen:
		p.advance()
		if p.cur.Kind == TokRParen {
			return nil, newSyntaxError(tok.Pos, ErrEmptyQuery, "empty parentheses")
		}
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur.Kind != TokRParen {
			return nil, newSyntaxError(tok.Pos, ErrUnmatchedParen, "unmatched opening parenthesis")
		}
		p.advance()
		return n, nil

	case TokString, TokRaw:
		p.advance()
		return &Literal{Val: StrValue(tok.Lit)}, nil

	case TokWord:
		p.advance()
		if p.cur.Kind == TokLParen {
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			return &CallExpr{Name: strings.ToLower(tok.Lit), Args: args}, nil
		}
		if isNumberLiteral(tok.Lit) {
			f, err := strconv.ParseFloat(tok.Lit, 64)
			if err != nil {
				return nil, newSyntaxError(tok.Pos, ErrUnexpectedToken, "invalid number %q", tok.Lit)
			}
			return &Literal{Val: NumValue(f)}, nil
		}
		switch strings.ToLower(tok.Lit) {
		case "true":
			return &Literal{Val: BoolValue(true)}, nil
		case "false":
			return &Literal{Val: BoolValue(false)}, nil
		}
		return &FieldRef{Name: tok.Lit}, nil

	case TokEOF:
		return nil, newSyntaxError(tok.Pos, ErrUnexpectedEOF, "unexpected end of expression")
	case TokRParen:
		return nil, newSyntaxError(tok.Pos, ErrUnmatchedParen, "unmatched closing parenthesis")
	default:
		return nil, newSyntaxError(tok.Pos, ErrUnexpectedToken, "unexpected %s in expression", tok.Kind)
	}
}

// parseArgList parses "(" [ expr ( "," expr )* ] ")". cur is "(".
func (p *parser) parseArgList() ([]Node, error) {
	open := p.cur.Pos
	p.advance()
	var args []Node
	if p.cur.Kind == TokRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.cur.Kind {
		case TokComma:
			p.advance()
		case TokRParen:
			p.advance()
			return args, nil
		case TokEOF:
			return nil, newSyntaxError(open, ErrUnmatchedParen, "unmatched opening parenthesis")
		default:
			return nil, newSyntaxError(p.cur.Pos, ErrUnexpectedToken, "expected ',' or ')', got %s", p.cur.Kind)
		}
	}
}

// isNumberLiteral reports whether a bareword is written as a decimal number.
func isNumberLiteral(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if (c < '0' || c > '9') && c != '.' {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
