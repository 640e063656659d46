package querylang

import (
	"strings"
)

// TokenKind identifies the type of lexical token.
type TokenKind int

const (
	TokEOF      TokenKind = iota
	TokWord               // bareword: field name, number, directive name, path segment
	TokString             // quoted string (quotes stripped, escapes processed)
	TokRaw                // `raw` literal (backticks stripped, no escapes)
	TokPipe               // |
	TokLParen             // (
	TokRParen             // )
	TokLBracket           // [
	TokRBracket           // ]
	TokComma              // ,
	TokEq                 // = or ==
	TokNeq                // !=
	TokLt                 // <
	TokGt                 // >
	TokLe                 // <=
	TokGe                 // >=
	TokPlus               // +
	TokMinus              // -
	TokStar               // *
	TokSlash              // /
	TokPercent            // %
	TokAnd                // AND or &&
	TokOr                 // OR or ||
	TokNot                // NOT or !
	TokIn                 // IN
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "EOF"
	case TokWord:
		return "WORD"
	case TokString:
		return "STRING"
	case TokRaw:
		return "RAW"
	case TokPipe:
		return "|"
	case TokLParen:
		return "("
	case TokRParen:
		return ")"
	case TokLBracket:
		return "["
	case TokRBracket:
		return "]"
	case TokComma:
		return ","
	case TokEq:
		return "="
	case TokNeq:
		return "!="
	case TokLt:
		return "<"
	case TokGt:
		return ">"
	case TokLe:
		return "<="
	case TokGe:
		return ">="
	case TokPlus:
		return "+"
	case TokMinus:
		return "-"
	case TokStar:
		return "*"
	case TokSlash:
		return "/"
	case TokPercent:
		return "%"
	case TokAnd:
		return "AND"
	case TokOr:
		return "OR"
	case TokNot:
		return "NOT"
	case TokIn:
		return "IN"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Kind   TokenKind
	Lit    string // for quoted strings: unescaped content without quotes
	Pos    int    // byte offset of the first character in input
	End    int    // byte offset just past the last character in input
	Quoted bool   // true for TokString and TokRaw
}

// Adjacent reports whether next starts exactly where t ends (no whitespace).
func (t Token) Adjacent(next Token) bool {
	return next.Pos == t.End
}

// Text renders the token back to query text.
func (t Token) Text() string {
	switch t.Kind {
	case TokString:
		return quoteString(t.Lit)
	case TokRaw:
		return "`" + t.Lit + "`"
	case TokEOF:
		return ""
	}
	return t.Lit
}

// Lexer tokenizes a query string.
type Lexer struct {
	input string
	pos   int // current position in input
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize lexes the whole input. The final token is always TokEOF.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks, nil
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Kind: TokEOF, Pos: l.pos, End: l.pos}, nil
	}

	startPos := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '"', '\'':
		return l.scanQuotedString(ch)
	case '`':
		return l.scanRaw()
	}

	// Two-character operators.
	if l.pos+1 < len(l.input) {
		switch l.input[l.pos : l.pos+2] {
		case "==":
			return l.emit(TokEq, 2), nil
		case "!=":
			return l.emit(TokNeq, 2), nil
		case "<=":
			return l.emit(TokLe, 2), nil
		case ">=":
			return l.emit(TokGe, 2), nil
		case "&&":
			return l.emit(TokAnd, 2), nil
		case "||":
			return l.emit(TokOr, 2), nil
		}
	}

	// Single-character tokens.
	switch ch {
	case '|':
		return l.emit(TokPipe, 1), nil
	case '(':
		return l.emit(TokLParen, 1), nil
	case ')':
		return l.emit(TokRParen, 1), nil
	case '[':
		return l.emit(TokLBracket, 1), nil
	case ']':
		return l.emit(TokRBracket, 1), nil
	case ',':
		return l.emit(TokComma, 1), nil
	case '=':
		return l.emit(TokEq, 1), nil
	case '<':
		return l.emit(TokLt, 1), nil
	case '>':
		return l.emit(TokGt, 1), nil
	case '+':
		return l.emit(TokPlus, 1), nil
	case '-':
		return l.emit(TokMinus, 1), nil
	case '*':
		return l.emit(TokStar, 1), nil
	case '/':
		return l.emit(TokSlash, 1), nil
	case '%':
		return l.emit(TokPercent, 1), nil
	case '!':
		return l.emit(TokNot, 1), nil
	}

	if !isBarewordChar(ch) {
		return Token{}, newSyntaxError(startPos, ErrUnexpectedToken, "unexpected character %q", ch)
	}
	return l.scanBareword(), nil
}

// emit consumes n bytes as a token of the given kind.
func (l *Lexer) emit(kind TokenKind, n int) Token {
	tok := Token{Kind: kind, Lit: l.input[l.pos : l.pos+n], Pos: l.pos, End: l.pos + n}
	l.pos += n
	return tok
}

// skipWhitespace advances past whitespace characters.
func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

// scanQuotedString scans a quoted string, processing escape sequences.
// Unknown escapes keep their backslash so regex classes like \d survive.
func (l *Lexer) scanQuotedString(quote byte) (Token, error) {
	startPos := l.pos
	l.pos++ // skip opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		if ch == quote {
			l.pos++ // skip closing quote
			return Token{Kind: TokString, Lit: sb.String(), Pos: startPos, End: l.pos, Quoted: true}, nil
		}

		if ch == '\\' {
			l.pos++
			if l.pos >= len(l.input) {
				return Token{}, newSyntaxError(l.pos-1, ErrUnterminatedString, "unterminated string: escape at end of input")
			}

			escaped := l.input[l.pos]
			switch escaped {
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '\'':
				sb.WriteByte('\'')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(escaped)
			}
			l.pos++
			continue
		}

		sb.WriteByte(ch)
		l.pos++
	}

	return Token{}, newSyntaxError(startPos, ErrUnterminatedString, "unterminated string starting at position %d", startPos)
}

// scanRaw scans a backtick-delimited literal. Its content is opaque.
func (l *Lexer) scanRaw() (Token, error) {
	startPos := l.pos
	end := strings.IndexByte(l.input[l.pos+1:], '`')
	if end < 0 {
		return Token{}, newSyntaxError(startPos, ErrUnterminatedRaw, "unterminated raw literal starting at position %d", startPos)
	}
	lit := l.input[l.pos+1 : l.pos+1+end]
	l.pos += end + 2
	return Token{Kind: TokRaw, Lit: lit, Pos: startPos, End: l.pos, Quoted: true}, nil
}

// scanBareword scans a bareword token, which may be a keyword.
func (l *Lexer) scanBareword() Token {
	startPos := l.pos
	for l.pos < len(l.input) && isBarewordChar(l.input[l.pos]) {
		l.pos++
	}
	lit := l.input[startPos:l.pos]
	return Token{Kind: classifyWord(lit), Lit: lit, Pos: startPos, End: l.pos}
}

// isBarewordChar returns true if ch can be part of a bareword.
func isBarewordChar(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch >= 0x80:
		return true
	}
	switch ch {
	case '_', '.', ':', '@', '$', '{', '}', '~', '?', '&', '^', ';', '\\':
		return true
	}
	return false
}

// classifyWord checks if a word is a keyword (case-insensitive).
func classifyWord(word string) TokenKind {
	switch strings.ToUpper(word) {
	case "OR":
		return TokOr
	case "AND":
		return TokAnd
	case "NOT":
		return TokNot
	case "IN":
		return TokIn
	default:
		return TokWord
	}
}

// quoteString renders s as a double-quoted literal the lexer reads back unchanged.
func quoteString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case '\\':
			// A lone backslash followed by a non-escape char survives as-is.
			if i+1 < len(s) && strings.IndexByte(`\"'ntr`, s[i+1]) < 0 {
				sb.WriteByte('\\')
			} else {
				sb.WriteString(`\\`)
			}
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
