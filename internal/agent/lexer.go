// File: internal/agent/lexer.go
package agent

import (
	"fmt"
	"strings"
	"unicode"
)

// -- Tokens --

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokSeparator
	tokIdent
	tokInt
	tokFloat
	tokString
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
	tokColon
	tokDot
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokSeparator:
		return "end of statement"
	case tokIdent:
		return "identifier"
	case tokInt:
		return "integer"
	case tokFloat:
		return "float"
	case tokString:
		return "string"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokComma:
		return "','"
	case tokColon:
		return "':'"
	case tokDot:
		return "'.'"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

func (t token) describe() string {
	switch t.kind {
	case tokIdent, tokInt, tokFloat:
		return fmt.Sprintf("%s %q", t.kind, t.text)
	case tokString:
		return "string literal"
	}
	return t.kind.String()
}

// SyntaxError reports a statement that could not be parsed. Nothing in the block runs.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// -- Lexer --

type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

// tokenize splits a code block into tokens. Newlines and ';' both become separators.
func tokenize(src string) ([]token, error) {
	lx := &lexer{src: []rune(src), line: 1, col: 1}
	var out []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (lx *lexer) peek() rune {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *lexer) advance() rune {
	r := lx.src[lx.pos]
	lx.pos++
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) errorf(line, col int, format string, args ...interface{}) error {
	return &SyntaxError{Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) {
		r := lx.peek()
		switch {
		case r == '#':
			for lx.pos < len(lx.src) && lx.peek() != '\n' {
				lx.advance()
			}
		case r == '\n' || r == ';':
			line, col := lx.line, lx.col
			lx.advance()
			return token{kind: tokSeparator, text: string(r), line: line, col: col}, nil
		case unicode.IsSpace(r):
			lx.advance()
		default:
			return lx.scan()
		}
	}
	return token{kind: tokEOF, line: lx.line, col: lx.col}, nil
}

func (lx *lexer) scan() (token, error) {
	line, col := lx.line, lx.col
	r := lx.peek()

	single := map[rune]tokenKind{
		'(': tokLParen, ')': tokRParen, '{': tokLBrace, '}': tokRBrace,
		',': tokComma, ':': tokColon, '.': tokDot,
	}
	if kind, ok := single[r]; ok {
		lx.advance()
		return token{kind: kind, text: string(r), line: line, col: col}, nil
	}

	switch {
	case r == '"' || r == '\'':
		text, err := lx.scanString(r)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: text, line: line, col: col}, nil
	case unicode.IsDigit(r) || r == '-' || r == '+':
		return lx.scanNumber(line, col)
	case r == '_' || unicode.IsLetter(r):
		var b strings.Builder
		for lx.pos < len(lx.src) {
			c := lx.peek()
			if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
				break
			}
			b.WriteRune(lx.advance())
		}
		// Predicate and bang suffixes are part of the name.
		if c := lx.peek(); c == '?' || c == '!' {
			b.WriteRune(lx.advance())
		}
		return token{kind: tokIdent, text: b.String(), line: line, col: col}, nil
	}
	return token{}, lx.errorf(line, col, "unexpected character %q", r)
}

func (lx *lexer) scanNumber(line, col int) (token, error) {
	var b strings.Builder
	if c := lx.peek(); c == '-' || c == '+' {
		b.WriteRune(lx.advance())
	}
	digits := 0
	kind := tokInt
scan:
	for lx.pos < len(lx.src) {
		c := lx.peek()
		switch {
		case unicode.IsDigit(c):
			digits++
			b.WriteRune(lx.advance())
		case c == '_' && digits > 0:
			lx.advance()
		case c == '.' && kind == tokInt && lx.pos+1 < len(lx.src) && unicode.IsDigit(lx.src[lx.pos+1]):
			kind = tokFloat
			b.WriteRune(lx.advance())
		default:
			break scan
		}
	}
	if digits == 0 {
		return token{}, lx.errorf(line, col, "malformed number %q", b.String())
	}
	return token{kind: kind, text: b.String(), line: line, col: col}, nil
}

func (lx *lexer) scanString(quote rune) (string, error) {
	line, col := lx.line, lx.col
	lx.advance()
	var b strings.Builder
	for {
		if lx.pos >= len(lx.src) {
			return "", lx.errorf(line, col, "unterminated string")
		}
		r := lx.advance()
		switch r {
		case quote:
			return b.String(), nil
		case '\\':
			if lx.pos >= len(lx.src) {
				return "", lx.errorf(line, col, "unterminated string")
			}
			esc := lx.advance()
			if quote == '\'' {
				// Single quotes only unescape the backslash and the quote itself.
				if esc != '\\' && esc != '\'' {
					b.WriteRune('\\')
				}
				b.WriteRune(esc)
				continue
			}
			switch esc {
			case '\\', '"', '\'':
				b.WriteRune(esc)
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				// Unknown escapes are kept verbatim so JavaScript regex sources survive.
				b.WriteRune('\\')
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(r)
		}
	}
}
