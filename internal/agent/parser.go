// File: internal/agent/parser.go
package agent

import (
	"fmt"
	"strconv"
)

// receiverName is the only receiver a statement may address.
const receiverName = "driver"

// Argument is one positional or named literal passed to a verb.
// Value holds an int64, float64, string, bool or nil.
type Argument struct {
	Name  string
	Value interface{}
	Line  int
	Col   int
}

// Statement is one verb invocation, optionally carrying a nested block.
type Statement struct {
	Verb  string
	Args  []Argument
	Block []Statement
	Line  int
	Col   int
}

// Parse turns one code block into statements. A block either parses completely or not at all.
func Parse(src string) ([]Statement, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmts, err := p.parseStatements(blockNone)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected(tok, "end of input")
	}
	return stmts, nil
}

type blockStyle int

const (
	blockNone blockStyle = iota
	blockBrace
	blockDoEnd
)

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorAt(tok token, format string, args ...interface{}) error {
	return &SyntaxError{Line: tok.line, Column: tok.col, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) unexpected(tok token, want string) error {
	return p.errorAt(tok, "expected %s, found %s", want, tok.describe())
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.unexpected(tok, kind.String())
	}
	return tok, nil
}

func (p *parser) skipSeparators() {
	for p.peek().kind == tokSeparator {
		p.next()
	}
}

func isKeyword(tok token, word string) bool {
	return tok.kind == tokIdent && tok.text == word
}

// atBlockEnd reports whether the current token closes a block of the given style.
func (p *parser) atBlockEnd(style blockStyle) bool {
	tok := p.peek()
	switch style {
	case blockBrace:
		return tok.kind == tokRBrace
	case blockDoEnd:
		return isKeyword(tok, "end")
	}
	return tok.kind == tokEOF
}

func (p *parser) parseStatements(style blockStyle) ([]Statement, error) {
	var stmts []Statement
	for {
		p.skipSeparators()
		if p.atBlockEnd(style) {
			return stmts, nil
		}
		if tok := p.peek(); tok.kind == tokEOF {
			return nil, p.errorAt(tok, "unterminated block")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)

		tok := p.peek()
		if tok.kind != tokSeparator && !p.atBlockEnd(style) {
			return nil, p.unexpected(tok, "end of statement")
		}
	}
}

func (p *parser) parseStatement() (Statement, error) {
	recv := p.next()
	if !isKeyword(recv, receiverName) {
		return Statement{}, p.errorAt(recv, "statements must call a %s verb, found %s", receiverName, recv.describe())
	}
	if _, err := p.expect(tokDot); err != nil {
		return Statement{}, err
	}
	verb, err := p.expect(tokIdent)
	if err != nil {
		return Statement{}, err
	}
	stmt := Statement{Verb: verb.text, Line: recv.line, Col: recv.col}

	switch {
	case p.peek().kind == tokLParen:
		if stmt.Args, err = p.parseParenArgs(); err != nil {
			return Statement{}, err
		}
	case p.startsBareArgs():
		if stmt.Args, err = p.parseArgList(false); err != nil {
			return Statement{}, err
		}
	}

	switch tok := p.peek(); {
	case tok.kind == tokLBrace:
		p.next()
		if stmt.Block, err = p.parseStatements(blockBrace); err != nil {
			return Statement{}, err
		}
		p.next()
		stmt.Block = nonNil(stmt.Block)
	case isKeyword(tok, "do"):
		p.next()
		if stmt.Block, err = p.parseStatements(blockDoEnd); err != nil {
			return Statement{}, err
		}
		p.next()
		stmt.Block = nonNil(stmt.Block)
	}
	return stmt, nil
}

func nonNil(stmts []Statement) []Statement {
	if stmts == nil {
		return []Statement{}
	}
	return stmts
}

// startsBareArgs reports whether an unparenthesized argument list follows the verb.
func (p *parser) startsBareArgs() bool {
	tok := p.peek()
	switch tok.kind {
	case tokInt, tokFloat, tokString:
		return true
	case tokIdent:
		switch tok.text {
		case "true", "false", "nil":
			return true
		case "do", "end":
			return false
		}
		return p.peekAt(1).kind == tokColon
	}
	return false
}

func (p *parser) parseParenArgs() ([]Argument, error) {
	p.next()
	p.skipSeparators()
	if p.peek().kind == tokRParen {
		p.next()
		return nil, nil
	}
	args, err := p.parseArgList(true)
	if err != nil {
		return nil, err
	}
	p.skipSeparators()
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return args, nil
}

// parseArgList reads comma separated arguments. Inside parentheses newlines may follow a comma.
func (p *parser) parseArgList(parenthesized bool) ([]Argument, error) {
	var args []Argument
	for {
		if parenthesized {
			p.skipSeparators()
		}
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		if arg.Name == "" && len(args) > 0 && args[len(args)-1].Name != "" {
			return nil, &SyntaxError{Line: arg.Line, Column: arg.Col, Message: "positional argument follows named argument"}
		}
		args = append(args, arg)
		if p.peek().kind != tokComma {
			return args, nil
		}
		p.next()
		if !parenthesized && p.peek().kind == tokSeparator {
			p.skipSeparators()
		}
	}
}

func (p *parser) parseArg() (Argument, error) {
	tok := p.peek()
	if tok.kind == tokIdent && p.peekAt(1).kind == tokColon {
		p.next()
		p.next()
		value, err := p.parseLiteral()
		if err != nil {
			return Argument{}, err
		}
		return Argument{Name: tok.text, Value: value, Line: tok.line, Col: tok.col}, nil
	}
	value, err := p.parseLiteral()
	if err != nil {
		return Argument{}, err
	}
	return Argument{Value: value, Line: tok.line, Col: tok.col}, nil
}

func (p *parser) parseLiteral() (interface{}, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, p.errorAt(tok, "integer %s out of range", tok.text)
		}
		return n, nil
	case tokFloat:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorAt(tok, "malformed float %s", tok.text)
		}
		return f, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
	}
	return nil, p.unexpected(tok, "a literal")
}
