// Package grl parses Grule Rule Language text into rules for the rules engine.
//
//	rule Discount "Ten percent off large orders" salience 10 {
//	    when
//	        Order.Total > 100 && !Order.Discounted
//	    then
//	        Order.Total = Order.Total * 0.9;
//	        Order.Discounted = true;
//	}
package grl

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/liamcoop/grl/rules"
)

// Parser turns GRL text into rules. The zero value is ready to use and a
// Parser may be shared between goroutines.
type Parser struct{}

// NewParser creates a parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseRule parses text containing exactly one rule block.
func (p *Parser) ParseRule(text string) (*rules.Rule, error) {
	ps := newParseState(text)
	if ps.cur().Type == EOF {
		return nil, ps.errorf(ps.cur().Pos, "expected 'rule', found end of input")
	}
	r, err := ps.parseRule()
	if err != nil {
		return nil, err
	}
	if tok := ps.cur(); tok.Type != EOF {
		return nil, ps.errorf(tok.Pos, "unexpected %s after rule %s", tok, r.Name)
	}
	return r, nil
}

// ParseRules parses a document of zero or more rule blocks. Each rule is
// parsed independently: a malformed rule is skipped up to the next 'rule'
// keyword and its error is joined into the returned error, while the rules
// that parsed are still returned.
func (p *Parser) ParseRules(text string) ([]*rules.Rule, error) {
	ps := newParseState(text)
	parsed := []*rules.Rule{}
	var errs []error

	for ps.cur().Type != EOF {
		if ps.cur().Type != Rule {
			errs = append(errs, ps.unexpected("'rule'"))
			ps.skipRule()
			continue
		}
		start := ps.pos
		r, err := ps.parseRule()
		if err != nil {
			errs = append(errs, err)
			// resume after this rule's keyword so a truncated block does not
			// swallow the rule that follows it
			ps.pos = start
			ps.skipRule()
			continue
		}
		parsed = append(parsed, r)
	}
	return parsed, errors.Join(errs...)
}

// ParseExpression parses a single expression such as a rule condition.
func (p *Parser) ParseExpression(text string) (rules.Expression, error) {
	ps := newParseState(text)
	expr, err := ps.parseExpr(rules.PrecOr)
	if err != nil {
		return nil, err
	}
	if ps.cur().Type != EOF {
		return nil, ps.unexpected("end of input")
	}
	return expr, nil
}

// parseState holds the token stream of one parse call
type parseState struct {
	toks []Token
	pos  int
	rule string // name of the rule being parsed, for error messages
}

func newParseState(text string) *parseState {
	return &parseState{toks: Tokenize(text)}
}

func (ps *parseState) cur() Token {
	return ps.toks[ps.pos]
}

func (ps *parseState) next() Token {
	tok := ps.toks[ps.pos]
	if tok.Type != EOF {
		ps.pos++
	}
	return tok
}

func (ps *parseState) errorf(pos Position, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Rule: ps.rule, Msg: fmt.Sprintf(format, args...)}
}

func (ps *parseState) unexpected(want string) *SyntaxError {
	tok := ps.cur()
	if tok.Type == Illegal {
		return ps.errorf(tok.Pos, "%s", tok.Text)
	}
	return ps.errorf(tok.Pos, "expected %s, found %s", want, tok)
}

func (ps *parseState) expect(tt TokenType) (Token, error) {
	if ps.cur().Type != tt {
		return Token{}, ps.unexpected(tt.String())
	}
	return ps.next(), nil
}

// skipRule skips to the next 'rule' keyword, always consuming at least one token
func (ps *parseState) skipRule() {
	ps.rule = ""
	ps.next()
	for ps.cur().Type != EOF && ps.cur().Type != Rule {
		ps.next()
	}
}

func (ps *parseState) parseRule() (*rules.Rule, error) {
	ps.rule = ""
	if _, err := ps.expect(Rule); err != nil {
		return nil, err
	}
	name, err := ps.expect(Ident)
	if err != nil {
		return nil, err
	}
	ps.rule = name.Text

	var description string
	if ps.cur().Type == String {
		description = ps.next().Text
	}

	salience := 0
	if ps.cur().Type == Salience {
		ps.next()
		if salience, err = ps.parseSalience(); err != nil {
			return nil, err
		}
	}

	if _, err := ps.expect(LBrace); err != nil {
		return nil, err
	}
	if _, err := ps.expect(When); err != nil {
		return nil, err
	}
	condition, err := ps.parseExpr(rules.PrecOr)
	if err != nil {
		return nil, err
	}
	if _, err := ps.expect(Then); err != nil {
		return nil, err
	}

	var actions []rules.Expression
	for ps.cur().Type != RBrace {
		if ps.cur().Type == EOF {
			return nil, ps.unexpected("'}'")
		}
		action, err := ps.parseAction()
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	closing := ps.next()
	if len(actions) == 0 {
		return nil, ps.errorf(closing.Pos, "rule has no actions")
	}

	r := rules.NewRule(name.Text, salience, condition, actions).WithDescription(description)
	if err := r.Validate(); err != nil {
		return nil, ps.errorf(name.Pos, "%v", err)
	}
	return r, nil
}

func (ps *parseState) parseSalience() (int, error) {
	negative := false
	if ps.cur().Type == Minus {
		ps.next()
		negative = true
	}
	tok, err := ps.expect(Number)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok.Text)
	if err != nil {
		return 0, ps.errorf(tok.Pos, "salience must be an integer, found %s", tok.Text)
	}
	if negative {
		n = -n
	}
	return n, nil
}

// parseAction parses `expr ;` or `target = expr ;`
func (ps *parseState) parseAction() (rules.Expression, error) {
	start := ps.cur().Pos
	lhs, err := ps.parseExpr(rules.PrecOr)
	if err != nil {
		return nil, err
	}
	action := lhs
	if ps.cur().Type == Assign {
		ps.next()
		if !rules.IsAssignable(lhs) {
			return nil, ps.errorf(start, "cannot assign to %s", lhs)
		}
		value, err := ps.parseExpr(rules.PrecOr)
		if err != nil {
			return nil, err
		}
		action = rules.Assign(lhs, value)
	}
	if _, err := ps.expect(Semicolon); err != nil {
		return nil, err
	}
	return action, nil
}

var binaryOps = map[TokenType]rules.BinaryOperator{
	Or:           rules.OpOr,
	And:          rules.OpAnd,
	Equal:        rules.OpEqual,
	NotEqual:     rules.OpNotEqual,
	Less:         rules.OpLessThan,
	LessEqual:    rules.OpLessEqual,
	Greater:      rules.OpGreaterThan,
	GreaterEqual: rules.OpGreaterEqual,
	Plus:         rules.OpAdd,
	Minus:        rules.OpSubtract,
	Star:         rules.OpMultiply,
	Slash:        rules.OpDivide,
}

// parseExpr is a precedence climber; all binary operators are left-associative.
func (ps *parseState) parseExpr(minPrec int) (rules.Expression, error) {
	left, err := ps.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := binaryOps[ps.cur().Type]
		if !ok || op.Precedence() < minPrec {
			return left, nil
		}
		ps.next()
		right, err := ps.parseExpr(op.Precedence() + 1)
		if err != nil {
			return nil, err
		}
		left = rules.Binary(op, left, right)
	}
}

func (ps *parseState) parseUnary() (rules.Expression, error) {
	switch ps.cur().Type {
	case Bang:
		ps.next()
		operand, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		return rules.Not(operand), nil
	case Minus:
		ps.next()
		if ps.cur().Type == Number {
			lit, err := ps.parseNumber()
			if err != nil {
				return nil, err
			}
			lit.Value = -lit.Value
			return ps.parsePostfix(lit)
		}
		operand, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		return &rules.UnaryOp{Op: rules.OpNegate, Operand: operand}, nil
	}
	primary, err := ps.parsePrimary()
	if err != nil {
		return nil, err
	}
	return ps.parsePostfix(primary)
}

func (ps *parseState) parsePostfix(base rules.Expression) (rules.Expression, error) {
	for {
		switch ps.cur().Type {
		case Dot:
			ps.next()
			field, err := ps.expect(Ident)
			if err != nil {
				return nil, err
			}
			base = rules.Field(base, field.Text)
		case LBracket:
			ps.next()
			index, err := ps.parseExpr(rules.PrecOr)
			if err != nil {
				return nil, err
			}
			if _, err := ps.expect(RBracket); err != nil {
				return nil, err
			}
			base = rules.Index(base, index)
		default:
			return base, nil
		}
	}
}

func (ps *parseState) parsePrimary() (rules.Expression, error) {
	tok := ps.cur()
	switch tok.Type {
	case Number:
		return ps.parseNumber()
	case String:
		ps.next()
		return rules.Str(tok.Text), nil
	case True, False:
		ps.next()
		return rules.Boolean(tok.Type == True), nil
	case Null:
		ps.next()
		return &rules.NullLiteral{}, nil
	case Ident:
		ps.next()
		return rules.Var(tok.Text), nil
	case LParen:
		ps.next()
		inner, err := ps.parseExpr(rules.PrecOr)
		if err != nil {
			return nil, err
		}
		if _, err := ps.expect(RParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, ps.unexpected("expression")
}

func (ps *parseState) parseNumber() (*rules.NumberLiteral, error) {
	tok := ps.next()
	v, err := strconv.ParseFloat(tok.Text, 64)
	if err != nil {
		return nil, ps.errorf(tok.Pos, "invalid number %s", tok.Text)
	}
	return rules.Num(v), nil
}
