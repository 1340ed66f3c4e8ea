package grl

import (
	"strings"
	"unicode/utf8"
)

// Lexer splits GRL text into tokens. Whitespace, // line comments and /* */
// block comments are skipped. Lexical errors surface as Illegal tokens so the
// parser can report them with a position.
type Lexer struct {
	src  string
	off  int
	line int
	col  int
}

// NewLexer creates a lexer over src
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Tokenize lexes the whole input. The last token is always EOF.
func Tokenize(src string) []Token {
	lx := NewLexer(src)
	var toks []Token
	for {
		tok := lx.Next()
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks
		}
	}
}

func (lx *Lexer) peekByte(ahead int) byte {
	if lx.off+ahead >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off+ahead]
}

func (lx *Lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
	lx.off += size
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *Lexer) pos() Position {
	return Position{Line: lx.line, Column: lx.col}
}

// skip consumes whitespace and comments. An unterminated block comment is
// reported as an Illegal token.
func (lx *Lexer) skip() *Token {
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance()
		case c == '/' && lx.peekByte(1) == '/':
			for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
				lx.advance()
			}
		case c == '/' && lx.peekByte(1) == '*':
			start := lx.pos()
			lx.advance()
			lx.advance()
			closed := false
			for lx.off < len(lx.src) {
				if lx.src[lx.off] == '*' && lx.peekByte(1) == '/' {
					lx.advance()
					lx.advance()
					closed = true
					break
				}
				lx.advance()
			}
			if !closed {
				return &Token{Type: Illegal, Text: "unterminated block comment", Pos: start}
			}
		default:
			return nil
		}
	}
	return nil
}

// Next returns the next token
func (lx *Lexer) Next() Token {
	if bad := lx.skip(); bad != nil {
		return *bad
	}
	start := lx.pos()
	if lx.off >= len(lx.src) {
		return Token{Type: EOF, Pos: start}
	}

	c := lx.src[lx.off]
	switch {
	case isIdentStart(c):
		begin := lx.off
		for lx.off < len(lx.src) && isIdentPart(lx.src[lx.off]) {
			lx.advance()
		}
		text := lx.src[begin:lx.off]
		if kw, ok := keywords[text]; ok {
			return Token{Type: kw, Text: text, Pos: start}
		}
		return Token{Type: Ident, Text: text, Pos: start}

	case isDigit(c):
		begin := lx.off
		for lx.off < len(lx.src) && isDigit(lx.src[lx.off]) {
			lx.advance()
		}
		if lx.peekByte(0) == '.' && isDigit(lx.peekByte(1)) {
			lx.advance()
			for lx.off < len(lx.src) && isDigit(lx.src[lx.off]) {
				lx.advance()
			}
		}
		return Token{Type: Number, Text: lx.src[begin:lx.off], Pos: start}

	case c == '"':
		return lx.lexString(start)
	}

	two := ""
	if lx.off+1 < len(lx.src) {
		two = lx.src[lx.off : lx.off+2]
	}
	if tt, ok := twoCharOps[two]; ok {
		lx.advance()
		lx.advance()
		return Token{Type: tt, Text: two, Pos: start}
	}
	if tt, ok := oneCharOps[c]; ok {
		lx.advance()
		return Token{Type: tt, Text: string(c), Pos: start}
	}

	r := lx.advance()
	if c == '&' || c == '|' {
		return Token{Type: Illegal, Text: "expected '" + strings.Repeat(string(c), 2) + "'", Pos: start}
	}
	return Token{Type: Illegal, Text: "unexpected character " + quoteRune(r), Pos: start}
}

func (lx *Lexer) lexString(start Position) Token {
	lx.advance() // opening quote
	var sb strings.Builder
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		switch c {
		case '"':
			lx.advance()
			return Token{Type: String, Text: sb.String(), Pos: start}
		case '\\':
			lx.advance()
			if lx.off >= len(lx.src) {
				break
			}
			esc := lx.advance()
			switch esc {
			case '"', '\\':
				sb.WriteRune(esc)
			default:
				return Token{Type: Illegal, Text: "unknown escape sequence \\" + string(esc), Pos: start}
			}
		case '\n':
			return Token{Type: Illegal, Text: "newline in string literal", Pos: start}
		default:
			sb.WriteRune(lx.advance())
		}
	}
	return Token{Type: Illegal, Text: "unterminated string literal", Pos: start}
}

var twoCharOps = map[string]TokenType{
	"&&": And,
	"||": Or,
	"==": Equal,
	"!=": NotEqual,
	"<=": LessEqual,
	">=": GreaterEqual,
}

var oneCharOps = map[byte]TokenType{
	'<': Less,
	'>': Greater,
	'+': Plus,
	'-': Minus,
	'*': Star,
	'/': Slash,
	'=': Assign,
	'!': Bang,
	'.': Dot,
	'[': LBracket,
	']': RBracket,
	'(': LParen,
	')': RParen,
	'{': LBrace,
	'}': RBrace,
	';': Semicolon,
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func quoteRune(r rune) string {
	if r == utf8.RuneError {
		return "(invalid UTF-8)"
	}
	return "'" + string(r) + "'"
}
