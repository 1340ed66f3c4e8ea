package grl

import "fmt"

// TokenType identifies the lexical class of a token
type TokenType int

const (
	EOF TokenType = iota
	Illegal // Text holds the lexer's message
	Ident
	Number
	String

	// keywords
	Rule
	When
	Then
	Salience
	True
	False
	Null

	// operators
	And          // &&
	Or           // ||
	Equal        // ==
	NotEqual     // !=
	LessEqual    // <=
	GreaterEqual // >=
	Less         // <
	Greater      // >
	Plus         // +
	Minus        // -
	Star         // *
	Slash        // /
	Assign       // =
	Bang         // !
	Dot          // .

	// punctuation
	LBracket // [
	RBracket // ]
	LParen   // (
	RParen   // )
	LBrace   // {
	RBrace   // }
	Semicolon
)

var tokenNames = map[TokenType]string{
	EOF:          "end of input",
	Illegal:      "illegal token",
	Ident:        "identifier",
	Number:       "number",
	String:       "string",
	Rule:         "'rule'",
	When:         "'when'",
	Then:         "'then'",
	Salience:     "'salience'",
	True:         "'true'",
	False:        "'false'",
	Null:         "'null'",
	And:          "'&&'",
	Or:           "'||'",
	Equal:        "'=='",
	NotEqual:     "'!='",
	LessEqual:    "'<='",
	GreaterEqual: "'>='",
	Less:         "'<'",
	Greater:      "'>'",
	Plus:         "'+'",
	Minus:        "'-'",
	Star:         "'*'",
	Slash:        "'/'",
	Assign:       "'='",
	Bang:         "'!'",
	Dot:          "'.'",
	LBracket:     "'['",
	RBracket:     "']'",
	LParen:       "'('",
	RParen:       "')'",
	LBrace:       "'{'",
	RBrace:       "'}'",
	Semicolon:    "';'",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

var keywords = map[string]TokenType{
	"rule":     Rule,
	"when":     When,
	"then":     Then,
	"salience": Salience,
	"true":     True,
	"false":    False,
	"null":     Null,
}

// Position is a 1-based line and column in the source text
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical unit. Text holds the decoded value for strings and the
// literal source text for everything else.
type Token struct {
	Type TokenType
	Text string
	Pos  Position
}

func (t Token) String() string {
	switch t.Type {
	case Ident, Number:
		return fmt.Sprintf("%s %q", t.Type, t.Text)
	case String:
		return fmt.Sprintf("string %q", t.Text)
	}
	return t.Type.String()
}
