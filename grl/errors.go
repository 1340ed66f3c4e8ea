package grl

import (
	"errors"
	"fmt"
)

// ErrSyntax is wrapped by every SyntaxError
var ErrSyntax = errors.New("syntax error")

// SyntaxError reports malformed GRL text
type SyntaxError struct {
	Pos  Position
	Rule string // enclosing rule name, empty when not yet known
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s: syntax error in rule %s: %s", e.Pos, e.Rule, e.Msg)
	}
	return fmt.Sprintf("%s: syntax error: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}
