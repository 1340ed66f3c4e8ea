package rules

import (
	"sort"
	"strings"
)

// Expression is a node of the rule AST. The set of node types is closed; nodes
// are never modified after construction.
type Expression interface {
	// String renders the node as GRL source.
	String() string
	expr()
}

type NumberLiteral struct {
	Value float64
}

type StringLiteral struct {
	Value string
}

type BoolLiteral struct {
	Value bool
}

type NullLiteral struct{}

// Variable references a fact by name.
type Variable struct {
	Name string
}

// FieldAccess reads Field from the Object that Base evaluates to.
type FieldAccess struct {
	Base  Expression
	Field string
}

// ArrayIndex reads element Index from the Array that Base evaluates to.
type ArrayIndex struct {
	Base  Expression
	Index Expression
}

// BinaryOp applies Op to Left and Right.
type BinaryOp struct {
	Op    BinaryOperator
	Left  Expression
	Right Expression
}

// UnaryOp applies Op to Operand.
type UnaryOp struct {
	Op      UnaryOperator
	Operand Expression
}

// Assignment writes Value to the location Target names. Target is a Variable,
// FieldAccess or ArrayIndex chain rooted at a Variable. Only legal as an action.
type Assignment struct {
	Target Expression
	Value  Expression
}

func (*NumberLiteral) expr() {}
func (*StringLiteral) expr() {}
func (*BoolLiteral) expr()   {}
func (*NullLiteral) expr()   {}
func (*Variable) expr()      {}
func (*FieldAccess) expr()   {}
func (*ArrayIndex) expr()    {}
func (*BinaryOp) expr()      {}
func (*UnaryOp) expr()       {}
func (*Assignment) expr()    {}

// BinaryOperator enumerates the binary operators.
type BinaryOperator int

const (
	OpAdd BinaryOperator = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessEqual
	OpGreaterThan
	OpGreaterEqual
	OpAnd
	OpOr
)

var binaryOpSymbols = map[BinaryOperator]string{
	OpAdd:          "+",
	OpSubtract:     "-",
	OpMultiply:     "*",
	OpDivide:       "/",
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpLessThan:     "<",
	OpLessEqual:    "<=",
	OpGreaterThan:  ">",
	OpGreaterEqual: ">=",
	OpAnd:          "&&",
	OpOr:           "||",
}

func (op BinaryOperator) String() string {
	if s, ok := binaryOpSymbols[op]; ok {
		return s
	}
	return "?"
}

// Precedence levels, low to high. The parser and the printer share them.
const (
	PrecOr = iota + 1
	PrecAnd
	PrecEquality
	PrecRelational
	PrecAdditive
	PrecMultiplicative
	PrecUnary
	PrecPostfix
)

// Precedence returns the binding strength of op.
func (op BinaryOperator) Precedence() int {
	switch op {
	case OpOr:
		return PrecOr
	case OpAnd:
		return PrecAnd
	case OpEqual, OpNotEqual:
		return PrecEquality
	case OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual:
		return PrecRelational
	case OpAdd, OpSubtract:
		return PrecAdditive
	case OpMultiply, OpDivide:
		return PrecMultiplicative
	}
	return 0
}

// UnaryOperator enumerates the prefix operators.
type UnaryOperator int

const (
	OpNot UnaryOperator = iota
	OpNegate
)

func (op UnaryOperator) String() string {
	switch op {
	case OpNot:
		return "!"
	case OpNegate:
		return "-"
	}
	return "?"
}

// Constructors keep hand-built ASTs short.

func Num(v float64) *NumberLiteral { return &NumberLiteral{Value: v} }
func Str(v string) *StringLiteral  { return &StringLiteral{Value: v} }
func Boolean(v bool) *BoolLiteral  { return &BoolLiteral{Value: v} }
func Var(name string) *Variable    { return &Variable{Name: name} }

func Field(base Expression, field string) *FieldAccess {
	return &FieldAccess{Base: base, Field: field}
}

func Index(base, index Expression) *ArrayIndex {
	return &ArrayIndex{Base: base, Index: index}
}

func Binary(op BinaryOperator, left, right Expression) *BinaryOp {
	return &BinaryOp{Op: op, Left: left, Right: right}
}

func Not(operand Expression) *UnaryOp {
	return &UnaryOp{Op: OpNot, Operand: operand}
}

func Assign(target, value Expression) *Assignment {
	return &Assignment{Target: target, Value: value}
}

func (e *NumberLiteral) String() string { return formatNumber(e.Value) }
func (e *StringLiteral) String() string { return quote(e.Value) }
func (e *NullLiteral) String() string   { return "null" }
func (e *Variable) String() string      { return e.Name }

func (e *BoolLiteral) String() string {
	if e.Value {
		return "true"
	}
	return "false"
}

func (e *FieldAccess) String() string {
	return wrap(e.Base, PrecPostfix) + "." + e.Field
}

func (e *ArrayIndex) String() string {
	return wrap(e.Base, PrecPostfix) + "[" + e.Index.String() + "]"
}

func (e *BinaryOp) String() string {
	prec := e.Op.Precedence()
	// Operators are left-associative, so an equal-precedence right operand
	// needs parentheses to keep its grouping.
	return wrap(e.Left, prec) + " " + e.Op.String() + " " + wrap(e.Right, prec+1)
}

func (e *UnaryOp) String() string {
	operand := wrap(e.Operand, PrecUnary)
	if e.Op == OpNegate {
		// "-5" would read back as a negative literal
		if _, lit := e.Operand.(*NumberLiteral); lit || strings.HasPrefix(operand, "-") {
			return "-(" + operand + ")"
		}
	}
	return e.Op.String() + operand
}

func (e *Assignment) String() string {
	return e.Target.String() + " = " + e.Value.String()
}

// precedence of a node as an operand.
func precedence(e Expression) int {
	switch n := e.(type) {
	case *BinaryOp:
		return n.Op.Precedence()
	case *UnaryOp:
		return PrecUnary
	case *NumberLiteral:
		if n.Value < 0 {
			return PrecUnary
		}
		return PrecPostfix + 1
	case *Assignment:
		return 0
	default:
		return PrecPostfix + 1
	}
}

func wrap(e Expression, min int) string {
	if precedence(e) < min {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// Walk calls fn for e and every node beneath it in depth-first order. If fn
// returns false the children of that node are skipped.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *FieldAccess:
		Walk(n.Base, fn)
	case *ArrayIndex:
		Walk(n.Base, fn)
		Walk(n.Index, fn)
	case *BinaryOp:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *UnaryOp:
		Walk(n.Operand, fn)
	case *Assignment:
		Walk(n.Target, fn)
		Walk(n.Value, fn)
	}
}

// ConditionInputs returns the sorted, de-duplicated names of the facts an
// expression reads.
func ConditionInputs(e Expression) []string {
	seen := make(map[string]struct{})
	Walk(e, func(n Expression) bool {
		if v, ok := n.(*Variable); ok {
			seen[v.Name] = struct{}{}
		}
		return true
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// containsAssignment reports whether an Assignment appears anywhere in e.
func containsAssignment(e Expression) bool {
	found := false
	Walk(e, func(n Expression) bool {
		if _, ok := n.(*Assignment); ok {
			found = true
		}
		return !found
	})
	return found
}

// assignmentPath splits an assignment target into its root fact name and the
// accessor chain leading from the root to the written location.
func assignmentPath(target Expression) (string, []Expression, bool) {
	var chain []Expression
	cur := target
	for {
		switch n := cur.(type) {
		case *Variable:
			// chain was collected leaf-first
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			return n.Name, chain, true
		case *FieldAccess:
			chain = append(chain, n)
			cur = n.Base
		case *ArrayIndex:
			chain = append(chain, n)
			cur = n.Base
		default:
			return "", nil, false
		}
	}
}

// IsAssignable reports whether e may appear on the left of an assignment.
func IsAssignable(e Expression) bool {
	_, _, ok := assignmentPath(e)
	return ok
}
