package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestExpressionString verifies minimal parenthesization when printing
func TestExpressionString(t *testing.T) {
	testCases := []struct {
		expr Expression
		want string
	}{
		{Binary(OpGreaterThan, Var("x"), Num(5)), "x > 5"},
		{Binary(OpMultiply, Binary(OpAdd, Var("a"), Var("b")), Var("c")), "(a + b) * c"},
		{Binary(OpAdd, Var("a"), Binary(OpMultiply, Var("b"), Var("c"))), "a + b * c"},
		{Binary(OpSubtract, Var("a"), Binary(OpSubtract, Var("b"), Var("c"))), "a - (b - c)"},
		{Binary(OpSubtract, Binary(OpSubtract, Var("a"), Var("b")), Var("c")), "a - b - c"},
		{Binary(OpOr, Binary(OpAnd, Var("a"), Var("b")), Var("c")), "a && b || c"},
		{Binary(OpAnd, Var("a"), Binary(OpOr, Var("b"), Var("c"))), "a && (b || c)"},
		{Not(Binary(OpEqual, Var("a"), Num(1))), "!(a == 1)"},
		{Not(Field(Var("user"), "active")), "!user.active"},
		{&UnaryOp{Op: OpNegate, Operand: Num(5)}, "-(5)"},
		{&UnaryOp{Op: OpNegate, Operand: Var("x")}, "-x"},
		{Binary(OpSubtract, Var("a"), Num(-2)), "a - -2"},
		{Field(Index(Var("items"), Num(0)), "price"), "items[0].price"},
		{Assign(Field(Var("order"), "total"), Str(`a "b"`)), `order.total = "a \"b\""`},
		{&NullLiteral{}, "null"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.expr.String(); got != tc.want {
				t.Errorf("String() = %s, want %s", got, tc.want)
			}
		})
	}
}

// TestConditionInputs verifies root fact names are collected once, sorted
func TestConditionInputs(t *testing.T) {
	expr := Binary(OpAnd,
		Binary(OpGreaterThan, Field(Var("user"), "age"), Var("limit")),
		Binary(OpEqual, Index(Var("items"), Var("i")), Field(Var("user"), "name")),
	)

	want := []string{"i", "items", "limit", "user"}
	if diff := cmp.Diff(want, ConditionInputs(expr)); diff != "" {
		t.Errorf("ConditionInputs() mismatch (-want +got):\n%s", diff)
	}
	if got := ConditionInputs(Boolean(true)); len(got) != 0 {
		t.Errorf("ConditionInputs(true) = %v, want none", got)
	}
}

// TestIsAssignable verifies which expressions may be assignment targets
func TestIsAssignable(t *testing.T) {
	testCases := []struct {
		name string
		expr Expression
		want bool
	}{
		{"variable", Var("x"), true},
		{"field", Field(Var("x"), "a"), true},
		{"index", Index(Field(Var("x"), "list"), Num(0)), true},
		{"literal", Num(1), false},
		{"binary", Binary(OpAdd, Var("a"), Var("b")), false},
		{"field of call result", Field(Binary(OpAdd, Var("a"), Var("b")), "c"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAssignable(tc.expr); got != tc.want {
				t.Errorf("IsAssignable(%s) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

// TestRuleString verifies the GRL rendering of a whole rule
func TestRuleString(t *testing.T) {
	r := NewRule("R", 10,
		Binary(OpGreaterThan, Var("x"), Num(5)),
		[]Expression{Assign(Var("y"), Num(10))},
	).WithDescription("threshold")

	want := "rule R \"threshold\" salience 10 {\n" +
		"    when\n" +
		"        x > 5\n" +
		"    then\n" +
		"        y = 10;\n" +
		"}\n"
	if got := r.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
}
