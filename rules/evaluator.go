package rules

import (
	"math"
)

// Evaluate computes the value of expr against facts. It never mutates facts.
func Evaluate(expr Expression, facts *FactStore) (Value, error) {
	switch n := expr.(type) {
	case *NumberLiteral:
		return Number(n.Value), nil
	case *StringLiteral:
		return String(n.Value), nil
	case *BoolLiteral:
		return Bool(n.Value), nil
	case *NullLiteral:
		return Null{}, nil
	case *Variable:
		v, ok := facts.Value(n.Name)
		if !ok {
			return nil, evalErrorf(ErrUnknownVariable, n, "fact %q is not defined", n.Name)
		}
		return v, nil
	case *FieldAccess:
		base, err := Evaluate(n.Base, facts)
		if err != nil {
			return nil, err
		}
		v, err := GetField(base, n.Field)
		if err != nil {
			return nil, withExpr(err, n)
		}
		return v, nil
	case *ArrayIndex:
		base, err := Evaluate(n.Base, facts)
		if err != nil {
			return nil, err
		}
		if _, ok := base.(Array); !ok {
			return nil, evalErrorf(ErrTypeMismatch, n, "cannot index %s", kindOf(base))
		}
		idx, err := evaluateIndex(n, facts)
		if err != nil {
			return nil, err
		}
		v, err := GetIndex(base, idx)
		if err != nil {
			return nil, withExpr(err, n)
		}
		return v, nil
	case *BinaryOp:
		return evaluateBinary(n, facts)
	case *UnaryOp:
		return evaluateUnary(n, facts)
	case *Assignment:
		return nil, evalErrorf(ErrInvalidAssignment, n, "assignment is only allowed as an action")
	case nil:
		return nil, evalErrorf(ErrInvalidRule, nil, "missing expression")
	}
	return nil, evalErrorf(ErrInvalidRule, expr, "unsupported expression %T", expr)
}

// Apply executes an action. Assignments write through FactStore.Set; any other
// expression is evaluated and its value discarded.
func Apply(action Expression, facts *FactStore) error {
	assign, ok := action.(*Assignment)
	if !ok {
		_, err := Evaluate(action, facts)
		return err
	}

	value, err := Evaluate(assign.Value, facts)
	if err != nil {
		return err
	}

	root, chain, ok := assignmentPath(assign.Target)
	if !ok {
		return evalErrorf(ErrInvalidAssignment, assign, "cannot assign to %s", assign.Target)
	}

	if len(chain) == 0 {
		facts.Set(root, Clone(value))
		return nil
	}

	current, exists := facts.Value(root)
	if !exists {
		return evalErrorf(ErrUnknownVariable, assign, "fact %q is not defined", root)
	}

	// Work on a copy of the root so the store sees a single Set.
	updated := Clone(current)
	if err := writePath(updated, chain, Clone(value), facts); err != nil {
		return err
	}
	facts.Set(root, updated)
	return nil
}

// writePath walks chain from container and stores value at its last step.
// Intermediate containers must already exist.
func writePath(container Value, chain []Expression, value Value, facts *FactStore) error {
	for i, step := range chain {
		last := i == len(chain)-1
		switch s := step.(type) {
		case *FieldAccess:
			obj, ok := container.(Object)
			if !ok {
				return evalErrorf(ErrTypeMismatch, s, "cannot set field %q on %s", s.Field, kindOf(container))
			}
			if last {
				obj[s.Field] = value
				return nil
			}
			next, exists := obj[s.Field]
			if !exists {
				return evalErrorf(ErrFieldNotFound, s, "field %q not found", s.Field)
			}
			container = next
		case *ArrayIndex:
			arr, ok := container.(Array)
			if !ok {
				return evalErrorf(ErrTypeMismatch, s, "cannot index %s", kindOf(container))
			}
			idx, err := evaluateIndex(s, facts)
			if err != nil {
				return err
			}
			if idx < 0 || idx >= len(arr) {
				return evalErrorf(ErrIndexOutOfRange, s, "index %d out of range [0, %d)", idx, len(arr))
			}
			if last {
				arr[idx] = value
				return nil
			}
			container = arr[idx]
		default:
			return evalErrorf(ErrInvalidAssignment, step, "cannot assign through %s", step)
		}
	}
	return nil
}

func evaluateIndex(n *ArrayIndex, facts *FactStore) (int, error) {
	raw, err := Evaluate(n.Index, facts)
	if err != nil {
		return 0, err
	}
	num, ok := raw.(Number)
	if !ok {
		return 0, evalErrorf(ErrTypeMismatch, n, "array index must be a number, got %s", kindOf(raw))
	}
	f := float64(num)
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, evalErrorf(ErrTypeMismatch, n, "array index must be an integer, got %s", num)
	}
	if f < 0 || f > math.MaxInt32 {
		return 0, evalErrorf(ErrIndexOutOfRange, n, "index %s out of range", num)
	}
	return int(f), nil
}

func evaluateBinary(n *BinaryOp, facts *FactStore) (Value, error) {
	left, err := Evaluate(n.Left, facts)
	if err != nil {
		return nil, err
	}

	// && and || decide on the left operand alone when they can; the right
	// operand may reference facts that only exist when the left one holds.
	if n.Op == OpAnd || n.Op == OpOr {
		lb, ok := left.(Bool)
		if !ok {
			return nil, evalErrorf(ErrTypeMismatch, n, "%s requires bool operands, got %s", n.Op, kindOf(left))
		}
		if n.Op == OpAnd && !bool(lb) {
			return Bool(false), nil
		}
		if n.Op == OpOr && bool(lb) {
			return Bool(true), nil
		}
		right, err := Evaluate(n.Right, facts)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(Bool)
		if !ok {
			return nil, evalErrorf(ErrTypeMismatch, n, "%s requires bool operands, got %s", n.Op, kindOf(right))
		}
		return rb, nil
	}

	right, err := Evaluate(n.Right, facts)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case OpEqual:
		return Bool(Equal(left, right)), nil
	case OpNotEqual:
		return Bool(!Equal(left, right)), nil
	case OpAdd:
		if ls, ok := left.(String); ok {
			if rs, ok := right.(String); ok {
				return ls + rs, nil
			}
		}
	}

	ln, lok := left.(Number)
	rn, rok := right.(Number)
	if !lok || !rok {
		return nil, evalErrorf(ErrTypeMismatch, n, "cannot apply %s to %s and %s", n.Op, kindOf(left), kindOf(right))
	}

	switch n.Op {
	case OpAdd:
		return ln + rn, nil
	case OpSubtract:
		return ln - rn, nil
	case OpMultiply:
		return ln * rn, nil
	case OpDivide:
		if rn == 0 {
			return nil, evalErrorf(ErrDivisionByZero, n, "%s / 0", ln)
		}
		return ln / rn, nil
	case OpLessThan:
		return Bool(ln < rn), nil
	case OpLessEqual:
		return Bool(ln <= rn), nil
	case OpGreaterThan:
		return Bool(ln > rn), nil
	case OpGreaterEqual:
		return Bool(ln >= rn), nil
	}
	return nil, evalErrorf(ErrInvalidRule, n, "unknown operator %d", int(n.Op))
}

func evaluateUnary(n *UnaryOp, facts *FactStore) (Value, error) {
	operand, err := Evaluate(n.Operand, facts)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case OpNot:
		b, ok := operand.(Bool)
		if !ok {
			return nil, evalErrorf(ErrTypeMismatch, n, "! requires a bool operand, got %s", kindOf(operand))
		}
		return !b, nil
	case OpNegate:
		num, ok := operand.(Number)
		if !ok {
			return nil, evalErrorf(ErrTypeMismatch, n, "unary - requires a number operand, got %s", kindOf(operand))
		}
		return -num, nil
	}
	return nil, evalErrorf(ErrInvalidRule, n, "unknown unary operator %d", int(n.Op))
}

// withExpr attaches the failing node to an EvalError raised by a helper.
func withExpr(err error, expr Expression) error {
	if ee, ok := err.(*EvalError); ok && ee.Expr == nil {
		return &EvalError{Kind: ee.Kind, Expr: expr, Message: ee.Message}
	}
	return err
}
