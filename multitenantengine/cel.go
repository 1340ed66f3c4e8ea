package multitenantengine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/grl/rules"
)

// ErrRuleRejected wraps every admission failure reported by CheckRule
var ErrRuleRejected = errors.New("rule rejected")

// CreateCELEnvFromSchema creates a CEL environment declaring one variable per
// schema fact, typed after the fact's declared type
func CreateCELEnvFromSchema(schema Schema) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(schema))
	for _, name := range schema.Names() {
		opts = append(opts, cel.Variable(name, celType(schema[name])))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return env, nil
}

func celType(typeName string) *cel.Type {
	switch typeName {
	case TypeNumber:
		return cel.DoubleType
	case TypeString:
		return cel.StringType
	case TypeBool:
		return cel.BoolType
	case TypeObject:
		return cel.MapType(cel.StringType, cel.DynType)
	case TypeArray:
		return cel.ListType(cel.DynType)
	}
	return cel.DynType
}

// CheckRule type-checks a parsed rule against a tenant schema before it is
// admitted. The condition must produce a bool, every assignment must target a
// declared fact and every assigned value must type-check. A rule that passes
// can still fail at run time on missing fields or out-of-range indexes.
func CheckRule(env *cel.Env, schema Schema, r *rules.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrRuleRejected, err)
	}

	out, err := compile(env, r.Condition)
	if err != nil {
		return fmt.Errorf("%w: rule %s condition: %w", ErrRuleRejected, r.Name, err)
	}
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return fmt.Errorf("%w: rule %s condition has type %s, want bool", ErrRuleRejected, r.Name, out)
	}

	for i, action := range r.Actions {
		if err := checkAction(env, schema, action); err != nil {
			return fmt.Errorf("%w: rule %s action %d: %w", ErrRuleRejected, r.Name, i+1, err)
		}
	}
	return nil
}

func checkAction(env *cel.Env, schema Schema, action rules.Expression) error {
	assign, ok := action.(*rules.Assignment)
	if !ok {
		// A bare expression action is evaluated for its errors only.
		_, err := compile(env, action)
		return err
	}

	root := rootVariable(assign.Target)
	if root == nil {
		return fmt.Errorf("cannot assign to %s", assign.Target)
	}
	declared, ok := schema[root.Name]
	if !ok {
		return fmt.Errorf("assignment to undeclared fact %q", root.Name)
	}

	// Intermediate fields and indexes must type-check as reads.
	if _, isVar := assign.Target.(*rules.Variable); !isVar {
		if _, err := compile(env, assign.Target); err != nil {
			return err
		}
	}

	out, err := compile(env, assign.Value)
	if err != nil {
		return err
	}

	if _, isVar := assign.Target.(*rules.Variable); isVar && !out.IsExactType(cel.DynType) {
		want := celType(declared)
		if !want.IsAssignableType(out) {
			return fmt.Errorf("cannot assign %s to %s fact %q", out, declared, root.Name)
		}
	}
	return nil
}

func rootVariable(e rules.Expression) *rules.Variable {
	for {
		switch n := e.(type) {
		case *rules.Variable:
			return n
		case *rules.FieldAccess:
			e = n.Base
		case *rules.ArrayIndex:
			e = n.Base
		default:
			return nil
		}
	}
}

func compile(env *cel.Env, e rules.Expression) (*cel.Type, error) {
	src, err := toCEL(e)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	return ast.OutputType(), nil
}

// toCEL renders a GRL expression as CEL source with the same meaning. Every
// binary operation is parenthesized; numbers become double literals and
// indexes are converted to int.
func toCEL(e rules.Expression) (string, error) {
	var b strings.Builder
	if err := writeCEL(&b, e); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCEL(b *strings.Builder, e rules.Expression) error {
	switch n := e.(type) {
	case *rules.NumberLiteral:
		b.WriteString(celDouble(n.Value))
	case *rules.StringLiteral:
		b.WriteString(strconv.Quote(n.Value))
	case *rules.BoolLiteral:
		b.WriteString(strconv.FormatBool(n.Value))
	case *rules.NullLiteral:
		b.WriteString("null")
	case *rules.Variable:
		b.WriteString(n.Name)
	case *rules.FieldAccess:
		if err := writeCEL(b, n.Base); err != nil {
			return err
		}
		if reservedKeywords[n.Field] {
			b.WriteString("[" + strconv.Quote(n.Field) + "]")
		} else {
			b.WriteString("." + n.Field)
		}
	case *rules.ArrayIndex:
		if err := writeCEL(b, n.Base); err != nil {
			return err
		}
		b.WriteString("[int(")
		if err := writeCEL(b, n.Index); err != nil {
			return err
		}
		b.WriteString(")]")
	case *rules.BinaryOp:
		b.WriteString("(")
		if err := writeCEL(b, n.Left); err != nil {
			return err
		}
		b.WriteString(" " + n.Op.String() + " ")
		if err := writeCEL(b, n.Right); err != nil {
			return err
		}
		b.WriteString(")")
	case *rules.UnaryOp:
		b.WriteString(n.Op.String())
		if err := writeCEL(b, n.Operand); err != nil {
			return err
		}
	case *rules.Assignment:
		return fmt.Errorf("assignment %s is not an expression", n)
	default:
		return fmt.Errorf("unsupported expression %T", e)
	}
	return nil
}

func celDouble(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
