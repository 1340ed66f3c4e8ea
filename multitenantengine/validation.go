package multitenantengine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrInvalidSchema wraps schema validation failures reported by the Manager
	ErrInvalidSchema = errors.New("invalid schema")
	ErrInvalidTenant = errors.New("invalid tenant")
)

// Schema declares the facts a tenant's rules may read and write, mapping each
// fact name to one of the type names below.
type Schema map[string]string

// Fact type names accepted in a Schema
const (
	TypeNumber = "number"
	TypeString = "string"
	TypeBool   = "bool"
	TypeObject = "object"
	TypeArray  = "array"
	TypeAny    = "any"
)

const (
	maxSchemaFacts    = 100
	maxIdentifierSize = 100
)

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	validFactTypes = map[string]bool{
		TypeNumber: true,
		TypeString: true,
		TypeBool:   true,
		TypeObject: true,
		TypeArray:  true,
		TypeAny:    true,
	}

	// GRL keywords plus the words CEL reserves; a fact named after either
	// could not be referenced from a rule or from its checked form.
	reservedKeywords = map[string]bool{
		"rule": true, "when": true, "then": true, "salience": true,
		"true": true, "false": true, "null": true,
		"in": true, "as": true, "break": true, "const": true, "continue": true,
		"else": true, "for": true, "function": true, "if": true, "import": true,
		"let": true, "loop": true, "package": true, "namespace": true, "return": true,
		"var": true, "void": true, "while": true,
	}
)

// Names returns the declared fact names in sorted order
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSchema returns an error describing the first problem found, or nil
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must declare at least one fact")
	}

	if len(schema) > maxSchemaFacts {
		return fmt.Errorf("schema declares %d facts, maximum allowed is %d", len(schema), maxSchemaFacts)
	}

	// Sorted so the reported problem is stable across runs.
	for _, name := range schema.Names() {
		typeName := schema[name]

		if err := validateIdentifier(name); err != nil {
			return fmt.Errorf("invalid fact name %q: %w", name, err)
		}

		if typeName == "" {
			return fmt.Errorf("fact %q has empty type name", name)
		}

		if strings.TrimSpace(typeName) != typeName {
			return fmt.Errorf("fact %q has type with leading/trailing whitespace: %q", name, typeName)
		}

		if !validFactTypes[typeName] {
			return fmt.Errorf("fact %q has invalid type %q (must be one of: number, string, bool, object, array, any)", name, typeName)
		}
	}

	return nil
}

// validateIdentifier checks length, shape and reserved words
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierSize {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierSize)
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if reservedKeywords[name] {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}
