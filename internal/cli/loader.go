package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/grl/grl"
	"github.com/liamcoop/grl/multitenantengine"
	"github.com/liamcoop/grl/rules"
)

// RuleFile is the parsed content of a .grl file.
type RuleFile struct {
	Path   string
	Source string
	Rules  []*rules.Rule
	// Errors holds one entry per rule that failed to parse.
	Errors []error
}

// LoadRuleFile reads and parses path. Only I/O failures are returned as
// errors; syntax errors are collected in RuleFile.Errors.
func LoadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	rf := &RuleFile{Path: path, Source: string(data)}
	parsed, err := grl.NewParser().ParseRules(rf.Source)
	rf.Rules = parsed
	rf.Errors = splitErrors(err)
	return rf, nil
}

// ErrorStrings renders the parse errors prefixed with the file path.
func (rf *RuleFile) ErrorStrings() []string {
	out := make([]string, len(rf.Errors))
	for i, err := range rf.Errors {
		out[i] = fmt.Sprintf("%s:%v", rf.Path, err)
	}
	return out
}

// LoadFacts reads a YAML or JSON document whose top-level keys are fact names.
func LoadFacts(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts file: %w", err)
	}

	facts := map[string]any{}
	if err := yaml.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("failed to parse facts file: %w", err)
	}
	return facts, nil
}

// LoadSchema reads a YAML or JSON map of fact name to type and validates it.
func LoadSchema(path string) (multitenantengine.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var schema multitenantengine.Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if err := multitenantengine.ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
