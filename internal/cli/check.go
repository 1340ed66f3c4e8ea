package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/grl/multitenantengine"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	SchemaFile string
}

// CheckResult is the JSON output of the check command.
type CheckResult struct {
	File  string   `json:"file"`
	Rules []string `json:"rules"`
	Valid bool     `json:"valid"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check <file.grl>",
		Short: "Parse rules and optionally type-check them against a schema",
		Long: `Parse every rule in a .grl file and validate its structure.

With --schema, each rule is also type-checked against the declared facts,
the same check the server applies before admitting a rule.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.SchemaFile, "schema", "s", "", "YAML or JSON schema file (fact name to type)")

	return cmd
}

func runCheck(cmd *cobra.Command, rootOpts *RootOptions, opts *CheckOptions, path string) error {
	f := newFormatter(rootOpts, cmd)

	rf, err := LoadRuleFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeIO, "cannot read rules", err, nil)
	}
	if len(rf.Errors) > 0 {
		return f.Fail(ExitFailure, ErrCodeSyntax, fmt.Sprintf("%d rule(s) failed to parse", len(rf.Errors)), nil, rf.ErrorStrings())
	}

	var problems []string
	seen := make(map[string]bool, len(rf.Rules))
	for _, r := range rf.Rules {
		if seen[r.Name] {
			problems = append(problems, fmt.Sprintf("rule %s: duplicate name", r.Name))
		}
		seen[r.Name] = true
		if err := r.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if opts.SchemaFile != "" && len(problems) == 0 {
		schema, err := LoadSchema(opts.SchemaFile)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeIO, "cannot load schema", err, nil)
		}
		env, err := multitenantengine.CreateCELEnvFromSchema(schema)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeIO, "cannot build type environment", err, nil)
		}
		f.VerboseLog("checking %d rule(s) against %d declared fact(s)", len(rf.Rules), len(schema))
		for _, r := range rf.Rules {
			if err := multitenantengine.CheckRule(env, schema, r); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}

	if len(problems) > 0 {
		return f.Fail(ExitFailure, ErrCodeRejected, fmt.Sprintf("%d problem(s) found", len(problems)), nil, problems)
	}

	names := make([]string, len(rf.Rules))
	for i, r := range rf.Rules {
		names[i] = r.Name
	}
	text := fmt.Sprintf("%s: %d rule(s) OK\n", path, len(names))
	if rootOpts.Verbose && len(names) > 0 {
		text += "  " + strings.Join(names, "\n  ") + "\n"
	}
	return f.Success(CheckResult{File: path, Rules: names, Valid: true}, text)
}
