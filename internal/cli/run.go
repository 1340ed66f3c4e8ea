package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/grl/internal/logger"
	"github.com/liamcoop/grl/rules"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	FactsFile     string
	MaxIterations int
}

// RunResult is the JSON output of the run command.
type RunResult struct {
	RulesFired           []string       `json:"rules_fired"`
	Iterations           int            `json:"iterations"`
	MaxIterationsReached bool           `json:"max_iterations_reached"`
	FactsModified        []string       `json:"facts_modified"`
	Errors               []string       `json:"errors,omitempty"`
	DurationMs           int64          `json:"duration_ms"`
	Facts                map[string]any `json:"facts"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <file.grl>",
		Short: "Execute rules against a facts file",
		Long: `Parse the rules in a .grl file and run them to a fixed point against the
facts in a YAML or JSON file. The final facts are printed.

Exits 1 when a rule failed to evaluate or the iteration bound was reached.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.FactsFile, "facts", "f", "", "YAML or JSON facts file")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", rules.DefaultMaxIterations, "maximum number of passes")

	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, path string) error {
	f := newFormatter(rootOpts, cmd)

	rf, err := LoadRuleFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeIO, "cannot read rules", err, nil)
	}
	if len(rf.Errors) > 0 {
		return f.Fail(ExitFailure, ErrCodeSyntax, fmt.Sprintf("%d rule(s) failed to parse", len(rf.Errors)), nil, rf.ErrorStrings())
	}

	native := map[string]any{}
	if opts.FactsFile != "" {
		native, err = LoadFacts(opts.FactsFile)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeIO, "cannot read facts", err, nil)
		}
	}
	facts, err := rules.FactStoreFromNative(native)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeFacts, "unsupported fact value", err, []string{err.Error()})
	}

	engine := rules.NewRuleEngine(
		rules.WithMaxIterations(opts.MaxIterations),
		rules.WithLogger(logger.Logger.With("file", path)),
	)
	for _, r := range rf.Rules {
		if err := engine.AddRule(r); err != nil {
			return f.Fail(ExitFailure, ErrCodeRejected, "rule rejected", err, []string{err.Error()})
		}
	}
	f.VerboseLog("loaded %d rule(s) from %s", len(rf.Rules), path)

	result, err := engine.Execute(facts)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeIncomplete, "execution failed", err, nil)
	}

	out := RunResult{
		RulesFired:           result.RulesFired,
		Iterations:           result.Iterations,
		MaxIterationsReached: result.MaxIterationsReached,
		FactsModified:        result.FactsModified,
		DurationMs:           result.Duration.Milliseconds(),
		Facts:                facts.ToNative(),
	}
	for _, e := range result.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	if out.FactsModified == nil {
		out.FactsModified = []string{}
	}

	text, err := formatRunText(out, result.Duration)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeIO, "cannot render facts", err, nil)
	}
	if err := f.Success(out, text); err != nil {
		return err
	}

	if runErr := result.Err(); runErr != nil {
		return WrapExitError(ExitFailure, ErrCodeIncomplete+": execution incomplete", runErr)
	}
	return nil
}

func formatRunText(out RunResult, d time.Duration) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Iterations: %d (%s)\n", out.Iterations, d.Round(time.Microsecond))
	if out.MaxIterationsReached {
		sb.WriteString("Stopped: maximum iterations reached\n")
	}
	if len(out.RulesFired) == 0 {
		sb.WriteString("Rules fired: none\n")
	} else {
		fmt.Fprintf(&sb, "Rules fired: %s\n", strings.Join(out.RulesFired, ", "))
	}
	if len(out.FactsModified) > 0 {
		modified := append([]string(nil), out.FactsModified...)
		sort.Strings(modified)
		fmt.Fprintf(&sb, "Facts modified: %s\n", strings.Join(modified, ", "))
	}
	if len(out.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range out.Errors {
			fmt.Fprintf(&sb, "  %s\n", e)
		}
	}

	if len(out.Facts) > 0 {
		data, err := yaml.Marshal(out.Facts)
		if err != nil {
			return "", err
		}
		sb.WriteString("Facts:\n")
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}
	return sb.String(), nil
}
