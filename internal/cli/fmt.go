package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/grl/rules"
)

// FmtOptions holds flags for the fmt command.
type FmtOptions struct {
	Write bool
}

// FmtResult is the JSON output of the fmt command.
type FmtResult struct {
	File    string `json:"file"`
	Changed bool   `json:"changed"`
	Source  string `json:"source"`
}

// NewFmtCommand creates the fmt command.
func NewFmtCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FmtOptions{}

	cmd := &cobra.Command{
		Use:           "fmt <file.grl>",
		Short:         "Print rules in canonical form",
		Long:          "Parse a .grl file and print every rule in canonical layout. Comments are not preserved.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFmt(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().BoolVarP(&opts.Write, "write", "w", false, "write the result back to the file")

	return cmd
}

func runFmt(cmd *cobra.Command, rootOpts *RootOptions, opts *FmtOptions, path string) error {
	f := newFormatter(rootOpts, cmd)

	rf, err := LoadRuleFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeIO, "cannot read rules", err, nil)
	}
	if len(rf.Errors) > 0 {
		return f.Fail(ExitFailure, ErrCodeSyntax, fmt.Sprintf("%d rule(s) failed to parse", len(rf.Errors)), nil, rf.ErrorStrings())
	}

	formatted := Format(rf.Rules)
	changed := formatted != rf.Source

	if opts.Write {
		if changed {
			if err := os.WriteFile(path, []byte(formatted), 0o644); err != nil {
				return f.Fail(ExitCommandError, ErrCodeIO, "cannot write file", err, nil)
			}
			f.VerboseLog("formatted %s", path)
		}
		text := ""
		if changed {
			text = path + "\n"
		}
		return f.Success(FmtResult{File: path, Changed: changed}, text)
	}

	return f.Success(FmtResult{File: path, Changed: changed, Source: formatted}, formatted)
}

// Format renders rules in canonical layout separated by blank lines.
func Format(rs []*rules.Rule) string {
	blocks := make([]string, len(rs))
	for i, r := range rs {
		blocks[i] = r.String()
	}
	return strings.Join(blocks, "\n")
}
