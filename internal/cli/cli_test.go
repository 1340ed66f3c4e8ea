package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetRules = `// adults get a greeting
rule Adult "marks adults" salience 10 { when user.age >= 18 then adult = true; }
rule Greet { when adult == true then greeting = "welcome " + user.name; }
`

const greetFacts = `
user:
  name: Ada
  age: 30
adult: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"run", "check", "fmt"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("format"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
}

func TestRootCommandRejectsInvalidFormat(t *testing.T) {
	path := writeFile(t, "rules.grl", greetRules)

	_, err := execute(t, "check", "--format", "xml", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRunText(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", greetRules)
	factsPath := writeFile(t, "facts.yaml", greetFacts)

	out, err := execute(t, "run", rulesPath, "--facts", factsPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Rules fired: Adult, Greet")
	assert.Contains(t, out, "Facts modified: adult, greeting")
	assert.Contains(t, out, "greeting: welcome Ada")
	assert.NotContains(t, out, "Errors:")
}

func TestRunJSON(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", greetRules)
	factsPath := writeFile(t, "facts.json", `{"user": {"name": "Ada", "age": 30}, "adult": false}`)

	out, err := execute(t, "run", rulesPath, "--facts", factsPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"Adult", "Greet"}, resp.Data.RulesFired)
	assert.False(t, resp.Data.MaxIterationsReached)
	assert.Equal(t, "welcome Ada", resp.Data.Facts["greeting"])
	assert.Equal(t, true, resp.Data.Facts["adult"])
}

func TestRunReportsRuleErrors(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", `rule Bad { when missing > 1 then flag = true; }`)

	out, err := execute(t, "run", rulesPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeIncomplete)
	assert.Contains(t, out, "Errors:")
	assert.Contains(t, out, "rule Bad")
}

func TestRunIterationBound(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", `rule Count { when n < 100 then n = n + 1; }`)
	factsPath := writeFile(t, "facts.yaml", "n: 0\n")

	out, err := execute(t, "run", rulesPath, "--facts", factsPath, "--max-iterations", "3")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Stopped: maximum iterations reached")
	assert.Contains(t, out, "n: 3")
}

func TestRunSyntaxError(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", "rule Broken { when x > then y = 1; }\n")

	out, err := execute(t, "run", rulesPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeSyntax)
	assert.Contains(t, out, rulesPath+":1:")
}

func TestRunMissingFiles(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "none.grl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeIO)

	rulesPath := writeFile(t, "rules.grl", greetRules)
	_, err = execute(t, "run", rulesPath, "--facts", filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunDuplicateRule(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", `
rule A { when true then x = 1; }
rule A { when true then x = 2; }
`)

	_, err := execute(t, "run", rulesPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeRejected)
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name     string
		rules    string
		schema   string
		wantErr  string
		wantText string
	}{
		{
			name:     "parses",
			rules:    greetRules,
			wantText: "2 rule(s) OK",
		},
		{
			name:     "schema admits",
			rules:    greetRules,
			schema:   "user: object\nadult: bool\ngreeting: string\n",
			wantText: "2 rule(s) OK",
		},
		{
			name:     "undeclared fact",
			rules:    greetRules,
			schema:   "user: object\nadult: bool\n",
			wantErr:  ErrCodeRejected,
			wantText: `undeclared fact "greeting"`,
		},
		{
			name:     "wrong type",
			rules:    `rule R { when true then age = "old"; }`,
			schema:   `{"age": "number"}`,
			wantErr:  ErrCodeRejected,
			wantText: `cannot assign string to number fact "age"`,
		},
		{
			name:     "duplicate names",
			rules:    "rule A { when true then x = 1; }\nrule A { when true then x = 2; }\n",
			wantErr:  ErrCodeRejected,
			wantText: "duplicate name",
		},
		{
			name:     "syntax",
			rules:    "rule A { when then x = 1; }\nrule B { when true then = 2; }\n",
			wantErr:  ErrCodeSyntax,
			wantText: "2 rule(s) failed to parse",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := []string{"check", writeFile(t, "rules.grl", tc.rules)}
			if tc.schema != "" {
				args = append(args, "--schema", writeFile(t, "schema.yaml", tc.schema))
			}

			out, err := execute(t, args...)
			if tc.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
			assert.Contains(t, out, tc.wantText)
		})
	}
}

func TestCheckInvalidSchema(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", greetRules)
	schemaPath := writeFile(t, "schema.yaml", "user: widget\n")

	_, err := execute(t, "check", rulesPath, "--schema", schemaPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid type")
}

func TestCheckJSON(t *testing.T) {
	rulesPath := writeFile(t, "rules.grl", greetRules)

	out, err := execute(t, "check", rulesPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"Adult", "Greet"}, resp.Data.Rules)
}

func TestFmt(t *testing.T) {
	path := writeFile(t, "rules.grl", "rule A salience 2 {when x>1&&y then z=x*2;}")

	out, err := execute(t, "fmt", path)
	require.NoError(t, err)

	want := "rule A salience 2 {\n    when\n        x > 1 && y\n    then\n        z = x * 2;\n}\n"
	assert.Equal(t, want, out)

	// canonical output is stable
	again, err := execute(t, "fmt", writeFile(t, "again.grl", out))
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestFmtWrite(t *testing.T) {
	path := writeFile(t, "rules.grl", "rule A {when true then x=1;}\nrule B {when x==1 then y=\"a\";}")

	out, err := execute(t, "fmt", "-w", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "}\n\nrule B {")

	// second write is a no-op
	out, err = execute(t, "fmt", "-w", path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", assert.AnError)))
}
