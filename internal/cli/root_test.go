package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeFile writes content under the test's temp dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"run", "data", "replay", "test"}, names)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "null.air", "(null)")

	_, err := execute(t, NewRootCommand(), "--format", "xml", "run", script, "--peer", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_Flags(t *testing.T) {
	cmd := NewRootCommand()

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	verbose := cmd.PersistentFlags().ShorthandLookup("v")
	require.NotNil(t, verbose)
	assert.Equal(t, "verbose", verbose.Name)
}

func TestSubcommands_FailuresPrintNoUsage(t *testing.T) {
	dir := t.TempDir()
	failing := writeFile(t, dir, "fail.air", `(fail 42 "nope")`)
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.Mkdir(scenarios, 0o755))
	writeFile(t, scenarios, "failing.yaml", failingScenario)
	jsonOpts := &RootOptions{Format: "json"}

	tests := []struct {
		name      string
		cmd       *cobra.Command
		args      []string
		validJSON bool
	}{
		{"run", NewRunCommand(jsonOpts), []string{failing, "--peer", "alice", "--particle-id", "p1"}, true},
		{"test", NewTestCommand(jsonOpts), []string{scenarios}, true},
		{"data", NewDataCommand(jsonOpts), []string{filepath.Join(dir, "missing.json")}, false},
		{"replay", NewReplayCommand(jsonOpts), []string{"--db", filepath.Join(dir, "none.db")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.cmd, tt.args...)
			require.Error(t, err)
			assert.NotContains(t, out, "Usage:")
			if tt.validJSON {
				assert.True(t, json.Valid([]byte(out)), "output is not JSON: %s", out)
			}
		})
	}
}
