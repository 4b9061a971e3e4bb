package harness

import (
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/testutil"
)

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRelayGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/relay.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunIsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/fanout.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_AutoRouteVisitsEveryPeer(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/fanout.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	visited := map[string]bool{}
	for _, hop := range result.Hops {
		visited[hop.Peer] = true
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true, "carol": true}, visited)
	assert.Equal(t, "alice", result.Hops[0].Peer)
	assert.Empty(t, result.Hops[0].From)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
init_peer: alice
peers:
  - name: alice
  - name: bob
script: (call @bob ("s" "f") [] r)
flow:
  - peer: alice
    expect:
      ret_code: 1
      next_peers: [alice]
      trace_length: 3
      calls: 1
      error_contains: "boom"
assertions:
  - type: trace_length
    peer: bob
    count: 1
  - type: signers
    peer: alice
    peers: [bob]
  - type: route
    peers: [bob]
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 8)
	assert.Contains(t, strings.Join(result.Errors, "\n"), "bob holds no data")
	assert.Equal(t, []string{"bob"}, result.Hops[0].NextPeers, "ids are shown as names")
}

func TestRun_UnknownNextPeer(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: stray
init_peer: alice
peers:
  - name: alice
script: (call "nowhere" ("s" "f") [] r)
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"particle addressed to unknown peer nowhere"}, result.Errors)
}

func TestScriptSubstitution(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: names
init_peer: al
peers:
  - name: al
  - name: alice
script: (seq (call @alice ("op" "noop") [] a) (call @al ("op" "noop") [] b))
`))
	require.NoError(t, err)

	h, err := newHarness(scenario)
	require.NoError(t, err)
	keys := testutil.NewKeyring()
	assert.Contains(t, h.particle.Script, `(call "`+keys.ID("alice")+`" ("op" "noop") [] a)`)
	assert.Contains(t, h.particle.Script, `(call "`+keys.ID("al")+`" ("op" "noop") [] b)`)
	assert.NotContains(t, h.particle.Script, "@")

	root, err := air.Parse(h.particle.Script)
	require.NoError(t, err)
	seq, isSeq := root.(*air.Seq)
	require.True(t, isSeq)
	call, isCall := seq.Left.(*air.Call)
	require.True(t, isCall)
	assert.Equal(t, air.Literal{V: ir.String(keys.ID("alice"))}, call.Peer)
}

func TestParseScenario_Invalid(t *testing.T) {
	base := "name: s\ninit_peer: a\npeers:\n  - name: a\nscript: (null)\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "init_peer: a\npeers:\n  - name: a\nscript: (null)\n", "name is required"},
		{"missing script", "name: s\ninit_peer: a\npeers:\n  - name: a\n", "script is required"},
		{"no peers", "name: s\ninit_peer: a\nscript: (null)\n", "at least one peer"},
		{"unknown init peer", "name: s\ninit_peer: z\npeers:\n  - name: a\nscript: (null)\n", "not a declared peer"},
		{"duplicate peer", "name: s\ninit_peer: a\npeers:\n  - name: a\n  - name: a\nscript: (null)\n", "duplicate peer"},
		{"unknown field", base + "asertions: []\n", "field asertions not found"},
		{"unknown hop peer", base + "flow:\n  - peer: z\n", "unknown peer"},
		{"unknown assertion", base + "assertions:\n  - type: bogus\n", "unknown assertion type"},
		{"assertion without peer", base + "assertions:\n  - type: trace_length\n", "peer is required"},
		{"route without peers", base + "assertions:\n  - type: route\n", "peers list is required"},
		{"stub with both", "name: s\ninit_peer: a\nscript: (null)\npeers:\n  - name: a\n    services:\n      - {service: s, function: f, result: 1, error: {code: 1, message: m}}\n", "exclusive"},
		{"stub zero code", "name: s\ninit_peer: a\nscript: (null)\npeers:\n  - name: a\n    services:\n      - {service: s, function: f, error: {code: 0, message: m}}\n", "non-zero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
