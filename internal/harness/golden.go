package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where golden trace snapshots live, relative to the test.
const GoldenDir = "testdata/golden"

// TraceSnapshot captures every hop of a scenario execution.
type TraceSnapshot struct {
	Scenario string     `json:"scenario"`
	Hops     []HopTrace `json:"hops"`
}

// Snapshot renders a result as the bytes stored in its golden file.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	b, err := json.MarshalIndent(TraceSnapshot{Scenario: scenarioName, Hops: result.Hops}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// RunWithGolden executes a scenario and compares its hops against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
