package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/store"
)

// seededStore runs the identity script with services against a new store.
func seededStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "airvm.db")
	script := writeFile(t, dir, "identity.air", identityScript)
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}),
		script, "--peer", "alice", "--particle-id", "p1", "--timestamp", "1000",
		"--call-services", "--db", dbPath)
	require.NoError(t, err)
	return dbPath
}

func TestReplay_Deterministic(t *testing.T) {
	dbPath := seededStore(t)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--particle", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ replayed 2 executions of particle p1: all match")
}

func TestReplay_JSON(t *testing.T) {
	dbPath := seededStore(t)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Determinism)
	assert.Equal(t, 2, resp.Data.Executions)
	assert.Empty(t, resp.Data.Diverged)
}

func TestReplay_DetectsDivergence(t *testing.T) {
	dbPath := seededStore(t)
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	seq, err := st.LogExecution(ctx, store.Execution{
		ParticleID: "p2",
		PeerID:     "alice",
		Script:     "(null)",
		Params:     interpreter.RunParameters{InitPeerID: "alice", CurrentPeerID: "alice", ParticleID: "p2"},
		Outcome:    interpreter.InterpreterOutcome{RetCode: 1, ErrorMessage: "tampered"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_DETERMINISM", resp.Error.Code)
	require.Len(t, resp.Data.Diverged, 1)
	assert.Equal(t, seq, resp.Data.Diverged[0].Seq)
	assert.Contains(t, resp.Data.Diverged[0].Diff, "tampered")
}

func TestReplay_SingleSeq(t *testing.T) {
	dbPath := seededStore(t)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--seq", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1 executions")

	_, err = execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--seq", "99")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_MissingStore(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompareOutcomes(t *testing.T) {
	base := interpreter.InterpreterOutcome{Data: []byte(`{"a":1}`), NextPeerPKs: []string{"bob"}}

	assert.Empty(t, compareOutcomes(base, base))

	assert.Empty(t, compareOutcomes(interpreter.InterpreterOutcome{Data: base.Data}, interpreter.InterpreterOutcome{Data: base.Data, NextPeerPKs: []string{}}))

	changed := base
	changed.Data = []byte(`{"a":2}`)
	assert.NotEmpty(t, compareOutcomes(base, changed))

	rerouted := base
	rerouted.NextPeerPKs = []string{"carol"}
	assert.Contains(t, compareOutcomes(base, rerouted), "carol")
}
