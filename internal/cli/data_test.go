package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/signing"
)

// producedData runs the identity script with services and returns the path
// of the resulting data.
func producedData(t *testing.T, dir string) string {
	t.Helper()
	script := writeFile(t, dir, "identity.air", identityScript)
	outPath := filepath.Join(dir, "data.json")
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}),
		script, "--peer", "alice", "--particle-id", "p1", "--timestamp", "1000",
		"--call-services", "--out", outPath)
	require.NoError(t, err)
	return outPath
}

func TestData_Text(t *testing.T) {
	path := producedData(t, t.TempDir())

	out, err := execute(t, NewDataCommand(&RootOptions{Format: "text"}), path, "--particle-id", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "trace (1 states):")
	assert.Contains(t, out, `executed scalar "hi"`)
	assert.Contains(t, out, "✓ "+signing.DeriveKeyPair("alice").PeerID())
}

func TestData_JSON(t *testing.T) {
	path := producedData(t, t.TempDir())

	out, err := execute(t, NewDataCommand(&RootOptions{Format: "json"}), path, "--particle-id", "p1")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   DataResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Verified)
	assert.Equal(t, 1, resp.Data.Values)
	require.Len(t, resp.Data.Signatures, 1)
	assert.Equal(t, "valid", resp.Data.Signatures[0].Status)
	assert.Equal(t, 1, resp.Data.Signatures[0].CIDs)
}

func TestData_WrongParticleFailsVerification(t *testing.T) {
	path := producedData(t, t.TempDir())

	out, err := execute(t, NewDataCommand(&RootOptions{Format: "text"}), path, "--particle-id", "other")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "invalid")
}

func TestData_Unchecked(t *testing.T) {
	path := producedData(t, t.TempDir())

	out, err := execute(t, NewDataCommand(&RootOptions{Format: "text"}), path)
	require.NoError(t, err)
	assert.Contains(t, out, "unchecked")
}

func TestData_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, NewDataCommand(&RootOptions{Format: "text"}), filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0o644))
	_, err = execute(t, NewDataCommand(&RootOptions{Format: "text"}), garbage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode data")
}
