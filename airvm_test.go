package airvm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm"
)

func TestExecuteAIR(t *testing.T) {
	params := airvm.RunParameters{InitPeerID: "init", CurrentPeerID: "init", ParticleID: "p"}

	out := airvm.ExecuteAIR(`(call "other" ("s" "f") [] r)`, nil, nil, params, nil)
	require.True(t, out.IsSuccess(), out.ErrorMessage)
	assert.Equal(t, []string{"other"}, out.NextPeerPKs)
	assert.Empty(t, out.CallRequests)

	again := airvm.ExecuteAIR(`(call "other" ("s" "f") [] r)`, out.Data, out.Data, params, nil)
	require.True(t, again.IsSuccess(), again.ErrorMessage)
	assert.Equal(t, out.Data, again.Data)
}
