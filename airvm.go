// Package airvm replays AIR scripts over the traces peers pass along with a
// particle.
//
// Each call to ExecuteAIR is a pure function of its inputs: it merges the
// trace this peer saw last (prevData) with the one it just received
// (currentData), runs the script against the merged trace, and returns the
// new trace together with the peers that should run next and the local
// service calls the host has to make.
package airvm

import (
	"context"

	"github.com/roach88/airvm/internal/interpreter"
)

type (
	// RunParameters describe one invocation.
	RunParameters = interpreter.RunParameters

	// CallServiceResult is the host's answer to a call request.
	CallServiceResult = interpreter.CallServiceResult

	// CallRequestParams asks the host to run a local service.
	CallRequestParams = interpreter.CallRequestParams

	// InterpreterOutcome is what one execution returns.
	InterpreterOutcome = interpreter.InterpreterOutcome

	// SoftLimitsTriggering flags exceeded size limits.
	SoftLimitsTriggering = interpreter.SoftLimitsTriggering
)

var defaultInterpreter = interpreter.New()

// ExecuteAIR runs script on the peer named by params.CurrentPeerID.
func ExecuteAIR(script string, prevData, currentData []byte, params RunParameters, callResults map[uint32]CallServiceResult) InterpreterOutcome {
	return defaultInterpreter.Execute(context.Background(), script, prevData, currentData, params, callResults)
}
