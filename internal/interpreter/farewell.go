package interpreter

import (
	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/execution"
	"github.com/roach88/airvm/internal/signing"
)

// farewell packs the result of an execution, finished or aborted, into the
// outgoing envelope and signs it.
func (it *Interpreter) farewell(ec *execution.ExecutionCtx, p *prepared, params RunParameters) (InterpreterOutcome, error) {
	d := envelope.New()
	d.Inner.Trace = ec.Result()
	d.Inner.CIDInfo = ec.Stores()
	d.Inner.Streams = ec.StreamGenerations()
	d.Inner.RestrictedStreams = ec.RestrictedStreams()
	d.Inner.LastCallRequestID = ec.LastCallRequestID()

	sigs, err := signing.Collect(d.Inner.Trace, d.Inner.CIDInfo, p.keyPair, params.ParticleID,
		p.current.Inner.Signatures, p.prev.Inner.Signatures)
	if sigs == nil {
		return InterpreterOutcome{}, &FarewellError{Code: SigningError, Message: err.Error(), Err: err}
	}
	if err != nil {
		it.logger.Warn("result carries signatures that do not verify",
			"particle_id", params.ParticleID, "peer", params.CurrentPeerID, "error", err)
	}
	d.Inner.Signatures = sigs

	data, err := d.Encode()
	if err != nil {
		return InterpreterOutcome{}, &FarewellError{Code: EnvelopeEncodeError, Message: err.Error(), Err: err}
	}

	nextPeers := ec.NextPeers()
	if nextPeers == nil {
		nextPeers = []string{}
	}
	return InterpreterOutcome{
		RetCode:              Success,
		Data:                 data,
		NextPeerPKs:          nextPeers,
		CallRequests:         ec.CallRequests(),
		SoftLimitsTriggering: p.soft,
	}, nil
}
