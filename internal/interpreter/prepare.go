package interpreter

import (
	"errors"
	"fmt"

	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/execution"
	"github.com/roach88/airvm/internal/signing"
	"github.com/roach88/airvm/internal/trace"
)

// prepared holds the decoded inputs of one execution.
type prepared struct {
	root    air.Instruction
	prev    *envelope.Data
	current *envelope.Data
	keyPair *signing.KeyPair
	soft    SoftLimitsTriggering
}

// prepare validates and decodes the inputs. A *PreparationError means the
// script must not run. An uncatchable error means the inputs decoded but
// current_data failed an integrity check; prepared.prev is set in that case.
func (it *Interpreter) prepare(script string, prevData, currentData []byte, params RunParameters, callResults map[uint32]CallServiceResult) (*prepared, error) {
	if err := it.validate.Struct(params); err != nil {
		return nil, preparation(InvalidRunParameters, fmt.Errorf("run parameters: %w", err))
	}

	p := &prepared{}
	var err error
	if p.soft, err = checkSizes(script, currentData, params, callResults); err != nil {
		return nil, err
	}

	if len(params.SecretKeyBytes) > 0 {
		p.keyPair, err = signing.NewKeyPair(signing.KeyFormat(params.KeyFormat), params.SecretKeyBytes)
		if err != nil {
			return nil, preparation(MalformedKeyPair, err)
		}
		if id := p.keyPair.PeerID(); id != params.CurrentPeerID {
			return nil, preparation(KeyPeerMismatch, fmt.Errorf("secret key belongs to %s, not to current peer %s", id, params.CurrentPeerID))
		}
	}

	airLimit, _, _ := params.limits()
	p.root, err = air.Parse(script, air.WithMaxDepth(int(min(airLimit/2, air.DefaultMaxDepth))))
	if err != nil {
		return nil, preparation(AIRParseError, err)
	}

	if p.prev, err = decode(prevData, PrevDataDecodeError); err != nil {
		return nil, err
	}
	if p.current, err = decode(currentData, CurrentDataDecodeError); err != nil {
		return nil, err
	}

	if err := checkIntegrity(p.prev); err != nil {
		return p, err
	}
	if err := checkIntegrity(p.current); err != nil {
		return p, err
	}
	in := p.current.Inner
	if err := signing.VerifyAll(in.Trace, in.CIDInfo, in.Signatures, params.ParticleID); err != nil {
		return p, &execution.UncatchableError{Code: execution.SignatureMismatch, Message: err.Error(), Err: err}
	}
	return p, nil
}

func decode(b []byte, code PreparationCode) (*envelope.Data, error) {
	d, err := envelope.Decode(b)
	if err == nil {
		return d, nil
	}
	var ve *envelope.VersionError
	if errors.As(err, &ve) {
		return nil, preparation(UnsupportedDataVersion, err)
	}
	return nil, preparation(code, err)
}

// checkIntegrity verifies the stores against their CIDs, the trace
// structure, and that every CID the trace names is stored.
func checkIntegrity(d *envelope.Data) error {
	in := d.Inner
	if err := in.CIDInfo.Verify(); err != nil {
		return execution.FromDataError(err)
	}
	if err := trace.Validate(in.Trace); err != nil {
		return execution.FromDataError(err)
	}
	if err := trace.CheckClosure(in.Trace, in.CIDInfo); err != nil {
		return execution.FromDataError(err)
	}
	return nil
}

// checkSizes compares the inputs with their limits. Over a limit is an
// error with hard limits on and a soft flag otherwise.
func checkSizes(script string, currentData []byte, params RunParameters, callResults map[uint32]CallServiceResult) (SoftLimitsTriggering, error) {
	airLimit, particleLimit, resultsLimit := params.limits()

	var resultsSize uint64
	for _, r := range callResults {
		resultsSize += uint64(len(r.Result))
	}

	soft := SoftLimitsTriggering{
		AIRSize:        uint64(len(script)) > airLimit,
		ParticleSize:   uint64(len(currentData)) > particleLimit,
		CallResultSize: resultsSize > resultsLimit,
	}
	if !params.HardLimitEnabled {
		return soft, nil
	}
	switch {
	case soft.AIRSize:
		return soft, preparation(SizeLimitsExceeded, fmt.Errorf("script is %d bytes, limit is %d", len(script), airLimit))
	case soft.ParticleSize:
		return soft, preparation(SizeLimitsExceeded, fmt.Errorf("particle data is %d bytes, limit is %d", len(currentData), particleLimit))
	case soft.CallResultSize:
		return soft, preparation(SizeLimitsExceeded, fmt.Errorf("call results are %d bytes, limit is %d", resultsSize, resultsLimit))
	}
	return SoftLimitsTriggering{}, nil
}
