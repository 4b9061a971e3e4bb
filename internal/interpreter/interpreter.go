// Package interpreter runs one AIR execution end to end: it checks and
// decodes the inputs, replays the script over the merged traces, and packs
// the result trace into a signed envelope.
//
// An Interpreter holds no per-execution state and may be shared between
// goroutines.
package interpreter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/airvm/internal/execution"
	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/telemetry"
)

// Interpreter executes AIR scripts.
type Interpreter struct {
	logger         *slog.Logger
	metrics        *telemetry.Metrics
	tracer         *telemetry.Tracer
	iterationLimit int
	validate       *validator.Validate
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(it *Interpreter) {
		it.logger = l
	}
}

// WithMetrics records every execution in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(it *Interpreter) {
		it.metrics = m
	}
}

// WithTracer opens a span per execution.
func WithTracer(t *telemetry.Tracer) Option {
	return func(it *Interpreter) {
		it.tracer = t
	}
}

// WithIterationLimit caps the fold iterations of one execution.
//
// Default: execution.DefaultIterationLimit
func WithIterationLimit(n int) Option {
	return func(it *Interpreter) {
		it.iterationLimit = n
	}
}

// New creates an Interpreter.
func New(opts ...Option) *Interpreter {
	it := &Interpreter{
		logger:         slog.New(slog.DiscardHandler),
		iterationLimit: execution.DefaultIterationLimit,
		validate:       validator.New(),
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// Execute runs script on the current peer. It never fails: every error is
// reported through the outcome's return code and message.
func (it *Interpreter) Execute(
	ctx context.Context,
	script string,
	prevData, currentData []byte,
	params RunParameters,
	callResults map[uint32]CallServiceResult,
) InterpreterOutcome {
	start := time.Now()
	_, span := it.tracer.StartExecution(ctx, params.ParticleID, params.CurrentPeerID)

	out, traceLen, kinds := it.execute(script, prevData, currentData, params, callResults)

	telemetry.EndExecution(span, out.RetCode, out.ErrorMessage, traceLen)
	it.metrics.RecordExecution(telemetry.Execution{
		RetCode:    out.RetCode,
		Duration:   time.Since(start),
		StateKinds: kinds,
		NextPeers:  len(out.NextPeerPKs),
		SoftLimits: out.SoftLimitsTriggering.names(),
	})
	it.logger.Debug("execution finished",
		"particle_id", params.ParticleID,
		"peer", params.CurrentPeerID,
		"ret_code", out.RetCode,
		"trace_len", traceLen,
		"next_peers", out.NextPeerPKs,
		"call_requests", len(out.CallRequests),
	)
	return out
}

func (it *Interpreter) execute(
	script string,
	prevData, currentData []byte,
	params RunParameters,
	callResults map[uint32]CallServiceResult,
) (InterpreterOutcome, int, map[string]int) {
	p, err := it.prepare(script, prevData, currentData, params, callResults)
	if err != nil {
		return it.rejected(p, prevData, err), 0, nil
	}

	k := keeper.New(p.prev, p.current)
	ec := execution.NewContext(k, execution.Params{
		InitPeerID:     params.InitPeerID,
		CurrentPeerID:  params.CurrentPeerID,
		Timestamp:      params.TimestampMs,
		TTL:            params.TTLMs,
		ParticleID:     params.ParticleID,
		IterationLimit: it.iterationLimit,
	}, callResults, it.logger)

	execErr := ec.Execute(p.root)
	ec.Finalize()
	if execErr != nil {
		it.logger.Debug("execution failed", "particle_id", params.ParticleID, "code", execution.CodeOf(execErr), "error", execErr)
	}

	out, err := it.farewell(ec, p, params)
	if err != nil {
		return InterpreterOutcome{
			RetCode:              retCode(err),
			ErrorMessage:         err.Error(),
			Data:                 prevData,
			NextPeerPKs:          []string{},
			CallRequests:         map[uint32]CallRequestParams{},
			SoftLimitsTriggering: p.soft,
		}, 0, nil
	}
	if execErr != nil {
		out.RetCode = retCode(execErr)
		out.ErrorMessage = errorMessage(execErr)
	}
	return out, len(ec.Result()), stateKinds(ec)
}

// rejected is the outcome of inputs that failed preparation: data is
// prev_data unchanged. Data that decoded but failed an integrity check is
// written back from its decoded form.
func (it *Interpreter) rejected(p *prepared, prevData []byte, err error) InterpreterOutcome {
	it.logger.Debug("execution rejected", "error", err)
	out := InterpreterOutcome{
		RetCode:      retCode(err),
		ErrorMessage: err.Error(),
		Data:         prevData,
		NextPeerPKs:  []string{},
		CallRequests: map[uint32]CallRequestParams{},
	}
	if p != nil {
		out.SoftLimitsTriggering = p.soft
		if len(prevData) == 0 {
			if data, encErr := p.prev.Encode(); encErr == nil {
				out.Data = data
			}
		}
	}
	return out
}

func retCode(err error) int64 {
	var pe *PreparationError
	if errors.As(err, &pe) {
		return int64(pe.Code)
	}
	var fe *FarewellError
	if errors.As(err, &fe) {
		return int64(fe.Code)
	}
	if code := execution.CodeOf(err); code != 0 {
		return int64(code)
	}
	return int64(execution.TraceCorrupted)
}

// errorMessage is the message of an uncaught error. A catchable error
// carries the message of its error object, as %last_error% would show it.
func errorMessage(err error) string {
	var ce *execution.CatchableError
	if errors.As(err, &ce) && ce.Object != nil {
		return ce.Object.Message
	}
	return err.Error()
}

func stateKinds(ec *execution.ExecutionCtx) map[string]int {
	kinds := make(map[string]int)
	for _, st := range ec.Result() {
		kinds[string(st.Kind())]++
	}
	return kinds
}
