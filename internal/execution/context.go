package execution

import (
	"log/slog"

	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/trace"
)

// DefaultIterationLimit caps the fold iterations of one execution.
const DefaultIterationLimit = 65536

// CallServiceResult is what the host returns for a call request.
// Result is JSON; RetCode 0 is success.
type CallServiceResult struct {
	RetCode int32  `json:"ret_code"`
	Result  string `json:"result"`
}

// CallRequestParams asks the host to run a service locally.
// Arguments is a JSON array; Tetraplets is a JSON array holding one array of
// tetraplets per argument.
type CallRequestParams struct {
	ServiceID    string `json:"service_id"`
	FunctionName string `json:"function_name"`
	Arguments    string `json:"arguments"`
	Tetraplets   string `json:"tetraplets"`
}

// Params are the run parameters the executors read.
type Params struct {
	InitPeerID     string
	CurrentPeerID  string
	Timestamp      uint64
	TTL            uint32
	ParticleID     string
	IterationLimit int
}

// ExecutionCtx is the mutable state of one replay.
type ExecutionCtx struct {
	params Params
	keeper *keeper.DataKeeper
	scopes *scopes
	logger *slog.Logger

	streams    map[string]*Stream
	streamGens map[string]uint32

	// restricted records, per stream key and new position, the generation
	// count each execution of that new left behind.
	restricted map[string]map[uint32][]uint32
	newCounts  map[string]map[uint32]int

	lastError lastErrorDescriptor
	errorObj  errorDescriptor

	subgraphComplete bool
	nextPeers        []string
	nextPeerSet      map[string]struct{}

	stores       *trace.CIDInfo
	callResults  map[uint32]CallServiceResult
	callRequests map[uint32]CallRequestParams
	lastCallID   uint32

	folds      []*foldState
	iterations int
}

// NewContext prepares a replay over the keeper's inputs.
func NewContext(k *keeper.DataKeeper, p Params, callResults map[uint32]CallServiceResult, logger *slog.Logger) *ExecutionCtx {
	if p.IterationLimit <= 0 {
		p.IterationLimit = DefaultIterationLimit
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if callResults == nil {
		callResults = map[uint32]CallServiceResult{}
	}
	return &ExecutionCtx{
		params:           p,
		keeper:           k,
		scopes:           newScopes(),
		logger:           logger,
		streams:          make(map[string]*Stream),
		streamGens:       make(map[string]uint32),
		restricted:       make(map[string]map[uint32][]uint32),
		newCounts:        make(map[string]map[uint32]int),
		subgraphComplete: true,
		nextPeerSet:      make(map[string]struct{}),
		stores:           trace.NewCIDInfo(),
		callResults:      callResults,
		callRequests:     make(map[uint32]CallRequestParams),
		lastCallID:       k.Prev.Data.Inner.LastCallRequestID,
	}
}

// Execute replays root. Joins never escape; the returned error is either a
// catchable error no xor caught or an uncatchable one.
func (c *ExecutionCtx) Execute(root air.Instruction) error {
	return c.execute(root)
}

// Finalize compacts the generations of every stream this execution touched.
// It must be called once, after Execute.
func (c *ExecutionCtx) Finalize() {
	for key, s := range c.streams {
		if n := s.compact(c.keeper.Result); n > 0 {
			c.streamGens[key] = n
		}
	}
}

// Result returns the result trace.
func (c *ExecutionCtx) Result() trace.Trace { return c.keeper.Result }

// Stores returns the CID stores reachable from the result trace.
func (c *ExecutionCtx) Stores() *trace.CIDInfo { return c.stores }

// StreamGenerations returns the generation count of every global stream.
func (c *ExecutionCtx) StreamGenerations() map[string]uint32 { return c.streamGens }

// RestrictedStreams returns the generation counts of streams scoped by new.
func (c *ExecutionCtx) RestrictedStreams() map[string]map[uint32][]uint32 { return c.restricted }

// NextPeers returns the peers that should run next, in first-seen order.
func (c *ExecutionCtx) NextPeers() []string { return c.nextPeers }

// CallRequests returns the calls the host should run.
func (c *ExecutionCtx) CallRequests() map[uint32]CallRequestParams { return c.callRequests }

// LastCallRequestID returns the last call id handed out.
func (c *ExecutionCtx) LastCallRequestID() uint32 { return c.lastCallID }

// LastError returns the current value of %last_error%.
func (c *ExecutionCtx) LastError() ErrorObject { return c.lastError.object }

// SubgraphComplete reports whether the script ran to completion on this peer.
func (c *ExecutionCtx) SubgraphComplete() bool { return c.subgraphComplete }

func (c *ExecutionCtx) addNextPeer(peer string) {
	if _, ok := c.nextPeerSet[peer]; ok {
		return
	}
	c.nextPeerSet[peer] = struct{}{}
	c.nextPeers = append(c.nextPeers, peer)
}

// stream returns the stream a variable names: the one owned by the
// innermost new restricting it, or the global one.
func (c *ExecutionCtx) stream(v air.Variable) *Stream {
	key := v.Key()
	if s, ok := c.scopes.restrictedStream(key); ok {
		return s
	}
	s, ok := c.streams[key]
	if !ok {
		s = newStream(c.keeper.Prev.Data.StreamGenerations(key), c.keeper.Current.Data.StreamGenerations(key))
		c.streams[key] = s
	}
	return s
}

func (c *ExecutionCtx) literalTetraplet() *trace.Tetraplet {
	return trace.LiteralTetraplet(c.params.InitPeerID)
}
