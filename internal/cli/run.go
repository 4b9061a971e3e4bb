package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/airvm/internal/host"
	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/peerconfig"
	"github.com/roach88/airvm/internal/signing"
	"github.com/roach88/airvm/internal/store"
	"github.com/roach88/airvm/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config       string
	Peer         string
	InitPeer     string
	ParticleID   string
	TimestampMs  uint64
	TTLMs        uint32
	Prev         string
	Current      string
	Results      string
	Out          string
	DBPath       string
	CallServices bool
	TraceSpans   bool
	MetricsFile  string
}

// RunResult is the output of a run.
type RunResult struct {
	ParticleID   string                                   `json:"particle_id"`
	PeerID       string                                   `json:"peer_id"`
	RetCode      int64                                    `json:"ret_code"`
	ErrorMessage string                                   `json:"error_message,omitempty"`
	NextPeers    []string                                 `json:"next_peers"`
	CallRequests map[uint32]interpreter.CallRequestParams `json:"call_requests,omitempty"`
	Rounds       int                                      `json:"rounds"`
	Calls        int                                      `json:"calls"`
	SoftLimits   interpreter.SoftLimitsTriggering         `json:"soft_limits"`
	DataSize     int                                      `json:"data_size"`
	Data         json.RawMessage                          `json:"data,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script.air>",
		Short: "Execute an AIR script on one peer",
		Long: `Execute an AIR script as one peer. The peer's identity comes from a
CUE configuration (--config) or is derived from a name (--peer).

prev data is read from --prev or, with --db, from what the peer holds for
the particle. current data is what the peer received (--current). Call
results for a previous round are given with --results as a JSON object
keyed by call id.

With --call-services the peer answers its own call requests from the
configured service stubs until the script asks for nothing more.

Examples:
  airvm run hello.air --peer alice
  airvm run hello.air --config alice.cue --current received.json --db ./airvm.db
  airvm run hello.air --peer alice --call-services --out data.json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "peer configuration (.cue file or directory)")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "derive the peer key from this name")
	cmd.Flags().StringVar(&opts.InitPeer, "init-peer", "", "init peer id (default: the configured init peer or this peer)")
	cmd.Flags().StringVar(&opts.ParticleID, "particle-id", "", "particle id (default: configured id or a new UUIDv7)")
	cmd.Flags().Uint64Var(&opts.TimestampMs, "timestamp", 0, "particle timestamp in ms (default: configured or now)")
	cmd.Flags().Uint32Var(&opts.TTLMs, "ttl", 0, "particle ttl in ms (default: configured or 2m)")
	cmd.Flags().StringVar(&opts.Prev, "prev", "", "file with the data this peer held")
	cmd.Flags().StringVar(&opts.Current, "current", "", "file with the data this peer received")
	cmd.Flags().StringVar(&opts.Results, "results", "", "JSON file with call results keyed by call id")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the resulting data to this file")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite store for particle data and the execution log")
	cmd.Flags().BoolVar(&opts.CallServices, "call-services", false, "answer local call requests from the configured services")
	cmd.Flags().BoolVar(&opts.TraceSpans, "trace-spans", false, "write OpenTelemetry spans to stderr")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions, scriptPath string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read script", err)
	}

	cfg, err := loadPeer(opts)
	if err != nil {
		return err
	}
	particle := particleFor(opts, cfg, string(script))

	prev, err := readOptional(opts.Prev)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read prev data", err)
	}
	current, err := readOptional(opts.Current)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read current data", err)
	}
	results, err := readResults(opts.Results)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read call results", err)
	}
	particle = particle.WithData(current)

	var st *store.Store
	if opts.DBPath != "" {
		st, err = store.Open(opts.DBPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		defer st.Close()
	}

	interpOpts := []interpreter.Option{interpreter.WithLogger(logger)}
	metrics := telemetry.NewMetrics("airvm")
	if opts.MetricsFile != "" {
		interpOpts = append(interpOpts, interpreter.WithMetrics(metrics))
	}
	if opts.TraceSpans {
		tracer, err := telemetry.NewStdoutTracer(cmd.ErrOrStderr())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start tracer", err)
		}
		defer tracer.Shutdown(context.WithoutCancel(ctx))
		interpOpts = append(interpOpts, interpreter.WithTracer(tracer))
	}
	interp := interpreter.New(interpOpts...)

	var res host.Result
	if opts.CallServices {
		res, err = runWithServices(ctx, cfg, interp, logger, st, particle, prev)
	} else {
		res, err = runOnce(ctx, cfg, interp, st, particle, prev, results)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "execution aborted", err)
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, metrics.Registry()); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	out := res.Outcome
	result := RunResult{
		ParticleID:   particle.ID,
		PeerID:       cfg.PeerID(),
		RetCode:      out.RetCode,
		ErrorMessage: out.ErrorMessage,
		NextPeers:    out.NextPeerPKs,
		CallRequests: out.CallRequests,
		Rounds:       res.Rounds,
		Calls:        res.Calls,
		SoftLimits:   out.SoftLimitsTriggering,
		DataSize:     len(out.Data),
	}
	if result.NextPeers == nil {
		result.NextPeers = []string{}
	}

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, out.Data, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write data", err)
		}
	} else if opts.Format == "json" && json.Valid(out.Data) {
		result.Data = out.Data
	}

	if opts.Format == "json" {
		failure := ""
		if !out.IsSuccess() {
			failure = out.ErrorMessage
		}
		if err := writeJSON(cmd.OutOrStdout(), result, "E_EXECUTION", failure); err != nil {
			return err
		}
	} else {
		outputRunText(cmd.OutOrStdout(), result)
	}

	if !out.IsSuccess() {
		return NewExitError(ExitFailure, fmt.Sprintf("execution failed with ret_code %d", out.RetCode))
	}
	return nil
}

// loadPeer resolves the peer identity and services from --config or --peer.
func loadPeer(opts *RunOptions) (*peerconfig.Config, error) {
	switch {
	case opts.Config != "" && opts.Peer != "":
		return nil, NewExitError(ExitCommandError, "--config and --peer are mutually exclusive")
	case opts.Config != "":
		cfg, err := peerconfig.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		return cfg, nil
	case opts.Peer != "":
		return &peerconfig.Config{Name: opts.Peer, Key: signing.DeriveKeyPair(opts.Peer)}, nil
	}
	return nil, NewExitError(ExitCommandError, "one of --config or --peer is required")
}

// particleFor builds the particle from flags, falling back to the
// configuration and then to fresh values.
func particleFor(opts *RunOptions, cfg *peerconfig.Config, script string) host.Particle {
	p := host.Particle{
		ID:          firstNonEmpty(opts.ParticleID, cfg.Particle.ID),
		InitPeerID:  firstNonEmpty(opts.InitPeer, cfg.Particle.InitPeer, cfg.PeerID()),
		Script:      script,
		TimestampMs: opts.TimestampMs,
		TTLMs:       opts.TTLMs,
	}
	if p.ID == "" {
		p.ID = host.UUIDv7Generator{}.Generate()
	}
	if p.TimestampMs == 0 {
		p.TimestampMs = cfg.Particle.TimestampMs
	}
	if p.TimestampMs == 0 {
		p.TimestampMs = host.SystemClock{}.NowMs()
	}
	if p.TTLMs == 0 {
		p.TTLMs = cfg.Particle.TTLMs
	}
	if p.TTLMs == 0 {
		p.TTLMs = uint32(host.DefaultTTL.Milliseconds())
	}
	return p
}

// runOnce makes a single interpreter call with the given call results.
func runOnce(ctx context.Context, cfg *peerconfig.Config, interp *interpreter.Interpreter, st *store.Store, particle host.Particle, prev []byte, results map[uint32]interpreter.CallServiceResult) (host.Result, error) {
	if prev == nil && st != nil {
		held, err := st.LoadParticle(ctx, particle.ID, cfg.PeerID())
		if err != nil {
			return host.Result{}, err
		}
		prev = held
	}

	params := runParams(cfg, particle)
	out := interp.Execute(ctx, particle.Script, prev, particle.Data, params, results)

	if st != nil {
		if _, err := st.LogExecution(ctx, store.Execution{
			ParticleID:  particle.ID,
			PeerID:      cfg.PeerID(),
			Script:      particle.Script,
			PrevData:    prev,
			CurrentData: particle.Data,
			Params:      params,
			CallResults: results,
			Outcome:     out,
		}); err != nil {
			return host.Result{}, err
		}
		if len(out.Data) > 0 {
			if err := st.SaveParticle(ctx, particle.ID, cfg.PeerID(), out.Data); err != nil {
				return host.Result{}, err
			}
		}
	}
	return host.Result{Outcome: out, Rounds: 1}, nil
}

// runWithServices lets a host peer answer call requests until none remain.
func runWithServices(ctx context.Context, cfg *peerconfig.Config, interp *interpreter.Interpreter, logger *slog.Logger, st *store.Store, particle host.Particle, prev []byte) (host.Result, error) {
	peerOpts := []host.PeerOption{
		host.WithServices(cfg.Registry()),
		host.WithInterpreter(interp),
		host.WithPeerLogger(logger),
		host.WithLimits(cfg.Limits),
	}

	var particles host.ParticleStore = host.NewMemoryStore()
	if st != nil {
		particles = st
		peerOpts = append(peerOpts, host.WithRecorder(st))
	}
	if prev != nil {
		if err := particles.SaveParticle(ctx, particle.ID, cfg.PeerID(), prev); err != nil {
			return host.Result{}, err
		}
	}
	peerOpts = append(peerOpts, host.WithParticleStore(particles))

	return host.NewPeer(cfg.Key, peerOpts...).Receive(ctx, particle)
}

func runParams(cfg *peerconfig.Config, particle host.Particle) interpreter.RunParameters {
	return interpreter.RunParameters{
		InitPeerID:           particle.InitPeerID,
		CurrentPeerID:        cfg.PeerID(),
		TimestampMs:          particle.TimestampMs,
		TTLMs:                particle.TTLMs,
		KeyFormat:            uint8(signing.Ed25519),
		SecretKeyBytes:       cfg.Key.Seed(),
		ParticleID:           particle.ID,
		AIRSizeLimit:         cfg.Limits.AIRSize,
		ParticleSizeLimit:    cfg.Limits.ParticleSize,
		CallResultsSizeLimit: cfg.Limits.CallResultsSize,
		HardLimitEnabled:     cfg.Limits.Hard,
	}
}

// readOptional reads path, returning nil for an empty path.
func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func readResults(path string) (map[uint32]interpreter.CallServiceResult, error) {
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}
	var results map[uint32]interpreter.CallServiceResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return results, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func outputRunText(w io.Writer, r RunResult) {
	if r.RetCode == 0 {
		fmt.Fprintf(w, "✓ particle %s on %s\n", r.ParticleID, r.PeerID)
	} else {
		fmt.Fprintf(w, "✗ particle %s on %s: ret_code %d\n", r.ParticleID, r.PeerID, r.RetCode)
		fmt.Fprintf(w, "  %s\n", r.ErrorMessage)
	}
	fmt.Fprintf(w, "  rounds: %d, calls: %d, data: %d bytes\n", r.Rounds, r.Calls, r.DataSize)
	if len(r.NextPeers) > 0 {
		fmt.Fprintln(w, "  next peers:")
		for _, p := range r.NextPeers {
			fmt.Fprintf(w, "    %s\n", p)
		}
	}
	if len(r.CallRequests) > 0 {
		ids := make([]uint32, 0, len(r.CallRequests))
		for id := range r.CallRequests {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		fmt.Fprintln(w, "  call requests:")
		for _, id := range ids {
			req := r.CallRequests[id]
			fmt.Fprintf(w, "    %d: %s.%s %s\n", id, req.ServiceID, req.FunctionName, req.Arguments)
		}
	}
}
