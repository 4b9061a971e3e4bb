package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"

	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	DBPath     string
	ParticleID string
	Seq        int64
}

// ReplayResult is the output of a replay.
type ReplayResult struct {
	ParticleID  string          `json:"particle_id,omitempty"`
	Executions  int             `json:"executions"`
	Diverged    []DivergedEntry `json:"diverged"`
	Determinism bool            `json:"determinism"`
}

// DivergedEntry is one logged execution whose replay did not match.
type DivergedEntry struct {
	Seq        int64  `json:"seq"`
	ParticleID string `json:"particle_id"`
	PeerID     string `json:"peer_id"`
	Diff       string `json:"diff"`
}

// replayed is the part of an outcome a replay must reproduce.
type replayed struct {
	RetCode      int64
	ErrorMessage string
	NextPeerPKs  []string
	CallRequests map[uint32]interpreter.CallRequestParams
	Data         string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run logged executions and check determinism",
		Long: `Re-run executions from the execution log with their recorded inputs and
compare each outcome with the logged one. Data is compared byte for byte.

Examples:
  airvm replay --db ./airvm.db
  airvm replay --db ./airvm.db --particle 0190d6a4-...
  airvm replay --db ./airvm.db --seq 12`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "./airvm.db", "SQLite store with the execution log")
	cmd.Flags().StringVar(&opts.ParticleID, "particle", "", "replay only this particle")
	cmd.Flags().Int64Var(&opts.Seq, "seq", 0, "replay only the execution with this seq")

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions) error {
	ctx := cmd.Context()
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if _, err := os.Stat(opts.DBPath); err != nil {
		return WrapExitError(ExitCommandError, "store not found", err)
	}
	st, err := store.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	var executions []store.Execution
	if opts.Seq != 0 {
		e, err := st.ReadExecution(ctx, opts.Seq)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read execution", err)
		}
		executions = []store.Execution{e}
	} else {
		executions, err = st.ReadExecutions(ctx, opts.ParticleID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read executions", err)
		}
	}

	interp := interpreter.New(interpreter.WithLogger(logger))
	result := ReplayResult{
		ParticleID:  opts.ParticleID,
		Executions:  len(executions),
		Diverged:    []DivergedEntry{},
		Determinism: true,
	}
	for _, e := range executions {
		out := interp.Execute(ctx, e.Script, e.PrevData, e.CurrentData, e.Params, e.CallResults)
		diff := compareOutcomes(e.Outcome, out)
		logger.Debug("replayed execution", "seq", e.Seq, "particle_id", e.ParticleID, "match", diff == "")
		if diff != "" {
			result.Determinism = false
			result.Diverged = append(result.Diverged, DivergedEntry{
				Seq:        e.Seq,
				ParticleID: e.ParticleID,
				PeerID:     e.PeerID,
				Diff:       diff,
			})
		}
	}

	if opts.Format == "json" {
		failure := ""
		if !result.Determinism {
			failure = fmt.Sprintf("%d of %d executions diverged", len(result.Diverged), result.Executions)
		}
		if err := writeJSON(cmd.OutOrStdout(), result, "E_DETERMINISM", failure); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd.OutOrStdout(), result)
	}

	if !result.Determinism {
		return NewExitError(ExitFailure, "replay diverged from the execution log")
	}
	return nil
}

// compareOutcomes returns a readable diff of logged against replayed, or ""
// when they match.
func compareOutcomes(logged, got interpreter.InterpreterOutcome) string {
	if bytes.Equal(logged.Data, got.Data) &&
		cmp.Equal(project(logged), project(got), cmpopts.EquateEmpty()) {
		return ""
	}
	return cmp.Diff(project(logged), project(got), cmpopts.EquateEmpty())
}

func project(o interpreter.InterpreterOutcome) replayed {
	return replayed{
		RetCode:      o.RetCode,
		ErrorMessage: o.ErrorMessage,
		NextPeerPKs:  o.NextPeerPKs,
		CallRequests: o.CallRequests,
		Data:         string(o.Data),
	}
}

func outputReplayText(w io.Writer, r ReplayResult) {
	target := "all particles"
	if r.ParticleID != "" {
		target = "particle " + r.ParticleID
	}
	if r.Determinism {
		fmt.Fprintf(w, "✓ replayed %d executions of %s: all match\n", r.Executions, target)
		return
	}
	fmt.Fprintf(w, "✗ replayed %d executions of %s: %d diverged\n", r.Executions, target, len(r.Diverged))
	for _, d := range r.Diverged {
		fmt.Fprintf(w, "\n  seq %d (particle %s, peer %s):\n", d.Seq, d.ParticleID, d.PeerID)
		fmt.Fprintf(w, "%s\n", d.Diff)
	}
}
