package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/signing"
	"github.com/roach88/airvm/internal/trace"
)

// DataOptions holds flags for the data command.
type DataOptions struct {
	*RootOptions
	ParticleID string
}

// DataResult describes a decoded data envelope.
type DataResult struct {
	InterpreterVersion string            `json:"interpreter_version"`
	DataFormatVersion  string            `json:"data_format_version"`
	Trace              []string          `json:"trace"`
	Streams            map[string]uint32 `json:"streams"`
	Values             int               `json:"values"`
	Tetraplets         int               `json:"tetraplets"`
	Canons             int               `json:"canons"`
	Signatures         []SignatureInfo   `json:"signatures"`
	Verified           bool              `json:"verified"`
}

// SignatureInfo is one signer of the data.
type SignatureInfo struct {
	PeerID string `json:"peer_id"`
	CIDs   int    `json:"cids"`
	Status string `json:"status"` // "valid", "invalid", "missing" or "unchecked"
	Error  string `json:"error,omitempty"`
}

// NewDataCommand creates the data command.
func NewDataCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DataOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "data <data.json>",
		Short: "Inspect a data envelope",
		Long: `Decode a data envelope and print its trace, streams and signers.

Signatures are checked against the CIDs the trace attributes to each peer
when the particle id is given.

Examples:
  airvm data out.json
  airvm data out.json --particle-id 0190d6a4-... --format json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runData(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ParticleID, "particle-id", "", "particle id to verify signatures against")

	return cmd
}

func runData(cmd *cobra.Command, opts *DataOptions, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read data", err)
	}
	d, err := envelope.Decode(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode data", err)
	}

	result, err := describeData(d, opts.ParticleID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to attribute trace", err)
	}

	if opts.Format == "json" {
		failure := ""
		if opts.ParticleID != "" && !result.Verified {
			failure = "signature verification failed"
		}
		if err := writeJSON(cmd.OutOrStdout(), result, "E_SIGNATURE", failure); err != nil {
			return err
		}
	} else {
		outputDataText(cmd.OutOrStdout(), result)
	}

	if opts.ParticleID != "" && !result.Verified {
		return NewExitError(ExitFailure, "signature verification failed")
	}
	return nil
}

func describeData(d *envelope.Data, particleID string) (*DataResult, error) {
	info := d.Inner.CIDInfo
	result := &DataResult{
		InterpreterVersion: d.Versions.InterpreterVersion,
		DataFormatVersion:  d.Versions.DataFormatVersion,
		Trace:              make([]string, 0, len(d.Inner.Trace)),
		Streams:            d.Inner.Streams,
		Values:             info.Values.Len(),
		Tetraplets:         info.Tetraplets.Len(),
		Canons:             info.Canons.Len(),
		Verified:           particleID != "",
	}
	for _, st := range d.Inner.Trace {
		result.Trace = append(result.Trace, describeState(info, st))
	}

	byPeer, err := signing.Attribute(d.Inner.Trace, info)
	if err != nil {
		return nil, err
	}
	peers := make(map[string]bool, len(byPeer)+len(d.Inner.Signatures))
	for p := range byPeer {
		peers[p] = true
	}
	for p := range d.Inner.Signatures {
		peers[p] = true
	}
	ids := make([]string, 0, len(peers))
	for p := range peers {
		ids = append(ids, p)
	}
	sort.Strings(ids)

	for _, peer := range ids {
		si := SignatureInfo{PeerID: peer, CIDs: len(byPeer[peer]), Status: "unchecked"}
		sig, ok := d.Inner.Signatures[peer]
		switch {
		case !ok:
			si.Status = "missing"
		case particleID != "":
			if err := signing.Verify(peer, byPeer[peer], particleID, sig); err != nil {
				si.Status, si.Error = "invalid", err.Error()
			} else {
				si.Status = "valid"
			}
		}
		if si.Status == "missing" || si.Status == "invalid" {
			result.Verified = false
		}
		result.Signatures = append(result.Signatures, si)
	}
	return result, nil
}

// describeState renders a state with call values resolved.
func describeState(info *trace.CIDInfo, st trace.State) string {
	switch s := st.(type) {
	case trace.Executed:
		if s.Output == trace.OutputStream {
			return fmt.Sprintf("executed stream gen=%d %s", s.Generation, resolveValue(info, s.Value))
		}
		return fmt.Sprintf("executed %s %s", s.Output, resolveValue(info, s.Value))
	case trace.Failed:
		return fmt.Sprintf("failed ret_code=%d %s", s.RetCode, resolveValue(info, s.Message))
	}
	return trace.Describe(st)
}

func resolveValue(info *trace.CIDInfo, cid ir.CID) string {
	v, ok := info.Values.Get(cid)
	if !ok {
		return string(cid)
	}
	b, err := ir.Marshal(v)
	if err != nil {
		return string(cid)
	}
	return string(b)
}

func outputDataText(w io.Writer, r *DataResult) {
	fmt.Fprintf(w, "interpreter %s, data format %s\n", r.InterpreterVersion, r.DataFormatVersion)
	fmt.Fprintf(w, "trace (%d states):\n", len(r.Trace))
	for i, s := range r.Trace {
		fmt.Fprintf(w, "  %3d  %s\n", i, s)
	}
	if len(r.Streams) > 0 {
		keys := make([]string, 0, len(r.Streams))
		for k := range r.Streams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "streams:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %d generations\n", k, r.Streams[k])
		}
	}
	fmt.Fprintf(w, "cids: %d values, %d tetraplets, %d canons\n", r.Values, r.Tetraplets, r.Canons)
	if len(r.Signatures) > 0 {
		fmt.Fprintln(w, "signatures:")
		for _, s := range r.Signatures {
			mark := "·"
			switch s.Status {
			case "valid":
				mark = "✓"
			case "invalid", "missing":
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s (%d cids) %s\n", mark, s.PeerID, s.CIDs, s.Status)
			if s.Error != "" {
				fmt.Fprintf(w, "      %s\n", s.Error)
			}
		}
	}
}
