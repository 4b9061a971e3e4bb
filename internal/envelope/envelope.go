// Package envelope encodes and decodes the data a peer passes along with a
// particle: the versions header and the inner data holding the trace, stream
// generation counts, CID stores and signatures.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-version"

	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// Versions is the envelope header.
type Versions struct {
	InterpreterVersion string `json:"interpreter_version"`
	DataFormatVersion  string `json:"data_format_version"`
}

// InnerData is everything one execution leaves behind.
//
// Streams maps a stream key ($name or %name) to its number of generations.
// RestrictedStreams maps a stream key to the position of its new instruction
// and to one generation count per time that new was executed.
type InnerData struct {
	Trace             trace.Trace                    `json:"trace"`
	Streams           map[string]uint32              `json:"streams"`
	RestrictedStreams map[string]map[uint32][]uint32 `json:"restricted_streams"`
	LastCallRequestID uint32                         `json:"last_call_request_id"`
	CIDInfo           *trace.CIDInfo                 `json:"cid_info"`
	Signatures        map[string]string              `json:"signatures"`
}

// Data is a decoded envelope.
type Data struct {
	Versions Versions  `json:"versions"`
	Inner    InnerData `json:"inner_data"`
}

// New returns empty data stamped with the current versions.
func New() *Data {
	return &Data{
		Versions: Versions{
			InterpreterVersion: ir.InterpreterVersion,
			DataFormatVersion:  ir.DataFormatVersion,
		},
		Inner: InnerData{
			Trace:             trace.Trace{},
			Streams:           map[string]uint32{},
			RestrictedStreams: map[string]map[uint32][]uint32{},
			CIDInfo:           trace.NewCIDInfo(),
			Signatures:        map[string]string{},
		},
	}
}

// VersionError reports an envelope written in a format this interpreter
// does not understand.
type VersionError struct {
	Got string
	Min string
	Max string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("data format version %q is not supported (need >= %s, < %s)", e.Got, e.Min, e.Max)
}

var supportedFormats = version.MustConstraints(
	version.NewConstraint(">= " + ir.MinDataFormatVersion + ", < " + ir.MaxDataFormatVersion),
)

// CheckVersion fails with *VersionError unless v is a supported data format.
func CheckVersion(v string) error {
	parsed, err := version.NewVersion(v)
	if err != nil || !supportedFormats.Check(parsed) {
		return &VersionError{Got: v, Min: ir.MinDataFormatVersion, Max: ir.MaxDataFormatVersion}
	}
	return nil
}

// Decode reads an envelope. Empty input is empty data.
// The version header is checked before the inner data is parsed.
func Decode(b []byte) (*Data, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return New(), nil
	}

	var head struct {
		Versions  Versions        `json:"versions"`
		InnerData json.RawMessage `json:"inner_data"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := CheckVersion(head.Versions.DataFormatVersion); err != nil {
		return nil, err
	}
	if len(head.InnerData) == 0 {
		return nil, fmt.Errorf("decode envelope: inner_data is missing")
	}

	d := New()
	d.Versions = head.Versions
	if err := json.Unmarshal(head.InnerData, &d.Inner); err != nil {
		return nil, fmt.Errorf("decode inner data: %w", err)
	}
	d.normalize()
	return d, nil
}

// normalize replaces missing collections with empty ones.
func (d *Data) normalize() {
	in := &d.Inner
	if in.Trace == nil {
		in.Trace = trace.Trace{}
	}
	if in.Streams == nil {
		in.Streams = map[string]uint32{}
	}
	if in.RestrictedStreams == nil {
		in.RestrictedStreams = map[string]map[uint32][]uint32{}
	}
	if in.CIDInfo == nil {
		in.CIDInfo = trace.NewCIDInfo()
	}
	if in.Signatures == nil {
		in.Signatures = map[string]string{}
	}
}

// Encode writes the envelope. The output is deterministic: map keys are
// sorted and nothing is HTML escaped.
func (d *Data) Encode() ([]byte, error) {
	d.normalize()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// StreamGenerations returns the generation count recorded for a stream key.
func (d *Data) StreamGenerations(key string) uint32 {
	return d.Inner.Streams[key]
}

// RestrictedGenerations returns the generation count recorded for the nth
// execution of the new at position pos, or 0 when there is none.
func (d *Data) RestrictedGenerations(key string, pos uint32, nth int) uint32 {
	counts := d.Inner.RestrictedStreams[key][pos]
	if nth < len(counts) {
		return counts[nth]
	}
	return 0
}
