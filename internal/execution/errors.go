package execution

import (
	"errors"
	"fmt"

	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/merger"
	"github.com/roach88/airvm/internal/trace"
)

// ErrorCode is the stable numeric code of an execution error. Catchable
// codes start at 10001, uncatchable codes at 20001.
type ErrorCode int64

// Catchable error codes. xor can recover from all of them.
const (
	// LocalServiceError is a call whose service returned a non-zero code.
	LocalServiceError ErrorCode = 10001 + iota

	// LambdaApplierError is a lambda that does not fit the value it reads.
	LambdaApplierError

	// MatchValuesNotEqual is a match whose operands differ.
	MatchValuesNotEqual

	// MismatchValuesEqual is a mismatch whose operands are equal.
	MismatchValuesEqual

	// UserError is raised by the fail instruction.
	UserError

	// InvalidErrorObject is a fail over a scalar that is not an error object.
	InvalidErrorObject

	// StreamMapKeyError is a stream map key that is neither a string nor an integer.
	StreamMapKeyError

	// NonStringTriplet is a call or canon whose peer, service or function is not a string.
	NonStringTriplet

	// IncompatibleIterable is a fold over a scalar that is not an array.
	IncompatibleIterable
)

// Uncatchable error codes. They abort the execution.
const (
	TraceCorrupted ErrorCode = 20001 + iota
	IncompatibleExecutedState
	CallResultsMismatch
	IncompatibleCallResults
	InconsistentParState
	CanonResultsMismatch
	CallParametersMismatch
	CidNotFound
	CidMismatch
	SignatureMismatch
	ShadowingIsNotAllowed
	StreamGenerationOutOfBounds
	IterationLimitExceeded
	MalformedCallServiceResult
	FoldStateCorrupted
)

var codeNames = map[ErrorCode]string{
	LocalServiceError:           "LocalServiceError",
	LambdaApplierError:          "LambdaApplierError",
	MatchValuesNotEqual:         "MatchValuesNotEqual",
	MismatchValuesEqual:         "MismatchValuesEqual",
	UserError:                   "UserError",
	InvalidErrorObject:          "InvalidErrorObject",
	StreamMapKeyError:           "StreamMapKeyError",
	NonStringTriplet:            "NonStringTriplet",
	IncompatibleIterable:        "IncompatibleIterable",
	TraceCorrupted:              "TraceCorrupted",
	IncompatibleExecutedState:   "IncompatibleExecutedState",
	CallResultsMismatch:         "CallResultsMismatch",
	IncompatibleCallResults:     "IncompatibleCallResults",
	InconsistentParState:        "InconsistentParState",
	CanonResultsMismatch:        "CanonResultsMismatch",
	CallParametersMismatch:      "CallParametersMismatch",
	CidNotFound:                 "CidNotFound",
	CidMismatch:                 "CidMismatch",
	SignatureMismatch:           "SignatureMismatch",
	ShadowingIsNotAllowed:       "ShadowingIsNotAllowed",
	StreamGenerationOutOfBounds: "StreamGenerationOutOfBounds",
	IterationLimitExceeded:      "IterationLimitExceeded",
	MalformedCallServiceResult:  "MalformedCallServiceResult",
	FoldStateCorrupted:          "FoldStateCorrupted",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int64(c))
}

// CatchableError is an error an enclosing xor can recover from.
type CatchableError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Flow marks errors that only steer control flow (match and mismatch).
	// They do not touch %last_error% or :error:.
	Flow bool

	// Object replaces the error object generated from Code and Message.
	Object *ErrorObject

	// Tetraplet is the provenance of the value that caused the error.
	Tetraplet *trace.Tetraplet
}

func (e *CatchableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UncatchableError is an error that aborts the execution.
type UncatchableError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *UncatchableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *UncatchableError) Unwrap() error { return e.Err }

// errJoin unwinds an instruction whose operands are not resolved yet. It
// never escapes the instruction that raised it.
var errJoin = errors.New("join")

func catchable(code ErrorCode, format string, args ...any) error {
	return &CatchableError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func uncatchable(code ErrorCode, format string, args ...any) error {
	return &UncatchableError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCatchable reports whether err can be caught by xor.
func IsCatchable(err error) bool {
	var ce *CatchableError
	return errors.As(err, &ce)
}

// IsUncatchable reports whether err aborts the execution.
func IsUncatchable(err error) bool {
	var ue *UncatchableError
	return errors.As(err, &ue)
}

// IsJoin reports whether err is an unresolved-operand join.
func IsJoin(err error) bool {
	return errors.Is(err, errJoin)
}

// CodeOf returns the code of an execution error, or 0 for anything else.
func CodeOf(err error) ErrorCode {
	var ce *CatchableError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var ue *UncatchableError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return 0
}

var mergeCodes = map[merger.ErrorKind]ErrorCode{
	merger.IncompatibleExecutedState: IncompatibleExecutedState,
	merger.CallResultsMismatch:       CallResultsMismatch,
	merger.IncompatibleCallResults:   IncompatibleCallResults,
	merger.InconsistentParState:      InconsistentParState,
	merger.CanonResultsMismatch:      CanonResultsMismatch,
	merger.FoldStateCorrupted:        FoldStateCorrupted,
}

// FromDataError turns merger, slider and store failures into uncatchable
// errors.
func FromDataError(err error) error {
	if err == nil {
		return nil
	}
	var me *merger.Error
	if errors.As(err, &me) {
		return &UncatchableError{Code: mergeCodes[me.Kind], Message: me.Error(), Err: err}
	}
	var tc *keeper.TraceCorruptedError
	if errors.As(err, &tc) {
		return &UncatchableError{Code: TraceCorrupted, Message: tc.Error(), Err: err}
	}
	var nf *trace.CIDNotFoundError
	if errors.As(err, &nf) {
		return &UncatchableError{Code: CidNotFound, Message: nf.Error(), Err: err}
	}
	var mm *trace.CIDMismatchError
	if errors.As(err, &mm) {
		return &UncatchableError{Code: CidMismatch, Message: mm.Error(), Err: err}
	}
	if IsUncatchable(err) || IsCatchable(err) || IsJoin(err) {
		return err
	}
	return &UncatchableError{Code: TraceCorrupted, Message: err.Error(), Err: err}
}
