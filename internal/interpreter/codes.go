package interpreter

import (
	"errors"
	"fmt"
)

// Success is the return code of an execution without errors.
const Success int64 = 0

// PreparationCode identifies why an execution could not start.
type PreparationCode int64

// Preparation error codes. The script did not run and the outcome carries
// prev_data unchanged.
const (
	// AIRParseError is a script that does not parse or fails the static checks.
	AIRParseError PreparationCode = 1 + iota

	// PrevDataDecodeError is prev_data that is not a valid envelope.
	PrevDataDecodeError

	// CurrentDataDecodeError is current_data that is not a valid envelope.
	CurrentDataDecodeError

	// UnsupportedDataVersion is an envelope in a data format outside the
	// supported range.
	UnsupportedDataVersion

	// InvalidRunParameters is a RunParameters value that fails validation.
	InvalidRunParameters

	// MalformedKeyPair is a secret key the key format cannot load.
	MalformedKeyPair

	// KeyPeerMismatch is a secret key that does not belong to the current peer.
	KeyPeerMismatch

	// SizeLimitsExceeded is an input over its size limit with hard limits on.
	SizeLimitsExceeded
)

var preparationNames = map[PreparationCode]string{
	AIRParseError:          "AIRParseError",
	PrevDataDecodeError:    "PrevDataDecodeError",
	CurrentDataDecodeError: "CurrentDataDecodeError",
	UnsupportedDataVersion: "UnsupportedDataVersion",
	InvalidRunParameters:   "InvalidRunParameters",
	MalformedKeyPair:       "MalformedKeyPair",
	KeyPeerMismatch:        "KeyPeerMismatch",
	SizeLimitsExceeded:     "SizeLimitsExceeded",
}

func (c PreparationCode) String() string {
	if name, ok := preparationNames[c]; ok {
		return name
	}
	return fmt.Sprintf("PreparationCode(%d)", int64(c))
}

// PreparationError reports an execution that never started.
type PreparationError struct {
	Code    PreparationCode
	Message string
	Err     error
}

func (e *PreparationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PreparationError) Unwrap() error { return e.Err }

func preparation(code PreparationCode, err error) *PreparationError {
	return &PreparationError{Code: code, Message: err.Error(), Err: err}
}

// FarewellCode identifies why a finished execution could not be packed up.
type FarewellCode int64

// Farewell error codes.
const (
	// EnvelopeEncodeError is a result envelope that failed to serialize.
	EnvelopeEncodeError FarewellCode = 30001 + iota

	// SigningError is a local signature that could not be produced.
	SigningError
)

func (c FarewellCode) String() string {
	switch c {
	case EnvelopeEncodeError:
		return "EnvelopeEncodeError"
	case SigningError:
		return "SigningError"
	}
	return fmt.Sprintf("FarewellCode(%d)", int64(c))
}

// FarewellError reports a failure after the script ran.
type FarewellError struct {
	Code    FarewellCode
	Message string
	Err     error
}

func (e *FarewellError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FarewellError) Unwrap() error { return e.Err }

// IsPreparationError reports whether err stopped an execution before it ran.
func IsPreparationError(err error) bool {
	var pe *PreparationError
	return errors.As(err, &pe)
}

// IsFarewellError reports whether err happened while packing up a result.
func IsFarewellError(err error) bool {
	var fe *FarewellError
	return errors.As(err, &fe)
}
