package ir

// Version constants written into every outgoing data envelope.
const (
	// InterpreterVersion is the airvm interpreter version.
	InterpreterVersion = "0.1.0"

	// DataFormatVersion is the envelope format this interpreter writes.
	DataFormatVersion = "0.1.0"

	// MinDataFormatVersion is the oldest envelope format still accepted.
	MinDataFormatVersion = "0.1.0"

	// MaxDataFormatVersion is the first envelope format no longer understood.
	MaxDataFormatVersion = "1.0.0"
)
