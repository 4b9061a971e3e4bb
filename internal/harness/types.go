package harness

// HopTrace is what one hop produced, with peer ids replaced by names.
type HopTrace struct {
	Peer      string   `json:"peer"`
	From      string   `json:"from,omitempty"`
	RetCode   int64    `json:"ret_code"`
	Error     string   `json:"error,omitempty"`
	NextPeers []string `json:"next_peers"`
	Calls     int      `json:"calls"`
	Trace     []string `json:"trace"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Hops lists the deliveries made, in order.
	Hops []HopTrace `json:"hops"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Hops:   []HopTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
