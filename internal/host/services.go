package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// CallRequest is a call request decoded for a service implementation.
type CallRequest struct {
	ID           uint32
	ServiceID    string
	FunctionName string
	Arguments    ir.Array

	// Tetraplets holds one slice per argument; a stream or canon argument
	// has one tetraplet per element.
	Tetraplets [][]trace.Tetraplet

	ParticleID string
	PeerID     string
	InitPeerID string
}

// Services answers call requests.
type Services interface {
	Call(ctx context.Context, req CallRequest) interpreter.CallServiceResult
}

// ServiceFunc implements one service function. A returned error becomes a
// failed call result; wrap a *ServiceError to choose the return code.
type ServiceFunc func(ctx context.Context, req CallRequest) (ir.Value, error)

// ServiceError is a service failure with an explicit return code.
type ServiceError struct {
	RetCode int32
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error %d: %s", e.RetCode, e.Message)
}

// DefaultErrorCode is the return code of a service error without one.
const DefaultErrorCode int32 = 1

// Registry maps (service, function) pairs to implementations.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]map[string]ServiceFunc
	services map[string]ServiceFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:    make(map[string]map[string]ServiceFunc),
		services: make(map[string]ServiceFunc),
	}
}

// Register binds fn to service/function, replacing any previous binding.
func (r *Registry) Register(service, function string, fn ServiceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[service] == nil {
		r.funcs[service] = make(map[string]ServiceFunc)
	}
	r.funcs[service][function] = fn
}

// RegisterService binds fn to every function of service that has no
// function-level binding.
func (r *Registry) RegisterService(service string, fn ServiceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = fn
}

// Lookup returns the implementation of service/function.
func (r *Registry) Lookup(service, function string) (ServiceFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.funcs[service][function]; ok {
		return fn, true
	}
	fn, ok := r.services[service]
	return fn, ok
}

// Names lists the registered "service.function" pairs in sorted order.
// Service-wide bindings appear as "service.*".
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for service, funcs := range r.funcs {
		for function := range funcs {
			names = append(names, service+"."+function)
		}
	}
	for service := range r.services {
		names = append(names, service+".*")
	}
	sort.Strings(names)
	return names
}

// Call implements Services.
func (r *Registry) Call(ctx context.Context, req CallRequest) interpreter.CallServiceResult {
	fn, ok := r.Lookup(req.ServiceID, req.FunctionName)
	if !ok {
		return failure(DefaultErrorCode, fmt.Sprintf("service %s.%s not found", req.ServiceID, req.FunctionName))
	}
	value, err := fn(ctx, req)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) {
			return failure(se.RetCode, se.Message)
		}
		return failure(DefaultErrorCode, err.Error())
	}
	if value == nil {
		value = ir.Null{}
	}
	b, err := ir.Marshal(value)
	if err != nil {
		return failure(DefaultErrorCode, fmt.Sprintf("encode result: %s", err))
	}
	return interpreter.CallServiceResult{RetCode: 0, Result: string(b)}
}

// failure builds a failed call result whose Result is the message as a
// JSON string.
func failure(code int32, msg string) interpreter.CallServiceResult {
	if code == 0 {
		code = DefaultErrorCode
	}
	b, _ := json.Marshal(msg)
	return interpreter.CallServiceResult{RetCode: code, Result: string(b)}
}

// decodeCallRequest turns the interpreter's request into a CallRequest.
func decodeCallRequest(id uint32, params interpreter.CallRequestParams, p Particle, peerID string) (CallRequest, error) {
	req := CallRequest{
		ID:           id,
		ServiceID:    params.ServiceID,
		FunctionName: params.FunctionName,
		ParticleID:   p.ID,
		PeerID:       peerID,
		InitPeerID:   p.InitPeerID,
	}
	args, err := ir.Parse([]byte(params.Arguments))
	if err != nil {
		return req, fmt.Errorf("call %d: arguments: %w", id, err)
	}
	arr, ok := args.(ir.Array)
	if !ok {
		return req, fmt.Errorf("call %d: arguments must be an array, got %s", id, ir.TypeName(args))
	}
	req.Arguments = arr
	if params.Tetraplets != "" {
		if err := json.Unmarshal([]byte(params.Tetraplets), &req.Tetraplets); err != nil {
			return req, fmt.Errorf("call %d: tetraplets: %w", id, err)
		}
	}
	return req, nil
}

// Identity returns its first argument, or null without arguments.
func Identity(_ context.Context, req CallRequest) (ir.Value, error) {
	if len(req.Arguments) == 0 {
		return ir.Null{}, nil
	}
	return req.Arguments[0], nil
}

// Echo returns all arguments as an array.
func Echo(_ context.Context, req CallRequest) (ir.Value, error) {
	out := make(ir.Array, len(req.Arguments))
	copy(out, req.Arguments)
	return out, nil
}

// Noop returns an empty string.
func Noop(context.Context, CallRequest) (ir.Value, error) {
	return ir.String(""), nil
}

// Constant returns a service that always answers v.
func Constant(v ir.Value) ServiceFunc {
	return func(context.Context, CallRequest) (ir.Value, error) {
		return v, nil
	}
}

// Fail returns a service that always fails with code and message.
func Fail(code int32, message string) ServiceFunc {
	return func(context.Context, CallRequest) (ir.Value, error) {
		return nil, &ServiceError{RetCode: code, Message: message}
	}
}

// RegisterBuiltins adds the "op" service: identity, array, noop.
func RegisterBuiltins(r *Registry) {
	r.Register("op", "identity", Identity)
	r.Register("op", "array", Echo)
	r.Register("op", "noop", Noop)
}
