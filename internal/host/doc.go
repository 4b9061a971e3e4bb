// Package host is a reference host for the interpreter.
//
// The interpreter is a pure function of its inputs. A host owns everything
// around it: the particle data each peer holds, the local services that
// answer call requests, and the transport between peers. This package
// provides a minimal in-process version of each, used by the harness, the
// CLI and tests:
//   - Peer runs the execute, call services, re-execute loop for one peer
//   - Registry maps (service, function) pairs to Go functions
//   - Network routes particles between in-process peers by next-peer ids
//
// Nothing here is part of the interpreter contract. Production hosts are
// expected to bring their own transport and service runtime.
package host
