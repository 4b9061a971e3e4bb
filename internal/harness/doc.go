// Package harness runs AIR scenarios across in-process peers.
//
// A scenario names its peers, gives the script and either lists the hops
// to make or lets the particle follow its next peers from the initiator.
// Peer names stand in for peer ids: every peer gets an ed25519 key pair
// derived from its name, so signatures verify exactly as between real
// peers, and "@name" in the script is replaced by that peer's id.
//
// # Scenario Format
//
//	name: relay
//	description: "alice asks bob, bob answers"
//	init_peer: alice
//	peers:
//	  - name: alice
//	  - name: bob
//	    services:
//	      - service: greeter
//	        function: hello
//	        result: "hi"
//	script: |
//	  (seq
//	    (call @bob ("greeter" "hello") [] greeting)
//	    (call @alice ("op" "identity") [greeting] r))
//	flow:
//	  - peer: alice
//	  - peer: bob
//	    from: alice
//	    expect: {ret_code: 0, next_peers: [alice]}
//	  - peer: alice
//	    from: bob
//	assertions:
//	  - type: trace_states
//	    peer: alice
//	    states: [executed, executed]
//
// Without a flow the particle starts at init_peer and is routed by
// host.Network until no peer has anything to send.
//
// # Assertion Types
//
//   - trace_length: number of states in the data a peer holds
//   - trace_states: state kinds of that data, in order
//   - call_result: value of the executed call at a trace position
//   - signatures_valid: every signature in the data verifies
//   - signers: the set of peers that signed the data
//   - route: the peers visited, in order
//
// # Deterministic Testing
//
// Particle ids come from the scenario (or a fixed default) and timestamps
// from testutil.DeterministicClock, so a scenario always produces the same
// data. Golden snapshots render each hop's trace with values resolved and
// peer ids replaced by names.
package harness
