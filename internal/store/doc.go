// Package store keeps particle data and an execution log in SQLite.
//
// The interpreter itself is stateless; a host stores the envelope a peer
// produced and hands it back as prev_data the next time that peer sees the
// particle. The store holds:
//   - particles: the latest envelope per (particle, peer)
//   - executions: every invocation with its inputs and outcome, so that any
//     execution can be re-run and compared byte for byte
//
// Ordering uses the seq column, a logical clock assigned on insert. Queries
// never order by wall time.
//
// The execution log stores run parameters as given, secret keys included.
// It is meant for local hosts and debugging, not for shared deployments.
//
// Connections use WAL journaling, synchronous=NORMAL, a 5s busy timeout and
// foreign keys. Schema upgrades are tracked in PRAGMA user_version.
package store
