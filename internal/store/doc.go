// Package store is the SQLite side of the system.
//
// It holds two things:
//
//   - The ledger: a local authority for shelves, items and slots that
//     satisfies the remote actor contract. It assigns integer position
//     keys with gaps, renumbers a list when a gap runs out (bumping the
//     shelf's rebalance counter), and can hold a shelf in a
//     needs-rebalance state during which reorders are refused.
//   - The journal: one row per remote call and one per outcome, keyed by
//     content-addressed ids and ordered by a logical sequence.
//
// Configuration:
//   - WAL journal mode, NORMAL synchronous, 5s busy timeout, foreign keys
//   - a single connection, since SQLite has one writer
//   - schema embedded from schema.sql, versioned with PRAGMA user_version
//
// Reads return empty slices, not nil, when nothing matches.
package store
