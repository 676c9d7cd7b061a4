// Package baggage is the durable key/value store that kit state lives in.
//
// A Store offers exactly what the publish kit needs to survive a restart:
// point loads, atomic single-key commits that are durable once Commit
// returns, and prefix listing for operators. Three backends exist:
//
//   - PebbleStore: Pebble LSM, the default for a node's data directory
//   - SQLiteStore: a single SQLite file, handy when operators want to poke at
//     state with the sqlite3 shell
//   - MemoryStore: process memory, used by tests and the "memory" backend
//
// Values are opaque bytes; callers frame them with encoding.EncodeRecord.
//
// Key layout used across pubkit:
//
//	/kind/{kind}/kit/{id}   -> record(pubsub.State)
//	/counter/{name}         -> record(int64)
//	/provide/{key}          -> record(provide entry)
package baggage
