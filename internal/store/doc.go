// Package store provides the room's append-only audit ledger on SQLite.
//
// # Architecture
//
// The ledger records what happened in a room: participants joining and
// leaving, finalized utterances, typed messages, poll responses and every
// payload the room published. It is write-only from the room's point of
// view. Conversation state lives in memory and is never restored from the
// ledger.
//
//   - Ledger: the interface the room consumes
//   - SQLiteStore: modernc.org/sqlite implementation
//   - NopLedger: used when no ledger path is configured
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// Use NewSQLiteStore(":memory:", nil) for tests.
//
// # Reading
//
// Recent returns the newest events of a room in chronological order.
// Events pages through a room's history with an opaque cursor.
package store
