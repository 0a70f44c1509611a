// Package storage persists the roadmap hierarchy in SQLite.
//
// One writable connection, WAL journaling and a busy timeout keep writers
// serialized; the engine's transactions run through WithTx so a status flip
// and its task batch commit together. The schema ships embedded and is
// applied idempotently on open.
package storage
