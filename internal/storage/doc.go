// Package storage persists scheduled tasks and their run history.
//
// Two drivers share one interface: sqlite (default) and a dependency-free
// file driver (JSON snapshot + JSONL journal). Timer registrations are
// never persisted; the engine rebuilds them from this store at startup.
package storage
