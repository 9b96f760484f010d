package memory

import "database/sql"

// DB exposes the internal *sql.DB for test helpers in memory_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetCommitHook replaces the transaction commit step, for failure
// injection in atomicity tests. Pass nil to restore the default.
func (s *Store) SetCommitHook(fn func(tx *sql.Tx) error) {
	s.hooks.commit = fn
}
