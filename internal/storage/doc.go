// Package storage provides the durable backends behind the entity runtime
// and the task store.
//
// It currently supports:
//   - SQLite (modernc.org/sqlite): timers, entity state, task definitions
//     and the status log in one database file
//   - JSONL files: task definitions and the status log
//   - PostgreSQL (pgx): task definitions and the status log
//   - memory: everything, for tests and throwaway runs
package storage
