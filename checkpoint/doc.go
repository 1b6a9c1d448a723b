// Package checkpoint provides core.CheckpointStore implementations. The
// in-memory store lives here; checkpoint/sqlite persists checkpoints to a
// SQLite database.
package checkpoint
