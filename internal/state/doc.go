// Package state provides filesystem-backed snapshot storage.
package state

import "github.com/user/stevebot/internal/types"

// Compile-time interface compliance checks.
var _ types.SnapshotStore = (*FileStore)(nil)
var _ types.SnapshotStore = (*SQLiteStore)(nil)
