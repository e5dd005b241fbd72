package state

import (
	"fmt"

	"github.com/user/stevebot/internal/types"
)

// Open returns the snapshot store for the configured backend ("file" or "sqlite").
func Open(backend, root string) (types.SnapshotStore, error) {
	switch backend {
	case "", "file":
		return NewFileStore(root), nil
	case "sqlite":
		return OpenSQLite(root)
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", backend)
	}
}
