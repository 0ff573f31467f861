package ws

import "github.com/google/uuid"

// newConnID labels a single socket for logs and lifecycle events. Connection
// ids are never persisted, so uniqueness per process lifetime is enough.
func newConnID() string {
	return uuid.NewString()
}
