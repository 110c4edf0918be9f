package buffer

import "github.com/google/uuid"

// NewReplicaID generates the process-lifetime replica identity: a short
// random token stamped onto every buffer this replica claims. Generated
// once at startup and threaded explicitly through the collector and
// buffer service, never read from ambient global state.
func NewReplicaID() string {
	return uuid.NewString()[:8]
}
