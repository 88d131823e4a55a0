package mirror

import (
	"strings"
)

// keyPrefix namespaces every mirror key.
const keyPrefix = "registry"

// Key identifies one mirrored result.
type Key struct {
	// RunID is the run the result belongs to.
	RunID string

	// ID is the looked-up identifier.
	ID string
}

// String generates a deterministic key string.
//
// Example:
//
//	registry:1b4e28ba-2fa1-11d2-883f-0016d3cca427:result:A1
func (k Key) String() string {
	return join(k.RunID, "result", k.ID)
}

// CompletedKey is the list of identifiers in completion order for a run.
func CompletedKey(runID string) string {
	return join(runID, "completed")
}

// CountKey is the counter of published results for a run.
func CountKey(runID string) string {
	return join(runID, "count")
}

func join(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}
