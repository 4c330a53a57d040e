package core

import "time"

// Checkpoint stores the state of the last confirmed object-store sync cycle:
// the set of remote keys known to be durably stored, and when the cycle
// completed. A checkpoint is superseded, never merged, by the next
// successful cycle.
type Checkpoint struct {
	// WALSegments holds the confirmed remote keys, ascending by segment index.
	WALSegments []string
	CreatedAt   time.Time
}

// Contains reports whether the given remote key is confirmed by this checkpoint.
func (c Checkpoint) Contains(key string) bool {
	for _, k := range c.WALSegments {
		if k == key {
			return true
		}
	}
	return false
}
