package repository

// WorkingMemory is the key/value store nodes share during a run.
// Reads follow last-write-wins by write order.
type WorkingMemory interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Snapshot() map[string]string
}
