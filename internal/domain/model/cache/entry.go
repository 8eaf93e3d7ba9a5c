package cache

import "time"

// DefaultTTLSeconds is the default lifetime of a cached condition result
const DefaultTTLSeconds = 300

// Entry is one memoized condition evaluation. Entries are appended, never
// updated; the most recently appended entry for a key wins.
type Entry struct {
	ConditionKey  string `json:"condition_key"`
	NodeID        string `json:"node_id"`
	Result        bool   `json:"result"`
	ExpiresAtUnix int64  `json:"expires_at"`
}

// NewEntry stamps an entry written at now with the given ttl
func NewEntry(nodeID, conditionKey string, result bool, now time.Time, ttlSeconds int64) Entry {
	return Entry{
		ConditionKey:  conditionKey,
		NodeID:        nodeID,
		Result:        result,
		ExpiresAtUnix: now.Unix() + ttlSeconds,
	}
}

// UsableAt reports whether the entry may be served at now
func (e Entry) UsableAt(now time.Time) bool {
	return now.Unix() < e.ExpiresAtUnix
}

// Key identifies an evaluation site and condition
type Key struct {
	NodeID       string
	ConditionKey string
}

// Key returns the lookup key of the entry
func (e Entry) Key() Key {
	return Key{NodeID: e.NodeID, ConditionKey: e.ConditionKey}
}
