package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
)

// ConditionCacheRepository stores memoized condition results.
// It is logically append-only: Latest returns the most recently appended
// entry for a key by append order, never by comparing timestamps.
type ConditionCacheRepository interface {
	// Append records a new entry
	Append(ctx context.Context, e cache.Entry) error

	// Latest returns the most recently appended entry for key
	Latest(ctx context.Context, key cache.Key) (cache.Entry, bool, error)
}
