package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
)

// StateLog is the append-only record of control-flow events.
// Implementations serialize appends and serve snapshot reads; a returned
// slice is never modified by later appends.
type StateLog interface {
	// Append durably records one event
	Append(ctx context.Context, e event.Event) error

	// Events returns every recorded event in append order
	Events(ctx context.Context) ([]event.Event, error)
}
