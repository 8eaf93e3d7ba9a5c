package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
)

// FeedbackQueue is the append-only feedback message log.
// Each status change of a message is a new record.
type FeedbackQueue interface {
	// Append records a message in its current status
	Append(ctx context.Context, m feedback.Message) error

	// History returns every record in append order
	History(ctx context.Context) (feedback.History, error)
}
