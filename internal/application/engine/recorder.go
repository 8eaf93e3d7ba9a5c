package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// recorder appends state events with a shared clock
type recorder struct {
	log repository.StateLog
	now func() time.Time
}

func (r recorder) record(ctx context.Context, ec ExecContext, nodeID string, typ event.Type, payload map[string]interface{}) error {
	e := event.New(r.now(), ec.RunID, nodeID, typ, payload)
	if err := r.log.Append(ctx, e); err != nil {
		return fmt.Errorf("append %s event for %s: %w", typ, nodeID, err)
	}
	return nil
}
