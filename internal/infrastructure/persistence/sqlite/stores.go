package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

var (
	_ repository.StateLog                 = (*StateLog)(nil)
	_ repository.ConditionCacheRepository = (*ConditionCache)(nil)
	_ repository.FeedbackQueue            = (*FeedbackQueue)(nil)
)

// RunStores bundles the stores of one run; rows are scoped by run id
type RunStores struct {
	Events   *StateLog
	Cache    *ConditionCache
	Feedback *FeedbackQueue
}

// OpenRun returns the stores of runID over a migrated database
func OpenRun(db *sql.DB, runID string) *RunStores {
	return &RunStores{
		Events:   &StateLog{db: db, runID: runID},
		Cache:    &ConditionCache{db: db, runID: runID},
		Feedback: &FeedbackQueue{db: db, runID: runID},
	}
}

// StateLog stores control-flow events in state_events
type StateLog struct {
	db    *sql.DB
	runID string
}

// Append inserts one event
func (s *StateLog) Append(ctx context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var payload sql.NullString
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload failed: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}
	_, err := executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO state_events (run_id, event_id, node_id, event_type, ts, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.runID, e.ID, e.NodeID, string(e.Type), e.Timestamp.UTC().Format(time.RFC3339Nano), payload,
	)
	if err != nil {
		return fmt.Errorf("insert event %s failed: %w", e.ID, err)
	}
	return nil
}

// Events returns the run's events in insertion order
func (s *StateLog) Events(ctx context.Context) ([]event.Event, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx, `
		SELECT event_id, node_id, event_type, ts, payload
		FROM state_events WHERE run_id = ? ORDER BY seq`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query events failed: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e       event.Event
			typ, ts string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.NodeID, &typ, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event failed: %w", err)
		}
		e.RunID = s.runID
		e.Type = event.Type(typ)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse ts of event %s: %w", e.ID, err)
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload of event %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events failed: %w", err)
	}
	return out, nil
}

// ConditionCache stores memoized condition results in condition_cache
type ConditionCache struct {
	db    *sql.DB
	runID string
}

// Append inserts one entry
func (c *ConditionCache) Append(ctx context.Context, e cache.Entry) error {
	_, err := executor(ctx, c.db).ExecContext(ctx, `
		INSERT INTO condition_cache (run_id, node_id, condition_key, result, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.runID, e.NodeID, e.ConditionKey, e.Result, e.ExpiresAtUnix,
	)
	if err != nil {
		return fmt.Errorf("insert cache entry for %s failed: %w", e.NodeID, err)
	}
	return nil
}

// Latest returns the most recently inserted entry for key
func (c *ConditionCache) Latest(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	e := cache.Entry{NodeID: key.NodeID, ConditionKey: key.ConditionKey}
	err := executor(ctx, c.db).QueryRowContext(ctx, `
		SELECT result, expires_at FROM condition_cache
		WHERE run_id = ? AND node_id = ? AND condition_key = ?
		ORDER BY seq DESC LIMIT 1`,
		c.runID, key.NodeID, key.ConditionKey,
	).Scan(&e.Result, &e.ExpiresAtUnix)
	if err == sql.ErrNoRows {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("query cache entry failed: %w", err)
	}
	return e, true, nil
}

// FeedbackQueue stores feedback message records in feedback_messages
type FeedbackQueue struct {
	db    *sql.DB
	runID string
}

// Append inserts one message record
func (q *FeedbackQueue) Append(ctx context.Context, m feedback.Message) error {
	_, err := executor(ctx, q.db).ExecContext(ctx, `
		INSERT INTO feedback_messages (run_id, message_id, from_node, to_node, feedback_type,
		                               message, suggested_fix, priority, round, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.runID, m.ID, m.FromNode, m.ToNode, string(m.Type),
		m.Message, m.SuggestedFix, string(m.Priority), m.Round, string(m.Status), m.Reason,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert feedback %s failed: %w", m.ID, err)
	}
	return nil
}

// History returns the run's message records in insertion order
func (q *FeedbackQueue) History(ctx context.Context) (feedback.History, error) {
	rows, err := executor(ctx, q.db).QueryContext(ctx, `
		SELECT message_id, from_node, to_node, feedback_type, message, suggested_fix,
		       priority, round, status, reason, created_at
		FROM feedback_messages WHERE run_id = ? ORDER BY seq`, q.runID)
	if err != nil {
		return nil, fmt.Errorf("query feedback failed: %w", err)
	}
	defer rows.Close()

	var out feedback.History
	for rows.Next() {
		var (
			m                         feedback.Message
			typ, priority, status, ts string
			suggestedFix, reason      sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.FromNode, &m.ToNode, &typ, &m.Message, &suggestedFix,
			&priority, &m.Round, &status, &reason, &ts); err != nil {
			return nil, fmt.Errorf("scan feedback failed: %w", err)
		}
		m.Type = feedback.Type(typ)
		m.Priority = feedback.Priority(priority)
		m.Status = feedback.Status(status)
		m.SuggestedFix = suggestedFix.String
		m.Reason = reason.String
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback failed: %w", err)
	}
	return out, nil
}

// Runs lists run ids that have events, oldest first
func Runs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id FROM state_events GROUP BY run_id ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("query runs failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
