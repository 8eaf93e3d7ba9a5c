package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrRunLocked is returned when another live process holds the run
var ErrRunLocked = errors.New("run is locked by another process")

// RunLock records which process is executing a run
type RunLock struct {
	RunID      string
	PID        int
	Hostname   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// RunLocks guarantees a single writer per run id across processes
type RunLocks struct {
	db      *sql.DB
	now     func() time.Time
	running func(pid int) bool
}

// NewRunLocks creates the lock repository
func NewRunLocks(db *sql.DB) *RunLocks {
	return &RunLocks{db: db, now: time.Now, running: isProcessRunning}
}

// Acquire takes the lock for runID, replacing a stale holder.
// A lock is stale once expired or when its process is gone.
func (r *RunLocks) Acquire(ctx context.Context, runID string, ttl time.Duration) (*RunLock, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("get hostname: %w", err)
	}
	now := r.now().UTC()
	l := &RunLock{RunID: runID, PID: os.Getpid(), Hostname: hostname, AcquiredAt: now, ExpiresAt: now.Add(ttl)}

	err = InTransaction(ctx, r.db, func(txCtx context.Context) error {
		existing, err := r.Find(txCtx, runID)
		if err != nil {
			return err
		}
		if existing != nil {
			if now.Before(existing.ExpiresAt) && r.running(existing.PID) {
				return fmt.Errorf("%w: %s held by pid %d on %s", ErrRunLocked, runID, existing.PID, existing.Hostname)
			}
			if _, err := executor(txCtx, r.db).ExecContext(txCtx,
				`DELETE FROM run_locks WHERE run_id = ?`, runID); err != nil {
				return fmt.Errorf("delete stale run lock: %w", err)
			}
		}
		_, err = executor(txCtx, r.db).ExecContext(txCtx, `
			INSERT INTO run_locks (run_id, pid, hostname, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?)`,
			l.RunID, l.PID, l.Hostname, l.AcquiredAt.Format(time.RFC3339), l.ExpiresAt.Format(time.RFC3339),
		)
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrRunLocked, runID)
		}
		if err != nil {
			return fmt.Errorf("insert run lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Release drops the lock for runID
func (r *RunLocks) Release(ctx context.Context, runID string) error {
	result, err := executor(ctx, r.db).ExecContext(ctx, `DELETE FROM run_locks WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lock not found: %s", runID)
	}
	return nil
}

// Find returns the lock for runID, or nil when none is held
func (r *RunLocks) Find(ctx context.Context, runID string) (*RunLock, error) {
	var (
		l                     RunLock
		acquiredAt, expiresAt string
	)
	err := executor(ctx, r.db).QueryRowContext(ctx, `
		SELECT run_id, pid, hostname, acquired_at, expires_at
		FROM run_locks WHERE run_id = ?`, runID,
	).Scan(&l.RunID, &l.PID, &l.Hostname, &acquiredAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run lock: %w", err)
	}
	if l.AcquiredAt, err = time.Parse(time.RFC3339, acquiredAt); err != nil {
		return nil, fmt.Errorf("parse acquired_at: %w", err)
	}
	if l.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &l, nil
}

func isProcessRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
