package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Domain-level sentinel errors returned by every manager in this
// package, mirrored across the tool-surface translation layer
// (spec.md §7, §4.C).
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict is returned when an optimistic-concurrency UPDATE ...
	// WHERE status = $old affects zero rows: another writer already
	// moved the row to a different status.
	ErrConflict = errors.New("store: concurrent modification")
	// ErrDepthExceeded is returned when incrementing a session's
	// agent_depth would exceed the maximum the caller passes in; the
	// Agent Registry passes the spawned agent definition's
	// max_agent_depth, and a workflow definition has no say in this
	// limit (spec.md §3.1 Session invariants).
	ErrDepthExceeded = errors.New("store: agent depth exceeded")
	// ErrCycleDetected is returned when a task's depends_on write
	// would introduce a cycle (spec.md §3.1 Task invariants).
	ErrCycleDetected = errors.New("store: dependency cycle detected")
)

const pgUniqueViolation = "23505"

// translateWriteErr maps a raw pgx error into a store sentinel where a
// caller benefits from the distinction, and passes everything else
// through wrapped with context.
func translateWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	return err
}
