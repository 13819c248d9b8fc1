package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors for storage and store operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionArchived is returned when mutating a read-only session.
	ErrSessionArchived = errors.New("session is archived")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
	// ErrInvalidConfig is returned for configuration rejected at startup.
	ErrInvalidConfig = errors.New("invalid session configuration")
)

// PersistenceError wraps a storage failure. Transient errors are retried
// with backoff by the store before being surfaced to the caller.
type PersistenceError struct {
	// Op names the failing backend operation.
	Op string
	// Transient reports whether a retry may succeed.
	Transient bool
	// Err is the underlying cause.
	Err error
}

func (e *PersistenceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("persistence %s (%s): %v", e.Op, kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable persistence failure.
func IsTransient(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Transient
}

// ListOptions provides filtering for session listing.
type ListOptions struct {
	// Status filters sessions by lifecycle state ("" matches all).
	Status Status
	// Limit caps the number of results.
	Limit int
	// Offset skips the first N results.
	Offset int
}

// StorageBackend abstracts session persistence. A backend stores session
// metadata and the full state document separately; each call commits
// atomically so a crash never leaves a half-written session behind.
// Implementations must be safe for concurrent use.
type StorageBackend interface {
	// SaveMeta creates or updates session metadata.
	SaveMeta(ctx context.Context, meta *SessionMeta) error

	// LoadMeta retrieves session metadata by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadMeta(ctx context.Context, sessionID string) (*SessionMeta, error)

	// ListMetas returns sessions for a project matching the filter options,
	// most recently used first. An empty project matches all projects.
	ListMetas(ctx context.Context, project string, opts ListOptions) ([]*SessionMeta, error)

	// SaveState replaces the full state document for a session.
	SaveState(ctx context.Context, sessionID string, state *SessionState) error

	// LoadState retrieves the state document for a session.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadState(ctx context.Context, sessionID string) (*SessionState, error)

	// DeleteSession removes a session, its state, and its indexes.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases any resources held by the backend.
	Close() error
}

// sweeper is an optional backend upgrade: backends that can age out
// sessions natively (SQL UPDATE/DELETE) implement it and the store
// prefers it over the generic per-session sweep.
type sweeper interface {
	Sweep(ctx context.Context, archiveBefore, deleteBefore time.Time) (archived, deleted int, err error)
}
