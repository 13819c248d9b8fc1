package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/docmind-dev/docmind/pkg/observability"
)

// cleanupConcurrency bounds parallel backend calls during a generic sweep.
const cleanupConcurrency = 4

// Store manages session lifecycle over a storage backend. It keeps a
// cache of live sessions so each session ID maps to a single *Session
// instance, which is what serializes concurrent mutations per session.
type Store struct {
	cfg      Config
	backend  StorageBackend
	keywords KeywordTable

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewStore validates the configuration and wraps the backend. A nil
// keyword table uses the built-in defaults.
func NewStore(cfg Config, backend StorageBackend, keywords KeywordTable) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: nil storage backend", ErrInvalidConfig)
	}
	if keywords == nil {
		keywords = DefaultKeywordTable()
	}
	return &Store{
		cfg:      cfg,
		backend:  backend,
		keywords: keywords,
		sessions: make(map[string]*Session),
	}, nil
}

// Config returns the store's configuration.
func (st *Store) Config() Config { return st.cfg }

// Create starts a fresh active session for the project. The raw project
// name is normalized before use.
func (st *Store) Create(ctx context.Context, project string) (*Session, error) {
	ctx, span := observability.StartSpan(ctx, "session.create")
	defer span.End()

	normalized, err := NormalizeProject(project)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.project", normalized))

	now := time.Now().UTC()
	meta := &SessionMeta{
		ID:         uuid.New().String(),
		Project:    normalized,
		CreatedAt:  now,
		LastUsedAt: now,
		Status:     StatusActive,
	}
	state := &SessionState{}

	if err := st.persist(ctx, meta, state); err != nil {
		return nil, err
	}

	sess := newSession(st, meta, state)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, ErrStorageClosed
	}
	st.sessions[meta.ID] = sess
	st.mu.Unlock()

	observability.RecordSessionCreated(normalized)
	return sess, nil
}

// Get returns the session with the given ID, loading it from the backend
// on a cache miss.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	st.mu.RLock()
	if st.closed {
		st.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	if sess, ok := st.sessions[id]; ok {
		st.mu.RUnlock()
		return sess, nil
	}
	st.mu.RUnlock()

	meta, err := st.loadMetaRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := st.loadStateRetry(ctx, id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, ErrStorageClosed
	}
	// Another goroutine may have loaded it concurrently; keep the first.
	if sess, ok := st.sessions[id]; ok {
		return sess, nil
	}
	sess := newSession(st, meta, state)
	st.sessions[id] = sess
	return sess, nil
}

// Latest returns the most recently used active session for the project,
// or ErrSessionNotFound when the project has none.
func (st *Store) Latest(ctx context.Context, project string) (*Session, error) {
	normalized, err := NormalizeProject(project)
	if err != nil {
		return nil, err
	}

	metas, err := st.backend.ListMetas(ctx, normalized, ListOptions{Status: StatusActive, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, ErrSessionNotFound
	}
	return st.Get(ctx, metas[0].ID)
}

// GetOrCreate resumes the project's latest active session, creating one
// when none exists.
func (st *Store) GetOrCreate(ctx context.Context, project string) (*Session, error) {
	sess, err := st.Latest(ctx, project)
	if err == nil {
		return sess, nil
	}
	if err != ErrSessionNotFound {
		return nil, err
	}
	return st.Create(ctx, project)
}

// Archive transitions a session to read-only. Archived sessions reject
// mutations but remain readable until deleted.
func (st *Store) Archive(ctx context.Context, id string) error {
	sess, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	return sess.setStatus(ctx, StatusArchived)
}

// Delete removes a session and its state from the backend and evicts it
// from the cache.
func (st *Store) Delete(ctx context.Context, id string) error {
	if err := st.backend.DeleteSession(ctx, id); err != nil {
		return err
	}
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
	return nil
}

// ListProjectSessions returns metadata for all of a project's sessions,
// most recently used first.
func (st *Store) ListProjectSessions(ctx context.Context, project string) ([]*SessionMeta, error) {
	normalized, err := NormalizeProject(project)
	if err != nil {
		return nil, err
	}
	return st.backend.ListMetas(ctx, normalized, ListOptions{})
}

// Stats aggregates session counts across the whole store and refreshes
// the active-session gauge.
func (st *Store) Stats(ctx context.Context) (*Stats, error) {
	metas, err := st.backend.ListMetas(ctx, "", ListOptions{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: make(map[Status]int)}
	projects := make(map[string]struct{})
	for _, m := range metas {
		stats.TotalSessions++
		stats.ByStatus[m.Status]++
		projects[m.Project] = struct{}{}
	}
	stats.UniqueProjects = len(projects)
	observability.SetActiveSessions(stats.ByStatus[StatusActive])
	return stats, nil
}

// Ping verifies the backend is reachable. Backends without a native
// ping fall back to a listing probe.
func (st *Store) Ping(ctx context.Context) error {
	if p, ok := st.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := st.backend.ListMetas(ctx, "", ListOptions{Limit: 1})
	return err
}

// Cleanup applies the two-tier retention policy: active sessions idle
// since archiveBefore are archived, archived sessions idle since
// deleteBefore are deleted. Backends that can sweep natively do so in
// one pass; otherwise metas are swept concurrently. Returns the number
// of sessions archived and deleted.
func (st *Store) Cleanup(ctx context.Context, archiveBefore, deleteBefore time.Time) (int, int, error) {
	ctx, span := observability.StartSpan(ctx, "session.cleanup",
		trace.WithAttributes(
			attribute.String("cleanup.archive_before", archiveBefore.Format(time.RFC3339)),
			attribute.String("cleanup.delete_before", deleteBefore.Format(time.RFC3339)),
		))
	defer span.End()

	archived, deleted, err := st.sweep(ctx, archiveBefore, deleteBefore)
	if err != nil {
		return archived, deleted, err
	}

	if err := st.reconcileCache(ctx); err != nil {
		return archived, deleted, err
	}

	observability.RecordCleanup("archived", archived)
	observability.RecordCleanup("deleted", deleted)
	return archived, deleted, nil
}

func (st *Store) sweep(ctx context.Context, archiveBefore, deleteBefore time.Time) (int, int, error) {
	if sw, ok := st.backend.(sweeper); ok {
		return sw.Sweep(ctx, archiveBefore, deleteBefore)
	}

	metas, err := st.backend.ListMetas(ctx, "", ListOptions{})
	if err != nil {
		return 0, 0, err
	}

	var archived, deleted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)

	for _, m := range metas {
		m := m
		needsArchive := m.Status == StatusActive && m.LastUsedAt.Before(archiveBefore)
		if !needsArchive && !(m.Status == StatusArchived && m.LastUsedAt.Before(deleteBefore)) {
			continue
		}
		// Both tiers apply in one pass: a session archived here is
		// immediately eligible for deletion when idle long enough.
		g.Go(func() error {
			if needsArchive {
				m.Status = StatusArchived
				if err := st.backend.SaveMeta(gctx, m); err != nil {
					return err
				}
				atomic.AddInt64(&archived, 1)
			}
			if m.Status == StatusArchived && m.LastUsedAt.Before(deleteBefore) {
				if err := st.backend.DeleteSession(gctx, m.ID); err != nil {
					return err
				}
				atomic.AddInt64(&deleted, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(archived), int(deleted), err
	}
	return int(archived), int(deleted), nil
}

// reconcileCache refreshes or evicts cached sessions after a sweep so
// callers holding references observe the swept lifecycle state.
func (st *Store) reconcileCache(ctx context.Context) error {
	st.mu.Lock()
	cached := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		cached = append(cached, sess)
	}
	st.mu.Unlock()

	for _, sess := range cached {
		if err := sess.refreshMeta(ctx); err != nil {
			if err == ErrSessionNotFound {
				st.mu.Lock()
				delete(st.sessions, sess.ID())
				st.mu.Unlock()
				continue
			}
			return err
		}
	}
	return nil
}

// Close releases the backend. Further store operations fail with
// ErrStorageClosed.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()
	return st.backend.Close()
}

// persist writes state then metadata with transient-error retries. State
// goes first so metadata never references state that failed to land.
func (st *Store) persist(ctx context.Context, meta *SessionMeta, state *SessionState) error {
	if err := st.retry(ctx, "save_state", func() error {
		return st.backend.SaveState(ctx, meta.ID, state)
	}); err != nil {
		return err
	}
	return st.persistMeta(ctx, meta)
}

func (st *Store) persistMeta(ctx context.Context, meta *SessionMeta) error {
	return st.retry(ctx, "save_meta", func() error {
		return st.backend.SaveMeta(ctx, meta)
	})
}

func (st *Store) loadMetaRetry(ctx context.Context, id string) (*SessionMeta, error) {
	var meta *SessionMeta
	err := st.retry(ctx, "load_meta", func() error {
		var err error
		meta, err = st.backend.LoadMeta(ctx, id)
		return err
	})
	return meta, err
}

func (st *Store) loadStateRetry(ctx context.Context, id string) (*SessionState, error) {
	var state *SessionState
	err := st.retry(ctx, "load_state", func() error {
		var err error
		state, err = st.backend.LoadState(ctx, id)
		return err
	})
	return state, err
}

// retry runs fn up to MaxRetries times, doubling the backoff between
// attempts. Only transient persistence errors are retried.
func (st *Store) retry(ctx context.Context, op string, fn func() error) error {
	attempts := st.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := st.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			break
		}
	}
	if err != nil {
		observability.RecordStoreError(op)
	}
	return err
}
