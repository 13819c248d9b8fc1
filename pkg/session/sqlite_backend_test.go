package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func setupSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()

	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	return backend
}

func TestSQLiteBackend_SaveAndLoadMeta(t *testing.T) {
	backend := setupSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	meta := &SessionMeta{
		ID:           "sess-123",
		Project:      "docs",
		CreatedAt:    now,
		LastUsedAt:   now,
		Status:       StatusActive,
		MessageCount: 7,
	}

	if err := backend.SaveMeta(ctx, meta); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	loaded, err := backend.LoadMeta(ctx, "sess-123")
	if err != nil {
		t.Fatalf("LoadMeta failed: %v", err)
	}
	if loaded.Project != "docs" || loaded.Status != StatusActive || loaded.MessageCount != 7 {
		t.Errorf("loaded meta = %+v", loaded)
	}
	if !loaded.LastUsedAt.Equal(now) {
		t.Errorf("LastUsedAt = %v, want %v", loaded.LastUsedAt, now)
	}

	// Upsert keeps the row unique.
	meta.MessageCount = 8
	if err := backend.SaveMeta(ctx, meta); err != nil {
		t.Fatalf("SaveMeta (update) failed: %v", err)
	}
	loaded, err = backend.LoadMeta(ctx, "sess-123")
	if err != nil {
		t.Fatalf("LoadMeta failed: %v", err)
	}
	if loaded.MessageCount != 8 {
		t.Errorf("MessageCount after update = %d, want 8", loaded.MessageCount)
	}
}

func TestSQLiteBackend_LoadMetaNotFound(t *testing.T) {
	backend := setupSQLite(t)

	_, err := backend.LoadMeta(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LoadMeta error = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteBackend_StateRoundTrip(t *testing.T) {
	backend := setupSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	state := &SessionState{
		Messages: []Message{
			{ID: "m1", Timestamp: now, Role: RoleUser, Content: "привет", Files: []string{"a.go"}},
		},
		Periods: []CompactedPeriod{
			{ID: "p1", Start: now, End: now, MessageCount: 50, Summary: "processed 25 user requests"},
		},
	}

	if err := backend.SaveState(ctx, "sess-123", state); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	loaded, err := backend.LoadState(ctx, "sess-123")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "привет" {
		t.Errorf("loaded messages = %+v", loaded.Messages)
	}
	if len(loaded.Periods) != 1 || loaded.Periods[0].MessageCount != 50 {
		t.Errorf("loaded periods = %+v", loaded.Periods)
	}
}

func TestSQLiteBackend_ListMetas(t *testing.T) {
	backend := setupSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC()
	sessions := []*SessionMeta{
		{ID: "a", Project: "docs", CreatedAt: now, LastUsedAt: now.Add(1 * time.Minute), Status: StatusActive},
		{ID: "b", Project: "docs", CreatedAt: now, LastUsedAt: now.Add(3 * time.Minute), Status: StatusArchived},
		{ID: "c", Project: "other", CreatedAt: now, LastUsedAt: now.Add(2 * time.Minute), Status: StatusActive},
	}
	for _, m := range sessions {
		if err := backend.SaveMeta(ctx, m); err != nil {
			t.Fatalf("SaveMeta failed: %v", err)
		}
	}

	metas, err := backend.ListMetas(ctx, "docs", ListOptions{})
	if err != nil {
		t.Fatalf("ListMetas failed: %v", err)
	}
	if len(metas) != 2 || metas[0].ID != "b" || metas[1].ID != "a" {
		t.Errorf("ListMetas(docs) = %+v", metas)
	}

	active, err := backend.ListMetas(ctx, "docs", ListOptions{Status: StatusActive})
	if err != nil {
		t.Fatalf("ListMetas failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a" {
		t.Errorf("ListMetas(docs, active) = %+v", active)
	}

	limited, err := backend.ListMetas(ctx, "", ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListMetas failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListMetas(limit 2) returned %d rows", len(limited))
	}
}

func TestSQLiteBackend_DeleteSession(t *testing.T) {
	backend := setupSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC()
	meta := &SessionMeta{ID: "sess-123", Project: "docs", CreatedAt: now, LastUsedAt: now, Status: StatusActive}
	if err := backend.SaveMeta(ctx, meta); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	if err := backend.DeleteSession(ctx, "sess-123"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := backend.DeleteSession(ctx, "sess-123"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second DeleteSession error = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteBackend_Sweep(t *testing.T) {
	backend := setupSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC()
	sessions := []*SessionMeta{
		{ID: "fresh", Project: "docs", CreatedAt: now, LastUsedAt: now, Status: StatusActive},
		{ID: "stale", Project: "docs", CreatedAt: now, LastUsedAt: now.Add(-40 * 24 * time.Hour), Status: StatusActive},
		{ID: "expired", Project: "docs", CreatedAt: now, LastUsedAt: now.Add(-100 * 24 * time.Hour), Status: StatusArchived},
	}
	for _, m := range sessions {
		if err := backend.SaveMeta(ctx, m); err != nil {
			t.Fatalf("SaveMeta failed: %v", err)
		}
	}

	archived, deleted, err := backend.Sweep(ctx, now.Add(-30*24*time.Hour), now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if archived != 1 {
		t.Errorf("archived = %d, want 1", archived)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	stale, err := backend.LoadMeta(ctx, "stale")
	if err != nil {
		t.Fatalf("LoadMeta failed: %v", err)
	}
	if stale.Status != StatusArchived {
		t.Errorf("stale status = %s, want %s", stale.Status, StatusArchived)
	}
	if _, err := backend.LoadMeta(ctx, "expired"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired should be deleted, got %v", err)
	}
	fresh, err := backend.LoadMeta(ctx, "fresh")
	if err != nil || fresh.Status != StatusActive {
		t.Errorf("fresh session disturbed: %+v, %v", fresh, err)
	}
}

func TestSQLiteBackend_StoreIntegration(t *testing.T) {
	backend := setupSQLite(t)
	ctx := context.Background()

	store, err := NewStore(DefaultConfig(), backend, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := sess.Append(ctx, Message{Role: RoleUser, Content: "fixed the parser bug"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := sess.RecordMoment(ctx, Candidate{Type: MomentErrorSolved, Title: "Error solved"}); err != nil {
		t.Fatalf("RecordMoment() error = %v", err)
	}

	state, err := backend.LoadState(ctx, sess.ID())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if len(state.Messages) != 1 || len(state.Moments) != 1 {
		t.Errorf("persisted state = %d messages, %d moments", len(state.Messages), len(state.Moments))
	}
}
