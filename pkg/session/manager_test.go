package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()

	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	store, err := NewStore(cfg, backend, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestNewStoreValidation(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	tests := []struct {
		name    string
		cfg     Config
		backend StorageBackend
	}{
		{
			name:    "zero capacity",
			cfg:     Config{MaxMessages: 0, CompressionThreshold: 50, RecentWindow: 50, TopMoments: 10, MaxRetries: 3, RetryBackoff: time.Millisecond},
			backend: backend,
		},
		{
			name:    "threshold exceeds capacity",
			cfg:     Config{MaxMessages: 10, CompressionThreshold: 10, RecentWindow: 5, TopMoments: 10, MaxRetries: 3, RetryBackoff: time.Millisecond},
			backend: backend,
		},
		{
			name:    "nil backend",
			cfg:     DefaultConfig(),
			backend: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.cfg, tt.backend, nil)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewStore() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStoreCreate(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.Create(ctx, "  My Docs Project  ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if sess.ID() == "" {
		t.Error("session ID should not be empty")
	}
	if sess.Project() != "my-docs-project" {
		t.Errorf("Project() = %q, want %q", sess.Project(), "my-docs-project")
	}
	if sess.Status() != StatusActive {
		t.Errorf("Status() = %v, want %v", sess.Status(), StatusActive)
	}
	if sess.MessageCount() != 0 {
		t.Errorf("MessageCount() = %d, want 0", sess.MessageCount())
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t, DefaultConfig())

	_, err := store.Get(context.Background(), "no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreGetReturnsCachedInstance(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, sess.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != sess {
		t.Error("Get() should return the same *Session instance for a cached session")
	}
}

func TestStoreLatest(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	first, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Touch the second session so it is most recently used.
	if _, err := second.Append(ctx, Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	latest, err := store.Latest(ctx, "docs")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID() != second.ID() {
		t.Errorf("Latest() = %s, want %s", latest.ID(), second.ID())
	}

	// Archiving the latest should fall back to the older one.
	if err := store.Archive(ctx, second.ID()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	latest, err = store.Latest(ctx, "docs")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID() != first.ID() {
		t.Errorf("Latest() after archive = %s, want %s", latest.ID(), first.ID())
	}
}

func TestStoreLatestNotFound(t *testing.T) {
	store := newTestStore(t, DefaultConfig())

	_, err := store.Latest(context.Background(), "empty-project")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Latest() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreGetOrCreate(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	again, err := store.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if again.ID() != sess.ID() {
		t.Errorf("GetOrCreate() created a new session %s, want resumed %s", again.ID(), sess.ID())
	}
}

func TestAppendCompactsOverCapacity(t *testing.T) {
	cfg := DefaultConfig()
	store := newTestStore(t, cfg)
	ctx := context.Background()

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	total := 250
	for i := 0; i < total; i++ {
		msg := Message{Role: RoleUser, Content: fmt.Sprintf("message %d", i)}
		if i%2 == 1 {
			msg.Role = RoleAssistant
		}
		if _, err := sess.Append(ctx, msg); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	snap := sess.Snapshot()
	if len(snap.Messages) > cfg.MaxMessages {
		t.Errorf("message count = %d, want <= %d", len(snap.Messages), cfg.MaxMessages)
	}
	if len(snap.Periods) != 1 {
		t.Fatalf("period count = %d, want 1", len(snap.Periods))
	}

	period := snap.Periods[0]
	if period.MessageCount != cfg.CompressionThreshold {
		t.Errorf("period message count = %d, want %d", period.MessageCount, cfg.CompressionThreshold)
	}
	if period.Summary == "" {
		t.Error("period summary should not be empty")
	}

	// Nothing is lost: raw plus compacted accounts for every append.
	if got := len(snap.Messages) + period.MessageCount; got != total {
		t.Errorf("messages + compacted = %d, want %d", got, total)
	}

	// Oldest surviving raw message is the one right after the block.
	if snap.Messages[0].Content != fmt.Sprintf("message %d", cfg.CompressionThreshold) {
		t.Errorf("oldest surviving message = %q, want %q",
			snap.Messages[0].Content, fmt.Sprintf("message %d", cfg.CompressionThreshold))
	}
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stored, err := sess.Append(ctx, Message{Role: RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if stored.ID == "" {
		t.Error("returned message should carry the assigned ID")
	}
	if stored.Timestamp.IsZero() {
		t.Error("returned message should carry the assigned timestamp")
	}

	snap := sess.Snapshot()
	if snap.Messages[0].ID != stored.ID {
		t.Errorf("stored message ID = %q, snapshot has %q", stored.ID, snap.Messages[0].ID)
	}
	if snap.Messages[0].Timestamp.IsZero() {
		t.Error("message timestamp should be assigned")
	}
}

func TestArchivedSessionRejectsMutation(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Archive(ctx, sess.ID()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	if _, err := sess.Append(ctx, Message{Role: RoleUser, Content: "hi"}); !errors.Is(err, ErrSessionArchived) {
		t.Errorf("Append() error = %v, want ErrSessionArchived", err)
	}
	if _, err := sess.RecordMoment(ctx, Candidate{Type: MomentDeployment, Title: "x"}); !errors.Is(err, ErrSessionArchived) {
		t.Errorf("RecordMoment() error = %v, want ErrSessionArchived", err)
	}

	// Still readable.
	if snap := sess.Snapshot(); snap.Meta.Status != StatusArchived {
		t.Errorf("Snapshot status = %v, want %v", snap.Meta.Status, StatusArchived)
	}
}

func TestTopMomentsOrdering(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	types := []MomentType{
		MomentFileCreated,      // 5
		MomentBreakthrough,     // 9
		MomentConfigChanged,    // 6
		MomentErrorSolved,      // 8
		MomentFeatureCompleted, // 7
	}
	for i, typ := range types {
		if _, err := sess.RecordMoment(ctx, Candidate{Type: typ, Title: fmt.Sprintf("moment %d", i)}); err != nil {
			t.Fatalf("RecordMoment() error = %v", err)
		}
	}

	top := sess.TopMoments(3)
	if len(top) != 3 {
		t.Fatalf("TopMoments(3) returned %d moments", len(top))
	}
	wantImportance := []int{9, 8, 7}
	for i, m := range top {
		if m.Importance != wantImportance[i] {
			t.Errorf("top[%d].Importance = %d, want %d", i, m.Importance, wantImportance[i])
		}
	}
}

func TestTopMomentsTieBreaksByRecency(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, err := sess.RecordMoment(ctx, Candidate{Type: MomentDeployment, Title: "first deploy"})
	if err != nil {
		t.Fatalf("RecordMoment() error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := sess.RecordMoment(ctx, Candidate{Type: MomentDeployment, Title: "second deploy"})
	if err != nil {
		t.Fatalf("RecordMoment() error = %v", err)
	}

	top := sess.TopMoments(2)
	if top[0].ID != second.ID || top[1].ID != first.ID {
		t.Error("equal importance should be ordered most recent first")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	store, err := NewStore(DefaultConfig(), backend, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	sess, err := store.Create(ctx, "docs")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	id := sess.ID()

	if _, err := sess.Append(ctx, Message{Role: RoleUser, Content: "how do I configure auth?"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := sess.RecordMoment(ctx, Candidate{Type: MomentErrorSolved, Title: "fixed auth bug", Summary: "Solved: auth bug"}); err != nil {
		t.Fatalf("RecordMoment() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopen over the same directory.
	backend, err = NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	store, err = NewStore(DefaultConfig(), backend, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	reloaded, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	snap := reloaded.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "how do I configure auth?" {
		t.Errorf("reloaded messages = %+v", snap.Messages)
	}
	if len(snap.Moments) != 1 || snap.Moments[0].Title != "fixed auth bug" {
		t.Errorf("reloaded moments = %+v", snap.Moments)
	}
	if snap.Moments[0].Importance != 8 {
		t.Errorf("reloaded moment importance = %d, want 8", snap.Moments[0].Importance)
	}
}

func TestStoreCleanup(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	fresh, err := store.Create(ctx, "fresh")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stale, err := store.Create(ctx, "stale")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	expired, err := store.Create(ctx, "expired")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Backdate directly in the backend.
	staleMeta := stale.Snapshot().Meta
	staleMeta.LastUsedAt = now.Add(-40 * 24 * time.Hour)
	if err := store.backend.SaveMeta(ctx, &staleMeta); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}
	expiredMeta := expired.Snapshot().Meta
	expiredMeta.Status = StatusArchived
	expiredMeta.LastUsedAt = now.Add(-100 * 24 * time.Hour)
	if err := store.backend.SaveMeta(ctx, &expiredMeta); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	archived, deleted, err := store.Cleanup(ctx, now.Add(-30*24*time.Hour), now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if archived != 1 {
		t.Errorf("archived = %d, want 1", archived)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if fresh.Status() != StatusActive {
		t.Errorf("fresh session status = %v, want %v", fresh.Status(), StatusActive)
	}
	if stale.Status() != StatusArchived {
		t.Errorf("stale session status = %v, want %v", stale.Status(), StatusArchived)
	}
	if _, err := store.Get(ctx, expired.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(expired) error = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreCleanupDeletesLongIdleActiveInOnePass(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := store.Create(ctx, "abandoned")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Still active but idle past both cutoffs.
	meta := sess.Snapshot().Meta
	meta.LastUsedAt = now.Add(-100 * 24 * time.Hour)
	if err := store.backend.SaveMeta(ctx, &meta); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	archived, deleted, err := store.Cleanup(ctx, now.Add(-30*24*time.Hour), now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if archived != 1 {
		t.Errorf("archived = %d, want 1", archived)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := store.Get(ctx, sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStorePing(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestStoreStats(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	if _, err := store.Create(ctx, "alpha"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Create(ctx, "alpha"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	beta, err := store.Create(ctx, "beta")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Archive(ctx, beta.ID()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalSessions != 3 {
		t.Errorf("TotalSessions = %d, want 3", stats.TotalSessions)
	}
	if stats.UniqueProjects != 2 {
		t.Errorf("UniqueProjects = %d, want 2", stats.UniqueProjects)
	}
	if stats.ByStatus[StatusActive] != 2 || stats.ByStatus[StatusArchived] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
}

func TestStoreClosed(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := store.Get(context.Background(), "any"); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("Get() after Close error = %v, want ErrStorageClosed", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestListProjectSessions(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, "docs"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if _, err := store.Create(ctx, "other"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	metas, err := store.ListProjectSessions(ctx, "docs")
	if err != nil {
		t.Fatalf("ListProjectSessions() error = %v", err)
	}
	if len(metas) != 3 {
		t.Errorf("ListProjectSessions() returned %d sessions, want 3", len(metas))
	}
	for i := 1; i < len(metas); i++ {
		if metas[i].LastUsedAt.After(metas[i-1].LastUsedAt) {
			t.Error("sessions should be ordered most recently used first")
		}
	}
}
