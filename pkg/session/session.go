package session

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docmind-dev/docmind/pkg/observability"
)

// Session is one project's continuity unit: the bounded message log, the
// key-moment ledger, and the compacted history. All mutating operations
// on a single session are serialized by its mutex; operations on distinct
// sessions proceed independently. Sessions are safe for concurrent use.
type Session struct {
	store *Store

	mu    sync.RWMutex
	meta  *SessionMeta
	state *SessionState
}

// Snapshot is an immutable, consistent view of a session, safe to read
// while writers continue. Readers never observe a half-compacted log.
type Snapshot struct {
	Meta     SessionMeta
	Messages []Message
	Moments  []KeyMoment
	Periods  []CompactedPeriod
}

func newSession(store *Store, meta *SessionMeta, state *SessionState) *Session {
	if state == nil {
		state = &SessionState{}
	}
	return &Session{store: store, meta: meta, state: state}
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.ID
}

// Project returns the normalized project identifier.
func (s *Session) Project() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Project
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Status
}

// LastUsedAt returns the time of the last mutation.
func (s *Session) LastUsedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.LastUsedAt
}

// MessageCount returns the current length of the active log.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Messages)
}

// Append inserts a message at the tail of the log, bumps the session's
// last-activity time, and compacts the oldest block(s) if the log exceeds
// capacity, all as one transactional unit under the session lock. The
// in-memory and durable state only advance together: a persistence
// failure leaves both untouched. The returned message carries the
// assigned identifier and timestamp, so callers can link key moments
// back to it.
func (s *Session) Append(ctx context.Context, msg Message) (Message, error) {
	ctx, span := observability.StartSpan(ctx, "session.append",
		trace.WithAttributes(attribute.String("session.id", s.ID())))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta.Status != StatusActive {
		return Message{}, ErrSessionArchived
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	next := s.state.clone()
	next.Messages = append(next.Messages, msg)

	cfg := s.store.cfg
	compacted, err := compactState(next, cfg.MaxMessages, cfg.CompressionThreshold, s.store.keywords)
	if err != nil {
		// Raw messages are retained; the oversized log self-heals on a
		// later append.
		log.Printf("session %s: %v", s.meta.ID, err)
	}

	meta := *s.meta
	meta.LastUsedAt = msg.Timestamp
	meta.MessageCount = len(next.Messages)

	if err := s.store.persist(ctx, &meta, next); err != nil {
		return Message{}, err
	}

	s.state = next
	*s.meta = meta

	observability.RecordMessageAppended(string(msg.Role))
	if compacted > 0 {
		observability.RecordCompactions(compacted)
	}
	return msg, nil
}

// RecordMoment durably appends a classified candidate to the key-moment
// ledger, assigning its identifier and timestamp. Moments are immutable
// once recorded and survive compaction of the messages that produced them.
func (s *Session) RecordMoment(ctx context.Context, cand Candidate) (*KeyMoment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta.Status != StatusActive {
		return nil, ErrSessionArchived
	}

	importance := cand.Importance
	if importance <= 0 {
		importance = cand.Type.Importance()
	}

	moment := KeyMoment{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Type:       cand.Type,
		Title:      cand.Title,
		Summary:    cand.Summary,
		Importance: importance,
		Files:      append([]string(nil), cand.Files...),
	}
	if cand.Source != "" {
		moment.RelatedMessages = []string{cand.Source}
	}

	next := s.state.clone()
	next.Moments = append(next.Moments, moment)

	meta := *s.meta
	meta.LastUsedAt = moment.Timestamp

	if err := s.store.persist(ctx, &meta, next); err != nil {
		return nil, err
	}

	s.state = next
	*s.meta = meta

	observability.RecordKeyMoment(string(moment.Type))
	return &moment, nil
}

// TopMoments returns the ledger's read-side projection: moments sorted by
// importance descending, ties broken by recency, truncated to limit.
// A non-positive limit uses the configured default.
func (s *Session) TopMoments(limit int) []KeyMoment {
	if limit <= 0 {
		limit = s.store.cfg.TopMoments
	}

	s.mu.RLock()
	moments := make([]KeyMoment, len(s.state.Moments))
	copy(moments, s.state.Moments)
	s.mu.RUnlock()

	sort.SliceStable(moments, func(i, j int) bool {
		if moments[i].Importance != moments[j].Importance {
			return moments[i].Importance > moments[j].Importance
		}
		return moments[i].Timestamp.After(moments[j].Timestamp)
	})

	if len(moments) > limit {
		moments = moments[:limit]
	}
	return moments
}

// Snapshot returns a deep copy of the session's current state. It never
// mutates the session and is safe to call repeatedly and concurrently.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state.clone()
	return &Snapshot{
		Meta:     *s.meta,
		Messages: st.Messages,
		Moments:  st.Moments,
		Periods:  st.Periods,
	}
}

// setStatus transitions the lifecycle state and persists the metadata.
func (s *Session) setStatus(ctx context.Context, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := *s.meta
	meta.Status = status
	meta.LastUsedAt = time.Now().UTC()

	if err := s.store.persistMeta(ctx, &meta); err != nil {
		return err
	}
	*s.meta = meta
	return nil
}

// refreshMeta reloads metadata from the backend, reconciling state
// changed behind the cache (e.g. a bulk sweep).
func (s *Session) refreshMeta(ctx context.Context) error {
	meta, err := s.store.backend.LoadMeta(ctx, s.ID())
	if err != nil {
		return err
	}
	s.mu.Lock()
	*s.meta = *meta
	s.mu.Unlock()
	return nil
}
