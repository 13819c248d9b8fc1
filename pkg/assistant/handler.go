package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/docmind-dev/docmind/pkg/observability"
	"github.com/docmind-dev/docmind/pkg/session"
)

// ErrRateLimited is returned when a project exceeds its question rate.
var ErrRateLimited = fmt.Errorf("rate limit exceeded")

// Answer is the result of one handled question.
type Answer struct {
	SessionID     string
	Text          string
	ContextTokens int
	Moments       []session.KeyMoment
}

// Handler runs the full question flow: resume the project session,
// record the exchange, detect key moments, and answer with assembled
// context.
type Handler struct {
	store      *session.Store
	assembler  *session.Assembler
	classifier *session.Classifier
	deduper    *session.Deduper
	responder  Responder

	tokenBudget int

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// TokenBudget caps the assembled session context.
	TokenBudget int

	// RateLimit is questions per second per project (0 = unlimited).
	RateLimit float64
	RateBurst int

	// DedupeWindow suppresses repeated key moments (0 = disabled).
	DedupeWindow time.Duration
}

// NewHandler wires the session store, classifier, and responder together.
func NewHandler(store *session.Store, assembler *session.Assembler, classifier *session.Classifier, responder Responder, opts HandlerOptions) *Handler {
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = 2000
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	return &Handler{
		store:       store,
		assembler:   assembler,
		classifier:  classifier,
		deduper:     session.NewDeduper(opts.DedupeWindow),
		responder:   responder,
		tokenBudget: opts.TokenBudget,
		limit:       rate.Limit(opts.RateLimit),
		burst:       opts.RateBurst,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Ask answers a question within the project's session. The user message
// is persisted before the model is called, so a failed completion still
// leaves the question on record.
func (h *Handler) Ask(ctx context.Context, project, question string) (*Answer, error) {
	start := time.Now()

	normalized, err := session.NormalizeProject(project)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "assistant.ask",
		trace.WithAttributes(attribute.String("session.project", normalized)))
	defer span.End()

	if !h.allow(normalized) {
		observability.RecordQuestion(normalized, "rate_limited", time.Since(start))
		return nil, ErrRateLimited
	}

	sess, err := h.store.GetOrCreate(ctx, normalized)
	if err != nil {
		observability.RecordQuestion(normalized, "error", time.Since(start))
		return nil, err
	}

	userMsg, err := sess.Append(ctx, session.Message{Role: session.RoleUser, Content: question})
	if err != nil {
		observability.RecordQuestion(normalized, "error", time.Since(start))
		return nil, err
	}

	payload := h.assembler.Assemble(sess.Snapshot(), h.tokenBudget)
	observability.RecordContextTokens(payload.TokensUsed)

	ctx = session.ContextWithSession(ctx, sess)
	reply, err := h.responder.Respond(ctx, payload.Render(), question)
	if err != nil {
		observability.RecordQuestion(normalized, "error", time.Since(start))
		return nil, err
	}

	assistantMsg, err := sess.Append(ctx, session.Message{Role: session.RoleAssistant, Content: reply})
	if err != nil {
		observability.RecordQuestion(normalized, "error", time.Since(start))
		return nil, err
	}

	moments, err := h.recordMoments(ctx, sess, userMsg, assistantMsg)
	if err != nil {
		observability.RecordQuestion(normalized, "error", time.Since(start))
		return nil, err
	}

	observability.RecordQuestion(normalized, "ok", time.Since(start))
	return &Answer{
		SessionID:     sess.ID(),
		Text:          reply,
		ContextTokens: payload.TokensUsed,
		Moments:       moments,
	}, nil
}

// Report appends a progress note to the project's session and records
// any key moments it contains. This is how deploys, fixes, and decisions
// enter the ledger without a question attached.
func (h *Handler) Report(ctx context.Context, project, note string, files []string) ([]session.KeyMoment, error) {
	sess, err := h.store.GetOrCreate(ctx, project)
	if err != nil {
		return nil, err
	}

	msg, err := sess.Append(ctx, session.Message{Role: session.RoleUser, Content: note, Files: files})
	if err != nil {
		return nil, err
	}

	cands := h.classifier.Classify(msg.ID, note, files)
	cands = h.deduper.Filter(sess.ID(), cands)

	var moments []session.KeyMoment
	for _, cand := range cands {
		moment, err := sess.RecordMoment(ctx, cand)
		if err != nil {
			return moments, err
		}
		moments = append(moments, *moment)
	}
	return moments, nil
}

func (h *Handler) recordMoments(ctx context.Context, sess *session.Session, question, reply session.Message) ([]session.KeyMoment, error) {
	cands := h.classifier.Classify(question.ID, question.Content, nil)
	cands = append(cands, h.classifier.Classify(reply.ID, reply.Content, nil)...)
	cands = h.deduper.Filter(sess.ID(), cands)

	var moments []session.KeyMoment
	for _, cand := range cands {
		moment, err := sess.RecordMoment(ctx, cand)
		if err != nil {
			return moments, err
		}
		moments = append(moments, *moment)
	}
	return moments, nil
}

func (h *Handler) allow(project string) bool {
	if h.limit <= 0 {
		return true
	}

	h.mu.Lock()
	limiter, ok := h.limiters[project]
	if !ok {
		limiter = rate.NewLimiter(h.limit, h.burst)
		h.limiters[project] = limiter
	}
	h.mu.Unlock()

	return limiter.Allow()
}
