package session

import (
	"fmt"
	"sort"
	"strings"
)

// ContextPayload is an assembled, budget-bounded view of a session ready
// to prepend to a model prompt. TokensUsed is the estimator's total for
// everything included.
type ContextPayload struct {
	Header     string
	Moments    []KeyMoment
	Messages   []Message
	Periods    []CompactedPeriod
	TokensUsed int
}

// Assembler fills a token budget from a session snapshot in priority
// order: the session header, then the highest-importance key moments,
// then the most recent messages, then compacted history newest-first.
// Items are included whole or skipped; nothing is truncated mid-content.
type Assembler struct {
	estimator    TokenEstimator
	topMoments   int
	recentWindow int
}

// NewAssembler builds an assembler over the given estimator. A nil
// estimator falls back to the length heuristic.
func NewAssembler(estimator TokenEstimator, cfg Config) *Assembler {
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	return &Assembler{
		estimator:    estimator,
		topMoments:   cfg.TopMoments,
		recentWindow: cfg.RecentWindow,
	}
}

// Assemble produces the payload for one snapshot within tokenBudget.
// A budget too small for even the header yields an empty payload.
func (a *Assembler) Assemble(snap *Snapshot, tokenBudget int) *ContextPayload {
	payload := &ContextPayload{}
	remaining := tokenBudget

	header := fmt.Sprintf("Project: %s | Session started: %s | Messages: %d",
		snap.Meta.Project,
		snap.Meta.CreatedAt.Format("2006-01-02"),
		snap.Meta.MessageCount,
	)
	cost := a.estimator.EstimateTokens(header)
	if cost > remaining {
		return payload
	}
	payload.Header = header
	payload.TokensUsed += cost
	remaining -= cost

	remaining = a.fillMoments(payload, snap, remaining)
	remaining = a.fillMessages(payload, snap, remaining)
	a.fillPeriods(payload, snap, remaining)

	return payload
}

func (a *Assembler) fillMoments(payload *ContextPayload, snap *Snapshot, remaining int) int {
	moments := make([]KeyMoment, len(snap.Moments))
	copy(moments, snap.Moments)
	sort.SliceStable(moments, func(i, j int) bool {
		if moments[i].Importance != moments[j].Importance {
			return moments[i].Importance > moments[j].Importance
		}
		return moments[i].Timestamp.After(moments[j].Timestamp)
	})
	if len(moments) > a.topMoments {
		moments = moments[:a.topMoments]
	}

	// Stop at the first moment that does not fit so nothing less
	// important slips in ahead of it.
	for _, m := range moments {
		cost := a.estimator.EstimateTokens(renderMoment(m))
		if cost > remaining {
			break
		}
		payload.Moments = append(payload.Moments, m)
		payload.TokensUsed += cost
		remaining -= cost
	}
	return remaining
}

func (a *Assembler) fillMessages(payload *ContextPayload, snap *Snapshot, remaining int) int {
	recent := snap.Messages
	if len(recent) > a.recentWindow {
		recent = recent[len(recent)-a.recentWindow:]
	}

	// Walk newest-first so a tight budget keeps the latest exchange,
	// then restore chronological order.
	var picked []Message
	for i := len(recent) - 1; i >= 0; i-- {
		cost := a.estimator.EstimateTokens(renderMessage(recent[i]))
		if cost > remaining {
			break
		}
		picked = append(picked, recent[i])
		payload.TokensUsed += cost
		remaining -= cost
	}
	for i := len(picked) - 1; i >= 0; i-- {
		payload.Messages = append(payload.Messages, picked[i])
	}
	return remaining
}

func (a *Assembler) fillPeriods(payload *ContextPayload, snap *Snapshot, remaining int) {
	for i := len(snap.Periods) - 1; i >= 0; i-- {
		p := snap.Periods[i]
		cost := a.estimator.EstimateTokens(renderPeriod(p))
		if cost > remaining {
			break
		}
		payload.Periods = append(payload.Periods, p)
		payload.TokensUsed += cost
		remaining -= cost
	}
}

// Render flattens the payload into prompt text. Sections with no content
// are omitted.
func (p *ContextPayload) Render() string {
	var b strings.Builder

	if p.Header != "" {
		b.WriteString(p.Header)
		b.WriteString("\n")
	}

	if len(p.Moments) > 0 {
		b.WriteString("\nKey moments:\n")
		for _, m := range p.Moments {
			b.WriteString(renderMoment(m))
			b.WriteString("\n")
		}
	}

	if len(p.Periods) > 0 {
		b.WriteString("\nEarlier history:\n")
		for _, period := range p.Periods {
			b.WriteString(renderPeriod(period))
			b.WriteString("\n")
		}
	}

	if len(p.Messages) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range p.Messages {
			b.WriteString(renderMessage(m))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func renderMoment(m KeyMoment) string {
	return fmt.Sprintf("- [%d] %s: %s", m.Importance, m.Title, m.Summary)
}

func renderMessage(m Message) string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

func renderPeriod(p CompactedPeriod) string {
	return fmt.Sprintf("- %s: %s", periodWindow(p), p.Summary)
}
