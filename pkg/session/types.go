// Package session implements the per-project memory subsystem of docmind.
// Each project owns a bounded rolling message log, a ledger of classified
// key moments, and a compacted history of aged-out conversation blocks.
// The package provides durable storage backends, heuristic event
// classification, and budgeted context assembly for the retrieval/LLM stage.
package session

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive marks the session currently accepting messages.
	StatusActive Status = "active"
	// StatusArchived marks a read-only historical session.
	StatusArchived Status = "archived"
	// StatusDeleted marks a session scheduled for removal.
	StatusDeleted Status = "deleted"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation turn. Messages are immutable once
// appended; insertion order is conversation order.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Timestamp is when the message was appended.
	Timestamp time.Time `json:"timestamp"`
	// Role is who produced the message.
	Role Role `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// Actions lists tool/action tags executed during this turn.
	Actions []string `json:"actions,omitempty"`
	// Files lists file paths touched by this turn.
	Files []string `json:"files,omitempty"`
	// Metadata carries optional caller-supplied data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MomentType is the fixed category of a key moment.
type MomentType string

const (
	MomentBreakthrough      MomentType = "breakthrough"
	MomentErrorSolved       MomentType = "error_solved"
	MomentDeployment        MomentType = "deployment"
	MomentFeatureCompleted  MomentType = "feature_completed"
	MomentImportantDecision MomentType = "important_decision"
	MomentConfigChanged     MomentType = "config_changed"
	MomentRefactoring       MomentType = "refactoring"
	MomentFileCreated       MomentType = "file_created"
)

// momentImportance maps each moment type to its default importance score.
var momentImportance = map[MomentType]int{
	MomentBreakthrough:      9,
	MomentErrorSolved:       8,
	MomentDeployment:        8,
	MomentFeatureCompleted:  7,
	MomentImportantDecision: 7,
	MomentConfigChanged:     6,
	MomentRefactoring:       6,
	MomentFileCreated:       5,
}

// Importance returns the default importance score for the type.
// Unknown types score 5.
func (t MomentType) Importance() int {
	if imp, ok := momentImportance[t]; ok {
		return imp
	}
	return 5
}

// KeyMoment is a durable record of a significant event within a session.
// Moments are immutable once recorded and are never merged or migrated.
type KeyMoment struct {
	// ID is the unique identifier for this moment.
	ID string `json:"id"`
	// Timestamp is when the moment was recorded.
	Timestamp time.Time `json:"timestamp"`
	// Type is the moment category.
	Type MomentType `json:"type"`
	// Title is a short generated headline.
	Title string `json:"title"`
	// Summary is a bounded excerpt describing the event.
	Summary string `json:"summary"`
	// Importance is the 1-10 score assigned at creation.
	Importance int `json:"importance"`
	// Files lists file paths referenced by the event.
	Files []string `json:"files,omitempty"`
	// RelatedMessages links back to message IDs that produced the moment.
	RelatedMessages []string `json:"relatedMessages,omitempty"`
}

// CompactedPeriod summarizes a contiguous block of messages absorbed by
// compaction. Periods are immutable and ordered chronologically.
type CompactedPeriod struct {
	// ID is the unique identifier for this period.
	ID string `json:"id"`
	// Start is the timestamp of the oldest absorbed message.
	Start time.Time `json:"start"`
	// End is the timestamp of the newest absorbed message.
	End time.Time `json:"end"`
	// MessageCount is how many messages the period absorbed.
	MessageCount int `json:"messageCount"`
	// Summary is the deterministic extractive summary of the block.
	Summary string `json:"summary"`
	// Achievements lists achievement tags detected in the block.
	Achievements []string `json:"achievements,omitempty"`
	// Files is the union of file paths touched within the block.
	Files []string `json:"files,omitempty"`
	// MomentIDs links key moments recorded inside the period's time range.
	MomentIDs []string `json:"momentIds,omitempty"`
}

// SessionMeta holds session summary information. It is stored separately
// from the state document for quick listing without loading all messages.
type SessionMeta struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// Project is the normalized project identifier this session belongs to.
	Project string `json:"project"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// LastUsedAt is when the session last absorbed a mutation.
	LastUsedAt time.Time `json:"lastUsedAt"`
	// Status is the lifecycle state.
	Status Status `json:"status"`
	// MessageCount is the current length of the active message log.
	MessageCount int `json:"messageCount"`
}

// SessionState is the full persisted body of a session: the active log,
// the key-moment ledger, and the compacted history, in order.
type SessionState struct {
	Messages []Message         `json:"messages"`
	Moments  []KeyMoment       `json:"moments"`
	Periods  []CompactedPeriod `json:"periods"`
}

// clone returns a deep copy safe to hand to readers.
func (st *SessionState) clone() *SessionState {
	cp := &SessionState{
		Messages: make([]Message, len(st.Messages)),
		Moments:  make([]KeyMoment, len(st.Moments)),
		Periods:  make([]CompactedPeriod, len(st.Periods)),
	}
	copy(cp.Messages, st.Messages)
	copy(cp.Moments, st.Moments)
	copy(cp.Periods, st.Periods)
	return cp
}

// Stats holds aggregate store statistics.
type Stats struct {
	TotalSessions  int            `json:"totalSessions"`
	UniqueProjects int            `json:"uniqueProjects"`
	ByStatus       map[Status]int `json:"byStatus"`
}
