package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// maxAchievements caps achievement tags extracted per period.
	maxAchievements = 10
	// maxSalientLines caps extracted highlight lines per period summary.
	maxSalientLines = 5
	// maxSummaryActions caps distinct action tags echoed into the summary.
	maxSummaryActions = 5
	// achievementExcerpt bounds each achievement tag, in runes.
	achievementExcerpt = 100
	// salientExcerpt bounds each highlight line, in runes.
	salientExcerpt = 120
)

// errEmptyBlock signals a compaction request with nothing to absorb.
var errEmptyBlock = errors.New("compaction block is empty")

// buildPeriod summarizes a contiguous block of the oldest messages into a
// CompactedPeriod. The summary is deterministic and extractive: role
// counts, distinct action tags, and salient lines matched by the keyword
// table, plus achievement tags. Key moments are never absorbed; the
// period only links the ones recorded inside its time range.
func buildPeriod(block []Message, moments []KeyMoment, table KeywordTable) (*CompactedPeriod, error) {
	if len(block) == 0 {
		return nil, errEmptyBlock
	}

	start := block[0].Timestamp
	end := block[len(block)-1].Timestamp

	summary := summarizeBlock(block, table)
	if summary == "" {
		return nil, fmt.Errorf("no summary produced for block of %d messages", len(block))
	}

	var momentIDs []string
	for _, m := range moments {
		if !m.Timestamp.Before(start) && !m.Timestamp.After(end) {
			momentIDs = append(momentIDs, m.ID)
		}
	}

	return &CompactedPeriod{
		ID:           uuid.New().String(),
		Start:        start,
		End:          end,
		MessageCount: len(block),
		Summary:      summary,
		Achievements: extractAchievements(block, table),
		Files:        collectFiles(block),
		MomentIDs:    momentIDs,
	}, nil
}

// summarizeBlock produces the extractive summary line for a block.
func summarizeBlock(block []Message, table KeywordTable) string {
	var users, assistants int
	var actions []string
	seenAction := make(map[string]bool)

	for _, msg := range block {
		switch msg.Role {
		case RoleUser:
			users++
		case RoleAssistant:
			assistants++
		}
		for _, a := range msg.Actions {
			if !seenAction[a] {
				seenAction[a] = true
				actions = append(actions, a)
			}
		}
	}

	var parts []string
	if users > 0 {
		parts = append(parts, fmt.Sprintf("processed %d user requests", users))
	}
	if assistants > 0 {
		parts = append(parts, fmt.Sprintf("produced %d assistant replies", assistants))
	}
	if len(block) > users+assistants {
		parts = append(parts, fmt.Sprintf("%d other messages", len(block)-users-assistants))
	}
	if len(actions) > maxSummaryActions {
		actions = actions[:maxSummaryActions]
	}
	if len(actions) > 0 {
		parts = append(parts, "actions: "+strings.Join(actions, ", "))
	}
	if salient := salientLines(block, table); len(salient) > 0 {
		parts = append(parts, "highlights: "+strings.Join(salient, " | "))
	}

	return strings.Join(parts, "; ")
}

// salientLines extracts the first few message excerpts that match any
// trigger term, in log order.
func salientLines(block []Message, table KeywordTable) []string {
	var lines []string
	for _, msg := range block {
		lower := strings.ToLower(msg.Content)
		for _, typ := range classifyOrder {
			if matchAny(lower, table[typ]) {
				lines = append(lines, truncateRunes(strings.TrimSpace(msg.Content), salientExcerpt))
				break
			}
		}
		if len(lines) >= maxSalientLines {
			break
		}
	}
	return lines
}

// extractAchievements tags completion, creation, and fix events found in
// the block, reusing the classifier's keyword buckets.
func extractAchievements(block []Message, table KeywordTable) []string {
	buckets := []struct {
		prefix string
		typ    MomentType
	}{
		{"completed", MomentFeatureCompleted},
		{"created", MomentFileCreated},
		{"fixed", MomentErrorSolved},
	}

	var achievements []string
	for _, msg := range block {
		lower := strings.ToLower(msg.Content)
		for _, b := range buckets {
			if matchAny(lower, table[b.typ]) {
				achievements = append(achievements,
					b.prefix+": "+truncateRunes(strings.TrimSpace(msg.Content), achievementExcerpt))
			}
			if len(achievements) >= maxAchievements {
				return achievements
			}
		}
	}
	return achievements
}

// collectFiles unions file paths across the block, preserving first-seen
// order.
func collectFiles(block []Message) []string {
	var files []string
	seen := make(map[string]bool)
	for _, msg := range block {
		for _, f := range msg.Files {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

// compactState repeatedly absorbs blocks of the oldest messages until the
// log is back within capacity. It mutates state in place and returns how
// many periods were created. When summarization of a block fails the raw
// messages are retained and compaction stops; losing data is worse than
// an oversized log.
func compactState(state *SessionState, maxMessages, threshold int, table KeywordTable) (int, error) {
	created := 0
	for len(state.Messages) > maxMessages {
		block := state.Messages[:threshold]
		period, err := buildPeriod(block, state.Moments, table)
		if err != nil {
			return created, fmt.Errorf("compaction failed, retaining %d raw messages: %w", len(block), err)
		}
		state.Messages = append([]Message(nil), state.Messages[threshold:]...)
		state.Periods = append(state.Periods, *period)
		created++
	}
	return created, nil
}

// periodWindow formats a period's time range for context payloads.
func periodWindow(p CompactedPeriod) string {
	const layout = "2006-01-02 15:04"
	return p.Start.Format(layout) + " - " + p.End.Format(layout)
}
