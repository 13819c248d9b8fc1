package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// summaryLimit bounds candidate summaries, in runes.
const summaryLimit = 200

// configExtensions marks file extensions that count as configuration
// artifacts for CONFIG_CHANGED detection.
var configExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".ini":  true,
	".env":  true,
	".conf": true,
}

// Candidate is a classified key-moment proposal. Persisting a candidate
// is the caller's responsibility; the classifier only proposes.
type Candidate struct {
	// Type is the matched moment category.
	Type MomentType
	// Title is a generated headline for the event.
	Title string
	// Summary is the content excerpt, truncated to a bounded length.
	Summary string
	// Importance is the default score for the matched type.
	Importance int
	// Files is the file list passed to Classify.
	Files []string
	// Source identifies the originating message, when known.
	Source string
}

// Classifier scans content against a keyword table and proposes key
// moments. Classification is pure and side-effect-free: the same inputs
// always yield the same candidates, in a fixed order, and an empty result
// is a valid non-error outcome.
type Classifier struct {
	table KeywordTable
}

// NewClassifier creates a classifier over the given keyword table.
// A nil table uses the built-in defaults.
func NewClassifier(table KeywordTable) *Classifier {
	if table == nil {
		table = DefaultKeywordTable()
	}
	return &Classifier{table: table}
}

// Classify scans content (case-insensitively) and the touched file list,
// returning zero or more candidates. Content matching several categories
// yields one candidate per category; cross-type duplication is intentional.
func (c *Classifier) Classify(source, content string, files []string) []Candidate {
	lower := strings.ToLower(content)

	var out []Candidate
	for _, typ := range classifyOrder {
		matched := matchAny(lower, c.table[typ])

		switch typ {
		case MomentFileCreated:
			// Creation wording alone is too weak a signal; require an
			// actual file list.
			matched = matched && len(files) > 0
		case MomentConfigChanged:
			matched = matched || hasConfigFile(files)
		}

		if !matched {
			continue
		}

		out = append(out, Candidate{
			Type:       typ,
			Title:      candidateTitle(typ, files),
			Summary:    candidateSummary(typ, content),
			Importance: typ.Importance(),
			Files:      files,
			Source:     source,
		})
	}
	return out
}

func matchAny(lower string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func hasConfigFile(files []string) bool {
	for _, f := range files {
		if configExtensions[strings.ToLower(filepath.Ext(f))] {
			return true
		}
	}
	return false
}

func candidateTitle(typ MomentType, files []string) string {
	switch typ {
	case MomentBreakthrough:
		return "Breakthrough"
	case MomentErrorSolved:
		return "Error solved"
	case MomentDeployment:
		return "Deployment"
	case MomentFeatureCompleted:
		return "Feature completed"
	case MomentImportantDecision:
		return "Important decision"
	case MomentConfigChanged:
		if len(files) > 0 {
			return fmt.Sprintf("Configuration change in %s", files[0])
		}
		return "Configuration change"
	case MomentRefactoring:
		return "Refactoring"
	case MomentFileCreated:
		if len(files) > 0 {
			return fmt.Sprintf("Created %s", files[0])
		}
		return "File created"
	default:
		return string(typ)
	}
}

func candidateSummary(typ MomentType, content string) string {
	var prefix string
	switch typ {
	case MomentBreakthrough:
		prefix = "Discovered"
	case MomentErrorSolved:
		prefix = "Detected and fixed"
	case MomentDeployment:
		prefix = "Deployed"
	case MomentFeatureCompleted:
		prefix = "Implemented"
	case MomentImportantDecision:
		prefix = "Decision made"
	case MomentConfigChanged:
		prefix = "Configuration updated"
	case MomentRefactoring:
		prefix = "Refactored"
	case MomentFileCreated:
		prefix = "Created"
	default:
		prefix = "Noted"
	}
	return prefix + ": " + truncateRunes(content, summaryLimit)
}

// truncateRunes cuts s to at most limit runes, appending an ellipsis
// when anything was dropped.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Deduper suppresses repeated identical candidates within a time window.
// Whether back-to-back identical matches should collapse was left open by
// the original behavior, so it is an explicit opt-in: a zero window keeps
// every candidate. Deduper is safe for concurrent use.
type Deduper struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDeduper creates a deduper with the given suppression window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Filter drops candidates whose (session, type, title) was already seen
// within the window and remembers the survivors.
func (d *Deduper) Filter(sessionID string, cands []Candidate) []Candidate {
	if d == nil || d.window <= 0 {
		return cands
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	out := cands[:0]
	for _, cand := range cands {
		key := sessionID + "|" + string(cand.Type) + "|" + cand.Title
		if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
			continue
		}
		d.seen[key] = now
		out = append(out, cand)
	}
	return out
}
