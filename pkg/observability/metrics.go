package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_sessions_created_total",
			Help: "Total number of sessions created",
		},
		[]string{"project"},
	)

	messagesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_messages_appended_total",
			Help: "Total number of messages appended to sessions",
		},
		[]string{"role"},
	)

	compactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docmind_compactions_total",
			Help: "Total number of message blocks compacted into periods",
		},
	)

	keyMomentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_key_moments_total",
			Help: "Total number of key moments recorded",
		},
		[]string{"type"},
	)

	cleanupSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_cleanup_sessions_total",
			Help: "Total number of sessions archived or deleted by cleanup",
		},
		[]string{"action"},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_store_errors_total",
			Help: "Total number of storage operations that failed after retries",
		},
		[]string{"op"},
	)

	// Assistant metrics
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_questions_total",
			Help: "Total number of questions handled",
		},
		[]string{"project", "status"},
	)

	answerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmind_answer_duration_seconds",
			Help:    "Time to produce an answer in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"project"},
	)

	contextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docmind_context_tokens",
			Help:    "Tokens used by assembled session context",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		},
	)

	// System metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docmind_active_sessions",
			Help: "Number of active sessions",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsCreatedTotal,
			messagesAppendedTotal,
			compactionsTotal,
			keyMomentsTotal,
			cleanupSessionsTotal,
			storeErrorsTotal,
			questionsTotal,
			answerDuration,
			contextTokens,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionCreated records a new session for a project
func RecordSessionCreated(project string) {
	sessionsCreatedTotal.WithLabelValues(project).Inc()
}

// RecordMessageAppended records a message append by role
func RecordMessageAppended(role string) {
	messagesAppendedTotal.WithLabelValues(role).Inc()
}

// RecordCompactions records blocks compacted into periods
func RecordCompactions(n int) {
	compactionsTotal.Add(float64(n))
}

// RecordKeyMoment records a key moment by type
func RecordKeyMoment(momentType string) {
	keyMomentsTotal.WithLabelValues(momentType).Inc()
}

// RecordCleanup records sessions archived or deleted by a cleanup pass
func RecordCleanup(action string, n int) {
	cleanupSessionsTotal.WithLabelValues(action).Add(float64(n))
}

// RecordStoreError records a storage operation that failed after retries
func RecordStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

// RecordQuestion records a handled question and its outcome
func RecordQuestion(project, status string, duration time.Duration) {
	questionsTotal.WithLabelValues(project, status).Inc()
	answerDuration.WithLabelValues(project).Observe(duration.Seconds())
}

// RecordContextTokens records the token cost of an assembled context
func RecordContextTokens(tokens int) {
	contextTokens.Observe(float64(tokens))
}

// SetActiveSessions sets the active sessions gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
