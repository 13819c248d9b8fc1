// Package janitor runs the scheduled retention sweep over the session
// store.
package janitor

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/docmind-dev/docmind/pkg/session"
)

// Janitor periodically archives idle sessions and deletes expired ones.
type Janitor struct {
	store        *session.Store
	archiveAfter time.Duration
	deleteAfter  time.Duration
	cron         *cron.Cron
}

// New creates a janitor over the store. archiveAfter is the idle time
// before an active session is archived; deleteAfter before an archived
// session is deleted.
func New(store *session.Store, archiveAfter, deleteAfter time.Duration) *Janitor {
	return &Janitor{
		store:        store,
		archiveAfter: archiveAfter,
		deleteAfter:  deleteAfter,
		cron:         cron.New(),
	}
}

// Start schedules the sweep with a cron expression and begins running.
func (j *Janitor) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, _, err := j.Run(ctx); err != nil {
			log.Printf("janitor: cleanup failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	return nil
}

// Run performs one sweep immediately and returns the counts.
func (j *Janitor) Run(ctx context.Context) (archived, deleted int, err error) {
	now := time.Now().UTC()
	archived, deleted, err = j.store.Cleanup(ctx, now.Add(-j.archiveAfter), now.Add(-j.deleteAfter))
	if err == nil && (archived > 0 || deleted > 0) {
		log.Printf("janitor: archived %d, deleted %d sessions", archived, deleted)
	}
	return archived, deleted, err
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
