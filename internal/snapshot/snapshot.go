// Package snapshot runs the collector's periodic backup task: a single
// VACUUM INTO against the shared connection pool, scheduled on a cron
// descriptor rather than the teacher's raw ticker, since the interval here
// is operator-configured rather than fixed.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
)

// EveryDescriptor renders d as a robfig/cron "@every" schedule descriptor.
func EveryDescriptor(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}

// Task schedules periodic VACUUM INTO snapshots of db to destPath.
type Task struct {
	db       *sql.DB
	destPath string
	log      zerolog.Logger
	cron     *cron.Cron
}

// New builds a Task. Call Start to schedule it; Stop to cancel.
func New(db *sql.DB, destPath string, log zerolog.Logger) *Task {
	return &Task{
		db:       db,
		destPath: destPath,
		log:      logger.WithModule(log, "snapshot"),
		cron:     cron.New(),
	}
}

// Start schedules the snapshot to run every interval using cron's "@every"
// descriptor, and begins the cron scheduler's own goroutine.
func (t *Task) Start(interval_every string) error {
	_, err := t.cron.AddFunc(interval_every, func() { t.run(context.Background()) })
	if err != nil {
		return fmt.Errorf("snapshot: schedule: %w", err)
	}
	t.cron.Start()
	t.log.Info().Str("dest", t.destPath).Str("every", interval_every).Msg("snapshot task scheduled")
	return nil
}

// Stop cancels any pending runs and waits for an in-flight run to finish.
func (t *Task) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
}

func (t *Task) run(ctx context.Context) {
	_, err := t.db.ExecContext(ctx, `VACUUM INTO ?`, t.destPath)
	if err != nil {
		t.log.Error().Err(err).Msg("snapshot: vacuum into failed")
		return
	}
	t.log.Info().Str("dest", t.destPath).Msg("snapshot: vacuum into succeeded")
}
