// Package scheduler triggers due sync connections on their configured
// cron schedules (component K), wiring robfig/cron/v3 the same way the
// teacher uses it for its own service-layer scheduled jobs. It enforces
// the minute-level schedule restriction from spec §9's resolved Open
// Question: a connection whose source does not support continuous sync
// cannot schedule more often than once a minute.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/synccore"
)

// Connection is the subset of a sync connection's configuration the
// scheduler needs to decide when and whether to trigger it.
type Connection struct {
	ID                 string
	CronExpression     string
	SupportsContinuous bool
}

// TriggerFunc is invoked when a connection's schedule fires.
type TriggerFunc func(ctx context.Context, connectionID string)

// Scheduler wraps a *cron.Cron, registering one cron entry per tracked
// connection.
type Scheduler struct {
	cron   *cron.Cron
	log    *logging.Logger
	cfg    Config
	trigger TriggerFunc
	entries map[string]cron.EntryID
}

// Config bounds how often any connection may run.
type Config struct {
	MinIntervalContinuous time.Duration
	MinInterval           time.Duration
}

// New constructs a Scheduler. trigger is called (in its own goroutine,
// per robfig/cron's execution model) whenever a tracked connection's
// schedule fires.
func New(cfg Config, log *logging.Logger, trigger TriggerFunc) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log,
		cfg:     cfg,
		trigger: trigger,
		entries: make(map[string]cron.EntryID),
	}
}

// Track registers or replaces conn's schedule, rejecting an interval
// tighter than the configured floor for its SupportsContinuous setting.
func (s *Scheduler) Track(conn Connection) error {
	schedule, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(conn.CronExpression)
	if err != nil {
		return &synccore.InvalidConfigError{Reason: fmt.Sprintf("connection %s: invalid cron expression %q: %v", conn.ID, conn.CronExpression, err)}
	}

	if err := s.enforceMinInterval(conn, schedule); err != nil {
		return err
	}

	if existing, ok := s.entries[conn.ID]; ok {
		s.cron.Remove(existing)
	}

	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.log.WithJob("", conn.ID).Info("scheduled sync triggered")
		s.trigger(context.Background(), conn.ID)
	}))
	s.entries[conn.ID] = entryID
	return nil
}

// Untrack removes conn's schedule entirely.
func (s *Scheduler) Untrack(connectionID string) {
	if entryID, ok := s.entries[connectionID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, connectionID)
	}
}

// enforceMinInterval estimates the schedule's tightest gap by sampling
// two consecutive fire times from now, and rejects schedules tighter
// than the configured floor.
func (s *Scheduler) enforceMinInterval(conn Connection, schedule cron.Schedule) error {
	floor := s.cfg.MinInterval
	if conn.SupportsContinuous {
		floor = s.cfg.MinIntervalContinuous
	}
	if floor <= 0 {
		return nil
	}

	now := time.Now()
	first := schedule.Next(now)
	second := schedule.Next(first)
	gap := second.Sub(first)

	if gap < floor {
		return &synccore.InvalidConfigError{
			Reason: fmt.Sprintf("connection %s: schedule fires every %s, tighter than the %s floor for this source", conn.ID, gap, floor),
		}
	}
	return nil
}

// Start begins running scheduled triggers in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler from firing new triggers, then blocks until
// any in-flight trigger callback returns or ctx is done, whichever comes
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
