package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/synccore"
)

func testScheduler(trigger TriggerFunc) *Scheduler {
	if trigger == nil {
		trigger = func(ctx context.Context, connectionID string) {}
	}
	return New(Config{MinInterval: time.Minute, MinIntervalContinuous: time.Second}, logging.New("scheduler-test", "error", "text"), trigger)
}

func TestTrackRejectsInvalidCronExpression(t *testing.T) {
	s := testScheduler(nil)
	err := s.Track(Connection{ID: "c1", CronExpression: "not a cron"})
	var invalid *synccore.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
}

func TestTrackRejectsScheduleTighterThanFloor(t *testing.T) {
	s := testScheduler(nil)
	err := s.Track(Connection{ID: "c1", CronExpression: "* * * * * *", SupportsContinuous: false})
	var invalid *synccore.InvalidConfigError
	require.ErrorAs(t, err, &invalid, "a per-second schedule must be rejected for a connection that doesn't support continuous sync")
}

func TestTrackAllowsTightScheduleForContinuousSource(t *testing.T) {
	s := testScheduler(nil)
	err := s.Track(Connection{ID: "c1", CronExpression: "* * * * * *", SupportsContinuous: true})
	require.NoError(t, err)
	assert.Contains(t, s.entries, "c1")
}

func TestTrackReplacesExistingSchedule(t *testing.T) {
	s := testScheduler(nil)
	require.NoError(t, s.Track(Connection{ID: "c1", CronExpression: "0 */5 * * * *", SupportsContinuous: true}))
	first := s.entries["c1"]

	require.NoError(t, s.Track(Connection{ID: "c1", CronExpression: "0 */10 * * * *", SupportsContinuous: true}))
	second := s.entries["c1"]
	assert.NotEqual(t, first, second, "re-tracking the same connection id must replace its cron entry")
}

func TestUntrackRemovesEntry(t *testing.T) {
	s := testScheduler(nil)
	require.NoError(t, s.Track(Connection{ID: "c1", CronExpression: "0 */5 * * * *", SupportsContinuous: true}))
	s.Untrack("c1")
	assert.NotContains(t, s.entries, "c1")
}

func TestUntrackUnknownConnectionIsNoOp(t *testing.T) {
	s := testScheduler(nil)
	s.Untrack("missing")
}
