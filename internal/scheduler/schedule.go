package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexus-core/agentruntime/internal/backoff"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// next computes the next fire time for a standard 5-field cron expression
// interpreted in tz. DST transitions skip nonexistent local times and do
// not double-fire repeated local times — both guaranteed by robfig/cron's
// own local-time walk, which this simply delegates to.
func next(cronExpr, tz string, after time.Time) (time.Time, error) {
	expr := strings.TrimSpace(cronExpr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("cron expression required")
	}
	loc := after.Location()
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		loc = l
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(after.In(loc)), nil
}

// rescheduleAfterFailure computes the next retry time on a failed run:
// standard backoff for the attempt, clamped to the next real cron tick so
// a retry never lands later than the job would have fired anyway.
func rescheduleAfterFailure(cronExpr, tz string, ranAt time.Time, failCount int) time.Time {
	retryAt := ranAt.Add(backoff.Compute(backoff.Standard, failCount))
	cronNext, err := next(cronExpr, tz, ranAt)
	if err == nil && retryAt.After(cronNext) {
		return cronNext
	}
	return retryAt
}
