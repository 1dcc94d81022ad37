// Package scheduler decides when integrations sync and drives the background
// scan loop that triggers due ones.
package scheduler

import (
	"time"

	"github.com/cronxco/tapestry/pkg/domain/model"
)

// Due reports whether an integration should start a sync run at now. The
// rules are pure so they can be tested against a table; the in-flight claim
// is not checked here, that belongs to the trigger path.
//
// Paused instances are never due. An instance that has never succeeded is
// always due. Otherwise frequency mode asks whether the configured interval
// has elapsed since the last success, and schedule mode asks whether a
// configured wall-clock time has passed since then.
func Due(integration *model.Integration, now time.Time) bool {
	cfg := integration.Config

	if cfg.Paused {
		return false
	}
	if integration.LastSuccessfulUpdateAt == nil {
		return true
	}
	last := *integration.LastSuccessfulUpdateAt

	if cfg.UseSchedule {
		next, ok := nextScheduled(cfg, last)
		return ok && !next.After(now)
	}

	if cfg.UpdateFrequencyMinutes <= 0 {
		// no cadence configured: manual trigger only
		return false
	}
	return now.Sub(last) >= time.Duration(cfg.UpdateFrequencyMinutes)*time.Minute
}

// nextScheduled returns the earliest configured HH:MM occurrence strictly
// after the last success, in the configured timezone
func nextScheduled(cfg model.SyncConfig, last time.Time) (time.Time, bool) {
	loc := cfg.ScheduleLocation()
	base := last.In(loc)

	var next time.Time
	for _, hhmm := range cfg.ScheduleTimes {
		t, err := time.ParseInLocation("15:04", hhmm, loc)
		if err != nil {
			continue
		}

		candidate := time.Date(base.Year(), base.Month(), base.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !candidate.After(base) {
			candidate = candidate.AddDate(0, 0, 1)
		}

		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}

	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
