package recorder

import (
	"fmt"
	"time"

	"github.com/hworldcom/mdrecorder/internal/config"
)

// window is one concrete trading-window instance: [start, end) in the
// configured timezone, end possibly falling on the following calendar day
// (next-day cutoffs are supported).
type window struct {
	Start time.Time
	End   time.Time
}

// nextWindow computes the window instance containing or following now: if
// now already falls inside today's window, that window is returned;
// otherwise the next occurrence of the start time is used.
func nextWindow(cfg *config.Config, now time.Time) (window, error) {
	loc, err := time.LoadLocation(cfg.WindowTZ)
	if err != nil {
		return window{}, fmt.Errorf("recorder: load WINDOW_TZ: %w", err)
	}
	now = now.In(loc)

	startH, startM, err := config.ParseHHMM(cfg.WindowStartHHMM)
	if err != nil {
		return window{}, fmt.Errorf("recorder: parse WINDOW_START_HHMM: %w", err)
	}
	endH, endM, err := config.ParseHHMM(cfg.WindowEndHHMM)
	if err != nil {
		return window{}, fmt.Errorf("recorder: parse WINDOW_END_HHMM: %w", err)
	}

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), startH, startM, 0, 0, loc)
	todayEnd := time.Date(now.Year(), now.Month(), now.Day(), endH, endM, 0, 0, loc).
		AddDate(0, 0, cfg.WindowEndDayOffset)

	if now.Before(todayEnd) && (now.After(todayStart) || now.Equal(todayStart)) {
		return window{Start: todayStart, End: todayEnd}, nil
	}
	if now.Before(todayStart) {
		return window{Start: todayStart, End: todayEnd}, nil
	}
	// now is at/after todayEnd: the next window starts tomorrow.
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	tomorrowEnd := todayEnd.AddDate(0, 0, 1)
	return window{Start: tomorrowStart, End: tomorrowEnd}, nil
}

// contains reports whether t falls within [w.Start, w.End).
func (w window) contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
