package occurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hray3182/habitline/internal/models"
	"github.com/teambition/rrule-go"
)

const dateLayout = "2006-01-02"

// Sunday=0 as stored on reminders.
var weekdays = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

var weekdayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ParseTimeOfDay parses HH:MM or HH:MM:SS in 24h format.
func ParseTimeOfDay(s string) (hour, min, sec int, err error) {
	s = strings.TrimSpace(s)
	var t time.Time
	switch strings.Count(s, ":") {
	case 1:
		t, err = time.Parse("15:04", s)
	case 2:
		t, err = time.Parse("15:04:05", s)
	default:
		err = fmt.Errorf("invalid time of day %q", s)
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), t.Second(), nil
}

// ParseDate parses a YYYY-MM-DD calendar date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// FormatDate formats t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// At returns the instant on day's calendar date at the given time of day,
// in day's location.
func At(day time.Time, timeOfDay string) (time.Time, error) {
	h, m, s, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location()), nil
}

// weeklyRule builds a weekly RRULE on the given weekdays starting at dtstart.
func weeklyRule(days []int, dtstart time.Time) (*rrule.RRule, error) {
	byweekday := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
		byweekday = append(byweekday, weekdays[d])
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dtstart,
		Byweekday: byweekday,
	})
}

// Next returns the next occurrence of r strictly after now.
// Returns nil if there are no more occurrences.
func Next(r *models.Reminder, now time.Time) (*time.Time, error) {
	if r.IsOneTime() {
		day, err := ParseDate(*r.Date, now.Location())
		if err != nil {
			return nil, err
		}
		at, err := At(day, r.Time)
		if err != nil {
			return nil, err
		}
		if !at.After(now) {
			return nil, nil
		}
		return &at, nil
	}

	today, err := At(now, r.Time)
	if err != nil {
		return nil, err
	}

	if r.IsWeekly() {
		rule, err := weeklyRule(r.Days, today)
		if err != nil {
			return nil, err
		}
		// A weekly rule always has an occurrence within the next 7 days.
		next := rule.After(now, false)
		if next.IsZero() {
			return nil, nil
		}
		return &next, nil
	}

	if today.After(now) {
		return &today, nil
	}
	tomorrow := today.AddDate(0, 0, 1)
	return &tomorrow, nil
}

// MatchesDay reports whether r is due on now's calendar day.
func MatchesDay(r *models.Reminder, now time.Time) bool {
	if r.IsOneTime() {
		return strings.TrimSpace(*r.Date) == FormatDate(now)
	}
	if r.IsWeekly() {
		wd := int(now.Weekday())
		for _, d := range r.Days {
			if d == wd {
				return true
			}
		}
		return false
	}
	return true
}

// ShouldTrigger reports whether r is due right now: enabled, due today,
// its time of day reached and today's occurrence not yet triggered.
// Per-device minute dedup is the caller's job.
func ShouldTrigger(r *models.Reminder, now time.Time) bool {
	if !r.Enabled || !MatchesDay(r, now) {
		return false
	}
	target, err := At(now, r.Time)
	if err != nil {
		return false
	}
	if now.Before(target) {
		return false
	}
	if r.LastTriggered != nil && !r.LastTriggered.Before(target) {
		return false
	}
	return true
}

// MinuteBucket returns the clock-minute t falls in.
func MinuteBucket(t time.Time) string {
	return t.Format("2006-01-02T15:04")
}

// Describe returns a human-readable description of the reminder schedule.
func Describe(r *models.Reminder) string {
	clock := r.Time
	if h, m, _, err := ParseTimeOfDay(r.Time); err == nil {
		clock = fmt.Sprintf("%02d:%02d", h, m)
	}

	if r.IsOneTime() {
		return fmt.Sprintf("Once on %s at %s", *r.Date, clock)
	}
	if !r.IsWeekly() {
		return "Every day at " + clock
	}

	days := append([]int(nil), r.Days...)
	sort.Ints(days)
	seen := make(map[int]bool)
	var names []string
	for _, d := range days {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		names = append(names, weekdayNames[d])
	}
	if len(names) == 7 {
		return "Every day at " + clock
	}
	return fmt.Sprintf("Every %s at %s", strings.Join(names, ", "), clock)
}
