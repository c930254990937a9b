// Package recurrence computes the next due instant for a reminder schedule.
//
// NextDue is a pure function: identical inputs always produce the same
// result, so the scheduler can re-derive schedule state after a partial
// write instead of rolling anything back.
package recurrence

import (
	"sort"
	"time"

	"github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/server/timezone"
	"github.com/remindkit/remindkit/store"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// defaultHour/defaultMinute apply when a spec omits timeOfDay.
	defaultHour   = 9
	defaultMinute = 0

	// maxSkips bounds the excluded-date advance loop so a spec that
	// excludes every candidate terminates with none.
	maxSkips = 1500
	// maxYearSkips bounds the yearly scan the same way, in whole years:
	// one candidate per year instead of per day.
	maxYearSkips = 100
)

// NextDue returns the next due instant for the spec evaluated at reference,
// or ok=false when the schedule yields no further occurrence.
//
// All weekday and day-of-month boundaries are computed in loc, so firing is
// wall-clock correct regardless of the process's local timezone. prior is the
// previous occurrence (nil for a reminder that has never fired) and
// occurrenceCount the number of deliveries so far.
func NextDue(spec store.ScheduleSpec, loc *time.Location, reference time.Time, prior *time.Time, occurrenceCount int) (time.Time, bool) {
	if loc == nil {
		loc = timezone.UTC
	}
	if spec.MaxOccurrences > 0 && occurrenceCount >= spec.MaxOccurrences {
		return time.Time{}, false
	}

	ref := reference.In(loc)
	hour, minute := parseTimeOfDay(spec.TimeOfDay)

	// A start date in the future shifts the evaluation point so the start
	// date's own occurrence still qualifies.
	if start, ok := parseDate(spec.StartDate, loc); ok {
		if dayStart := timezone.StartOfDay(start, loc); ref.Before(dayStart) {
			ref = dayStart.Add(-time.Second)
		}
	}

	excluded := excludedSet(spec.ExcludedDates)

	var next time.Time
	var ok bool
	switch spec.Type {
	case store.ScheduleOnce:
		next, ok = nextOnce(spec, loc, ref, hour, minute)
	case store.ScheduleDaily:
		next, ok = nextDaily(ref, loc, hour, minute, excluded)
	case store.ScheduleWeekly:
		next, ok = nextWeekly(spec, ref, loc, hour, minute, excluded)
	case store.ScheduleMonthly:
		next, ok = nextMonthly(spec, ref, loc, hour, minute, excluded)
	case store.ScheduleYearly:
		next, ok = nextYearly(spec, ref, loc, hour, minute, excluded)
	case store.ScheduleInterval:
		next, ok = nextInterval(spec, ref, loc, prior, hour, minute, excluded)
	default:
		// custom (cron) evaluation is intentionally unsupported.
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}

	if end, hasEnd := parseDate(spec.EndDate, loc); hasEnd {
		if next.After(timezone.EndOfDay(end, loc)) {
			return time.Time{}, false
		}
	}
	return next, true
}

// ValidateSpec rejects malformed schedule specs at creation time.
func ValidateSpec(spec *store.ScheduleSpec) error {
	switch spec.Type {
	case store.ScheduleOnce, store.ScheduleDaily, store.ScheduleWeekly,
		store.ScheduleMonthly, store.ScheduleYearly, store.ScheduleInterval,
		store.ScheduleCustom:
	default:
		return errors.Validation("unknown schedule type: " + string(spec.Type))
	}

	if spec.TimeOfDay != "" {
		if _, err := time.Parse(timeLayout, spec.TimeOfDay); err != nil {
			return errors.Validation("invalid timeOfDay, expected HH:MM: " + spec.TimeOfDay)
		}
	}
	for _, raw := range []string{spec.StartDate, spec.EndDate} {
		if raw == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return errors.Validation("invalid date, expected YYYY-MM-DD: " + raw)
		}
	}
	for _, raw := range spec.ExcludedDates {
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return errors.Validation("invalid excluded date, expected YYYY-MM-DD: " + raw)
		}
	}

	switch spec.Type {
	case store.ScheduleOnce:
		// A once schedule without a start date would never fire.
		if spec.StartDate == "" {
			return errors.Validation("once schedule requires a startDate")
		}
	case store.ScheduleWeekly:
		if len(spec.Weekdays) == 0 {
			return errors.Validation("weekly schedule requires at least one weekday")
		}
		for _, wd := range spec.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return errors.Validation("invalid weekday in weekly schedule")
			}
		}
	case store.ScheduleMonthly:
		if spec.DayOfMonth < 1 || spec.DayOfMonth > 31 {
			return errors.Validation("monthly schedule requires dayOfMonth in [1, 31]")
		}
	case store.ScheduleYearly:
		if spec.StartDate == "" {
			return errors.Validation("yearly schedule requires a startDate")
		}
	case store.ScheduleInterval:
		if spec.IntervalDays < 1 {
			return errors.Validation("interval schedule requires intervalDays >= 1")
		}
	}

	if spec.MaxOccurrences < 0 {
		return errors.Validation("maxOccurrences must not be negative")
	}
	return nil
}

func nextOnce(spec store.ScheduleSpec, loc *time.Location, ref time.Time, hour, minute int) (time.Time, bool) {
	start, ok := parseDate(spec.StartDate, loc)
	if !ok {
		// Defensive: creation validation rejects this case.
		return time.Time{}, false
	}
	at := atTime(start, hour, minute, loc)
	if !at.After(ref) {
		return time.Time{}, false
	}
	return at, true
}

func nextDaily(ref time.Time, loc *time.Location, hour, minute int, excluded map[string]struct{}) (time.Time, bool) {
	candidate := atTime(ref, hour, minute, loc)
	if !candidate.After(ref) {
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute, loc)
	}
	for i := 0; i < maxSkips; i++ {
		if !isExcluded(candidate, excluded) {
			return candidate, true
		}
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute, loc)
	}
	return time.Time{}, false
}

func nextWeekly(spec store.ScheduleSpec, ref time.Time, loc *time.Location, hour, minute int, excluded map[string]struct{}) (time.Time, bool) {
	if len(spec.Weekdays) == 0 {
		return time.Time{}, false
	}
	days := append([]time.Weekday(nil), spec.Weekdays...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	inSet := map[time.Weekday]struct{}{}
	for _, wd := range days {
		inSet[wd] = struct{}{}
	}

	// Walk forward day by day; the set repeats weekly so two weeks plus the
	// excluded-date allowance covers every case.
	candidate := atTime(ref, hour, minute, loc)
	for i := 0; i < maxSkips; i++ {
		if _, match := inSet[candidate.Weekday()]; match && candidate.After(ref) && !isExcluded(candidate, excluded) {
			return candidate, true
		}
		candidate = atTime(candidate.AddDate(0, 0, 1), hour, minute, loc)
	}
	return time.Time{}, false
}

func nextMonthly(spec store.ScheduleSpec, ref time.Time, loc *time.Location, hour, minute int, excluded map[string]struct{}) (time.Time, bool) {
	year, month := ref.Year(), ref.Month()
	for i := 0; i < maxSkips; i++ {
		candidate := monthlyCandidate(year, month, spec.DayOfMonth, hour, minute, loc)
		if candidate.After(ref) && !isExcluded(candidate, excluded) {
			return candidate, true
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return time.Time{}, false
}

// monthlyCandidate clamps dayOfMonth to the last day of months that are
// shorter than the target (e.g. 31 in February).
func monthlyCandidate(year int, month time.Month, dayOfMonth, hour, minute int, loc *time.Location) time.Time {
	if last := daysInMonth(year, month); dayOfMonth > last {
		dayOfMonth = last
	}
	return time.Date(year, month, dayOfMonth, hour, minute, 0, 0, loc)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextYearly(spec store.ScheduleSpec, ref time.Time, loc *time.Location, hour, minute int, excluded map[string]struct{}) (time.Time, bool) {
	start, ok := parseDate(spec.StartDate, loc)
	if !ok {
		return time.Time{}, false
	}
	month, day := start.Month(), start.Day()
	for year := ref.Year(); year < ref.Year()+maxYearSkips; year++ {
		candidate := monthlyCandidate(year, month, day, hour, minute, loc)
		if candidate.After(ref) && !isExcluded(candidate, excluded) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func nextInterval(spec store.ScheduleSpec, ref time.Time, loc *time.Location, prior *time.Time, hour, minute int, excluded map[string]struct{}) (time.Time, bool) {
	n := spec.IntervalDays
	if n < 1 {
		return time.Time{}, false
	}

	var candidate time.Time
	if prior != nil {
		candidate = atTime(prior.In(loc).AddDate(0, 0, n), hour, minute, loc)
		// Catch up when the reminder missed whole intervals.
		for i := 0; !candidate.After(ref) && i < maxSkips; i++ {
			candidate = atTime(candidate.AddDate(0, 0, n), hour, minute, loc)
		}
	} else {
		candidate = atTime(ref, hour, minute, loc)
		if !candidate.After(ref) {
			candidate = atTime(candidate.AddDate(0, 0, n), hour, minute, loc)
		}
	}

	for i := 0; i < maxSkips; i++ {
		if candidate.After(ref) && !isExcluded(candidate, excluded) {
			return candidate, true
		}
		candidate = atTime(candidate.AddDate(0, 0, n), hour, minute, loc)
	}
	return time.Time{}, false
}

func parseTimeOfDay(raw string) (hour, minute int) {
	if raw == "" {
		return defaultHour, defaultMinute
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return defaultHour, defaultMinute
	}
	return t.Hour(), t.Minute()
}

func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func atTime(day time.Time, hour, minute int, loc *time.Location) time.Time {
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
}

func excludedSet(dates []string) map[string]struct{} {
	if len(dates) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	return set
}

func isExcluded(candidate time.Time, excluded map[string]struct{}) bool {
	if len(excluded) == 0 {
		return false
	}
	_, hit := excluded[candidate.Format(dateLayout)]
	return hit
}
