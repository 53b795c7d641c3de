package domain

import "time"

// Urgency ranks how soon a maintenance task comes due.
type Urgency string

// Urgency tiers ordered from least to most pressing.
const (
	UrgencyLow     Urgency = "low"
	UrgencyMedium  Urgency = "medium"
	UrgencyHigh    Urgency = "high"
	UrgencyOverdue Urgency = "overdue"
)

// Remaining-hour thresholds separating the urgency tiers.
const (
	HighUrgencyWithinHours   = 5.0
	MediumUrgencyWithinHours = 15.0
)

// Rank orders urgencies for scheduling: overdue first, low last.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyOverdue:
		return 0
	case UrgencyHigh:
		return 1
	case UrgencyMedium:
		return 2
	default:
		return 3
	}
}

// DeriveUrgency computes the tier for a task due at nextDueHours on a machine
// showing currentHours. Tasks without a due point are low.
func DeriveUrgency(nextDueHours *float64, currentHours float64) Urgency {
	if nextDueHours == nil {
		return UrgencyLow
	}
	diff := *nextDueHours - currentHours
	switch {
	case diff <= 0:
		return UrgencyOverdue
	case diff <= HighUrgencyWithinHours:
		return UrgencyHigh
	case diff <= MediumUrgencyWithinHours:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// RecomputeUrgency returns a copy of tasks with every urgency derived against currentHours.
func RecomputeUrgency(tasks []MaintenanceTask, currentHours float64) []MaintenanceTask {
	out := make([]MaintenanceTask, len(tasks))
	for i, t := range tasks {
		t = t.Clone()
		t.Urgency = DeriveUrgency(t.NextDueHours, currentHours)
		out[i] = t
	}
	return out
}

// DateLayout is the calendar date format used by logs and tasks.
const DateLayout = "2006-01-02"

// ParseDate accepts a calendar date or an RFC 3339 timestamp.
func ParseDate(date string) (time.Time, bool) {
	if t, err := time.Parse(DateLayout, date); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// AddMonths returns date shifted by months, or "" when date does not parse.
// Days past the end of the target month clamp to its last day.
func AddMonths(date string, months int) string {
	t, ok := ParseDate(date)
	if !ok {
		return ""
	}
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(t.Day(), last), 0, 0, 0, 0, time.UTC).Format(DateLayout)
}
