package behavior

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// inSchedule reports whether the wall-clock time of now falls inside a
// daily "HH:MM-HH:MM" window. An end before the start wraps past midnight
// ("22:00-06:00" covers late evening and early morning).
func inSchedule(now time.Time, schedule string) (bool, error) {
	parts := strings.Split(schedule, "-")
	if len(parts) != 2 {
		return false, fmt.Errorf("schedule %q is not HH:MM-HH:MM", schedule)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return false, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return false, fmt.Errorf("schedule %q: %w", schedule, err)
	}

	cur := float64(now.Hour()) + float64(now.Minute())/60

	if end < start {
		return cur >= start || cur <= end, nil
	}
	return cur >= start && cur <= end, nil
}

// parseClock converts "HH:MM" to fractional hours.
func parseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	fields := strings.Split(s, ":")
	if len(fields) != 2 {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(fields[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(fields[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return float64(h) + float64(m)/60, nil
}
