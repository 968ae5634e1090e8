package ratelimit

import "time"

const day = 24 * time.Hour

// spans are fixed calendar windows: counts bucket on the truncated
// minute, hour and UTC day containing now, and reset when the next one
// starts.
type spans struct {
	minute time.Time
	hour   time.Time
	day    time.Time
}

func currentSpans(now time.Time) spans {
	now = now.UTC()

	return spans{
		minute: now.Truncate(time.Minute),
		hour:   now.Truncate(time.Hour),
		day:    now.Truncate(day),
	}
}

func (s spans) resets() ResetTimes {
	return ResetTimes{
		Minute: s.minute.Add(time.Minute),
		Hour:   s.hour.Add(time.Hour),
		Day:    s.day.Add(day),
	}
}
