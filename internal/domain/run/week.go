package run

import "time"

// WeekBucket maps an instant to its ISO 8601 week bucket, encoded as
// year*100 + week (e.g. 202607 for week 7 of 2026). The ISO year near a
// calendar year boundary can differ from the calendar year (Thursday
// anchoring), which is exactly the behavior the weekly quota wants.
func WeekBucket(t time.Time) int {
	year, week := t.UTC().ISOWeek()
	return year*100 + week
}
