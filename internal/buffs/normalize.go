package buffs

import "time"

// NormalizeHour canonicalizes t to the UTC hour boundary it falls in.
// Minute, second and sub-second fields are zeroed so slot equality is an
// exact match instead of a fuzzy comparison. Idempotent.
//
// Zoneless timestamps are assumed UTC; parse sites (see mirror.ParseSlot)
// use UTC as the fallback location so this holds before t reaches here.
func NormalizeHour(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}
