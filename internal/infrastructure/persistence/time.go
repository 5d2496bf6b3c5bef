package persistence

import "time"

// nanosToTime converts a stored UnixNano timestamp back to a time.Time, or
// the zero time for an unset (0) column.
func nanosToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
