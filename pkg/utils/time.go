package utils

import "time"

// Now returns the current time in UTC. Persisted timestamps always go through it.
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts Telegram's unix-seconds "date" field to UTC.
func UnixToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(timestamp, 0).UTC()
}

// FormatISO8601 is the timestamp format of every JSON payload the service emits.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
