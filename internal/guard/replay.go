package guard

import (
	"strings"
	"time"
)

// DefaultMaxAge: сигнал старше 5 минут считаем повтором.
const DefaultMaxAge = 5 * time.Minute

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp разбирает ISO-8601 отметку из алерта. Без зоны, UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Age считает возраст отметки относительно now; ok=false если не разобрали.
func Age(raw string, now time.Time) (time.Duration, bool) {
	ts, ok := ParseTimestamp(raw)
	if !ok {
		return 0, false
	}
	return now.Sub(ts), true
}

// IsFresh защищает от повторов: отметка разбирается, не из будущего
// и не старше maxAge. maxAge <= 0 означает DefaultMaxAge.
func IsFresh(raw string, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	age, ok := Age(raw, now)
	if !ok {
		return false
	}
	return age >= 0 && age <= maxAge
}
