package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts observed on historical rows. Listed most to least specific;
// the first successful parse wins.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp normalizes a timestamp that may arrive as a structured
// time value, serialized text in one of several layouts, or a unix epoch
// number. Everything comparing timestamps must go through here; raw
// heterogeneous values have crashed read paths before.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("parse timestamp: zero time value")
		}
		return t.UTC(), nil
	case string:
		return parseTimestampString(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		sec := int64(t)
		nsec := int64((t - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("parse timestamp: nil value")
	default:
		return time.Time{}, fmt.Errorf("parse timestamp: unsupported type %T", v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse timestamp: empty string")
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}

	// Unix seconds serialized as text.
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parse timestamp: unrecognized value %q", s)
}

// FormatTimestamp is the canonical serialization used for new rows.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
