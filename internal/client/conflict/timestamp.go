package conflict

import (
	"math"
	"time"

	"github.com/iudanet/offsync/internal/models"
)

// updatedAt extracts the modification time of an entity. Supported forms:
// unix milliseconds, {seconds, nanoseconds} or {_seconds, _nanoseconds}
// objects as written by document stores, and RFC 3339 strings.
func (rs *RuleSet) updatedAt(v *models.Value) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	for _, name := range rs.TimestampFields {
		field, ok := v.Field(name)
		if !ok {
			continue
		}
		if ts, ok := parseTimestamp(field); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseTimestamp(v models.Value) (time.Time, bool) {
	switch v.Kind() {
	case models.KindNumber:
		ms, _ := v.AsNumber()
		if math.IsNaN(ms) || math.IsInf(ms, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)), true

	case models.KindString:
		s, _ := v.AsString()
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true

	case models.KindObject:
		for _, keys := range [][2]string{{"seconds", "nanoseconds"}, {"_seconds", "_nanoseconds"}} {
			sec, ok := numberField(v, keys[0])
			if !ok {
				continue
			}
			nsec, _ := numberField(v, keys[1])
			return time.Unix(int64(sec), int64(nsec)), true
		}
	}
	return time.Time{}, false
}

func numberField(v models.Value, name string) (float64, bool) {
	f, ok := v.Field(name)
	if !ok {
		return 0, false
	}
	return f.AsNumber()
}
