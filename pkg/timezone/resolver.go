package timezone

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

// KeyLayout is the layout of bucket keys.
const KeyLayout = "2006-01-02"

// FieldTimeZone returns the timezone a date field forces on its values: the
// configured zone for fields with a time component, "UTC" for date-only
// fields. An empty result means the viewer's zone applies.
func FieldTimeZone(field *models.Field) string {
	if field == nil {
		return ""
	}
	if field.DateIncludeTime {
		return strings.TrimSpace(field.DateForceTimezone)
	}
	return "UTC"
}

// Resolver picks the effective timezone for bucketing. It is a pure function
// of the field configuration and the viewer timezone it was built with.
type Resolver struct {
	viewer string
}

func NewResolver(viewer string) Resolver {
	return Resolver{viewer: strings.TrimSpace(viewer)}
}

// Viewer returns the viewer timezone name, "UTC" when none was given.
func (r Resolver) Viewer() string {
	if r.viewer == "" {
		return "UTC"
	}
	return r.viewer
}

// EffectiveName is FieldTimeZone falling back to the viewer's zone.
func (r Resolver) EffectiveName(field *models.Field) string {
	if tz := FieldTimeZone(field); tz != "" {
		return tz
	}
	return r.Viewer()
}

func (r Resolver) Effective(field *models.Field) (*time.Location, error) {
	return Load(r.EffectiveName(field))
}

// ParseValue converts a date field value into a time. Strings without an
// explicit offset are read in loc.
func ParseValue(value any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		t, err := dateparse.ParseIn(s, loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// BucketKey projects a date value into loc and truncates it to a day key.
func BucketKey(value any, loc *time.Location) (string, bool) {
	t, ok := ParseValue(value, loc)
	if !ok {
		return "", false
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(KeyLayout), true
}

// MonthWindow returns [first of month, first of next month) around ref in loc.
func MonthWindow(ref time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := ref.In(loc)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}

// DayWindow returns [start of day, start of next day) for a bucket key in loc.
func DayWindow(key string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, err := time.ParseInLocation(KeyLayout, key, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(err, "invalid bucket key %q", key)
	}
	return from, from.AddDate(0, 0, 1), nil
}
