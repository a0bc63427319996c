package fieldtype

import (
	"strings"
	"time"

	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/timezone"
)

type dateBehavior struct{}

func (dateBehavior) Compare(_ models.Field, a, b any) int {
	ta, okA := timezone.ParseValue(a, time.UTC)
	tb, okB := timezone.ParseValue(b, time.UTC)
	if c, handled := compareNil(nilIf(!okA), nilIf(!okB)); handled {
		return c
	}
	return ta.Compare(tb)
}

// MatchesFilter compares calendar days. Filter values are "YYYY-MM-DD",
// optionally prefixed with "<zone>?" to pick the zone the day is read in.
func (dateBehavior) MatchesFilter(field models.Field, filter models.Filter, value any) (bool, error) {
	if ok, handled := emptinessFilter(filter, value); handled {
		return ok, nil
	}
	switch filter.Type {
	case FilterDateEqual, FilterEqual, FilterDateBefore, FilterDateAfter:
	default:
		return false, unsupported(field, filter)
	}
	zone, want := splitDateFilterValue(filter.Value)
	if want == "" {
		return true, nil
	}
	if zone == "" {
		zone = timezone.FieldTimeZone(&field)
	}
	loc, err := timezone.Load(zone)
	if err != nil {
		return false, err
	}
	got, ok := timezone.BucketKey(value, loc)
	if !ok {
		return false, nil
	}
	// Bucket keys sort lexically in date order.
	switch filter.Type {
	case FilterDateBefore:
		return got < want, nil
	case FilterDateAfter:
		return got > want, nil
	default:
		return got == want, nil
	}
}

func (dateBehavior) CoerceForUpdate(field models.Field, value any) any {
	t, ok := timezone.ParseValue(value, time.UTC)
	if !ok {
		return nil
	}
	if !field.DateIncludeTime {
		return t.Format(timezone.KeyLayout)
	}
	return t.UTC().Format(time.RFC3339)
}

func (dateBehavior) CanRepresentDate(models.Field) bool { return true }

func (dateBehavior) OnRowChange(_ models.Row, _ models.Field, current any) any { return current }

// createdOnBehavior is a read-only date maintained by the server.
type createdOnBehavior struct{ dateBehavior }

func (createdOnBehavior) CoerceForUpdate(_ models.Field, value any) any { return value }

// lastModifiedBehavior moves to "now" whenever any other value of the row changes.
type lastModifiedBehavior struct {
	dateBehavior
	now func() time.Time
}

func newLastModifiedBehavior(now func() time.Time) lastModifiedBehavior {
	if now == nil {
		now = time.Now
	}
	return lastModifiedBehavior{now: now}
}

func (lastModifiedBehavior) CoerceForUpdate(_ models.Field, value any) any { return value }

func (b lastModifiedBehavior) OnRowChange(_ models.Row, _ models.Field, _ any) any {
	return b.now().UTC().Format(time.RFC3339)
}

// NewLastModified returns the last_modified behaviour with a custom clock.
func NewLastModified(now func() time.Time) Behavior {
	return newLastModifiedBehavior(now)
}

func splitDateFilterValue(value string) (string, string) {
	value = strings.TrimSpace(value)
	if zone, day, found := strings.Cut(value, "?"); found {
		return strings.TrimSpace(zone), strings.TrimSpace(day)
	}
	return "", value
}

func nilIf(cond bool) any {
	if cond {
		return nil
	}
	return struct{}{}
}
