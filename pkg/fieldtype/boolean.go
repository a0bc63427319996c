package fieldtype

import (
	"strings"

	"github.com/Slach/calendar-sync/pkg/models"
)

type booleanBehavior struct{}

func (booleanBehavior) Compare(_ models.Field, a, b any) int {
	ta, tb := truthy(a), truthy(b)
	switch {
	case ta == tb:
		return 0
	case !ta:
		return -1
	default:
		return 1
	}
}

func (booleanBehavior) MatchesFilter(field models.Field, filter models.Filter, value any) (bool, error) {
	switch filter.Type {
	case FilterBoolean, FilterEqual:
		return truthy(value) == truthy(filter.Value), nil
	case FilterEmpty:
		return !truthy(value), nil
	case FilterNotEmpty:
		return truthy(value), nil
	}
	return false, unsupported(field, filter)
}

func (booleanBehavior) CoerceForUpdate(_ models.Field, value any) any { return truthy(value) }

func (booleanBehavior) CanRepresentDate(models.Field) bool { return false }

func (booleanBehavior) OnRowChange(_ models.Row, _ models.Field, current any) any { return current }

func truthy(v any) bool {
	switch typed := v.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "1", "true", "yes", "y", "on", "checked":
			return true
		}
		return false
	default:
		f, ok := toFloat(v)
		return ok && f != 0
	}
}
