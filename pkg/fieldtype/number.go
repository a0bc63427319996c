package fieldtype

import (
	"cmp"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Slach/calendar-sync/pkg/models"
)

type numberBehavior struct{}

func (numberBehavior) Compare(_ models.Field, a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return cmp.Compare(fa, fb)
}

func (numberBehavior) MatchesFilter(field models.Field, filter models.Filter, value any) (bool, error) {
	if ok, handled := emptinessFilter(filter, value); handled {
		return ok, nil
	}
	switch filter.Type {
	case FilterEqual, FilterNotEqual, FilterHigherThan, FilterLowerThan:
	default:
		return false, unsupported(field, filter)
	}
	if strings.TrimSpace(filter.Value) == "" {
		return true, nil
	}
	want, err := strconv.ParseFloat(strings.TrimSpace(filter.Value), 64)
	if err != nil {
		// An unparsable filter value never matches, the same as the server.
		return false, nil
	}
	got, ok := toFloat(value)
	switch filter.Type {
	case FilterEqual:
		return ok && got == want, nil
	case FilterNotEqual:
		return !ok || got != want, nil
	case FilterHigherThan:
		return ok && got > want, nil
	default:
		return ok && got < want, nil
	}
}

func (numberBehavior) CoerceForUpdate(_ models.Field, value any) any {
	f, ok := toFloat(value)
	if !ok {
		return nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (numberBehavior) CanRepresentDate(models.Field) bool { return false }

func (numberBehavior) OnRowChange(_ models.Row, _ models.Field, current any) any { return current }

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
