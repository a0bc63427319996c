// Package fieldtype holds the per field type behaviour the calendar needs to
// reproduce server side sorting and filtering locally.
package fieldtype

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

// Filter types understood by the built-in behaviours.
const (
	FilterEqual       = "equal"
	FilterNotEqual    = "not_equal"
	FilterContains    = "contains"
	FilterContainsNot = "contains_not"
	FilterEmpty       = "empty"
	FilterNotEmpty    = "not_empty"
	FilterHigherThan  = "higher_than"
	FilterLowerThan   = "lower_than"
	FilterBoolean     = "boolean"
	FilterDateEqual   = "date_equal"
	FilterDateBefore  = "date_before"
	FilterDateAfter   = "date_after"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported filter type")
	ErrUnknownFieldType  = errors.New("unknown field type")
)

// Behavior is the capability set of one field type.
type Behavior interface {
	// Compare orders two raw values of the field ascending.
	Compare(field models.Field, a, b any) int
	// MatchesFilter evaluates a single view predicate against a raw value.
	MatchesFilter(field models.Field, filter models.Filter, value any) (bool, error)
	// CoerceForUpdate converts a local value into what the row update API expects.
	CoerceForUpdate(field models.Field, value any) any
	// CanRepresentDate reports whether the field can drive a calendar.
	CanRepresentDate(field models.Field) bool
	// OnRowChange returns the optimistic value of this field after any other
	// value of the row changed.
	OnRowChange(row models.Row, field models.Field, current any) any
}

// Registry maps field type identifiers to behaviours.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
}

// NewRegistry returns a registry with every built-in field type registered.
func NewRegistry() *Registry {
	r := &Registry{behaviors: make(map[string]Behavior)}
	text := newTextBehavior()
	r.Register("text", text)
	r.Register("long_text", text)
	r.Register("number", numberBehavior{})
	r.Register("boolean", booleanBehavior{})
	r.Register("date", dateBehavior{})
	r.Register("created_on", createdOnBehavior{})
	r.Register("last_modified", newLastModifiedBehavior(nil))
	return r
}

func (r *Registry) Register(fieldType string, b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviors[strings.TrimSpace(fieldType)] = b
}

func (r *Registry) Get(fieldType string) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.behaviors[strings.TrimSpace(fieldType)]
	return b, ok
}

// For returns the behaviour of the field's type or ErrUnknownFieldType.
func (r *Registry) For(field models.Field) (Behavior, error) {
	b, ok := r.Get(field.Type)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFieldType, "field %d has type %q", field.ID, field.Type)
	}
	return b, nil
}

// CanRepresentDate is false for unknown field types.
func (r *Registry) CanRepresentDate(field models.Field) bool {
	b, ok := r.Get(field.Type)
	return ok && b.CanRepresentDate(field)
}

func unsupported(field models.Field, filter models.Filter) error {
	return errors.Wrapf(ErrUnsupportedFilter, "%q on %s field %d", filter.Type, field.Type, field.ID)
}

// isEmpty follows the server's notion of an empty cell.
func isEmpty(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	case bool:
		return !typed
	default:
		return false
	}
}

// emptinessFilter handles the two filter types every behaviour supports.
func emptinessFilter(filter models.Filter, value any) (bool, bool) {
	switch filter.Type {
	case FilterEmpty:
		return isEmpty(value), true
	case FilterNotEmpty:
		return !isEmpty(value), true
	}
	return false, false
}

func compareNil(a, b any) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}
	return 0, false
}
