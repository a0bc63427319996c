package fieldtype

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/Slach/calendar-sync/pkg/models"
)

type textBehavior struct {
	// collate.Collator keeps internal buffers and must not be shared unguarded.
	mu       *sync.Mutex
	collator *collate.Collator
}

func newTextBehavior() textBehavior {
	return textBehavior{
		mu:       &sync.Mutex{},
		collator: collate.New(language.Und, collate.IgnoreCase),
	}
}

func (b textBehavior) Compare(_ models.Field, a, c any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collator.CompareString(toText(a), toText(c))
}

func (b textBehavior) MatchesFilter(field models.Field, filter models.Filter, value any) (bool, error) {
	if ok, handled := emptinessFilter(filter, value); handled {
		return ok, nil
	}
	want := strings.ToLower(strings.TrimSpace(filter.Value))
	got := strings.ToLower(strings.TrimSpace(toText(value)))
	switch filter.Type {
	case FilterEqual:
		return want == "" || got == want, nil
	case FilterNotEqual:
		return want == "" || got != want, nil
	case FilterContains:
		return strings.Contains(got, want), nil
	case FilterContainsNot:
		return want == "" || !strings.Contains(got, want), nil
	}
	return false, unsupported(field, filter)
}

func (textBehavior) CoerceForUpdate(_ models.Field, value any) any { return value }

func (textBehavior) CanRepresentDate(models.Field) bool { return false }

func (textBehavior) OnRowChange(_ models.Row, _ models.Field, current any) any { return current }

func toText(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
