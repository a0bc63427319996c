package calendar

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

type EventKind string

const (
	EventRowCreated        EventKind = "row_created"
	EventRowUpdated        EventKind = "row_updated"
	EventRowDeleted        EventKind = "row_deleted"
	EventFieldAdded        EventKind = "field_added"
	EventViewFilterChanged EventKind = "view_filter_changed"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is a change observed by the host application. Fields is the table's
// field list at the time of the event.
type Event struct {
	Kind   EventKind
	Row    models.Row
	Values map[string]any
	Field  models.Field
	Value  any
	// Filters is the new filter configuration of a view_filter_changed event.
	Filters models.ViewFilterSpec
	Fields  []models.Field
}

// HandleEvent dispatches a host event. Filter changes refetch the month.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventRowCreated:
		return e.CreatedNewRow(ev.Row, ev.Fields)
	case EventRowUpdated:
		return e.UpdatedExistingRow(ev.Row, ev.Values, ev.Fields)
	case EventRowDeleted:
		_, _, err := e.DeletedExistingRow(ev.Row, ev.Fields)
		return err
	case EventFieldAdded:
		e.AddField(ev.Field, ev.Value)
		return nil
	case EventViewFilterChanged:
		e.SetFilters(ev.Filters)
		return e.FetchInitial(ctx, ev.Fields, false)
	}
	return errors.Wrapf(ErrUnknownEvent, "%q", ev.Kind)
}
