package calendar

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/bucket"
	"github.com/Slach/calendar-sync/pkg/client"
	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/timezone"
)

// ResetAndFetchInitial throws away all state, then loads the view.
func (e *Engine) ResetAndFetchInitial(ctx context.Context, view models.View, fields []models.Field, includeFieldOptions bool) error {
	e.Reset()
	return e.RefreshAndFetchInitial(ctx, view, fields, includeFieldOptions)
}

// RefreshAndFetchInitial switches to view and reloads its rows, keeping field
// options and the selected date.
func (e *Engine) RefreshAndFetchInitial(ctx context.Context, view models.View, fields []models.Field, includeFieldOptions bool) error {
	e.SetView(view)
	return e.FetchInitial(ctx, fields, includeFieldOptions)
}

// FetchInitial loads the month around the selected date, or around today
// when nothing is selected yet.
func (e *Engine) FetchInitial(ctx context.Context, fields []models.Field, includeFieldOptions bool) error {
	e.mu.Lock()
	ref := e.selected
	if ref.IsZero() {
		loc, err := e.locationLocked(fields)
		if err != nil {
			loc = time.UTC
		}
		ref = e.now().In(loc)
	}
	e.unlock()
	return e.FetchMonthly(ctx, ref, fields, includeFieldOptions)
}

// FetchMonthly selects ref and replaces the bucket map with the first page of
// every day of ref's month. A response that arrives after another selection
// was made is dropped. When the server reports that the view has no usable
// date field all state is reset and no error is returned.
func (e *Engine) FetchMonthly(ctx context.Context, ref time.Time, fields []models.Field, includeFieldOptions bool) error {
	e.mu.Lock()
	e.selected = ref
	e.generation++
	gen := e.generation

	field, ok := e.dateFieldLocked(fields)
	if !ok {
		e.log.Info().Int64("date_field", e.dateFieldID).Msg("date field is missing or cannot hold dates, clearing buckets")
		e.loading = false
		_ = e.update(func(tx *bucket.Txn) error { tx.Clear(); return nil })
		e.unlock()
		return nil
	}
	loc, err := e.resolver.Effective(&field)
	if err != nil {
		e.unlock()
		return errors.Wrap(err, "resolve calendar timezone")
	}
	from, to := timezone.MonthWindow(ref, loc)
	req := client.FetchRowsRequest{
		CalendarID:          e.calendarID,
		Limit:               e.bufferSize,
		Offset:              0,
		IncludeFieldOptions: includeFieldOptions,
		FromTimestamp:       from,
		ToTimestamp:         to,
		UserTimeZone:        e.resolver.Viewer(),
	}
	e.loading = true
	e.unlock()

	e.log.Debug().Int64("calendar", req.CalendarID).Time("from", from).Time("to", to).Uint64("generation", gen).Msg("fetching month")
	resp, err := e.service.FetchRows(ctx, req)

	e.mu.Lock()
	defer e.unlock()
	if gen != e.generation {
		e.log.Debug().Err(err).Uint64("generation", gen).Uint64("current", e.generation).Msg("discarding stale month response")
		return nil
	}
	if err != nil {
		if client.IsNoDateField(err) {
			e.log.Info().Int64("calendar", req.CalendarID).Msg("view has no date field, resetting")
			e.resetLocked()
			return nil
		}
		e.loading = false
		return errors.Wrapf(err, "fetch month %s", from.Format("2006-01"))
	}
	_ = e.update(func(tx *bucket.Txn) error { tx.ReplaceAll(resp.Buckets()); return nil })
	if includeFieldOptions && resp.FieldOptions != nil {
		e.options.ReplaceAll(resp.FieldOptions)
	}
	e.loading = false
	e.log.Debug().Int("buckets", len(resp.Rows)).Msg("month loaded")
	return nil
}

// FetchMore loads the next page of one bucket and updates its count to the
// server total.
func (e *Engine) FetchMore(ctx context.Context, key string, fields []models.Field) error {
	e.mu.Lock()
	b, ok := e.buckets.Bucket(key)
	if !ok {
		e.unlock()
		return errors.Wrapf(bucket.ErrBucketNotFound, "fetch more of %s", key)
	}
	loc, err := e.locationLocked(fields)
	if err != nil {
		e.unlock()
		return errors.Wrap(err, "resolve calendar timezone")
	}
	from, to, err := timezone.DayWindow(key, loc)
	if err != nil {
		e.unlock()
		return err
	}
	req := client.FetchRowsRequest{
		CalendarID:    e.calendarID,
		Limit:         e.bufferSize,
		Offset:        len(b.Results),
		FromTimestamp: from,
		ToTimestamp:   to,
		UserTimeZone:  e.resolver.Viewer(),
	}
	gen := e.generation
	_ = e.update(func(tx *bucket.Txn) error { return tx.SetLoading(key, true) })
	e.unlock()

	resp, err := e.service.FetchRows(ctx, req)

	e.mu.Lock()
	defer e.unlock()
	stopLoading := func() {
		_ = e.update(func(tx *bucket.Txn) error {
			if b, ok := tx.Bucket(key); !ok || !b.Loading {
				return nil
			}
			return tx.SetLoading(key, false)
		})
	}
	if gen != e.generation {
		e.log.Debug().Str("bucket", key).Msg("discarding stale page response")
		stopLoading()
		return nil
	}
	if err != nil {
		stopLoading()
		return errors.Wrapf(err, "fetch more of %s", key)
	}
	return e.update(func(tx *bucket.Txn) error {
		if !tx.Has(key) {
			return nil
		}
		var count *int
		page, ok := resp.Rows[key]
		if ok {
			count = &page.Count
		}
		if err := tx.AppendRows(key, page.Results, count); err != nil {
			return err
		}
		return tx.SetLoading(key, false)
	})
}
