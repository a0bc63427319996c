// Package calendar keeps a calendar view's date buckets in sync with the server.
//
// The Engine is the single writer of the bucket map. Local phases of every
// operation run under one mutex; remote calls are made with the mutex
// released, so responses are checked against a generation counter and stale
// ones are dropped.
package calendar

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Slach/calendar-sync/pkg/bucket"
	"github.com/Slach/calendar-sync/pkg/client"
	"github.com/Slach/calendar-sync/pkg/fieldoptions"
	"github.com/Slach/calendar-sync/pkg/fieldtype"
	"github.com/Slach/calendar-sync/pkg/filter"
	"github.com/Slach/calendar-sync/pkg/logging"
	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/timezone"
)

// DefaultBufferSize is the number of rows fetched per bucket and page.
const DefaultBufferSize = 10

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	// BufferSize is the page size per bucket, DefaultBufferSize when not positive.
	BufferSize int
	// ViewerTimeZone is the IANA name of the viewer's zone, UTC when empty.
	ViewerTimeZone string
	// Registry defaults to fieldtype.NewRegistry().
	Registry *fieldtype.Registry
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine keeps the day buckets of one calendar view in sync with a row
// service and with row events. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	service   client.Service
	registry  *fieldtype.Registry
	evaluator *filter.Evaluator
	resolver  timezone.Resolver
	buckets   *bucket.Store
	options   *fieldoptions.Store
	log       zerolog.Logger
	now       func() time.Time

	bufferSize  int
	calendarID  int64
	tableID     int64
	dateFieldID int64
	filters     models.ViewFilterSpec
	selected    time.Time
	generation  uint64
	loading     bool
}

// New returns an engine without a view. Unset options take their defaults.
func New(service client.Service, opts Options) *Engine {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Registry == nil {
		opts.Registry = fieldtype.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		service:    service,
		registry:   opts.Registry,
		evaluator:  filter.NewEvaluator(opts.Registry),
		resolver:   timezone.NewResolver(opts.ViewerTimeZone),
		buckets:    bucket.NewStore(),
		options:    fieldoptions.NewStore(service),
		log:        logging.Component("calendar"),
		now:        opts.Now,
		bufferSize: opts.BufferSize,
	}
}

// update commits fn to the bucket store. Observers see the changes once the
// engine lock is released through unlock.
func (e *Engine) update(fn func(tx *bucket.Txn) error) error {
	return e.buckets.UpdateDeferred(fn)
}

// unlock releases the engine lock and then delivers pending bucket changes.
func (e *Engine) unlock() {
	e.mu.Unlock()
	e.buckets.Flush()
}

// Reset throws away all state except the selected date. In-flight fetches
// are discarded when they complete.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.generation++
	e.loading = false
	e.calendarID = 0
	e.tableID = 0
	e.dateFieldID = 0
	e.filters = models.ViewFilterSpec{}
	e.options.SetView(0)
	e.options.ReplaceAll(nil)
	_ = e.update(func(tx *bucket.Txn) error { tx.Clear(); return nil })
}

// SetView points the engine at a calendar view without fetching.
func (e *Engine) SetView(view models.View) {
	e.mu.Lock()
	defer e.unlock()
	e.setViewLocked(view)
}

func (e *Engine) setViewLocked(view models.View) {
	e.calendarID = view.ID
	e.tableID = view.TableID
	e.dateFieldID = view.DateFieldID
	e.filters = view.Filters
	e.options.SetView(view.ID)
}

// SetFilters replaces the view filters used for local membership checks.
func (e *Engine) SetFilters(filters models.ViewFilterSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = filters
}

// SelectDate records a new reference date and marks the view as loading.
// Any fetch still in flight becomes stale.
func (e *Engine) SelectDate(ref time.Time) {
	e.mu.Lock()
	defer e.unlock()
	e.selected = ref
	e.loading = true
	e.generation++
}

// Subscribe registers an observer of bucket changes and returns its id and an
// unsubscribe func. Observers run synchronously, in commit order, after the
// engine lock is released, so they may call back into the engine. They run on
// the goroutine that made the change unless another goroutine is already
// delivering earlier changes.
func (e *Engine) Subscribe(fn bucket.Observer) (string, func()) {
	return e.buckets.Subscribe(fn)
}

// Bucket returns a copy of the bucket stored under key.
func (e *Engine) Bucket(key string) (models.Bucket, bool) { return e.buckets.Bucket(key) }

// Snapshot returns a copy of every bucket by key.
func (e *Engine) Snapshot() map[string]models.Bucket { return e.buckets.Snapshot() }

// AllRows returns the loaded rows of all buckets.
func (e *Engine) AllRows() []models.Row { return e.buckets.AllRows() }

// BucketKeys returns the loaded bucket keys.
func (e *Engine) BucketKeys() []string { return e.buckets.Keys() }

// FieldOptions returns the field options store of the current view.
func (e *Engine) FieldOptions() *fieldoptions.Store { return e.options }

// Loading reports whether a monthly fetch is pending.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// CalendarID returns the current view id, 0 when there is none.
func (e *Engine) CalendarID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calendarID
}

// DateFieldID returns the id of the field rows are bucketed by.
func (e *Engine) DateFieldID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dateFieldID
}

// BufferSize returns the page size per bucket.
func (e *Engine) BufferSize() int { return e.bufferSize }

// SelectedDate returns the reference date in the effective timezone.
func (e *Engine) SelectedDate(fields []models.Field) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected.IsZero() {
		return time.Time{}, false
	}
	loc, err := e.locationLocked(fields)
	if err != nil {
		return e.selected, true
	}
	return e.selected.In(loc), true
}

// TimeZone returns the effective timezone name for the given fields.
func (e *Engine) TimeZone(fields []models.Field) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolver.EffectiveName(e.dateFieldPtrLocked(fields))
}

// dateFieldLocked returns the date field when it can still drive the calendar.
func (e *Engine) dateFieldLocked(fields []models.Field) (models.Field, bool) {
	f, ok := models.FindField(fields, e.dateFieldID)
	if !ok || f.Trashed || !e.registry.CanRepresentDate(f) {
		return models.Field{}, false
	}
	return f, true
}

func (e *Engine) dateFieldPtrLocked(fields []models.Field) *models.Field {
	f, ok := e.dateFieldLocked(fields)
	if !ok {
		return nil
	}
	return &f
}

func (e *Engine) locationLocked(fields []models.Field) (*time.Location, error) {
	return e.resolver.Effective(e.dateFieldPtrLocked(fields))
}
