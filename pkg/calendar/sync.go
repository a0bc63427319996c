package calendar

import (
	"cmp"
	"slices"
	"time"

	"github.com/Slach/calendar-sync/pkg/bucket"
	"github.com/Slach/calendar-sync/pkg/fieldtype"
	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/timezone"
)

// sortContext holds what bucketing and ordering need for one event.
type sortContext struct {
	field    models.Field
	behavior fieldtype.Behavior
	loc      *time.Location
}

// compare is the server's order: date field ascending, then id.
func (sc sortContext) compare(a, b models.Row) int {
	if c := sc.behavior.Compare(sc.field, a.Value(sc.field.ID), b.Value(sc.field.ID)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (sc sortContext) key(row models.Row) (string, bool) {
	return timezone.BucketKey(row.Value(sc.field.ID), sc.loc)
}

// slot is where a row would sit in the loaded window of its bucket.
type slot struct {
	key    string
	index  int
	loaded bool
	// materialize is false when the row would land after the last loaded row
	// of a partially loaded bucket, where its true position is unknown.
	materialize bool
}

func (e *Engine) sortContextLocked(fields []models.Field) (sortContext, bool) {
	field, ok := e.dateFieldLocked(fields)
	if !ok {
		return sortContext{}, false
	}
	behavior, err := e.registry.For(field)
	if err != nil {
		return sortContext{}, false
	}
	loc, err := e.resolver.Effective(&field)
	if err != nil {
		e.log.Warn().Err(err).Int64("field", field.ID).Msg("cannot load date field timezone")
		return sortContext{}, false
	}
	return sortContext{field: field, behavior: behavior, loc: loc}, true
}

// resolveSlot merges row into a copy of its bucket's window, sorts it and
// reports the resulting position. With excludeSelf any copy of the row
// already in the bucket is taken out first, together with its count.
func resolveSlot(tx *bucket.Txn, sc sortContext, row models.Row, excludeSelf bool) slot {
	key, ok := sc.key(row)
	if !ok {
		return slot{index: -1}
	}
	b, loaded := tx.Bucket(key)
	if !loaded {
		return slot{key: key, index: -1}
	}
	rows, count := b.Results, b.Count
	if excludeSelf {
		if i := b.IndexOf(row.ID); i >= 0 {
			rows = slices.Delete(rows, i, i+1)
			count--
		}
	}
	rows = append(rows, row)
	count++
	slices.SortStableFunc(rows, sc.compare)
	index := slices.IndexFunc(rows, func(r models.Row) bool { return r.ID == row.ID })
	isLast := index == len(rows)-1
	return slot{
		key:         key,
		index:       index,
		loaded:      true,
		materialize: !isLast || len(rows) == count,
	}
}

// rowMatchesFilters evaluates the view filters. Filters that cannot be
// evaluated locally are logged and treated as matching, leaving the decision
// to the next fetch.
func (e *Engine) rowMatchesFilters(row models.Row, fields []models.Field) bool {
	ok, err := e.evaluator.Matches(e.filters, fields, row)
	if err != nil {
		e.log.Warn().Err(err).Int64("row", row.ID).Msg("cannot evaluate view filters locally")
		return true
	}
	return ok
}

func freshRow(row models.Row) models.Row {
	out := row.Clone()
	out.Scratch = map[string]any{}
	return out
}

// CreatedNewRow places a row created elsewhere. It is inserted only when its
// position in the loaded window is certain, but the bucket count always grows.
func (e *Engine) CreatedNewRow(row models.Row, fields []models.Field) error {
	e.mu.Lock()
	defer e.unlock()
	return e.createdNewRowLocked(freshRow(row), fields)
}

func (e *Engine) createdNewRowLocked(row models.Row, fields []models.Field) error {
	if !e.rowMatchesFilters(row, fields) {
		return nil
	}
	sc, ok := e.sortContextLocked(fields)
	if !ok {
		return nil
	}
	return e.update(func(tx *bucket.Txn) error {
		if key, _, _, found := tx.FindRow(row.ID); found {
			e.log.Debug().Int64("row", row.ID).Str("bucket", key).Msg("ignoring create of a row that is already loaded")
			return nil
		}
		s := resolveSlot(tx, sc, row, false)
		if !s.loaded {
			return nil
		}
		if s.materialize {
			if err := tx.InsertRow(s.key, s.index, row); err != nil {
				return err
			}
		}
		return tx.IncrementCount(s.key)
	})
}

// DeletedExistingRow removes a row deleted elsewhere and returns the removed
// snapshot when it was loaded.
func (e *Engine) DeletedExistingRow(row models.Row, fields []models.Field) (models.Row, bool, error) {
	e.mu.Lock()
	defer e.unlock()

	row = freshRow(row)
	if !e.rowMatchesFilters(row, fields) {
		return models.Row{}, false, nil
	}
	sc, haveSort := e.sortContextLocked(fields)

	var (
		removed models.Row
		found   bool
	)
	err := e.update(func(tx *bucket.Txn) error {
		if key, index, _, ok := tx.FindRow(row.ID); ok {
			r, err := tx.RemoveRow(key, index)
			if err != nil {
				return err
			}
			removed, found = r, true
			return tx.DecrementCount(key)
		}
		if !haveSort {
			return nil
		}
		// Not loaded, but it may have been one of the rows beyond the window.
		if key, ok := sc.key(row); ok && tx.Has(key) {
			return tx.DecrementCount(key)
		}
		return nil
	})
	if err != nil {
		return models.Row{}, false, err
	}
	return removed, found, nil
}

// UpdatedExistingRow applies values to a row and moves it to wherever the new
// values place it. row holds the values before the update.
func (e *Engine) UpdatedExistingRow(row models.Row, values map[string]any, fields []models.Field) error {
	e.mu.Lock()
	defer e.unlock()
	return e.updatedExistingRowLocked(row, values, fields)
}

func (e *Engine) updatedExistingRowLocked(row models.Row, values map[string]any, fields []models.Field) error {
	sc, ok := e.sortContextLocked(fields)
	if !ok {
		_ = e.update(func(tx *bucket.Txn) error {
			tx.UpdateRowFields(row.ID, values)
			return nil
		})
		return nil
	}

	oldRow := freshRow(row)
	oldMatches := e.rowMatchesFilters(oldRow, fields)
	oldKey, oldKeyOK := sc.key(oldRow)

	newRow := freshRow(row).Merge(values)
	newMatches := e.rowMatchesFilters(newRow, fields)

	return e.update(func(tx *bucket.Txn) error {
		oldExists, oldIndex := false, -1
		if oldKeyOK {
			if b, ok := tx.Bucket(oldKey); ok {
				oldIndex = b.IndexOf(row.ID)
				oldExists = oldIndex > -1 && oldMatches
			}
		}

		s := resolveSlot(tx, sc, newRow, true)
		newExists := s.loaded && s.materialize && newMatches

		tx.UpdateRowFields(row.ID, values)

		// Increments go before decrements so the count floor never swallows
		// the decrement of a move within one bucket.
		switch {
		case oldExists && newExists:
			if err := tx.MoveRow(oldKey, oldIndex, s.key, s.index); err != nil {
				return err
			}
			if err := tx.IncrementCount(s.key); err != nil {
				return err
			}
			return tx.DecrementCount(oldKey)
		case oldExists:
			if _, err := tx.RemoveRow(oldKey, oldIndex); err != nil {
				return err
			}
			return tx.DecrementCount(oldKey)
		case newExists:
			if key, index, _, found := tx.FindRow(row.ID); found {
				// Loaded somewhere the old values do not explain; move it
				// instead of duplicating it.
				if err := tx.MoveRow(key, index, s.key, s.index); err != nil {
					return err
				}
				if err := tx.IncrementCount(s.key); err != nil {
					return err
				}
				return tx.DecrementCount(key)
			}
			if err := tx.InsertRow(s.key, s.index, newRow); err != nil {
				return err
			}
			return tx.IncrementCount(s.key)
		}
		return nil
	})
}

// AddField sets value on every loaded row that has no value for the field yet.
func (e *Engine) AddField(field models.Field, value any) {
	e.mu.Lock()
	defer e.unlock()
	_ = e.update(func(tx *bucket.Txn) error {
		tx.AddFieldToAllRows(models.FieldName(field.ID), value)
		return nil
	})
}
