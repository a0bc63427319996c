package calendar

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/bucket"
	"github.com/Slach/calendar-sync/pkg/models"
)

// UpdateRowValue changes one field of a row optimistically. Dependent fields
// such as last modified dates are updated along with it. When the server
// rejects the change every touched value is put back and the error returned.
func (e *Engine) UpdateRowValue(ctx context.Context, row models.Row, field models.Field, value, oldValue any, fields []models.Field) error {
	e.mu.Lock()
	behavior, err := e.registry.For(field)
	if err != nil {
		e.unlock()
		return err
	}
	name := models.FieldName(field.ID)
	newValues := map[string]any{name: value}
	oldValues := map[string]any{name: oldValue}
	forUpdate := map[string]any{name: behavior.CoerceForUpdate(field, value)}

	for _, f := range fields {
		b, ok := e.registry.Get(f.Type)
		if !ok {
			continue
		}
		fname := models.FieldName(f.ID)
		current := row.Values[fname]
		optimistic := b.OnRowChange(row, f, current)
		if !reflect.DeepEqual(current, optimistic) {
			newValues[fname] = optimistic
			oldValues[fname] = current
		}
	}

	if err := e.updatedExistingRowLocked(row, newValues, fields); err != nil {
		e.unlock()
		return err
	}
	tableID := e.tableID
	e.unlock()

	updated, err := e.service.UpdateRow(ctx, tableID, row.ID, forUpdate)

	e.mu.Lock()
	defer e.unlock()
	if err != nil {
		e.log.Warn().Err(err).Int64("row", row.ID).Int64("field", field.ID).Msg("row update failed, rolling back")
		if rbErr := e.updatedExistingRowLocked(row.Merge(newValues), oldValues, fields); rbErr != nil {
			e.log.Error().Err(rbErr).Int64("row", row.ID).Msg("rollback of row update failed")
		}
		return errors.Wrapf(err, "update row %d", row.ID)
	}
	_ = e.update(func(tx *bucket.Txn) error {
		tx.UpdateRowFields(row.ID, updated.Values)
		return nil
	})
	return nil
}
