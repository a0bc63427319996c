package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

type readOnly struct {
	RowFetcher
}

// ReadOnly turns a fetcher into a Service whose writes fail with ErrReadOnly.
func ReadOnly(f RowFetcher) Service {
	return readOnly{RowFetcher: f}
}

func (readOnly) UpdateFieldOptions(_ context.Context, viewID int64, _ map[int64]models.FieldOptions) error {
	return errors.Wrapf(ErrReadOnly, "update field options of view %d", viewID)
}

func (readOnly) UpdateRow(_ context.Context, tableID, rowID int64, _ map[string]any) (models.Row, error) {
	return models.Row{}, errors.Wrapf(ErrReadOnly, "update row %d of table %d", rowID, tableID)
}
