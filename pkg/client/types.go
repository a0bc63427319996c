package client

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

// FetchRowsRequest asks for one page of every day bucket in a time window.
type FetchRowsRequest struct {
	CalendarID          int64
	Limit               int
	Offset              int
	IncludeFieldOptions bool
	FromTimestamp       time.Time
	ToTimestamp         time.Time
	UserTimeZone        string
}

// BucketPayload is one day of a fetch response.
type BucketPayload struct {
	Count   int          `json:"count"`
	Results []models.Row `json:"results"`
}

type FetchRowsResponse struct {
	Rows         map[string]BucketPayload
	FieldOptions map[int64]models.FieldOptions
}

type fetchRowsWire struct {
	Rows         map[string]BucketPayload       `json:"rows"`
	FieldOptions map[string]models.FieldOptions `json:"field_options,omitempty"`
}

func (r *FetchRowsResponse) UnmarshalJSON(data []byte) error {
	var wire fetchRowsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "decode rows response")
	}
	r.Rows = wire.Rows
	if r.Rows == nil {
		r.Rows = map[string]BucketPayload{}
	}
	r.FieldOptions = nil
	if wire.FieldOptions != nil {
		r.FieldOptions = make(map[int64]models.FieldOptions, len(wire.FieldOptions))
		for k, v := range wire.FieldOptions {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "decode field options key %q", k)
			}
			r.FieldOptions[id] = v
		}
	}
	return nil
}

// Buckets converts the payload into bucket values.
func (r FetchRowsResponse) Buckets() map[string]models.Bucket {
	out := make(map[string]models.Bucket, len(r.Rows))
	for k, p := range r.Rows {
		out[k] = models.Bucket{Results: models.CloneRows(p.Results), Count: p.Count}
	}
	return out
}

type RowFetcher interface {
	FetchRows(ctx context.Context, req FetchRowsRequest) (FetchRowsResponse, error)
}

type FieldOptionsUpdater interface {
	UpdateFieldOptions(ctx context.Context, viewID int64, options map[int64]models.FieldOptions) error
}

type RowUpdater interface {
	UpdateRow(ctx context.Context, tableID, rowID int64, values map[string]any) (models.Row, error)
}

// Service is everything the calendar engine needs from the server.
type Service interface {
	RowFetcher
	FieldOptionsUpdater
	RowUpdater
}

// ErrorCodeNoDateField is returned when the view's date field is gone or invalid.
const ErrorCodeNoDateField = "ERROR_CALENDAR_VIEW_HAS_NO_DATE_FIELD"

var ErrReadOnly = errors.New("row source is read-only")

// APIError is an error response of the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Detail     any    `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	msg := "api error " + strconv.Itoa(e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Detail != nil {
		if b, err := json.Marshal(e.Detail); err == nil {
			msg += ": " + string(b)
		}
	}
	return msg
}

// Temporary reports whether a retry may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsNoDateField reports whether err carries ErrorCodeNoDateField.
func IsNoDateField(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrorCodeNoDateField
}
