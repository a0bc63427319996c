package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/calendar-sync/pkg/config"
	"github.com/Slach/calendar-sync/pkg/models"
)

// HTTPClient talks to the database REST API.
type HTTPClient struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	retrier *retrier.Retrier
	version string
}

func NewHTTPClient(cfg config.APIConfig, version string) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid api base url %q", cfg.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("invalid api base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &HTTPClient{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		retrier: retrier.New(retrier.ExponentialBackoff(cfg.MaxRetries, backoff), transientClassifier{}),
		version: version,
	}, nil
}

// FetchRows is retried on network errors and 5xx responses.
func (c *HTTPClient) FetchRows(ctx context.Context, req FetchRowsRequest) (FetchRowsResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("offset", strconv.Itoa(req.Offset))
	if req.IncludeFieldOptions {
		q.Set("include", "field_options")
	}
	q.Set("from_timestamp", req.FromTimestamp.UTC().Format(time.RFC3339))
	q.Set("to_timestamp", req.ToTimestamp.UTC().Format(time.RFC3339))
	if req.UserTimeZone != "" {
		q.Set("user_timezone", req.UserTimeZone)
	}
	path := fmt.Sprintf("api/database/views/calendar/%d/", req.CalendarID)

	var resp FetchRowsResponse
	attempt := 0
	err := c.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			log.Debug().Int("attempt", attempt).Int64("calendar", req.CalendarID).Msg("retrying row fetch")
		}
		return c.do(ctx, http.MethodGet, path, q, nil, &resp)
	})
	if err != nil {
		return FetchRowsResponse{}, errors.Wrapf(err, "fetch rows of calendar %d", req.CalendarID)
	}
	return resp, nil
}

func (c *HTTPClient) UpdateFieldOptions(ctx context.Context, viewID int64, options map[int64]models.FieldOptions) error {
	body := map[string]map[string]models.FieldOptions{"field_options": {}}
	for id, o := range options {
		body["field_options"][strconv.FormatInt(id, 10)] = o
	}
	path := fmt.Sprintf("api/database/views/%d/field-options/", viewID)
	if err := c.do(ctx, http.MethodPatch, path, nil, body, nil); err != nil {
		return errors.Wrapf(err, "update field options of view %d", viewID)
	}
	return nil
}

func (c *HTTPClient) UpdateRow(ctx context.Context, tableID, rowID int64, values map[string]any) (models.Row, error) {
	path := fmt.Sprintf("api/database/rows/table/%d/%d/", tableID, rowID)
	var row models.Row
	if err := c.do(ctx, http.MethodPatch, path, nil, values, &row); err != nil {
		return models.Row{}, errors.Wrapf(err, "update row %d of table %d", rowID, tableID)
	}
	return row, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	if query != nil {
		u.RawQuery = query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("User-Agent", "calendar-sync/"+c.version)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	log.Debug().Str("method", method).Str("url", u.String()).Int("status", res.StatusCode).Dur("took", time.Since(start)).Msg("api request")

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if res.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		if len(data) > 0 && json.Unmarshal(data, apiErr) != nil {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// transientClassifier retries transport failures and temporary API errors.
type transientClassifier struct{}

func (transientClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrier.Fail
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return retrier.Retry
		}
		return retrier.Fail
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retrier.Retry
	}
	return retrier.Fail
}
