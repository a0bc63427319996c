package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/calendar-sync/pkg/config"
	"github.com/Slach/calendar-sync/pkg/models"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSource reads calendar rows from a ClickHouse table with the
// columns id UInt64, row_date DateTime64 and payload String (a JSON object of
// field values). The row_date column becomes the value of the date field.
type ClickHouseSource struct {
	config      config.Context
	dateFieldID int64
	version     string

	mu sync.Mutex
	db *sql.DB
}

func NewClickHouseSource(cfg config.Context, dateFieldID int64, version string) (*ClickHouseSource, error) {
	if !tableNameRe.MatchString(cfg.Table) {
		return nil, errors.Errorf("invalid clickhouse table name %q", cfg.Table)
	}
	return &ClickHouseSource{config: cfg, dateFieldID: dateFieldID, version: version}, nil
}

func (c *ClickHouseSource) GetVersion(ctx context.Context) (string, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return "", err
	}
	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		log.Error().Err(err).Msg("failed to get ClickHouse version")
		return "", err
	}
	return version, nil
}

// FetchRows returns rows [Offset, Offset+Limit) of every day in the window,
// days computed in the request's user timezone.
func (c *ClickHouseSource) FetchRows(ctx context.Context, req FetchRowsRequest) (FetchRowsResponse, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return FetchRowsResponse{}, err
	}
	tz := req.UserTimeZone
	if tz == "" {
		tz = "UTC"
	}
	query := buildWindowQuery(c.config.Table)
	log.Debug().Str("query", query).Str("tz", tz).Time("from", req.FromTimestamp).Time("to", req.ToTimestamp).Msg("clickhouse fetch")
	rows, err := db.QueryContext(ctx, query,
		tz,
		req.FromTimestamp.UTC(),
		req.ToTimestamp.UTC(),
		req.Offset,
		req.Offset+req.Limit,
	)
	if err != nil {
		return FetchRowsResponse{}, errors.Wrap(err, "query calendar rows")
	}
	defer func() { _ = rows.Close() }()

	resp := FetchRowsResponse{Rows: map[string]BucketPayload{}}
	for rows.Next() {
		var (
			day     string
			count   uint64
			id      uint64
			rowDate time.Time
			payload string
		)
		if err := rows.Scan(&day, &count, &id, &rowDate, &payload); err != nil {
			return FetchRowsResponse{}, errors.Wrap(err, "scan calendar row")
		}
		row, err := c.decodeRow(id, rowDate, payload)
		if err != nil {
			return FetchRowsResponse{}, err
		}
		b := resp.Rows[day]
		b.Count = int(count)
		b.Results = append(b.Results, row)
		resp.Rows[day] = b
	}
	if err := rows.Err(); err != nil {
		return FetchRowsResponse{}, errors.Wrap(err, "iterate calendar rows")
	}
	return resp, nil
}

func (c *ClickHouseSource) decodeRow(id uint64, rowDate time.Time, payload string) (models.Row, error) {
	values := map[string]any{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &values); err != nil {
			return models.Row{}, errors.Wrapf(err, "decode payload of row %d", id)
		}
	}
	values[models.FieldName(c.dateFieldID)] = rowDate.UTC().Format(time.RFC3339)
	return models.NewRow(int64(id), values), nil
}

// buildWindowQuery pages each day independently with window functions so one
// request returns the first page of every day in the range.
func buildWindowQuery(table string) string {
	return fmt.Sprintf(`SELECT day, cnt, id, row_date, payload FROM (
	SELECT
		toString(toDate(row_date, ?)) AS day,
		id,
		row_date,
		payload,
		count() OVER (PARTITION BY day) AS cnt,
		row_number() OVER (PARTITION BY day ORDER BY row_date, id) AS rn
	FROM %s
	WHERE row_date >= ? AND row_date < ?
)
WHERE rn > ? AND rn <= ?
ORDER BY day, rn`, table)
}

func (c *ClickHouseSource) conn(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	options, err := c.options()
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "connect to clickhouse %s:%d", c.config.Host, c.config.Port)
	}
	c.db = db
	return db, nil
}

func (c *ClickHouseSource) options() (*clickhouse.Options, error) {
	var tlsConfig *tls.Config

	// Enable TLS if secure is true or if certificates are provided
	if c.config.Secure || (c.config.TLSCert != "" && c.config.TLSKey != "") || c.config.TLSCa != "" || c.config.TLSVerify {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: !c.config.TLSVerify,
		}
		if c.config.TLSCert != "" && c.config.TLSKey != "" {
			cert, err := tls.LoadX509KeyPair(c.config.TLSCert, c.config.TLSKey)
			if err != nil {
				return nil, errors.Wrap(err, "failed to load client certificate")
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		if c.config.TLSCa != "" {
			caCert, err := os.ReadFile(c.config.TLSCa)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read CA certificate")
			}
			caCertPool := x509.NewCertPool()
			caCertPool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = caCertPool
		}
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)},
		Auth: clickhouse.Auth{
			Database: c.config.Database,
			Username: c.config.Username,
			Password: c.config.Password,
		},
		TLS: tlsConfig,
	}
	options.ClientInfo.Products = append(options.ClientInfo.Products, struct{ Name, Version string }{
		"calendar-sync",
		c.version,
	})
	options.Protocol = clickhouse.Native
	if c.config.Protocol == "http" {
		options.Protocol = clickhouse.HTTP
	}
	return options, nil
}

func (c *ClickHouseSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
