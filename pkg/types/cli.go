package types

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/timezone"
)

type CLI struct {
	ConfigPath   string
	LogPath      string
	LogLevel     string
	Pprof        bool
	PprofPath    string
	Date         string
	Day          string
	TimeZone     string
	FieldOptions bool
	JSON         bool
}

// ParseDate reads Date in loc. An empty Date means now.
func (c *CLI) ParseDate(loc *time.Location, now time.Time) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(c.Date) == "" {
		return now.In(loc), nil
	}
	t, err := dateparse.ParseIn(c.Date, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid --date %q", c.Date)
	}
	return t, nil
}

// BucketKey returns Day normalised to a bucket key.
func (c *CLI) BucketKey(loc *time.Location) (string, error) {
	if strings.TrimSpace(c.Day) == "" {
		return "", errors.New("--day is required")
	}
	t, err := dateparse.ParseIn(c.Day, loc)
	if err != nil {
		return "", errors.Wrapf(err, "invalid --day %q", c.Day)
	}
	return t.Format(timezone.KeyLayout), nil
}
