package cli

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Slach/calendar-sync/pkg/calendar"
	"github.com/Slach/calendar-sync/pkg/client"
	"github.com/Slach/calendar-sync/pkg/config"
	"github.com/Slach/calendar-sync/pkg/logging"
	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/timezone"
)

// loadConfig reads the configuration and applies the logging settings that
// were not given on the command line.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.cli.ConfigPath)
	if err != nil {
		return nil, err
	}
	level := a.cli.LogLevel
	if level == "" {
		level = cfg.Logging.Level
		zerolog.SetGlobalLevel(logging.ParseLevel(level))
	}
	if a.cli.LogPath == "" && cfg.Logging.File != "" {
		if err := a.initLog(cfg.Logging.File, level); err != nil {
			return nil, err
		}
	}
	if a.cli.TimeZone != "" {
		cfg.Calendar.TimeZone = a.cli.TimeZone
	}
	return cfg, nil
}

// newService builds the row source named by calendar.source. ClickHouse
// sources are read-only.
func newService(cfg *config.Config, version string) (client.Service, func() error, error) {
	switch cfg.Calendar.Source {
	case config.SourceClickHouse:
		chCtx, err := cfg.FindContext(cfg.Calendar.Context)
		if err != nil {
			return nil, nil, err
		}
		src, err := client.NewClickHouseSource(chCtx, cfg.Calendar.DateFieldID, version)
		if err != nil {
			return nil, nil, err
		}
		return client.ReadOnly(src), src.Close, nil
	case config.SourceHTTP:
		c, err := client.NewHTTPClient(cfg.API, version)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	}
	return nil, nil, errors.Errorf("unknown calendar.source %q", cfg.Calendar.Source)
}

// session is an engine bound to the configured view.
type session struct {
	cfg    *config.Config
	engine *calendar.Engine
	fields []models.Field
	loc    *time.Location
	close  func() error
}

func (a *app) open() (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	svc, closeFn, err := newService(cfg, a.version)
	if err != nil {
		return nil, err
	}
	viewer := cfg.Calendar.TimeZone
	if viewer == "" {
		viewer = timezone.DetectLocal()
	}
	e := calendar.New(svc, calendar.Options{
		BufferSize:     cfg.Calendar.BufferSize,
		ViewerTimeZone: viewer,
	})
	e.SetView(models.View{
		ID:          cfg.Calendar.ViewID,
		TableID:     cfg.Calendar.TableID,
		DateFieldID: cfg.Calendar.DateFieldID,
		Filters:     cfg.Calendar.Filters,
	})

	fields := cfg.Calendar.Fields
	loc, err := timezone.Load(e.TimeZone(fields))
	if err != nil {
		log.Warn().Err(err).Msg("falling back to UTC")
		loc = time.UTC
	}
	log.Debug().
		Str("source", cfg.Calendar.Source).
		Int64("view", cfg.Calendar.ViewID).
		Str("timezone", loc.String()).
		Msg("calendar session opened")
	return &session{cfg: cfg, engine: e, fields: fields, loc: loc, close: closeFn}, nil
}

func (s *session) Close() {
	if err := s.close(); err != nil {
		log.Warn().Err(err).Msg("failed to close row source")
	}
}
