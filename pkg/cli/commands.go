package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Slach/calendar-sync/pkg/calendar"
	"github.com/Slach/calendar-sync/pkg/config"
	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/timezone"
)

func addDateFlag(cmd *cobra.Command, a *app) {
	cmd.Flags().StringVar(&a.cli.Date, "date", "", "Reference date of the month, in any parsable format (default: today)")
}

// loadMonth fetches the month around --date.
func (a *app) loadMonth(cmd *cobra.Command, s *session, includeFieldOptions bool) (time.Time, error) {
	ref, err := a.cli.ParseDate(s.loc, time.Now())
	if err != nil {
		return time.Time{}, err
	}
	if err := s.engine.FetchMonthly(cmd.Context(), ref, s.fields, includeFieldOptions); err != nil {
		return time.Time{}, err
	}
	return ref, nil
}

func (a *app) print(cmd *cobra.Command, s *session, title string, buckets map[string]models.Bucket) error {
	if a.cli.JSON {
		return writeJSON(cmd.OutOrStdout(), buckets)
	}
	return renderBuckets(cmd.OutOrStdout(), title, buckets, s.fields, s.engine.FieldOptions().Snapshot(), s.engine.DateFieldID())
}

func newMonthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Load and print the first page of every day of a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			ref, err := a.loadMonth(cmd, s, a.cli.FieldOptions)
			if err != nil {
				return err
			}
			return a.print(cmd, s, ref.Format("January 2006")+" ("+s.loc.String()+")", s.engine.Snapshot())
		},
	}
	addDateFlag(cmd, a)
	cmd.Flags().BoolVar(&a.cli.FieldOptions, "field-options", true, "Load the view's field options with the rows")
	cmd.Flags().BoolVar(&a.cli.JSON, "json", false, "Print buckets as JSON")
	return cmd
}

func newMoreCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "more",
		Short: "Load the next page of one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			key, err := a.cli.BucketKey(s.loc)
			if err != nil {
				return err
			}
			if a.cli.Date == "" {
				a.cli.Date = key
			}
			if _, err := a.loadMonth(cmd, s, true); err != nil {
				return err
			}
			if err := s.engine.FetchMore(cmd.Context(), key, s.fields); err != nil {
				return err
			}
			b, _ := s.engine.Bucket(key)
			return a.print(cmd, s, key, map[string]models.Bucket{key: b})
		},
	}
	addDateFlag(cmd, a)
	cmd.Flags().StringVar(&a.cli.Day, "day", "", "Day to page through")
	cmd.Flags().BoolVar(&a.cli.JSON, "json", false, "Print the bucket as JSON")
	return cmd
}

func newSetCommand(a *app) *cobra.Command {
	var (
		rowID   int64
		fieldID int64
		value   string
		empty   bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one value of a loaded row",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := a.loadMonth(cmd, s, true); err != nil {
				return err
			}
			field, ok := models.FindField(s.fields, fieldID)
			if !ok {
				return errors.Errorf("field %d is not configured", fieldID)
			}
			var row models.Row
			found := false
			for _, r := range s.engine.AllRows() {
				if r.ID == rowID {
					row, found = r, true
					break
				}
			}
			if !found {
				return errors.Errorf("row %d is not loaded in this month", rowID)
			}
			var newValue any = value
			if empty {
				newValue = nil
			}
			name := models.FieldName(field.ID)
			if err := s.engine.UpdateRowValue(cmd.Context(), row, field, newValue, row.Values[name], s.fields); err != nil {
				return err
			}
			log.Info().Int64("row", rowID).Int64("field", fieldID).Msg("row updated")
			return a.print(cmd, s, "updated row "+name, s.engine.Snapshot())
		},
	}
	addDateFlag(cmd, a)
	cmd.Flags().Int64Var(&rowID, "row", 0, "Row id")
	cmd.Flags().Int64Var(&fieldID, "field", 0, "Field id")
	cmd.Flags().StringVar(&value, "value", "", "New value")
	cmd.Flags().BoolVar(&empty, "clear", false, "Set the value to empty")
	cmd.Flags().BoolVar(&a.cli.JSON, "json", false, "Print buckets as JSON")
	_ = cmd.MarkFlagRequired("row")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newFieldOptionsCommand(a *app) *cobra.Command {
	var (
		fieldID int64
		hidden  bool
		order   []int64
	)
	cmd := &cobra.Command{
		Use:   "field-options",
		Short: "Show or hide a field, or reorder the fields of the view",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := a.loadMonth(cmd, s, true); err != nil {
				return err
			}
			opts := s.engine.FieldOptions()
			if cmd.Flags().Changed("hidden") {
				if fieldID == 0 {
					return errors.New("--hidden needs --field")
				}
				if err := opts.UpdateField(cmd.Context(), fieldID, models.FieldOptions{Hidden: models.BoolPtr(hidden)}, true); err != nil {
					return err
				}
			}
			if len(order) > 0 {
				if err := opts.Reorder(cmd.Context(), order, true); err != nil {
					return err
				}
			}
			out, err := yaml.Marshal(opts.Snapshot())
			if err != nil {
				return errors.Wrap(err, "marshal field options")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addDateFlag(cmd, a)
	cmd.Flags().Int64Var(&fieldID, "field", 0, "Field id")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "Hide (true) or show (false) the field")
	cmd.Flags().Int64SliceVar(&order, "order", nil, "Field ids in display order")
	return cmd
}

// eventLine is one JSON encoded event of a replay stream.
type eventLine struct {
	Kind    calendar.EventKind    `json:"kind"`
	Row     models.Row            `json:"row"`
	Values  map[string]any        `json:"values"`
	Field   models.Field          `json:"field"`
	Value   any                   `json:"value"`
	Filters models.ViewFilterSpec `json:"filters"`
}

func replayEvents(cmd *cobra.Command, s *session, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	applied := 0
	for line := 1; scanner.Scan(); line++ {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var ev eventLine
		if err := json.Unmarshal(data, &ev); err != nil {
			return applied, errors.Wrapf(err, "line %d", line)
		}
		if ev.Kind == calendar.EventFieldAdded {
			s.fields = append(s.fields, ev.Field)
		}
		err := s.engine.HandleEvent(cmd.Context(), calendar.Event{
			Kind:    ev.Kind,
			Row:     ev.Row,
			Values:  ev.Values,
			Field:   ev.Field,
			Value:   ev.Value,
			Filters: ev.Filters,
			Fields:  s.fields,
		})
		if err != nil {
			return applied, errors.Wrapf(err, "line %d", line)
		}
		applied++
	}
	return applied, errors.Wrap(scanner.Err(), "read events")
}

func newReplayCommand(a *app) *cobra.Command {
	var eventsPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply a stream of JSON row events to the loaded month",
		Long: "Loads the month, then applies one event per line, e.g.\n" +
			`{"kind":"row_created","row":{"id":5,"field_7":"2024-03-10T09:00:00Z"}}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			ref, err := a.loadMonth(cmd, s, true)
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			if eventsPath != "" && eventsPath != "-" {
				f, err := os.Open(eventsPath)
				if err != nil {
					return errors.Wrap(err, "open events")
				}
				defer f.Close()
				in = f
			}
			applied, err := replayEvents(cmd, s, in)
			log.Info().Int("events", applied).Msg("events replayed")
			if err != nil {
				return err
			}
			return a.print(cmd, s, ref.Format("January 2006")+" after "+strconv.Itoa(applied)+" events", s.engine.Snapshot())
		},
	}
	addDateFlag(cmd, a)
	cmd.Flags().StringVar(&eventsPath, "events", "-", "File with one JSON event per line, - for stdin")
	cmd.Flags().BoolVar(&a.cli.JSON, "json", false, "Print buckets as JSON")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cli.ConfigPath
			if path == "" {
				var err error
				if path, err = defaultConfigPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "config written to "+path)
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.API.Token != "" {
				cfg.API.Token = "********"
			}
			for i := range cfg.Contexts {
				if cfg.Contexts[i].Password != "" {
					cfg.Contexts[i].Password = "********"
				}
			}
			if cfg.Calendar.TimeZone == "" {
				cfg.Calendar.TimeZone = timezone.DetectLocal()
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "marshal config")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
