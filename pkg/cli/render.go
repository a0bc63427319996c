package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"golang.org/x/text/language"

	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/utils"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	dayStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	idStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

var numberLocale = language.English

// visibleFields returns the fields shown next to each row, in view order.
func visibleFields(fields []models.Field, options map[int64]models.FieldOptions, dateFieldID int64) []models.Field {
	out := make([]models.Field, 0, len(fields))
	for _, f := range fields {
		if f.ID == dateFieldID || f.Trashed {
			continue
		}
		if o, ok := options[f.ID]; ok && o.Hidden != nil && *o.Hidden {
			continue
		}
		out = append(out, f)
	}
	order := func(f models.Field) (int, bool) {
		if o, ok := options[f.ID]; ok && o.Order != nil {
			return *o.Order, true
		}
		return 0, false
	}
	slices.SortStableFunc(out, func(a, b models.Field) int {
		ao, aok := order(a)
		bo, bok := order(b)
		switch {
		case aok && bok:
			if c := cmp.Compare(ao, bo); c != 0 {
				return c
			}
		case aok:
			return -1
		case bok:
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if name, ok := val["value"]; ok {
			return formatValue(name)
		}
	}
	return fmt.Sprint(v)
}

func renderBucket(key string, b models.Bucket, fields []models.Field, dateFieldID int64) string {
	header := dayStyle.Render(key) + " " + mutedStyle.Render("("+utils.LoadedSummary(numberLocale, len(b.Results), b.Count)+")")
	lines := []string{header}
	for _, r := range b.Results {
		parts := []string{formatValue(r.Value(dateFieldID))}
		for _, f := range fields {
			parts = append(parts, formatValue(r.Value(f.ID)))
		}
		lines = append(lines, "  "+idStyle.Render("#"+strconv.FormatInt(r.ID, 10))+" "+strings.Join(parts, " | "))
	}
	if rest := b.Count - len(b.Results); rest > 0 {
		lines = append(lines, "  "+mutedStyle.Render(utils.FormatCount(numberLocale, rest)+" more"))
	}
	return strings.Join(lines, "\n")
}

// renderBuckets writes the buckets in date order inside a bordered box.
func renderBuckets(w io.Writer, title string, buckets map[string]models.Bucket, fields []models.Field, options map[int64]models.FieldOptions, dateFieldID int64) error {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	shown := visibleFields(fields, options, dateFieldID)
	blocks := []string{titleStyle.Render(title)}
	if len(keys) == 0 {
		blocks = append(blocks, mutedStyle.Render("no rows"))
	}
	for _, k := range keys {
		blocks = append(blocks, renderBucket(k, buckets[k], shown, dateFieldID))
	}
	_, err := fmt.Fprintln(w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, blocks...)))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
