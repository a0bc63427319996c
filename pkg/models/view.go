package models

// FilterCombination controls how the predicates of a view are combined.
type FilterCombination string

const (
	FilterAnd FilterCombination = "AND"
	FilterOr  FilterCombination = "OR"
)

// Filter is a single view predicate. Field is ignored by expression filters.
type Filter struct {
	Field int64  `json:"field" yaml:"field" mapstructure:"field"`
	Type  string `json:"type" yaml:"type" mapstructure:"type"`
	Value string `json:"value" yaml:"value" mapstructure:"value"`
}

// ViewFilterSpec is the filter configuration owned by the view. The calendar
// only reads it.
type ViewFilterSpec struct {
	Disabled bool              `json:"filters_disabled" yaml:"disabled" mapstructure:"disabled"`
	Type     FilterCombination `json:"filter_type" yaml:"type" mapstructure:"type"`
	Filters  []Filter          `json:"filters" yaml:"filters" mapstructure:"filters"`
}

// View identifies the calendar view being synchronised.
type View struct {
	ID          int64          `json:"id"`
	TableID     int64          `json:"table_id"`
	DateFieldID int64          `json:"date_field"`
	Filters     ViewFilterSpec `json:"-"`
}
