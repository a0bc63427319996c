package models

// Field is the subset of a table field's configuration the calendar needs.
type Field struct {
	ID                int64  `json:"id" yaml:"id" mapstructure:"id"`
	Name              string `json:"name" yaml:"name" mapstructure:"name"`
	Type              string `json:"type" yaml:"type" mapstructure:"type"`
	Trashed           bool   `json:"trashed,omitempty" yaml:"trashed,omitempty" mapstructure:"trashed"`
	DateIncludeTime   bool   `json:"date_include_time,omitempty" yaml:"date_include_time,omitempty" mapstructure:"date_include_time"`
	DateForceTimezone string `json:"date_force_timezone,omitempty" yaml:"date_force_timezone,omitempty" mapstructure:"date_force_timezone"`
}

// FindField returns the field with the given id.
func FindField(fields []Field, id int64) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// FieldOptions is the per-field display configuration of a view. Nil members
// are unset, which lets a partial FieldOptions be merged onto a full one.
type FieldOptions struct {
	Hidden *bool             `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Order  *int              `json:"order,omitempty" yaml:"order,omitempty"`
	Style  map[string]string `json:"style,omitempty" yaml:"style,omitempty"`
}

func (o FieldOptions) Clone() FieldOptions {
	out := FieldOptions{}
	if o.Hidden != nil {
		hidden := *o.Hidden
		out.Hidden = &hidden
	}
	if o.Order != nil {
		order := *o.Order
		out.Order = &order
	}
	if o.Style != nil {
		out.Style = make(map[string]string, len(o.Style))
		for k, v := range o.Style {
			out.Style[k] = v
		}
	}
	return out
}

// MergeFieldOptions applies every set member of patch on top of base.
func MergeFieldOptions(base, patch FieldOptions) FieldOptions {
	out := base.Clone()
	patch = patch.Clone()
	if patch.Hidden != nil {
		out.Hidden = patch.Hidden
	}
	if patch.Order != nil {
		out.Order = patch.Order
	}
	if len(patch.Style) > 0 {
		if out.Style == nil {
			out.Style = make(map[string]string, len(patch.Style))
		}
		for k, v := range patch.Style {
			out.Style[k] = v
		}
	}
	return out
}

// CloneFieldOptionsMap deep-copies a field id keyed options map.
func CloneFieldOptionsMap(in map[int64]FieldOptions) map[int64]FieldOptions {
	out := make(map[int64]FieldOptions, len(in))
	for id, opts := range in {
		out[id] = opts.Clone()
	}
	return out
}

func BoolPtr(v bool) *bool { return &v }

func IntPtr(v int) *int { return &v }
