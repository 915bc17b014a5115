package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supported []OutputFormat) {
	names := formatNames(supported)
	description := fmt.Sprintf("Output format (%s)", strings.Join(names, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks that format is one of supported.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(formatNames(supported), ", "))
}

func formatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

// ModeValue is a pflag.Value holding a profiler mode name.
type ModeValue struct {
	Mode profiler.Mode
	set  bool
}

var _ pflag.Value = (*ModeValue)(nil)

func (v *ModeValue) String() string { return v.Mode.String() }

func (v *ModeValue) Set(s string) error {
	m, err := profiler.ParseMode(s)
	if err != nil {
		return err
	}
	v.Mode, v.set = m, true
	return nil
}

func (v *ModeValue) Type() string { return "mode" }

// Changed reports whether the flag was given.
func (v *ModeValue) Changed() bool { return v.set }

// SortValue is a pflag.Value holding a flat sort order. Setting it selects
// the matching flat mode.
type SortValue struct {
	Sort aggregate.SortMode
	set  bool
}

var _ pflag.Value = (*SortValue)(nil)

func (v *SortValue) String() string { return v.Sort.String() }

func (v *SortValue) Set(s string) error {
	m, err := aggregate.ParseSortMode(s)
	if err != nil {
		return err
	}
	v.Sort, v.set = m, true
	return nil
}

func (v *SortValue) Type() string { return "sort" }

// Changed reports whether the flag was given.
func (v *SortValue) Changed() bool { return v.set }

// CategoryValue is a pflag.Value holding an event category filter.
type CategoryValue struct {
	Category event.Category
	set      bool
}

var _ pflag.Value = (*CategoryValue)(nil)

func (v *CategoryValue) String() string {
	if v.Category == 0 {
		return event.CategoryAll.String()
	}
	return v.Category.String()
}

func (v *CategoryValue) Set(s string) error {
	c, err := event.ParseCategory(s)
	if err != nil {
		return err
	}
	v.Category, v.set = c, true
	return nil
}

func (v *CategoryValue) Type() string { return "category" }

// Changed reports whether the flag was given.
func (v *CategoryValue) Changed() bool { return v.set }

// ParseSince turns a --since value into a start time. It accepts a
// duration relative to now, an RFC3339 timestamp or a date. Empty means no
// bound.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("invalid --since duration %q: must not be negative", s)
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since value %q (use a duration, RFC3339 or YYYY-MM-DD)", s)
}
