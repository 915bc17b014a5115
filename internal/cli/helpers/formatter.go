// Package helpers holds output formatting and flag types shared by the
// frameprof commands.
package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatYAML  OutputFormat = "yaml"
)

// Formatter writes data in one output format.
type Formatter interface {
	Format(data any, w io.Writer) error
}

// NewFormatter creates a Formatter for format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return TableFormatter{}, nil
	case FormatJSON:
		return JSONFormatter{}, nil
	case FormatCSV:
		return CSVFormatter{}, nil
	case FormatYAML:
		return YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter writes indented JSON.
type JSONFormatter struct{}

func (JSONFormatter) Format(data any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// YAMLFormatter writes YAML.
type YAMLFormatter struct{}

func (YAMLFormatter) Format(data any, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// TableFormatter writes a slice of structs as an aligned table. Columns are
// the fields carrying a `header` tag.
type TableFormatter struct{}

func (TableFormatter) Format(data any, w io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil || headers == nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// CSVFormatter writes a slice of structs as CSV with the same columns as
// TableFormatter.
type CSVFormatter struct{}

func (CSVFormatter) Format(data any, w io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil || headers == nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// tabulate extracts the header-tagged fields of a slice of structs. An
// empty slice yields no headers.
func tabulate(data any) ([]string, [][]string, error) {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("data must be a slice")
	}
	if val.Len() == 0 {
		return nil, nil, nil
	}

	elem := val.Type().Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("data must be a slice of structs")
	}

	var headers []string
	var fields []int
	for i := 0; i < elem.NumField(); i++ {
		if h := elem.Field(i).Tag.Get("header"); h != "" {
			headers = append(headers, h)
			fields = append(fields, i)
		}
	}

	rows := make([][]string, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		v := reflect.Indirect(val.Index(i))
		row := make([]string, len(fields))
		for j, f := range fields {
			row[j] = formatValue(v.Field(f).Interface())
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.3f", x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
