package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type scopeRow struct {
	Name   string  `header:"NAME" json:"name" yaml:"name"`
	Calls  int     `header:"CALLS" json:"calls" yaml:"calls"`
	TimeMS float64 `header:"TIME_MS" json:"time_ms" yaml:"time_ms"`
	Note   string  `json:"note,omitempty" yaml:"note,omitempty"`
}

var rows = []scopeRow{
	{Name: "update", Calls: 1, TimeMS: 12.5, Note: "ignored"},
	{Name: "physics", Calls: 4, TimeMS: 3.25},
}

func TestNewFormatter(t *testing.T) {
	for _, f := range []OutputFormat{FormatTable, FormatJSON, FormatCSV, FormatYAML} {
		got, err := NewFormatter(f)
		require.NoError(t, err, f)
		assert.NotNil(t, got)
	}
	_, err := NewFormatter("xml")
	assert.Error(t, err)
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONFormatter{}.Format(rows, &buf))

	var got []scopeRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, rows, got)
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, YAMLFormatter{}.Format(rows, &buf))

	var got []scopeRow
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, rows, got)
}

func TestTableFormatter(t *testing.T) {
	tests := []struct {
		name    string
		data    any
		want    []string
		wantErr bool
	}{
		{
			name: "slice of structs",
			data: rows,
			want: []string{"NAME", "CALLS", "TIME_MS", "update", "12.500", "physics", "3.250"},
		},
		{name: "empty slice", data: []scopeRow{}},
		{name: "pointer elements", data: []*scopeRow{&rows[1]}, want: []string{"physics"}},
		{name: "not a slice", data: rows[0], wantErr: true},
		{name: "slice of scalars", data: []int{1, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := TableFormatter{}.Format(tt.data, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
			assert.NotContains(t, buf.String(), "ignored")
		})
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVFormatter{}.Format(rows, &buf))
	assert.Equal(t, "NAME,CALLS,TIME_MS\nupdate,1,12.500\nphysics,4,3.250\n", buf.String())

	buf.Reset()
	require.NoError(t, CSVFormatter{}.Format([]scopeRow{}, &buf))
	assert.Empty(t, buf.String())
}
