package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/internal/constants"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewConfigCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(constants.ConfigDirEnv, home)
	return home
}

func TestInit(t *testing.T) {
	home := setHome(t)
	path := filepath.Join(home, constants.DefaultDir, constants.ConfigFile)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "init", "--force")
	require.NoError(t, err)
}

func TestShow(t *testing.T) {
	setHome(t)

	out, err := execute(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: HIERARCHICAL")
	assert.Contains(t, out, "hitch_duration: 150ms")
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		setHome(t)
		out, err := execute(t, "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
		assert.Contains(t, out, "defaults")
	})

	t.Run("invalid", func(t *testing.T) {
		home := setHome(t)
		dir := filepath.Join(home, constants.DefaultDir)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, constants.ConfigFile),
			[]byte("workload:\n  threads: -1\n"), 0o644))

		out, err := execute(t, "validate", "-o", "json")
		require.Error(t, err)

		var rows []validationRow
		require.NoError(t, json.Unmarshal([]byte(out), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "workload.threads", rows[0].Field)
		assert.Equal(t, "must be positive", rows[0].Message)
	})

	t.Run("file only ignores environment", func(t *testing.T) {
		setHome(t)
		t.Setenv("FRAMEPROF_MAX_THREADS", "0")

		_, err := execute(t, "validate")
		require.Error(t, err)

		out, err := execute(t, "validate", "--file-only")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
		assert.NotContains(t, out, "env")
	})
}

func TestPath(t *testing.T) {
	home := setHome(t)

	out, err := execute(t, "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, constants.DefaultDir, constants.ConfigFile))
	assert.Contains(t, out, filepath.Join(home, constants.DefaultDir, constants.DefaultHistoryDatabase))
}

func TestEnv(t *testing.T) {
	setHome(t)
	t.Setenv("FRAMEPROF_EXCLUSIVE", "true")

	out, err := execute(t, "env", "--set", "-o", "json")
	require.NoError(t, err)

	var rows []envRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, envRow{Variable: "FRAMEPROF_EXCLUSIVE", Field: "profiler.exclusive", Value: "true"}, rows[0])

	out, err = execute(t, "env")
	require.NoError(t, err)
	assert.Contains(t, out, "FRAMEPROF_MAX_THREADS")
	assert.Contains(t, out, "workload.threads")
}
