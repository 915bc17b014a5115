package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/internal/constants"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(constants.ConfigDirEnv, t.TempDir())

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_Commands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "status", "dump", "freeze", "history", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "frameprof version "))
	assert.Contains(t, out, "Go version: go")
}

func TestDumpAndFreeze(t *testing.T) {
	var frozen []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/dump", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]int
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"frames": req["frames"], "state": "active"})
	})
	mux.HandleFunc("POST /api/v1/{action}", func(w http.ResponseWriter, r *http.Request) {
		frozen = append(frozen, r.PathValue("action"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := execute(t, "dump", "--addr", srv.URL, "-n", "4")
	require.NoError(t, err)
	assert.Equal(t, "Dumping 4 frames\n", out)

	out, err = execute(t, "freeze", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Views frozen\n", out)

	_, err = execute(t, "freeze", "--addr", srv.URL, "--off")
	require.NoError(t, err)
	assert.Equal(t, []string{"freeze", "unfreeze"}, frozen)
}

func TestStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	out, err := execute(t, "status", "--addr", addr, "--timeout", "100ms", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"healthy": false`)
}

func TestConfigFlag_InvalidFile(t *testing.T) {
	_, err := execute(t, "config", "show", "--config", "/nonexistent/dir/config.yaml")
	require.NoError(t, err, "a missing config file falls back to defaults")
}
