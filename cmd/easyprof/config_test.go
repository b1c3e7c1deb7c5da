package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "easyprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	no := false
	tests := []struct {
		data string
		want Config
	}{
		{"", DefaultConfig()},
		{"sequential: true\n", Config{Sequential: true, LogLevel: "warn", Top: 10}},
		{
			"statistics: false\nexact_time: true\nlog_level: debug\ntop: 3\n",
			Config{Statistics: &no, ExactTime: true, LogLevel: "debug", Top: 3},
		},
	}
	for _, tt := range tests {
		got, err := LoadConfig(writeConfig(t, tt.data))
		require.NoError(t, err)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("config %q (-want +got):\n%s", tt.data, diff)
		}
	}
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "colour: blue\n"))
	require.ErrorContains(t, err, "failed to parse config")

	_, err = LoadConfig(writeConfig(t, "top: -1\n"))
	require.ErrorContains(t, err, "top must not be negative")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigFlags(t *testing.T) {
	path := writeTestCapture(t, "capture.prof")
	cfg := writeConfig(t, "top: 1\nlog_level: info\n")

	out, stderr, err := execute(t, "--config", cfg, "top", path)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "\n"))
	require.Contains(t, stderr, "read capture")

	out, stderr, err = execute(t, "--config", cfg, "--log-level", "error", "top", "-n", "2", path)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(out, "\n"))
	require.Empty(t, stderr)

	def := DefaultConfig()
	require.True(t, def.gatherStatistics())
}
