package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryWritesJSON(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "offlinecache.log", INFO, nil)
	require.NoError(t, err)

	r.Debug("hidden", nil)
	r.Info("Activated", map[string]interface{}{"version": "v2", "deleted": 3})
	r.Error("Activation failed", errors.New("disk full"), nil)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(filepath.Join(dir, "offlinecache.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "Activated", first["msg"])
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "v2", first["version"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "disk full", second["error"])
}

func TestRepositoryRotates(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "offlinecache.log", DEBUG, &RotationConfig{MaxSize: 64, MaxBackups: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	for i := 0; i < 5; i++ {
		r.Info("a reasonably long log line that will exceed the limit", nil)
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "offlinecache.log.*"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	for i, name := range []string{"app.log.1", "app.log.2", "app.log.3", "app.log.4"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		mod := time.Now().Add(-time.Duration(i) * time.Minute)
		if name == "app.log.4" {
			mod = old
		}
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	err := cleanOldLogs(dir, "app.log", &RotationConfig{MaxAge: 24 * time.Hour, MaxBackups: 2})
	require.NoError(t, err)

	left, err := filepath.Glob(filepath.Join(dir, "app.log.*"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "app.log.1"),
		filepath.Join(dir, "app.log.2"),
	}, left)
}

func TestNewStream(t *testing.T) {
	var buf bytes.Buffer
	r := NewStream(&buf, WARN)

	r.Info("quiet", nil)
	r.Warn("loud", map[string]interface{}{"partition": "img-v1"})

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
	assert.Contains(t, buf.String(), "partition=img-v1")
	assert.NoError(t, r.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"ERROR", ERROR, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
