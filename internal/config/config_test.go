package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "API_KEYS", "BATCH_MAX_WAIT", "CLOCK_SKEW", "TIMEZONE", "AREA_NAME_PROPERTY"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	c, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr())
	assert.Equal(t, 50*time.Millisecond, c.BatchMaxWait)
	assert.Equal(t, 5*time.Minute, c.ClockSkew)
	assert.Equal(t, "NAMELSAD", c.AreaNameProperty)
	assert.Equal(t, 10*time.Second, c.DwellPollInterval)
	assert.Empty(t, c.APIKeys)
	assert.Equal(t, time.Local, c.Location)
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("API_KEYS", "a, b,,c")
	t.Setenv("BATCH_MAX_WAIT", "200ms")
	t.Setenv("TIMEZONE", "America/Chicago")

	c, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Addr())
	assert.Len(t, c.APIKeys, 3)
	assert.Contains(t, c.APIKeys, "b")
	assert.Equal(t, 200*time.Millisecond, c.BatchMaxWait)
	assert.Equal(t, "America/Chicago", c.Location.String())
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("QUEUE_MAX_SIZE", "0")
	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_MAX_SIZE")

	t.Setenv("QUEUE_MAX_SIZE", "10")
	t.Setenv("TIMEZONE", "Nowhere/Special")
	_, err = Parse()
	assert.Error(t, err)
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, p.DwellThreshold)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dwell_threshold: 10m
daily_cap: 5
loudness_threshold_db: 65.5
copy:
  dwell_title: "Hello"
`), 0o600))

	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, p.DwellThreshold)
	assert.Equal(t, 5, p.DailyCap)
	assert.Equal(t, 65.5, p.LoudnessThresholdDB)
	assert.Equal(t, "Hello", p.Copy.DwellTitle)
	// untouched keys keep defaults
	assert.Equal(t, 24*time.Hour, p.Window)
	assert.NotEmpty(t, p.Copy.ReminderBody)
}

func TestDecodePolicy_Rejects(t *testing.T) {
	_, err := DecodePolicy(strings.NewReader("daily_cap: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_cap")

	_, err = DecodePolicy(strings.NewReader("dailycap: 4\n"))
	assert.Error(t, err, "unknown keys")

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
